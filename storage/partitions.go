package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"tourgraph/models"
)

const partitionColumns = `id, name, parent_id, timezone, latitude, longitude, lookup_path`

func scanPartition(sc rowScanner) (models.Partition, error) {
	var (
		p        models.Partition
		parent   sql.NullString
		lat, lng sql.NullFloat64
	)
	if err := sc.Scan(&p.ID, &p.Name, &parent, &p.Timezone, &lat, &lng, &p.LookupPath); err != nil {
		return p, err
	}
	if parent.Valid && parent.String != "" {
		p.ParentID = models.String(parent.String)
	}
	p.Latitude = nullFloat(lat)
	p.Longitude = nullFloat(lng)
	return p, nil
}

// UpsertPartition inserts or refreshes one partition row.
func (s *SQLStore) UpsertPartition(ctx context.Context, p models.Partition) error {
	if p.ID == "" {
		return &models.ValidationError{Field: "partition id", Reason: "empty"}
	}
	_, err := s.exec(ctx, "upsert_partition", `
		INSERT INTO partitions (`+partitionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			parent_id = excluded.parent_id,
			timezone = excluded.timezone,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			lookup_path = excluded.lookup_path
	`, p.ID, p.Name, p.ParentID, p.Timezone, p.Latitude, p.Longitude, p.LookupPath)
	return err
}

// GetPartition returns nil, nil for an unknown id.
func (s *SQLStore) GetPartition(ctx context.Context, id string) (*models.Partition, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+partitionColumns+` FROM partitions WHERE id = ?`), id)
	p, err := scanPartition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get partition %s: %w", id, err)
	}
	return &p, nil
}

// LeafPartitions returns partitions with no children in sweep order.
func (s *SQLStore) LeafPartitions(ctx context.Context) ([]models.Partition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+partitionColumns+` FROM partitions p
		WHERE NOT EXISTS (SELECT 1 FROM partitions c WHERE c.parent_id = p.id)`)
	if err != nil {
		return nil, fmt.Errorf("store: leaf partitions: %w", err)
	}
	defer rows.Close()

	var out []models.Partition
	for rows.Next() {
		p, err := scanPartition(rows)
		if err != nil {
			return nil, fmt.Errorf("store: leaf partitions: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return PartitionIDLess(out[i].ID, out[j].ID) })
	return out, nil
}

// PartitionIDLess orders ids numerically when both are integers and
// lexically otherwise. It defines the sweep order and the resume position.
func PartitionIDLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	if (aerr == nil) != (berr == nil) {
		return aerr == nil
	}
	return a < b
}
