package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tourgraph/metrics"
	"tourgraph/models"
)

const listingColumns = `id, code, title, description, one_liner,
	partition_id, partition_name, country, continent, timezone, latitude, longitude,
	rating, review_count, price, currency, duration_minutes,
	cover_image_url, image_urls_json, highlights_json, inclusions_json,
	booking_url, supplier_name, tags_json,
	category, status, fingerprint, first_seen, last_seen`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(sc rowScanner) (*models.Listing, error) {
	var (
		l                              models.Listing
		oneLiner                       sql.NullString
		lat, lng, rating, price        sql.NullFloat64
		reviews, duration              sql.NullInt64
		images, highlights, incl, tags string
		category, status               string
	)
	err := sc.Scan(
		&l.ID, &l.Code, &l.Title, &l.Description, &oneLiner,
		&l.PartitionID, &l.PartitionName, &l.Country, &l.Continent, &l.Timezone, &lat, &lng,
		&rating, &reviews, &price, &l.Currency, &duration,
		&l.CoverImageURL, &images, &highlights, &incl,
		&l.BookingURL, &l.SupplierName, &tags,
		&category, &status, &l.Fingerprint, &l.FirstSeen, &l.LastSeen,
	)
	if err != nil {
		return nil, err
	}

	if oneLiner.Valid {
		l.OneLiner = models.String(oneLiner.String)
	}
	l.Latitude = nullFloat(lat)
	l.Longitude = nullFloat(lng)
	l.Rating = nullFloat(rating)
	l.Price = nullFloat(price)
	l.ReviewCount = nullInt(reviews)
	l.DurationMinutes = nullInt(duration)
	l.ImageURLs = decodeList[string](images)
	l.Highlights = decodeList[string](highlights)
	l.Inclusions = decodeList[string](incl)
	l.Tags = decodeList[int](tags)
	l.Category = models.Category(category)
	l.Status = models.Status(status)
	return &l, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float64(v.Float64)
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	return models.Int(int(v.Int64))
}

func validateRating(r *float64) error {
	if r != nil && (*r < 0 || *r > 5) {
		return &models.ValidationError{Field: "rating", Reason: fmt.Sprintf("%.2f outside [0, 5]", *r)}
	}
	return nil
}

// UpsertListing inserts l or refreshes the existing row with the same code.
// first_seen is kept from the original insert, status becomes active, and a
// nil one-liner does not clear a stored one.
func (s *SQLStore) UpsertListing(ctx context.Context, l *models.Listing) (int64, error) {
	if l.Code == "" {
		return 0, &models.ValidationError{Field: "code", Reason: "empty"}
	}
	if err := validateRating(l.Rating); err != nil {
		return 0, err
	}
	category := l.Category
	if category == "" {
		category = models.CategoryWildcard
	}
	if !category.Valid() {
		return 0, &models.ValidationError{Field: "category", Reason: string(category)}
	}
	currency := l.Currency
	if currency == "" {
		currency = "USD"
	}

	now := s.now()
	query := s.rebind(`
		INSERT INTO listings (
			code, title, description, one_liner,
			partition_id, partition_name, country, continent, timezone, latitude, longitude,
			rating, review_count, price, currency, duration_minutes,
			cover_image_url, image_urls_json, highlights_json, inclusions_json,
			booking_url, supplier_name, tags_json,
			category, status, fingerprint, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			one_liner = COALESCE(excluded.one_liner, listings.one_liner),
			partition_id = excluded.partition_id,
			partition_name = excluded.partition_name,
			country = excluded.country,
			continent = excluded.continent,
			timezone = excluded.timezone,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			rating = excluded.rating,
			review_count = excluded.review_count,
			price = excluded.price,
			currency = excluded.currency,
			duration_minutes = excluded.duration_minutes,
			cover_image_url = excluded.cover_image_url,
			image_urls_json = excluded.image_urls_json,
			highlights_json = excluded.highlights_json,
			inclusions_json = excluded.inclusions_json,
			booking_url = excluded.booking_url,
			supplier_name = excluded.supplier_name,
			tags_json = excluded.tags_json,
			category = excluded.category,
			status = excluded.status,
			fingerprint = excluded.fingerprint,
			last_seen = excluded.last_seen
		RETURNING id
	`)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		l.Code, l.Title, l.Description, l.OneLiner,
		l.PartitionID, l.PartitionName, l.Country, l.Continent, l.Timezone, l.Latitude, l.Longitude,
		l.Rating, l.ReviewCount, l.Price, currency, l.DurationMinutes,
		l.CoverImageURL, encodeList(l.ImageURLs), encodeList(l.Highlights), encodeList(l.Inclusions),
		l.BookingURL, l.SupplierName, encodeList(l.Tags),
		string(category), string(models.StatusActive), l.Fingerprint, now, now,
	).Scan(&id)
	metrics.RecordStoreOp("upsert_listing", time.Since(start), err)
	if err != nil {
		return 0, &models.StoreError{Op: "upsert listing " + l.Code, Err: err}
	}
	l.ID = id
	return id, nil
}

// patchSQL builds the UPDATE for a closed patch. The column list is fixed by
// the ListingPatch fields, so no caller-supplied names reach the query.
func patchSQL(p models.ListingPatch) (string, []any) {
	var (
		sets []string
		args []any
	)
	if p.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *p.Price)
	}
	if p.Rating != nil {
		sets = append(sets, "rating = ?")
		args = append(args, *p.Rating)
	}
	if p.ReviewCount != nil {
		sets = append(sets, "review_count = ?")
		args = append(args, *p.ReviewCount)
	}
	if p.Fingerprint != nil {
		sets = append(sets, "fingerprint = ?")
		args = append(args, *p.Fingerprint)
	}
	if p.OneLiner != nil {
		sets = append(sets, "one_liner = COALESCE(one_liner, ?)")
		args = append(args, *p.OneLiner)
	}
	if p.Highlights != nil {
		sets = append(sets, "highlights_json = ?")
		args = append(args, encodeList(p.Highlights))
	}
	args = append(args, p.Code)
	return "UPDATE listings SET " + strings.Join(sets, ", ") + " WHERE code = ?", args
}

func validatePatch(p models.ListingPatch) error {
	if p.Code == "" {
		return &models.ValidationError{Field: "code", Reason: "empty"}
	}
	return validateRating(p.Rating)
}

// PatchListing applies p to the listing with p.Code. An empty patch is a no-op.
func (s *SQLStore) PatchListing(ctx context.Context, p models.ListingPatch) error {
	if err := validatePatch(p); err != nil {
		return err
	}
	if p.Empty() {
		return nil
	}
	query, args := patchSQL(p)
	_, err := s.exec(ctx, "patch_listing", query, args...)
	return err
}

// ApplyChanges soft-deletes the missing codes, applies the patches and bumps
// last_seen for touched codes, all in one transaction. Nothing is written if
// any step fails.
func (s *SQLStore) ApplyChanges(ctx context.Context, cs ChangeSet) error {
	for _, p := range cs.Patches {
		if err := validatePatch(p); err != nil {
			return err
		}
	}
	seenAt := cs.SeenAt
	if seenAt.IsZero() {
		seenAt = s.now()
	}

	return s.withTx(ctx, "apply_changes", func(tx *sql.Tx) error {
		if len(cs.Missing) > 0 {
			stmt, err := tx.PrepareContext(ctx, s.rebind(
				`UPDATE listings SET status = ? WHERE code = ? AND partition_id = ?`))
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, code := range cs.Missing {
				if _, err := stmt.ExecContext(ctx, string(models.StatusInactive), code, cs.PartitionID); err != nil {
					return fmt.Errorf("deactivate %s: %w", code, err)
				}
			}
		}

		for _, p := range cs.Patches {
			if p.Empty() {
				continue
			}
			query, args := patchSQL(p)
			if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
				return fmt.Errorf("patch %s: %w", p.Code, err)
			}
		}

		if len(cs.Touched) > 0 {
			stmt, err := tx.PrepareContext(ctx, s.rebind(
				`UPDATE listings SET last_seen = ?, status = ? WHERE code = ?`))
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, code := range cs.Touched {
				if _, err := stmt.ExecContext(ctx, seenAt, string(models.StatusActive), code); err != nil {
					return fmt.Errorf("touch %s: %w", code, err)
				}
			}
		}
		return nil
	})
}

// Fingerprints returns code → fingerprint for the active listings of a
// partition. Inactive listings are left out, so one that reappears is
// treated as new and gets a fresh detail fetch.
func (s *SQLStore) Fingerprints(ctx context.Context, partitionID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT code, fingerprint FROM listings WHERE partition_id = ? AND status = ?`),
		partitionID, string(models.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("store: fingerprints %s: %w", partitionID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var code, fp string
		if err := rows.Scan(&code, &fp); err != nil {
			return nil, fmt.Errorf("store: scan fingerprint: %w", err)
		}
		out[code] = fp
	}
	return out, rows.Err()
}

// GetListingByCode returns nil, nil when no listing has that code.
func (s *SQLStore) GetListingByCode(ctx context.Context, code string) (*models.Listing, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+listingColumns+` FROM listings WHERE code = ?`), code)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get listing %s: %w", code, err)
	}
	return l, nil
}

// CountActive returns the number of active listings.
func (s *SQLStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM listings WHERE status = ?`),
		string(models.StatusActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count active: %w", err)
	}
	return n, nil
}

func (s *SQLStore) queryListings(ctx context.Context, op, query string, args ...any) ([]*models.Listing, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	metrics.RecordStoreOp(op, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("store: %s: scan: %w", op, err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ActiveListings returns every active listing ordered by id.
func (s *SQLStore) ActiveListings(ctx context.Context) ([]*models.Listing, error) {
	return s.queryListings(ctx, "active_listings",
		`SELECT `+listingColumns+` FROM listings WHERE status = ? ORDER BY id`,
		string(models.StatusActive))
}

// ListingsMissingOneLiner returns active listings without a one-liner, most
// reviewed first. limit <= 0 means no limit.
func (s *SQLStore) ListingsMissingOneLiner(ctx context.Context, limit int) ([]*models.Listing, error) {
	q := `SELECT ` + listingColumns + ` FROM listings
		WHERE status = ? AND one_liner IS NULL
		ORDER BY COALESCE(review_count, 0) DESC, id`
	args := []any{string(models.StatusActive)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryListings(ctx, "missing_one_liner", q, args...)
}

// ListingsMissingHighlights returns active listings with a booking URL and
// no stored highlights, most reviewed first.
func (s *SQLStore) ListingsMissingHighlights(ctx context.Context, limit int) ([]*models.Listing, error) {
	q := `SELECT ` + listingColumns + ` FROM listings
		WHERE status = ? AND booking_url <> '' AND highlights_json = '[]'
		ORDER BY COALESCE(review_count, 0) DESC, id`
	args := []any{string(models.StatusActive)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryListings(ctx, "missing_highlights", q, args...)
}

// ExistingListingIDs reports which of ids are present in the store.
func (s *SQLStore) ExistingListingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id FROM listings WHERE id IN (`+placeholders(len(ids))+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("store: existing ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: existing ids: scan: %w", err)
		}
		found[id] = true
	}
	return found, rows.Err()
}
