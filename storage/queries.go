package storage

import (
	"context"
	"fmt"
	"strings"

	"tourgraph/models"
)

// SortField selects the ORDER BY of a ListingQuery.
type SortField string

const (
	SortRandom   SortField = "random"
	SortPrice    SortField = "price"
	SortRating   SortField = "rating"
	SortReviews  SortField = "review_count"
	SortDuration SortField = "duration_minutes"
)

// ListingQuery is a filter over active listings. Nil bounds are ignored.
type ListingQuery struct {
	Category     models.Category
	MinRating    *float64
	MinPrice     *float64
	MaxPrice     *float64
	MinReviews   *int
	MaxReviews   *int
	MinDuration  *int
	MaxDuration  *int
	RequireImage bool
	Timezone     string
	Exclude      []int64

	OrderBy SortField
	Desc    bool
	// Limit <= 0 means no limit.
	Limit int
}

// build renders the query. Ordering by a column also requires it to be
// non-null so NULL placement never differs between backends.
func (q ListingQuery) build() (string, []any) {
	where := []string{"status = ?"}
	args := []any{string(models.StatusActive)}

	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if q.Category != "" {
		add("category = ?", string(q.Category))
	}
	if q.MinRating != nil {
		add("rating >= ?", *q.MinRating)
	}
	if q.MinPrice != nil {
		add("price >= ?", *q.MinPrice)
	}
	if q.MaxPrice != nil {
		add("price <= ?", *q.MaxPrice)
	}
	if q.MinReviews != nil {
		add("review_count >= ?", *q.MinReviews)
	}
	if q.MaxReviews != nil {
		add("review_count <= ?", *q.MaxReviews)
	}
	if q.MinDuration != nil {
		add("duration_minutes >= ?", *q.MinDuration)
	}
	if q.MaxDuration != nil {
		add("duration_minutes <= ?", *q.MaxDuration)
	}
	if q.RequireImage {
		where = append(where, "cover_image_url <> ''")
	}
	if q.Timezone != "" {
		add("timezone = ?", q.Timezone)
	}
	if len(q.Exclude) > 0 {
		where = append(where, "id NOT IN ("+placeholders(len(q.Exclude))+")")
		for _, id := range q.Exclude {
			args = append(args, id)
		}
	}

	order := "id"
	switch q.OrderBy {
	case "":
	case SortRandom:
		order = "RANDOM()"
	case SortPrice, SortRating, SortReviews, SortDuration:
		col := string(q.OrderBy)
		where = append(where, col+" IS NOT NULL")
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		order = col + " " + dir + ", id ASC"
	}

	query := `SELECT ` + listingColumns + ` FROM listings WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ` + order
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	return query, args
}

// FindListings runs q against the active catalog. No match is an empty
// slice, not an error.
func (s *SQLStore) FindListings(ctx context.Context, q ListingQuery) ([]*models.Listing, error) {
	query, args := q.build()
	return s.queryListings(ctx, "find_listings", query, args...)
}

// RandomByCategory draws up to n distinct active listings of cat uniformly at
// random, skipping exclude.
func (s *SQLStore) RandomByCategory(ctx context.Context, cat models.Category, exclude []int64, n int) ([]*models.Listing, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.FindListings(ctx, ListingQuery{Category: cat, Exclude: exclude, OrderBy: SortRandom, Limit: n})
}

// RandomActive draws up to n distinct active listings from the whole catalog.
func (s *SQLStore) RandomActive(ctx context.Context, exclude []int64, n int) ([]*models.Listing, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.FindListings(ctx, ListingQuery{Exclude: exclude, OrderBy: SortRandom, Limit: n})
}

// DistinctTimezones lists every timezone carried by an active listing.
func (s *SQLStore) DistinctTimezones(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT DISTINCT timezone FROM listings WHERE status = ? AND timezone <> '' ORDER BY timezone`),
		string(models.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("store: distinct timezones: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tz string
		if err := rows.Scan(&tz); err != nil {
			return nil, fmt.Errorf("store: distinct timezones: scan: %w", err)
		}
		out = append(out, tz)
	}
	return out, rows.Err()
}

// TopListingsForPartitionName returns the best-rated imaged active listings
// of the partition with that display name.
func (s *SQLStore) TopListingsForPartitionName(ctx context.Context, name string, limit int) ([]*models.Listing, error) {
	return s.queryListings(ctx, "top_for_partition", `SELECT `+listingColumns+` FROM listings
		WHERE status = ? AND partition_name = ? AND cover_image_url <> ''
		ORDER BY COALESCE(rating, 0) DESC, COALESCE(review_count, 0) DESC, id
		LIMIT ?`, string(models.StatusActive), name, limit)
}

// PartitionNamesWithListings returns partition names that have at least
// minListings imaged active listings.
func (s *SQLStore) PartitionNamesWithListings(ctx context.Context, minListings int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT partition_name FROM listings
		WHERE status = ? AND cover_image_url <> '' AND partition_name <> ''
		GROUP BY partition_name
		HAVING COUNT(*) >= ?
		ORDER BY partition_name`), string(models.StatusActive), minListings)
	if err != nil {
		return nil, fmt.Errorf("store: partitions with listings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: partitions with listings: scan: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
