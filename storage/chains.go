package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"tourgraph/models"
)

// UpsertChain stores c under its canonical pair, replacing any earlier chain
// for the same two partitions.
func (s *SQLStore) UpsertChain(ctx context.Context, c *models.ThematicChain) error {
	from, to := models.PairKey(c.From, c.To)
	body, err := json.Marshal(c.Stops)
	if err != nil {
		return &models.ValidationError{Field: "chain", Reason: err.Error()}
	}
	generated := c.GeneratedAt
	if generated.IsZero() {
		generated = s.now()
	}
	_, err = s.exec(ctx, "upsert_chain", `
		INSERT INTO chains (city_from, city_to, chain_json, summary, generated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (city_from, city_to) DO UPDATE SET
			chain_json = excluded.chain_json,
			summary = excluded.summary,
			generated_at = excluded.generated_at
	`, from, to, string(body), c.Summary, generated)
	return err
}

// GetChain looks a chain up in either direction. nil, nil when absent.
func (s *SQLStore) GetChain(ctx context.Context, a, b string) (*models.ThematicChain, error) {
	from, to := models.PairKey(a, b)
	var (
		c    models.ThematicChain
		body string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT city_from, city_to, chain_json, summary, generated_at
		FROM chains WHERE city_from = ? AND city_to = ?`), from, to).
		Scan(&c.From, &c.To, &body, &c.Summary, &c.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chain %s/%s: %w", from, to, err)
	}
	if err := json.Unmarshal([]byte(body), &c.Stops); err != nil {
		s.log.Warn("[store] chain %s/%s has unreadable stops: %v", from, to, err)
		c.Stops = []models.ChainStop{}
	}
	return &c, nil
}

// CountChains returns how many pairs have a stored chain.
func (s *SQLStore) CountChains(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chains`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count chains: %w", err)
	}
	return n, nil
}
