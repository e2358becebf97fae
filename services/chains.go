package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tourgraph/models"
	"tourgraph/storage"
	"tourgraph/utils"
)

// ChainValidator checks candidate chains and stores the ones that hold.
type ChainValidator struct {
	store  storage.ChainStore
	logger *utils.Logger
	now    func() time.Time
}

func NewChainValidator(store storage.ChainStore, logger *utils.Logger) *ChainValidator {
	return &ChainValidator{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Validate checks the structural rules only: exactly five stops in five
// distinct partitions, a listing on every stop, and four distinct themes on
// the connecting stops.
func (v *ChainValidator) Validate(c *models.ThematicChain) error {
	if c == nil {
		return &models.ValidationError{Field: "chain", Reason: "missing"}
	}
	if strings.TrimSpace(c.From) == "" || strings.TrimSpace(c.To) == "" {
		return &models.ValidationError{Field: "pair", Reason: "both partition names are required"}
	}
	if len(c.Stops) != models.ChainLength {
		return &models.ValidationError{
			Field:  "chain",
			Reason: fmt.Sprintf("has %d stops, want %d", len(c.Stops), models.ChainLength),
		}
	}

	names := make(map[string]struct{}, models.ChainLength)
	themes := make(map[string]struct{}, models.ChainLength-1)
	for i, stop := range c.Stops {
		name := strings.ToLower(strings.TrimSpace(stop.PartitionName))
		if name == "" {
			return &models.ValidationError{Field: fmt.Sprintf("chain[%d].city", i), Reason: "empty"}
		}
		if _, dup := names[name]; dup {
			return &models.ValidationError{Field: "chain", Reason: fmt.Sprintf("repeats partition %q", stop.PartitionName)}
		}
		names[name] = struct{}{}

		if stop.ListingID <= 0 {
			return &models.ValidationError{Field: fmt.Sprintf("chain[%d].tour_id", i), Reason: "missing listing id"}
		}

		if i == len(c.Stops)-1 {
			continue
		}
		theme := strings.ToLower(strings.TrimSpace(stop.Theme))
		if theme == "" {
			return &models.ValidationError{Field: fmt.Sprintf("chain[%d].theme", i), Reason: "empty"}
		}
		if _, dup := themes[theme]; dup {
			return &models.ValidationError{Field: "chain", Reason: fmt.Sprintf("repeats theme %q", stop.Theme)}
		}
		themes[theme] = struct{}{}
	}
	return nil
}

// Accept validates c, checks that every cited listing exists, and upserts it
// under its canonical pair. A rejected chain is never written.
func (v *ChainValidator) Accept(ctx context.Context, c *models.ThematicChain) error {
	if err := v.Validate(c); err != nil {
		return err
	}

	ids := make([]int64, len(c.Stops))
	for i, s := range c.Stops {
		ids[i] = s.ListingID
	}
	found, err := v.store.ExistingListingIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !found[id] {
			return &models.ValidationError{Field: "chain", Reason: fmt.Sprintf("listing %d does not exist", id)}
		}
	}

	c.Stops[len(c.Stops)-1].Connector = nil
	if c.GeneratedAt.IsZero() {
		c.GeneratedAt = v.now()
	}
	if err := v.store.UpsertChain(ctx, c); err != nil {
		return err
	}
	v.logger.Info("[chains] Stored %s -> %s: %s", c.From, c.To, c.Summary)
	return nil
}
