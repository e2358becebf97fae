package storage

import (
	"context"
	"time"

	"tourgraph/models"
)

// ChangeSet is the atomic part of one partition sync: listings to soft-delete,
// listings to patch from their fresh summary, and listings whose last_seen
// should be bumped.
type ChangeSet struct {
	PartitionID string
	Missing     []string
	Patches     []models.ListingPatch
	Touched     []string
	SeenAt      time.Time
}

// ListingWriter persists full listings and field patches.
type ListingWriter interface {
	UpsertListing(ctx context.Context, l *models.Listing) (int64, error)
	PatchListing(ctx context.Context, p models.ListingPatch) error
}

// SyncStore is everything the sync orchestrator needs from persistence.
type SyncStore interface {
	ListingWriter
	Fingerprints(ctx context.Context, partitionID string) (map[string]string, error)
	ApplyChanges(ctx context.Context, cs ChangeSet) error
	GetPartition(ctx context.Context, id string) (*models.Partition, error)
	UpsertPartition(ctx context.Context, p models.Partition) error
	LeafPartitions(ctx context.Context) ([]models.Partition, error)
	Cursor(ctx context.Context) (string, error)
	SetCursor(ctx context.Context, partitionID string) error
	CountActive(ctx context.Context) (int, error)
}

// SelectionStore is the read side used by the curation selectors.
type SelectionStore interface {
	RandomByCategory(ctx context.Context, cat models.Category, exclude []int64, n int) ([]*models.Listing, error)
	RandomActive(ctx context.Context, exclude []int64, n int) ([]*models.Listing, error)
	FindListings(ctx context.Context, q ListingQuery) ([]*models.Listing, error)
	DistinctTimezones(ctx context.Context) ([]string, error)
}

// ChainStore persists thematic chains and resolves the listings they cite.
type ChainStore interface {
	UpsertChain(ctx context.Context, c *models.ThematicChain) error
	GetChain(ctx context.Context, a, b string) (*models.ThematicChain, error)
	ExistingListingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// EnrichmentStore feeds the backfill jobs.
type EnrichmentStore interface {
	ListingWriter
	ListingsMissingOneLiner(ctx context.Context, limit int) ([]*models.Listing, error)
	ListingsMissingHighlights(ctx context.Context, limit int) ([]*models.Listing, error)
}

// ListingExporter writes a snapshot of listings somewhere outside the store.
type ListingExporter interface {
	Write(listings []*models.Listing) error
	Close() error
}
