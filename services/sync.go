package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tourgraph/metrics"
	"tourgraph/models"
	"tourgraph/scraper/catalog"
	"tourgraph/storage"
	"tourgraph/utils"
)

// Catalog is the part of the catalog client the syncer drives.
type Catalog interface {
	Search(ctx context.Context, partitionID string, strategy catalog.SortStrategy) ([]models.ListingSummary, error)
	FetchDetail(ctx context.Context, code string) (*catalog.ProductDetail, error)
	Partitions(ctx context.Context) ([]catalog.Destination, error)
}

// SyncerConfig tunes pacing and concurrency.
type SyncerConfig struct {
	// PartitionDelay is slept between partitions of a sweep.
	PartitionDelay time.Duration
	// MaxConcurrency bounds the search strategies issued in parallel.
	MaxConcurrency int
	// RateLimitMs spaces the start of search calls.
	RateLimitMs int
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
}

// SyncOptions apply to one partition.
type SyncOptions struct {
	SkipEnrichment bool
}

// SweepOptions control a multi-partition run.
type SweepOptions struct {
	// Limit caps the partitions processed; <= 0 means all.
	Limit int
	// Resume starts after the partition recorded by the last run.
	Resume         bool
	SkipEnrichment bool
}

// Syncer keeps the local store in step with the external catalog, one
// partition at a time.
type Syncer struct {
	catalog  Catalog
	store    storage.SyncStore
	oneLiner *OneLinerWriter
	cleaner  *Cleaner
	cfg      SyncerConfig
	logger   *utils.Logger
}

// NewSyncer wires a Syncer. oneLiner may be nil, which disables enrichment.
func NewSyncer(cat Catalog, store storage.SyncStore, oneLiner *OneLinerWriter, cfg SyncerConfig, logger *utils.Logger) *Syncer {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = utils.SleepContext
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Syncer{
		catalog:  cat,
		store:    store,
		oneLiner: oneLiner,
		cleaner:  NewCleaner(logger),
		cfg:      cfg,
		logger:   logger,
	}
}

// SeedPartitions loads the catalog's destination hierarchy into the store.
func (s *Syncer) SeedPartitions(ctx context.Context) (int, error) {
	dests, err := s.catalog.Partitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed partitions: %w", err)
	}
	n := 0
	for _, d := range dests {
		p := d.Partition()
		if p.ID == "0" || p.Name == "" {
			continue
		}
		if err := s.store.UpsertPartition(ctx, p); err != nil {
			return n, fmt.Errorf("seed partition %s: %w", p.ID, err)
		}
		n++
	}
	s.logger.Info("[sync] Seeded %d partitions", n)
	return n, nil
}

// SyncPartitionByID syncs one partition, fetching its metadata from the
// catalog when it has not been seeded yet.
func (s *Syncer) SyncPartitionByID(ctx context.Context, id string, opts SyncOptions) (models.SyncReport, error) {
	part, err := s.store.GetPartition(ctx, id)
	if err != nil {
		return models.SyncReport{PartitionID: id}, err
	}
	if part == nil {
		dests, err := s.catalog.Partitions(ctx)
		if err != nil {
			return models.SyncReport{PartitionID: id}, fmt.Errorf("look up partition %s: %w", id, err)
		}
		for _, d := range dests {
			if p := d.Partition(); p.ID == id {
				if err := s.store.UpsertPartition(ctx, p); err != nil {
					return models.SyncReport{PartitionID: id}, err
				}
				part = &p
				break
			}
		}
	}
	if part == nil {
		return models.SyncReport{PartitionID: id}, fmt.Errorf("partition %s not found", id)
	}
	return s.SyncPartition(ctx, *part, opts)
}

// SyncPartition runs one delta pass: search, classify, apply missing and
// changed atomically, then fetch and insert new listings one at a time.
func (s *Syncer) SyncPartition(ctx context.Context, part models.Partition, opts SyncOptions) (report models.SyncReport, err error) {
	start := time.Now()
	report = models.SyncReport{PartitionID: part.ID, PartitionName: part.Name}
	log := s.logger.With("partition", part.ID)
	defer func() {
		report.Duration = time.Since(start)
		metrics.RecordPartitionSync(report, err)
	}()

	fresh, complete, searchErrs := s.search(ctx, part.ID)
	report.SearchErrors = searchErrs
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	report.Searched = len(fresh)
	if len(fresh) == 0 {
		if searchErrs > 0 {
			return report, fmt.Errorf("search %s: all %d strategies failed", part.ID, searchErrs)
		}
		log.Info("[sync] %s: no search results", part.Name)
		return report, nil
	}

	cached, err := s.store.Fingerprints(ctx, part.ID)
	if err != nil {
		return report, err
	}

	cls := Classify(fresh, cached)
	report.New = len(cls.New)
	report.Changed = len(cls.Changed)
	report.Unchanged = len(cls.Unchanged)

	missing := cls.Missing
	if !complete && len(missing) > 0 {
		// A failed strategy may be why these codes are absent.
		log.Warn("[sync] %s: %d search strategies failed, not retiring %d missing codes",
			part.Name, searchErrs, len(missing))
		missing = nil
	}
	report.Missing = len(missing)

	log.Info("[sync] %s: %d found, %d new, %d changed, %d unchanged, %d missing",
		part.Name, report.Searched, report.New, report.Changed, report.Unchanged, report.Missing)

	if err := s.store.ApplyChanges(ctx, s.changeSet(part.ID, cls, missing)); err != nil {
		return report, err
	}

	if len(cls.New) == 0 {
		return report, nil
	}

	country := s.countryName(ctx, part)
	for _, summary := range cls.New {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := s.insertNew(ctx, summary, part, country, opts); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if models.IsStore(err) {
				report.StoreErrors++
				log.Error("[sync] Could not store %s: %v", summary.Code, err)
				continue
			}
			report.FetchErrors++
			log.Warn("[sync] Skipping %s: %v", summary.Code, err)
			continue
		}
		report.Inserted++
	}
	return report, nil
}

// search runs every strategy through a worker pool and merges the results
// in strategy order. complete is false when any strategy failed.
func (s *Syncer) search(ctx context.Context, partitionID string) (merged map[string]models.ListingSummary, complete bool, failures int) {
	strategies := catalog.SearchStrategies
	batches := make([][]models.ListingSummary, len(strategies))
	errs := make([]error, len(strategies))

	pool := utils.NewWorkerPool(s.cfg.MaxConcurrency, s.cfg.RateLimitMs)
	for i, strat := range strategies {
		i, strat := i, strat
		pool.SubmitContext(ctx, func(ctx context.Context) {
			batches[i], errs[i] = s.catalog.Search(ctx, partitionID, strat)
		})
	}
	pool.Wait()

	for i, err := range errs {
		if err != nil {
			failures++
			s.logger.Warn("[sync] Search %s (%s) failed: %v", partitionID, strategies[i].Name, err)
		}
	}
	// A skipped job (context done) leaves a nil batch and nil error.
	if ctx.Err() != nil {
		return nil, false, failures
	}
	return s.cleaner.Merge(batches), failures == 0, failures
}

func (s *Syncer) changeSet(partitionID string, cls Classification, missing []string) storage.ChangeSet {
	cs := storage.ChangeSet{
		PartitionID: partitionID,
		Missing:     missing,
		SeenAt:      s.cfg.Now(),
	}
	for _, sum := range cls.Changed {
		fp := Fingerprint(sum)
		cs.Patches = append(cs.Patches, models.ListingPatch{
			Code:        sum.Code,
			Price:       sum.Price,
			Rating:      clampRating(sum.Rating),
			ReviewCount: sum.ReviewCount,
			Fingerprint: &fp,
		})
		cs.Touched = append(cs.Touched, sum.Code)
	}
	cs.Touched = append(cs.Touched, cls.Unchanged...)
	return cs
}

// countryName resolves the country ancestor through the seeded partitions.
func (s *Syncer) countryName(ctx context.Context, part models.Partition) string {
	id := part.CountryID()
	if id == "" {
		return unknownCountry
	}
	country, err := s.store.GetPartition(ctx, id)
	if err != nil || country == nil || country.Name == "" {
		return unknownCountry
	}
	return country.Name
}

func (s *Syncer) insertNew(ctx context.Context, summary models.ListingSummary, part models.Partition, country string, opts SyncOptions) error {
	detail, err := s.catalog.FetchDetail(ctx, summary.Code)
	if err != nil {
		return err
	}

	l := s.cleaner.BuildListing(detail, summary, part, country)
	l.Category = AssignCategory(LabelInput{
		Rating:      l.Rating,
		ReviewCount: l.ReviewCount,
		Price:       summary.Price,
		Tags:        l.Tags,
		WellKnown:   IsWellKnownPartition(part.ID),
	})

	if !opts.SkipEnrichment && s.oneLiner != nil {
		line, err := s.oneLiner.Write(ctx, l)
		if err != nil {
			s.logger.Debug("[sync] No one-liner for %s: %v", l.Code, err)
		} else {
			l.OneLiner = &line
		}
	}

	if _, err := s.store.UpsertListing(ctx, l); err != nil {
		return err
	}
	s.logger.Debug("[sync] + %s %q [%s]", l.Code, l.Title, l.Category)
	return nil
}

// Sweep syncs leaf partitions in stable order, saving the cursor after each
// one so an interrupted run loses at most the partition in flight.
func (s *Syncer) Sweep(ctx context.Context, opts SweepOptions) (models.SweepReport, error) {
	runID := uuid.NewString()
	log := s.logger.With("run_id", runID)
	report := models.SweepReport{RunID: runID}

	parts, err := s.store.LeafPartitions(ctx)
	if err != nil {
		return report, err
	}
	if len(parts) == 0 {
		return report, errors.New("no partitions in store; run seed-partitions first")
	}

	if opts.Resume {
		cursor, err := s.store.Cursor(ctx)
		if err != nil {
			return report, err
		}
		if cursor != "" {
			parts = partitionsAfter(parts, cursor)
			log.Info("[sync] Resuming after partition %s, %d remaining", cursor, len(parts))
		}
	}
	if opts.Limit > 0 && len(parts) > opts.Limit {
		parts = parts[:opts.Limit]
	}

	log.Info("[sync] Sweep %s: %d partitions", runID, len(parts))
	for i, part := range parts {
		if i > 0 && s.cfg.PartitionDelay > 0 {
			if err := s.cfg.Sleep(ctx, s.cfg.PartitionDelay); err != nil {
				return report, err
			}
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		log.Info("[sync] [%d/%d] %s (%s)", i+1, len(parts), part.Name, part.ID)
		pr, err := s.SyncPartition(ctx, part, SyncOptions{SkipEnrichment: opts.SkipEnrichment})
		if err != nil && ctx.Err() != nil {
			// The partition did not finish; leave the cursor where it was.
			return report, ctx.Err()
		}

		report.Processed++
		report.New += pr.New
		report.Changed += pr.Changed
		report.Missing += pr.Missing
		report.FetchErrors += pr.FetchErrors
		report.StoreErrors += pr.StoreErrors
		if err != nil {
			report.PartitionErrors++
			log.Error("[sync] Partition %s failed: %v", part.ID, err)
		}

		if err := s.store.SetCursor(ctx, part.ID); err != nil {
			log.Warn("[sync] Could not save cursor at %s: %v", part.ID, err)
		}
		report.LastPartitionID = part.ID
	}

	if n, err := s.store.CountActive(ctx); err == nil {
		report.ActiveListings = n
	}
	log.Info("[sync] Sweep done: %d partitions, %d new, %d changed, %d missing, %d errors, %d active",
		report.Processed, report.New, report.Changed, report.Missing, report.PartitionErrors, report.ActiveListings)
	return report, nil
}

// partitionsAfter returns the partitions strictly after cursor in sweep
// order. parts must already be in that order.
func partitionsAfter(parts []models.Partition, cursor string) []models.Partition {
	for i, p := range parts {
		if storage.PartitionIDLess(cursor, p.ID) {
			return parts[i:]
		}
	}
	return nil
}
