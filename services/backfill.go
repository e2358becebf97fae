package services

import (
	"context"
	"errors"
	"time"

	"tourgraph/models"
	"tourgraph/storage"
	"tourgraph/textgen"
	"tourgraph/utils"
)

const backfillProgressEvery = 20

// HighlightFetcher pulls highlight bullets from a listing's booking page.
type HighlightFetcher interface {
	Highlights(ctx context.Context, pageURL string) ([]string, error)
}

// BackfillOptions select how much work a backfill run does.
type BackfillOptions struct {
	// Limit caps the listings visited; <= 0 means all candidates.
	Limit  int
	DryRun bool
}

// BackfillReport counts the outcome of one backfill run.
type BackfillReport struct {
	Candidates int
	Updated    int
	Empty      int
	Failed     int
}

// Backfiller enriches listings that sync stored without optional fields.
type Backfiller struct {
	store      storage.EnrichmentStore
	oneLiner   *OneLinerWriter
	highlights HighlightFetcher
	delay      time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *utils.Logger
}

// NewBackfiller returns a Backfiller. oneLiner or highlights may be nil when
// the matching job is not used.
func NewBackfiller(store storage.EnrichmentStore, oneLiner *OneLinerWriter, highlights HighlightFetcher, delay time.Duration, logger *utils.Logger) *Backfiller {
	return &Backfiller{
		store:      store,
		oneLiner:   oneLiner,
		highlights: highlights,
		delay:      delay,
		sleep:      utils.SleepContext,
		logger:     logger,
	}
}

// BackfillOneLiners generates one-liners for active listings that have none,
// most reviewed first. Existing one-liners are never replaced.
func (b *Backfiller) BackfillOneLiners(ctx context.Context, opts BackfillOptions) (BackfillReport, error) {
	if b.oneLiner == nil {
		return BackfillReport{}, textgen.ErrDisabled
	}
	listings, err := b.store.ListingsMissingOneLiner(ctx, opts.Limit)
	if err != nil {
		return BackfillReport{}, err
	}

	return b.run(ctx, "one-liners", listings, func(ctx context.Context, l *models.Listing) (bool, error) {
		line, err := b.oneLiner.Write(ctx, l)
		if err != nil {
			return false, err
		}
		b.logger.Debug("[backfill] %s -> %q", l.Code, line)
		if opts.DryRun {
			return true, nil
		}
		return true, b.store.PatchListing(ctx, models.ListingPatch{Code: l.Code, OneLiner: &line})
	})
}

// BackfillHighlights scrapes booking pages for listings without highlights.
func (b *Backfiller) BackfillHighlights(ctx context.Context, opts BackfillOptions) (BackfillReport, error) {
	if b.highlights == nil {
		return BackfillReport{}, errors.New("backfill: no highlight fetcher configured")
	}
	listings, err := b.store.ListingsMissingHighlights(ctx, opts.Limit)
	if err != nil {
		return BackfillReport{}, err
	}

	return b.run(ctx, "highlights", listings, func(ctx context.Context, l *models.Listing) (bool, error) {
		lines, err := b.highlights.Highlights(ctx, l.BookingURL)
		if err != nil {
			return false, err
		}
		if len(lines) == 0 {
			return false, nil
		}
		if opts.DryRun {
			return true, nil
		}
		return true, b.store.PatchListing(ctx, models.ListingPatch{Code: l.Code, Highlights: lines})
	})
}

// run visits listings in order, pausing between calls. A job that returns
// false with no error found nothing to store.
func (b *Backfiller) run(ctx context.Context, name string, listings []*models.Listing, job func(context.Context, *models.Listing) (bool, error)) (BackfillReport, error) {
	report := BackfillReport{Candidates: len(listings)}
	b.logger.Info("[backfill] %s: %d candidates", name, len(listings))

	for i, l := range listings {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		updated, err := job(ctx, l)
		switch {
		case err != nil && textgen.Unavailable(err):
			b.logger.Error("[backfill] %s: text generation unavailable, stopping: %v", name, err)
			return report, err
		case err != nil:
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			b.logger.Warn("[backfill] [%d/%d] %s failed: %v", i+1, len(listings), l.Code, err)
		case updated:
			report.Updated++
		default:
			report.Empty++
		}

		if (i+1)%backfillProgressEvery == 0 {
			b.logger.Info("[backfill] %s progress: %d/%d (%d updated, %d failed)",
				name, i+1, len(listings), report.Updated, report.Failed)
		}
		if i < len(listings)-1 && b.delay > 0 {
			if err := b.sleep(ctx, b.delay); err != nil {
				return report, err
			}
		}
	}

	b.logger.Info("[backfill] %s done: %d updated, %d empty, %d failed",
		name, report.Updated, report.Empty, report.Failed)
	return report, nil
}
