package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tourgraph/models"
	"tourgraph/storage"
	"tourgraph/textgen"
)

func newTestBackfiller(s *storage.SQLStore, ow *OneLinerWriter, hf HighlightFetcher) *Backfiller {
	b := NewBackfiller(s, ow, hf, time.Second, newTestLogger())
	b.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return b
}

func TestBackfillOneLiners(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insert(t, s, testListing("A", models.CategoryWildcard, nil))
	insert(t, s, testListing("B", models.CategoryWildcard, func(l *models.Listing) {
		l.OneLiner = models.String("Already witty.")
	}))
	insert(t, s, testListing("C", models.CategoryWildcard, nil))

	gen := &scriptedGenerator{replies: []string{"Fresh line."}}
	report, err := newTestBackfiller(s, NewOneLinerWriter(gen, 0, newTestLogger()), nil).
		BackfillOneLiners(ctx, BackfillOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Candidates != 2 || report.Updated != 2 || gen.calls() != 2 {
		t.Errorf("report = %+v after %d calls; want 2 candidates updated", report, gen.calls())
	}
	for code, want := range map[string]string{"A": "Fresh line.", "B": "Already witty.", "C": "Fresh line."} {
		l := mustGet(t, s, code)
		if l.OneLiner == nil || *l.OneLiner != want {
			t.Errorf("%s one-liner = %v; want %q", code, l.OneLiner, want)
		}
	}
}

func TestBackfillOneLinersDryRunAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	insert(t, s, testListing("A", models.CategoryWildcard, nil))
	insert(t, s, testListing("B", models.CategoryWildcard, func(l *models.Listing) { l.ReviewCount = models.Int(9000) }))

	gen := &scriptedGenerator{replies: []string{"Dry line."}}
	report, err := newTestBackfiller(s, NewOneLinerWriter(gen, 0, newTestLogger()), nil).
		BackfillOneLiners(ctx, BackfillOptions{Limit: 1, DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Candidates != 1 || report.Updated != 1 {
		t.Errorf("report = %+v; want 1 candidate", report)
	}
	if got := gen.requests[0].Prompt; !strings.Contains(got, "Tour B") {
		t.Errorf("the most reviewed listing was not first; prompt %q", got)
	}
	for _, code := range []string{"A", "B"} {
		if l := mustGet(t, s, code); l.OneLiner != nil {
			t.Errorf("dry run stored a one-liner on %s", code)
		}
	}
}

func TestBackfillOneLinersStopsWhenUnavailable(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, testListing("A", models.CategoryWildcard, nil))
	insert(t, s, testListing("B", models.CategoryWildcard, nil))

	gen := &scriptedGenerator{errs: []error{textgen.ErrDisabled}}
	_, err := newTestBackfiller(s, NewOneLinerWriter(gen, 0, newTestLogger()), nil).
		BackfillOneLiners(context.Background(), BackfillOptions{})
	if !errors.Is(err, textgen.ErrDisabled) {
		t.Errorf("BackfillOneLiners() error = %v; want ErrDisabled", err)
	}
	if gen.calls() != 1 {
		t.Errorf("generator called %d times; want 1", gen.calls())
	}

	if _, err := newTestBackfiller(s, nil, nil).BackfillOneLiners(context.Background(), BackfillOptions{}); !errors.Is(err, textgen.ErrDisabled) {
		t.Errorf("BackfillOneLiners() without a writer error = %v; want ErrDisabled", err)
	}
}

func TestBackfillOneLinersCountsFailures(t *testing.T) {
	s := newTestStore(t)
	insert(t, s, testListing("A", models.CategoryWildcard, nil))
	insert(t, s, testListing("B", models.CategoryWildcard, nil))

	gen := &scriptedGenerator{replies: []string{"", "Second."}, errs: []error{errors.New("flaky")}}
	report, err := newTestBackfiller(s, NewOneLinerWriter(gen, 0, newTestLogger()), nil).
		BackfillOneLiners(context.Background(), BackfillOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 || report.Updated != 1 {
		t.Errorf("report = %+v; want 1 failed, 1 updated", report)
	}
}

type fakeHighlights struct {
	mu    sync.Mutex
	pages map[string][]string
	errs  map[string]error
	urls  []string
}

func (f *fakeHighlights) Highlights(ctx context.Context, pageURL string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, pageURL)
	if err := f.errs[pageURL]; err != nil {
		return nil, err
	}
	return f.pages[pageURL], nil
}

func TestBackfillHighlights(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	withURL := func(u string) func(*models.Listing) {
		return func(l *models.Listing) { l.BookingURL = u }
	}
	insert(t, s, testListing("A", models.CategoryWildcard, withURL("https://book.example/a")))
	insert(t, s, testListing("B", models.CategoryWildcard, withURL("https://book.example/b")))
	insert(t, s, testListing("C", models.CategoryWildcard, withURL("https://book.example/c")))
	insert(t, s, testListing("D", models.CategoryWildcard, nil))
	insert(t, s, testListing("E", models.CategoryWildcard, func(l *models.Listing) {
		l.BookingURL = "https://book.example/e"
		l.Highlights = []string{"kept"}
	}))

	hf := &fakeHighlights{
		pages: map[string][]string{"https://book.example/a": {"Skip the line", "Small group"}},
		errs:  map[string]error{"https://book.example/c": errors.New("timeout")},
	}
	report, err := newTestBackfiller(s, nil, hf).BackfillHighlights(ctx, BackfillOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Candidates != 3 || report.Updated != 1 || report.Empty != 1 || report.Failed != 1 {
		t.Errorf("report = %+v; want 3 candidates, 1 updated, 1 empty, 1 failed", report)
	}
	if a := mustGet(t, s, "A"); len(a.Highlights) != 2 || a.Highlights[0] != "Skip the line" {
		t.Errorf("A highlights = %v", a.Highlights)
	}
	if e := mustGet(t, s, "E"); len(e.Highlights) != 1 {
		t.Errorf("E highlights = %v; want untouched", e.Highlights)
	}

	if _, err := newTestBackfiller(s, nil, nil).BackfillHighlights(ctx, BackfillOptions{}); err == nil {
		t.Errorf("BackfillHighlights() without a fetcher error = nil")
	}
}
