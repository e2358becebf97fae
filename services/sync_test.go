package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"tourgraph/models"
	"tourgraph/scraper/catalog"
	"tourgraph/storage"
)

var (
	rome  = models.Partition{ID: "100", Name: "Rome", LookupPath: "6.57.100"}
	italy = models.Partition{ID: "57", Name: "Italy", LookupPath: "6.57"}
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestSyncer(cat Catalog, store storage.SyncStore, ow *OneLinerWriter) *Syncer {
	return NewSyncer(cat, store, ow, SyncerConfig{MaxConcurrency: 2, Sleep: noSleep}, newTestLogger())
}

func seedRome(t *testing.T, s *storage.SQLStore) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []models.Partition{italy, rome} {
		if err := s.UpsertPartition(ctx, p); err != nil {
			t.Fatalf("UpsertPartition(%s): %v", p.ID, err)
		}
	}
}

// storeFromSummary inserts an active listing whose fingerprint matches sum.
func storeFromSummary(t *testing.T, s *storage.SQLStore, sum models.ListingSummary) {
	t.Helper()
	insert(t, s, testListing(sum.Code, models.CategoryWildcard, func(l *models.Listing) {
		l.Price = sum.Price
		l.Rating = sum.Rating
		l.ReviewCount = sum.ReviewCount
		l.Fingerprint = Fingerprint(sum)
	}))
}

func mustGet(t *testing.T, s *storage.SQLStore, code string) *models.Listing {
	t.Helper()
	l, err := s.GetListingByCode(context.Background(), code)
	if err != nil || l == nil {
		t.Fatalf("GetListingByCode(%s) = %v, %v", code, l, err)
	}
	return l
}

func TestSyncPartitionNewChangedUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedRome(t, s)

	a := summary("A", 30, 4.5, 10)
	storeFromSummary(t, s, a)
	storeFromSummary(t, s, summary("B", 40, 4.0, 5))

	cat := newFakeCatalog()
	cat.results["100"] = []models.ListingSummary{a, summary("B", 45, 4.0, 5), summary("C", 60, 4.8, 2)}

	report, err := newTestSyncer(cat, s, nil).SyncPartition(ctx, rome, SyncOptions{})
	if err != nil {
		t.Fatalf("SyncPartition() error = %v", err)
	}
	if report.New != 1 || report.Changed != 1 || report.Unchanged != 1 || report.Missing != 0 || report.Inserted != 1 {
		t.Errorf("report = %+v; want 1 new, 1 changed, 1 unchanged, 0 missing", report)
	}

	if got := cat.fetchedCodes(); len(got) != 1 || got[0] != "C" {
		t.Errorf("fetched details for %v; want only [C]", got)
	}
	if b := mustGet(t, s, "B"); b.PriceValue() != 45 || b.Fingerprint != Fingerprint(summary("B", 45, 4.0, 5)) {
		t.Errorf("B after sync: price %v fingerprint %q", b.PriceValue(), b.Fingerprint)
	}
	c := mustGet(t, s, "C")
	if c.Country != "Italy" || c.Continent != "Europe" || c.Status != models.StatusActive {
		t.Errorf("C after sync: country %q continent %q status %q", c.Country, c.Continent, c.Status)
	}
	// Unrated, moderately priced and outside the well-known destinations.
	if c.Category != models.CategoryOffBeatenPath {
		t.Errorf("C category = %q; want %q", c.Category, models.CategoryOffBeatenPath)
	}
}

func TestSyncPartitionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedRome(t, s)

	cat := newFakeCatalog()
	cat.results["100"] = []models.ListingSummary{summary("A", 30, 4.5, 10), summary("B", 45, 4.0, 5)}
	syncer := newTestSyncer(cat, s, nil)

	if _, err := syncer.SyncPartition(ctx, rome, SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	fetched := len(cat.fetchedCodes())

	report, err := syncer.SyncPartition(ctx, rome, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.New != 0 || report.Changed != 0 || report.Missing != 0 || report.Unchanged != 2 {
		t.Errorf("second pass report = %+v; want 2 unchanged only", report)
	}
	if got := len(cat.fetchedCodes()); got != fetched {
		t.Errorf("second pass fetched %d more details; want 0", got-fetched)
	}
}

func TestSyncPartitionRetiresMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedRome(t, s)

	a := summary("A", 30, 4.5, 10)
	storeFromSummary(t, s, a)
	storeFromSummary(t, s, summary("D", 20, 4.1, 3))
	// Listings of other partitions are never retired by this one.
	insert(t, s, testListing("Z", models.CategoryWildcard, func(l *models.Listing) { l.PartitionID = "200" }))

	cat := newFakeCatalog()
	cat.results["100"] = []models.ListingSummary{a}

	report, err := newTestSyncer(cat, s, nil).SyncPartition(ctx, rome, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Missing != 1 {
		t.Errorf("Missing = %d; want 1", report.Missing)
	}
	if d := mustGet(t, s, "D"); d.Status != models.StatusInactive {
		t.Errorf("D status = %q; want inactive", d.Status)
	}
	if z := mustGet(t, s, "Z"); z.Status != models.StatusActive {
		t.Errorf("Z status = %q; want active", z.Status)
	}

	// A listing that comes back is treated as new and reactivated.
	cat.results["100"] = []models.ListingSummary{a, summary("D", 20, 4.1, 3)}
	report, err = newTestSyncer(cat, s, nil).SyncPartition(ctx, rome, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.New != 1 {
		t.Errorf("returning listing: New = %d; want 1", report.New)
	}
	if d := mustGet(t, s, "D"); d.Status != models.StatusActive {
		t.Errorf("D status after return = %q; want active", d.Status)
	}
}

func TestSyncPartitionPartialSearchFailureKeepsMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedRome(t, s)

	a := summary("A", 30, 4.5, 10)
	storeFromSummary(t, s, a)
	storeFromSummary(t, s, summary("D", 20, 4.1, 3))

	cat := newFakeCatalog()
	cat.results["100"] = []models.ListingSummary{a}
	cat.searchErr["price-asc"] = &models.TransientError{Op: "search", StatusCode: 503}

	report, err := newTestSyncer(cat, s, nil).SyncPartition(ctx, rome, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.SearchErrors != 1 || report.Missing != 0 {
		t.Errorf("report = %+v; want 1 search error and nothing retired", report)
	}
	if d := mustGet(t, s, "D"); d.Status != models.StatusActive {
		t.Errorf("D status = %q; want active", d.Status)
	}
}

func TestSyncPartitionAllSearchesFail(t *testing.T) {
	s := newTestStore(t)
	seedRome(t, s)

	cat := newFakeCatalog()
	for _, strat := range catalog.SearchStrategies {
		cat.searchErr[strat.Name] = errors.New("boom")
	}
	_, err := newTestSyncer(cat, s, nil).SyncPartition(context.Background(), rome, SyncOptions{})
	if err == nil {
		t.Fatal("SyncPartition() error = nil; want an error when every strategy fails")
	}
}

func TestSyncPartitionEmptySearchIsNoOp(t *testing.T) {
	s := newTestStore(t)
	seedRome(t, s)
	storeFromSummary(t, s, summary("A", 30, 4.5, 10))

	report, err := newTestSyncer(newFakeCatalog(), s, nil).SyncPartition(context.Background(), rome, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Missing != 0 {
		t.Errorf("Missing = %d; want 0", report.Missing)
	}
	if a := mustGet(t, s, "A"); a.Status != models.StatusActive {
		t.Errorf("A status = %q; want active", a.Status)
	}
}

func TestSyncPartitionDetailErrorContinues(t *testing.T) {
	s := newTestStore(t)
	seedRome(t, s)

	cat := newFakeCatalog()
	cat.results["100"] = []models.ListingSummary{summary("C", 60, 4.8, 2), summary("E", 70, 4.2, 9)}
	cat.detailErr["C"] = &models.PermanentError{Op: "detail", StatusCode: 404}

	report, err := newTestSyncer(cat, s, nil).SyncPartition(context.Background(), rome, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.FetchErrors != 1 || report.Inserted != 1 {
		t.Errorf("report = %+v; want 1 fetch error and 1 insert", report)
	}
	if l, _ := s.GetListingByCode(context.Background(), "C"); l != nil {
		t.Errorf("C was stored despite the failed detail fetch")
	}
	mustGet(t, s, "E")
}

// failingStore injects errors into selected SyncStore calls.
type failingStore struct {
	storage.SyncStore
	cursorErr error
	applyErr  map[string]error
	upsertErr map[string]error
}

func (f *failingStore) SetCursor(ctx context.Context, partitionID string) error {
	if f.cursorErr != nil {
		return f.cursorErr
	}
	return f.SyncStore.SetCursor(ctx, partitionID)
}

func (f *failingStore) ApplyChanges(ctx context.Context, cs storage.ChangeSet) error {
	if err := f.applyErr[cs.PartitionID]; err != nil {
		return err
	}
	return f.SyncStore.ApplyChanges(ctx, cs)
}

func (f *failingStore) UpsertListing(ctx context.Context, l *models.Listing) (int64, error) {
	if err := f.upsertErr[l.Code]; err != nil {
		return 0, err
	}
	return f.SyncStore.UpsertListing(ctx, l)
}

func TestSyncPartitionCountsStoreErrorsSeparately(t *testing.T) {
	s := newTestStore(t)
	seedRome(t, s)

	cat := newFakeCatalog()
	cat.results["100"] = []models.ListingSummary{summary("C", 60, 4.8, 2), summary("E", 70, 4.2, 9)}
	fs := &failingStore{
		SyncStore: s,
		upsertErr: map[string]error{"C": &models.StoreError{Op: "upsert listing C", Err: errors.New("disk full")}},
	}

	report, err := newTestSyncer(cat, fs, nil).SyncPartition(context.Background(), rome, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.StoreErrors != 1 || report.FetchErrors != 0 || report.Inserted != 1 {
		t.Errorf("report = %+v; want 1 store error, 0 fetch errors, 1 insert", report)
	}
	mustGet(t, s, "E")
}

func TestSyncPartitionEnrichment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedRome(t, s)

	cat := newFakeCatalog()
	cat.results["100"] = []models.ListingSummary{summary("C", 60, 4.8, 2)}
	gen := &scriptedGenerator{replies: []string{`"Gladiators optional."`}}
	ow := NewOneLinerWriter(gen, 0, newTestLogger())

	if _, err := newTestSyncer(cat, s, ow).SyncPartition(ctx, rome, SyncOptions{SkipEnrichment: true}); err != nil {
		t.Fatal(err)
	}
	if gen.calls() != 0 {
		t.Errorf("generator called %d times with enrichment skipped", gen.calls())
	}

	cat.results["100"] = []models.ListingSummary{summary("C", 60, 4.8, 2), summary("F", 15, 4.9, 7)}
	if _, err := newTestSyncer(cat, s, ow).SyncPartition(ctx, rome, SyncOptions{}); err != nil {
		t.Fatal(err)
	}
	f := mustGet(t, s, "F")
	if f.OneLiner == nil || *f.OneLiner != "Gladiators optional." {
		t.Errorf("F one-liner = %v; want %q", f.OneLiner, "Gladiators optional.")
	}
}

func TestSyncPartitionEnrichmentFailureStillStores(t *testing.T) {
	s := newTestStore(t)
	seedRome(t, s)

	cat := newFakeCatalog()
	cat.results["100"] = []models.ListingSummary{summary("C", 60, 4.8, 2)}
	gen := &scriptedGenerator{errs: []error{errors.New("model down")}}

	report, err := newTestSyncer(cat, s, NewOneLinerWriter(gen, 0, newTestLogger())).
		SyncPartition(context.Background(), rome, SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Inserted != 1 {
		t.Errorf("Inserted = %d; want 1", report.Inserted)
	}
	if c := mustGet(t, s, "C"); c.OneLiner != nil {
		t.Errorf("C one-liner = %q; want none", *c.OneLiner)
	}
}

func TestSeedPartitions(t *testing.T) {
	s := newTestStore(t)
	cat := newFakeCatalog()
	cat.dests = []catalog.Destination{
		{DestinationID: 0, Name: "World"},
		{DestinationID: 6, Name: "Europe", LookupID: "6"},
		{DestinationID: 57, Name: "Italy", LookupID: "6.57", ParentDestinationID: 6},
		{DestinationID: 100, Name: "Rome", LookupID: "6.57.100", ParentDestinationID: 57, TimeZone: "Europe/Rome"},
		{DestinationID: 101, Name: "  "},
	}

	n, err := newTestSyncer(cat, s, nil).SeedPartitions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("SeedPartitions() = %d; want 3", n)
	}
	leaves, err := s.LeafPartitions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(leaves) != 1 || leaves[0].ID != "100" {
		t.Errorf("LeafPartitions() = %v; want [100]", leaves)
	}
}

func TestSyncPartitionByIDLooksUpUnseeded(t *testing.T) {
	s := newTestStore(t)
	cat := newFakeCatalog()
	cat.dests = []catalog.Destination{{DestinationID: 100, Name: "Rome", LookupID: "6.57.100"}}
	cat.results["100"] = []models.ListingSummary{summary("A", 30, 4.5, 10)}

	report, err := newTestSyncer(cat, s, nil).SyncPartitionByID(context.Background(), "100", SyncOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Inserted != 1 {
		t.Errorf("Inserted = %d; want 1", report.Inserted)
	}
	if p, _ := s.GetPartition(context.Background(), "100"); p == nil {
		t.Errorf("partition 100 was not stored")
	}

	if _, err := newTestSyncer(cat, s, nil).SyncPartitionByID(context.Background(), "999", SyncOptions{}); err == nil {
		t.Errorf("SyncPartitionByID(999) error = nil; want not found")
	}
}

func seedLeaves(t *testing.T, s *storage.SQLStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.UpsertPartition(context.Background(), models.Partition{ID: id, Name: "P" + id}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSweepLimitAndResume(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedLeaves(t, s, "300", "20", "100")

	cat := newFakeCatalog()
	cat.results["20"] = []models.ListingSummary{summary("A", 30, 4.5, 10)}
	cat.results["300"] = []models.ListingSummary{summary("B", 40, 4.0, 5)}
	syncer := newTestSyncer(cat, s, nil)

	report, err := syncer.Sweep(ctx, SweepOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 2 || report.LastPartitionID != "100" || report.New != 1 {
		t.Errorf("first sweep = %+v; want 2 processed ending at 100 with 1 new", report)
	}
	if report.RunID == "" {
		t.Errorf("RunID is empty")
	}
	if cur, _ := s.Cursor(ctx); cur != "100" {
		t.Errorf("cursor = %q; want 100", cur)
	}

	report, err = syncer.Sweep(ctx, SweepOptions{Resume: true})
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 1 || report.LastPartitionID != "300" || report.ActiveListings != 2 {
		t.Errorf("resumed sweep = %+v; want only 300 processed and 2 active", report)
	}
}

func TestSweepCountsPartitionErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedLeaves(t, s, "1", "2")

	cat := newFakeCatalog()
	for _, strat := range catalog.SearchStrategies {
		cat.searchErr[strat.Name] = errors.New("down")
	}
	report, err := newTestSyncer(cat, s, nil).Sweep(ctx, SweepOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Processed != 2 || report.PartitionErrors != 2 {
		t.Errorf("report = %+v; want 2 processed, 2 errors", report)
	}
	if cur, _ := s.Cursor(ctx); cur != "2" {
		t.Errorf("cursor = %q; want 2", cur)
	}
}

func TestSweepContinuesWhenCursorSaveFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedLeaves(t, s, "1", "2")

	cat := newFakeCatalog()
	cat.results["1"] = []models.ListingSummary{summary("A", 30, 4.5, 10)}
	cat.results["2"] = []models.ListingSummary{summary("B", 40, 4.0, 5)}
	fs := &failingStore{SyncStore: s, cursorErr: &models.StoreError{Op: "set cursor", Err: errors.New("locked")}}

	report, err := newTestSyncer(cat, fs, nil).Sweep(ctx, SweepOptions{})
	if err != nil {
		t.Fatalf("Sweep() error = %v; want nil", err)
	}
	if report.Processed != 2 || report.PartitionErrors != 0 || report.LastPartitionID != "2" {
		t.Errorf("report = %+v; want 2 processed without errors", report)
	}
	mustGet(t, s, "A")
	mustGet(t, s, "B")
	if cur, _ := s.Cursor(ctx); cur != "" {
		t.Errorf("cursor = %q; want unset", cur)
	}
}

func TestSweepStoreErrorFailsOnlyThatPartition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedLeaves(t, s, "1", "2")

	old := summary("OLD", 30, 4.5, 10)
	insert(t, s, testListing("OLD", models.CategoryWildcard, func(l *models.Listing) {
		l.PartitionID = "1"
		l.Price = old.Price
		l.Rating = old.Rating
		l.ReviewCount = old.ReviewCount
		l.Fingerprint = Fingerprint(old)
	}))

	cat := newFakeCatalog()
	cat.results["1"] = []models.ListingSummary{summary("OLD", 99, 4.5, 10), summary("A", 50, 4.7, 3)}
	cat.results["2"] = []models.ListingSummary{summary("B", 40, 4.0, 5)}
	fs := &failingStore{
		SyncStore: s,
		applyErr:  map[string]error{"1": &models.StoreError{Op: "apply changes", Err: errors.New("disk full")}},
	}

	report, err := newTestSyncer(cat, fs, nil).Sweep(ctx, SweepOptions{})
	if err != nil {
		t.Fatalf("Sweep() error = %v; want nil", err)
	}
	if report.Processed != 2 || report.PartitionErrors != 1 {
		t.Errorf("report = %+v; want 2 processed, 1 partition error", report)
	}
	if got := mustGet(t, s, "OLD"); got.PriceValue() != 30 || got.Fingerprint != Fingerprint(old) {
		t.Errorf("OLD after failed partition: price %v fingerprint %q; want unchanged", got.PriceValue(), got.Fingerprint)
	}
	if l, _ := s.GetListingByCode(ctx, "A"); l != nil {
		t.Errorf("A was stored although its partition failed")
	}
	if b := mustGet(t, s, "B"); b.PartitionID != "2" {
		t.Errorf("B partition = %q; want 2", b.PartitionID)
	}
	if cur, _ := s.Cursor(ctx); cur != "2" {
		t.Errorf("cursor = %q; want 2", cur)
	}
}

func TestSweepCancelledLeavesCursor(t *testing.T) {
	s := newTestStore(t)
	seedLeaves(t, s, "1", "2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat := newFakeCatalog()
	cat.results["1"] = []models.ListingSummary{summary("A", 30, 4.5, 10)}
	cat.onDetail = func(string) { cancel() }

	_, err := newTestSyncer(cat, s, nil).Sweep(ctx, SweepOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sweep() error = %v; want context.Canceled", err)
	}
	if cur, _ := s.Cursor(context.Background()); cur != "" {
		t.Errorf("cursor = %q; want unset after cancellation", cur)
	}
}

func TestSweepWithoutPartitions(t *testing.T) {
	if _, err := newTestSyncer(newFakeCatalog(), newTestStore(t), nil).Sweep(context.Background(), SweepOptions{}); err == nil {
		t.Error("Sweep() error = nil; want an error for an empty partition table")
	}
}

func TestPartitionsAfter(t *testing.T) {
	parts := []models.Partition{{ID: "2"}, {ID: "10"}, {ID: "100"}}
	tests := []struct {
		cursor string
		want   int
	}{
		{"1", 3},
		{"2", 2},
		{"50", 1},
		{"100", 0},
	}
	for _, tt := range tests {
		if got := partitionsAfter(parts, tt.cursor); len(got) != tt.want {
			t.Errorf("partitionsAfter(%q) has %d partitions; want %d", tt.cursor, len(got), tt.want)
		}
	}
}
