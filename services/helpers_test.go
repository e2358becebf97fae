package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"tourgraph/config"
	"tourgraph/models"
	"tourgraph/scraper/catalog"
	"tourgraph/storage"
	"tourgraph/textgen"
	"tourgraph/utils"
)

func newTestLogger() *utils.Logger { return utils.NopLogger() }

func newTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "services.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	s, err := storage.Open(context.Background(), config.DriverSQLite, dsn, newTestLogger())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testListing is an active, imaged listing; tweak adjusts it before insert.
func testListing(code string, cat models.Category, tweak func(*models.Listing)) *models.Listing {
	l := &models.Listing{
		Code:          code,
		Title:         "Tour " + code,
		PartitionID:   "100",
		PartitionName: "Rome",
		Country:       "Italy",
		Continent:     "Europe",
		Timezone:      "Europe/Rome",
		Rating:        models.Float64(4.6),
		ReviewCount:   models.Int(120),
		Price:         models.Float64(80),
		Currency:      "USD",
		CoverImageURL: "https://img.example/" + code + ".jpg",
		Category:      cat,
		Fingerprint:   "fp-" + code,
	}
	if tweak != nil {
		tweak(l)
	}
	return l
}

func insert(t *testing.T, s *storage.SQLStore, l *models.Listing) *models.Listing {
	t.Helper()
	if _, err := s.UpsertListing(context.Background(), l); err != nil {
		t.Fatalf("UpsertListing(%s): %v", l.Code, err)
	}
	return l
}

func summary(code string, price, rating float64, reviews int) models.ListingSummary {
	return models.ListingSummary{
		Code:        code,
		Title:       "Tour " + code,
		Price:       models.Float64(price),
		Currency:    "USD",
		Rating:      models.Float64(rating),
		ReviewCount: models.Int(reviews),
	}
}

// fakeCatalog serves fixed search results for every strategy.
type fakeCatalog struct {
	mu        sync.Mutex
	results   map[string][]models.ListingSummary
	searchErr map[string]error
	details   map[string]*catalog.ProductDetail
	detailErr map[string]error
	dests     []catalog.Destination
	fetched   []string
	onDetail  func(code string)
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		results:   map[string][]models.ListingSummary{},
		searchErr: map[string]error{},
		details:   map[string]*catalog.ProductDetail{},
		detailErr: map[string]error{},
	}
}

func (f *fakeCatalog) Search(ctx context.Context, partitionID string, strategy catalog.SortStrategy) ([]models.ListingSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.searchErr[strategy.Name]; err != nil {
		return nil, err
	}
	out := make([]models.ListingSummary, len(f.results[partitionID]))
	copy(out, f.results[partitionID])
	return out, nil
}

func (f *fakeCatalog) FetchDetail(ctx context.Context, code string) (*catalog.ProductDetail, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, code)
	hook := f.onDetail
	err := f.detailErr[code]
	d, ok := f.details[code]
	f.mu.Unlock()

	if hook != nil {
		hook(code)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		d = &catalog.ProductDetail{ProductCode: code, Title: "Tour " + code, TimeZone: "Europe/Rome"}
	}
	return d, nil
}

func (f *fakeCatalog) Partitions(ctx context.Context) ([]catalog.Destination, error) {
	return f.dests, nil
}

func (f *fakeCatalog) fetchedCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// scriptedGenerator replies from a queue and then repeats the last reply.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []textgen.Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req textgen.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := len(g.requests)
	g.requests = append(g.requests, req)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if len(g.replies) == 0 {
		return "", nil
	}
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	return g.replies[i], nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}
