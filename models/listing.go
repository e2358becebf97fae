package models

import "time"

// Status is the lifecycle state of a Listing. Listings are never hard-deleted
// by the sync pipeline; they flip to StatusInactive when a partition's search
// stops returning them.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Category is the "interestingness" bucket assigned to every listing. It
// drives the hand-draw quotas.
type Category string

const (
	CategoryTopRated       Category = "top-rated"
	CategoryMostReviewed   Category = "most-reviewed"
	CategoryPremium        Category = "premium"
	CategoryBargainPremium Category = "bargain-premium"
	CategoryUnique         Category = "unique"
	CategoryOffBeatenPath  Category = "off-the-beaten-path"
	CategoryWildcard       Category = "wildcard"
)

// Categories lists every label in rule order.
var Categories = []Category{
	CategoryTopRated,
	CategoryMostReviewed,
	CategoryPremium,
	CategoryBargainPremium,
	CategoryUnique,
	CategoryOffBeatenPath,
	CategoryWildcard,
}

// Valid reports whether c is one of the fixed labels.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ListingSummary is the lightweight record a catalog search returns. It
// carries every field the change fingerprint covers.
type ListingSummary struct {
	Code        string
	Title       string
	Price       *float64
	Currency    string
	Rating      *float64
	ReviewCount *int
}

// Listing is one bookable catalog item, keyed by its external product code.
type Listing struct {
	ID          int64
	Code        string
	Title       string
	Description string
	OneLiner    *string

	PartitionID   string
	PartitionName string
	Country       string
	Continent     string
	Timezone      string
	Latitude      *float64
	Longitude     *float64

	Rating          *float64
	ReviewCount     *int
	Price           *float64
	Currency        string
	DurationMinutes *int

	CoverImageURL string
	ImageURLs     []string
	Highlights    []string
	Inclusions    []string
	BookingURL    string
	SupplierName  string
	Tags          []int

	Category    Category
	Status      Status
	Fingerprint string
	FirstSeen   time.Time
	LastSeen    time.Time
}

// HasImage reports whether the listing can be shown with a cover picture.
func (l *Listing) HasImage() bool {
	return l.CoverImageURL != ""
}

// PriceValue returns the price or 0 when the catalog did not supply one.
func (l *Listing) PriceValue() float64 {
	if l.Price == nil {
		return 0
	}
	return *l.Price
}

// RatingValue returns the rating or 0 when unrated.
func (l *Listing) RatingValue() float64 {
	if l.Rating == nil {
		return 0
	}
	return *l.Rating
}

// ReviewCountValue returns the review count or 0 when unknown.
func (l *Listing) ReviewCountValue() int {
	if l.ReviewCount == nil {
		return 0
	}
	return *l.ReviewCount
}

// ListingPatch is the closed set of columns that may be changed on an
// existing listing. Nil fields are left untouched.
type ListingPatch struct {
	Code        string
	Price       *float64
	Rating      *float64
	ReviewCount *int
	Fingerprint *string
	// OneLiner is only written when the stored one-liner is empty.
	OneLiner   *string
	Highlights []string
}

// Empty reports whether the patch would change nothing.
func (p ListingPatch) Empty() bool {
	return p.Price == nil && p.Rating == nil && p.ReviewCount == nil &&
		p.Fingerprint == nil && p.OneLiner == nil && p.Highlights == nil
}

// SyncReport is the per-partition outcome of one sync pass.
type SyncReport struct {
	PartitionID   string
	PartitionName string
	Searched      int
	New           int
	Changed       int
	Unchanged     int
	Missing       int
	Inserted      int
	FetchErrors   int
	StoreErrors   int
	SearchErrors  int
	Duration      time.Duration
}

// SweepReport aggregates a multi-partition run.
type SweepReport struct {
	RunID           string
	Processed       int
	PartitionErrors int
	New             int
	Changed         int
	Missing         int
	FetchErrors     int
	StoreErrors     int
	LastPartitionID string
	ActiveListings  int
}

// InsightReport holds the computed analytics over the active catalog.
type InsightReport struct {
	TotalListings       int
	DistinctPartitions  int
	DistinctCountries   int
	AveragePrice        float64
	MinPrice            float64
	MaxPrice            float64
	MostExpensive       *Listing
	TopRated            []*Listing
	ListingsByCategory  map[Category]int
	ListingsByContinent map[string]int
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
