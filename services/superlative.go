package services

import (
	"context"
	"fmt"
	"sort"

	"tourgraph/models"
	"tourgraph/storage"
)

// SuperlativeKind names one extremal pick.
type SuperlativeKind string

const (
	MostExpensive    SuperlativeKind = "most-expensive"
	CheapestTopRated SuperlativeKind = "cheapest-top-rated"
	Longest          SuperlativeKind = "longest"
	Shortest         SuperlativeKind = "shortest"
	MostReviewed     SuperlativeKind = "most-reviewed"
	HiddenGem        SuperlativeKind = "hidden-gem"
)

// Sanity bounds that keep data errors out of the superlatives.
const (
	maxSanePrice       = 10000.0
	maxSaneDuration    = 14 * 24 * 60
	minSaneDuration    = 10
	cheapTopMinRating  = 4.8
	cheapTopMinReviews = 20
	gemMinRating       = 4.9
	gemMinReviews      = 10
	gemMaxReviews      = 100
)

// superlativeQueries maps each kind to its fixed filter and ordering. Every
// query is limited to one imaged active listing and breaks ties by id.
var superlativeQueries = map[SuperlativeKind]storage.ListingQuery{
	MostExpensive: {
		MaxPrice: models.Float64(maxSanePrice),
		OrderBy:  storage.SortPrice,
		Desc:     true,
	},
	CheapestTopRated: {
		MinRating:  models.Float64(cheapTopMinRating),
		MinReviews: models.Int(cheapTopMinReviews),
		MinPrice:   models.Float64(0.01),
		OrderBy:    storage.SortPrice,
	},
	Longest: {
		MaxDuration: models.Int(maxSaneDuration),
		OrderBy:     storage.SortDuration,
		Desc:        true,
	},
	Shortest: {
		MinDuration: models.Int(minSaneDuration),
		OrderBy:     storage.SortDuration,
	},
	MostReviewed: {
		OrderBy: storage.SortReviews,
		Desc:    true,
	},
	HiddenGem: {
		MinRating:  models.Float64(gemMinRating),
		MinReviews: models.Int(gemMinReviews),
		MaxReviews: models.Int(gemMaxReviews),
		OrderBy:    storage.SortRating,
		Desc:       true,
	},
}

// SuperlativeKinds lists the supported kinds sorted by name.
func SuperlativeKinds() []SuperlativeKind {
	kinds := make([]SuperlativeKind, 0, len(superlativeQueries))
	for k := range superlativeQueries {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// SuperlativeSelector answers "which listing is the most X".
type SuperlativeSelector struct {
	store storage.SelectionStore
}

func NewSuperlativeSelector(store storage.SelectionStore) *SuperlativeSelector {
	return &SuperlativeSelector{store: store}
}

// Pick returns the single listing for kind, or nil when nothing qualifies.
// The result depends only on the current catalog.
func (s *SuperlativeSelector) Pick(ctx context.Context, kind SuperlativeKind) (*models.Listing, error) {
	q, ok := superlativeQueries[kind]
	if !ok {
		return nil, &models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown superlative %q", kind)}
	}
	q.RequireImage = true
	q.Limit = 1

	found, err := s.store.FindListings(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}
