package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"tourgraph/metrics"
	"tourgraph/models"
	"tourgraph/storage"
	"tourgraph/utils"
)

const (
	// DefaultHandSize is the number of listings in one hand.
	DefaultHandSize = 20
	// MaxExcludeIDs caps the caller's exclusion list so the NOT IN predicate
	// stays bounded.
	MaxExcludeIDs = 200
	// contrastPriceRatio is the price gap that counts as a contrast.
	contrastPriceRatio = 3.0
)

// Quota is one row of the hand quota table.
type Quota struct {
	Category models.Category
	Count    int
}

// HandQuotas is drawn in order; the counts sum to DefaultHandSize.
var HandQuotas = []Quota{
	{models.CategoryTopRated, 4},
	{models.CategoryUnique, 3},
	{models.CategoryBargainPremium, 3},
	{models.CategoryPremium, 3},
	{models.CategoryOffBeatenPath, 3},
	{models.CategoryMostReviewed, 2},
	{models.CategoryWildcard, 2},
}

// HandSelector draws quota-balanced random hands and orders them for
// contrast between neighbours.
type HandSelector struct {
	store  storage.SelectionStore
	logger *utils.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHandSelector returns a selector seeded from the clock.
func NewHandSelector(store storage.SelectionStore, logger *utils.Logger) *HandSelector {
	return NewHandSelectorWithRand(store, rand.New(rand.NewSource(time.Now().UnixNano())), logger)
}

// NewHandSelectorWithRand uses rng for the sequencer's starting pick.
func NewHandSelectorWithRand(store storage.SelectionStore, rng *rand.Rand, logger *utils.Logger) *HandSelector {
	return &HandSelector{store: store, rng: rng, logger: logger}
}

// Draw returns up to handSize distinct active listings, none of them in
// exclude. Categories are drawn by quota first; any shortfall is filled from
// the whole active catalog. Reads are not snapshot-isolated from a
// concurrent sync. An empty catalog yields an empty hand, not an error.
func (h *HandSelector) Draw(ctx context.Context, exclude []int64, handSize int) ([]*models.Listing, error) {
	if handSize <= 0 {
		handSize = DefaultHandSize
	}
	if len(exclude) > MaxExcludeIDs {
		exclude = exclude[:MaxExcludeIDs]
	}

	used := make([]int64, 0, len(exclude)+handSize)
	seen := make(map[int64]struct{}, len(exclude)+handSize)
	for _, id := range exclude {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			used = append(used, id)
		}
	}

	hand := make([]*models.Listing, 0, handSize)
	take := func(batch []*models.Listing) {
		for _, l := range batch {
			if len(hand) == handSize {
				return
			}
			if _, dup := seen[l.ID]; dup {
				continue
			}
			seen[l.ID] = struct{}{}
			used = append(used, l.ID)
			hand = append(hand, l)
		}
	}

	for _, q := range HandQuotas {
		if len(hand) == handSize {
			break
		}
		batch, err := h.store.RandomByCategory(ctx, q.Category, used, q.Count)
		if err != nil {
			return nil, err
		}
		take(batch)
	}

	if short := handSize - len(hand); short > 0 {
		fillers, err := h.store.RandomActive(ctx, used, short)
		if err != nil {
			return nil, err
		}
		before := len(hand)
		take(fillers)
		if filled := len(hand) - before; filled > 0 {
			metrics.HandShortfall.Add(float64(filled))
			h.logger.Debug("[hand] Filled %d slots from the general pool", filled)
		}
	}

	metrics.HandsDrawn.Inc()
	return h.SequenceHand(hand), nil
}

// SequenceHand reorders listings greedily so that each one contrasts with
// the one before it. The start is random; ties go to the earliest candidate.
// Quadratic in hand size, which stays around twenty.
func (h *HandSelector) SequenceHand(listings []*models.Listing) []*models.Listing {
	if len(listings) <= 1 {
		return listings
	}

	remaining := make([]*models.Listing, len(listings))
	copy(remaining, listings)

	h.mu.Lock()
	start := h.rng.Intn(len(remaining))
	h.mu.Unlock()

	out := make([]*models.Listing, 0, len(listings))
	out = append(out, remaining[start])
	remaining = append(remaining[:start], remaining[start+1:]...)

	for len(remaining) > 0 {
		last := out[len(out)-1]
		bestIdx, bestScore := 0, -1
		for i, cand := range remaining {
			if score := contrastScore(last, cand); score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		out = append(out, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return out
}

// contrastScore is 2 for a different category, 2 for a different continent
// and 1 when one price is more than three times the other.
func contrastScore(last, cand *models.Listing) int {
	score := 0
	if cand.Category != last.Category {
		score += 2
	}
	if cand.Continent != last.Continent {
		score += 2
	}
	if lp, cp := last.PriceValue(), cand.PriceValue(); lp > 0 && cp > 0 {
		ratio := cp / lp
		if ratio > contrastPriceRatio || ratio < 1/contrastPriceRatio {
			score++
		}
	}
	return score
}
