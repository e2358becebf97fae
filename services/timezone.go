package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"tourgraph/models"
	"tourgraph/storage"
	"tourgraph/utils"
)

// Local-hour windows, inclusive.
const (
	goldenMorningStart = 6
	goldenMorningEnd   = 8
	goldenEveningStart = 16
	goldenEveningEnd   = 18
	pleasantStart      = 9
	pleasantEnd        = 15

	rightNowMinRating = 4.5
)

// LocalHour returns the hour in tz at now. ok is false for an unknown zone.
func LocalHour(tz string, now time.Time) (hour int, ok bool) {
	if tz == "" {
		return -1, false
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return -1, false
	}
	return now.In(loc).Hour(), true
}

func inGolden(h int) bool {
	return (h >= goldenMorningStart && h <= goldenMorningEnd) ||
		(h >= goldenEveningStart && h <= goldenEveningEnd)
}

func inPleasant(h int) bool {
	return h >= pleasantStart && h <= pleasantEnd
}

// MatchingTimezones returns the zones currently in a golden window. When
// fewer than want match, zones in the pleasant daytime window are appended.
// Unknown zones are skipped.
func MatchingTimezones(all []string, now time.Time, want int) []string {
	var golden, pleasant []string
	for _, tz := range all {
		h, ok := LocalHour(tz, now)
		if !ok {
			continue
		}
		switch {
		case inGolden(h):
			golden = append(golden, tz)
		case inPleasant(h):
			pleasant = append(pleasant, tz)
		}
	}
	if len(golden) >= want {
		return golden
	}
	return append(golden, pleasant...)
}

// TimeOfDayLabel names the part of the day an hour falls in.
func TimeOfDayLabel(hour int) string {
	switch {
	case hour >= goldenMorningStart && hour <= goldenMorningEnd:
		return "sunrise"
	case hour >= goldenEveningStart && hour <= goldenEveningEnd:
		return "golden hour"
	case hour >= 9 && hour <= 11:
		return "morning"
	case hour >= 12 && hour <= 15:
		return "afternoon"
	case hour >= 19 && hour <= 21:
		return "evening"
	}
	return "night"
}

// Moment is a listing somewhere it is a nice time of day right now.
type Moment struct {
	Listing   *models.Listing
	Timezone  string
	LocalTime string
	Label     string
}

// TimeZoneMatcher picks listings in places where the local hour is pleasant.
type TimeZoneMatcher struct {
	store  storage.SelectionStore
	logger *utils.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewTimeZoneMatcher(store storage.SelectionStore, logger *utils.Logger) *TimeZoneMatcher {
	return NewTimeZoneMatcherWithRand(store, rand.New(rand.NewSource(time.Now().UnixNano())), logger)
}

func NewTimeZoneMatcherWithRand(store storage.SelectionStore, rng *rand.Rand, logger *utils.Logger) *TimeZoneMatcher {
	return &TimeZoneMatcher{store: store, rng: rng, logger: logger}
}

// PickOnePerTimezone returns up to count well-rated imaged active listings,
// at most one per zone. Zones are visited in random order.
func (m *TimeZoneMatcher) PickOnePerTimezone(ctx context.Context, timezones []string, count int) ([]*models.Listing, error) {
	if count <= 0 || len(timezones) == 0 {
		return nil, nil
	}

	order := make([]string, 0, len(timezones))
	seen := utils.NewCodeSet()
	for _, tz := range timezones {
		if tz != "" && seen.Add(tz) {
			order = append(order, tz)
		}
	}
	m.mu.Lock()
	m.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	m.mu.Unlock()

	out := make([]*models.Listing, 0, count)
	for _, tz := range order {
		if len(out) == count {
			break
		}
		found, err := m.store.FindListings(ctx, storage.ListingQuery{
			Timezone:     tz,
			MinRating:    models.Float64(rightNowMinRating),
			RequireImage: true,
			OrderBy:      storage.SortRandom,
			Limit:        1,
		})
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			out = append(out, found[0])
		}
	}
	return out, nil
}

// RightNow runs the whole lookup for the current instant.
func (m *TimeZoneMatcher) RightNow(ctx context.Context, now time.Time, count int) ([]Moment, error) {
	all, err := m.store.DistinctTimezones(ctx)
	if err != nil {
		return nil, err
	}
	zones := MatchingTimezones(all, now, count)
	m.logger.Debug("[right-now] %d of %d zones match", len(zones), len(all))

	listings, err := m.PickOnePerTimezone(ctx, zones, count)
	if err != nil {
		return nil, err
	}

	moments := make([]Moment, 0, len(listings))
	for _, l := range listings {
		loc, err := time.LoadLocation(l.Timezone)
		if err != nil {
			continue
		}
		local := now.In(loc)
		moments = append(moments, Moment{
			Listing:   l,
			Timezone:  l.Timezone,
			LocalTime: local.Format("3:04 PM"),
			Label:     TimeOfDayLabel(local.Hour()),
		})
	}
	return moments, nil
}
