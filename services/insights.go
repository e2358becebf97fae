package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"tourgraph/models"
	"tourgraph/utils"
)

const topRatedCount = 5

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(listings []*models.Listing) *models.InsightReport {
	report := &models.InsightReport{
		ListingsByCategory:  make(map[models.Category]int),
		ListingsByContinent: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priceListings []*models.Listing
	var ratedListings []*models.Listing
	partitions := make(map[string]struct{})
	countries := make(map[string]struct{})

	for _, l := range listings {
		if l.PriceValue() > 0 {
			priceListings = append(priceListings, l)
		}
		if l.RatingValue() > 0 {
			ratedListings = append(ratedListings, l)
		}
		if l.Category != "" {
			report.ListingsByCategory[l.Category]++
		}
		if l.Continent != "" {
			report.ListingsByContinent[l.Continent]++
		}
		if l.PartitionID != "" {
			partitions[l.PartitionID] = struct{}{}
		}
		if l.Country != "" && l.Country != unknownCountry {
			countries[l.Country] = struct{}{}
		}
	}
	report.DistinctPartitions = len(partitions)
	report.DistinctCountries = len(countries)

	// Price stats (only listings with price > 0)
	if len(priceListings) > 0 {
		report.MostExpensive = priceListings[0]
		report.MinPrice = priceListings[0].PriceValue()
		report.MaxPrice = priceListings[0].PriceValue()
		var total float64
		for _, l := range priceListings {
			p := l.PriceValue()
			total += p
			if p < report.MinPrice {
				report.MinPrice = p
			}
			if p > report.MaxPrice {
				report.MaxPrice = p
				report.MostExpensive = l
			}
		}
		report.AveragePrice = round2(total / float64(len(priceListings)))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}

	// Top 5 by rating, more reviews first on a tie
	sort.SliceStable(ratedListings, func(i, j int) bool {
		if ratedListings[i].RatingValue() != ratedListings[j].RatingValue() {
			return ratedListings[i].RatingValue() > ratedListings[j].RatingValue()
		}
		return ratedListings[i].ReviewCountValue() > ratedListings[j].ReviewCountValue()
	})
	if len(ratedListings) > topRatedCount {
		report.TopRated = ratedListings[:topRatedCount]
	} else {
		report.TopRated = ratedListings
	}

	return report
}

func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 CATALOG INSIGHTS\033[0m\n")
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Active listings     : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Fprintf(w, "  Partitions covered  : \033[1m%d\033[0m\n", r.DistinctPartitions)
	fmt.Fprintf(w, "  Countries covered   : \033[1m%d\033[0m\n", r.DistinctCountries)
	fmt.Fprintln(w)

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Price Statistics\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m$%.2f\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m$%.2f\033[0m\n", r.MaxPrice)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	// Most Expensive
	if r.MostExpensive != nil {
		fmt.Fprintf(w, "\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		fmt.Fprintf(w, "  %s\n", truncate(r.MostExpensive.Title, 50))
		fmt.Fprintf(w, "  Location : %s, %s\n", r.MostExpensive.PartitionName, r.MostExpensive.Country)
		fmt.Fprintf(w, "  Price    : \033[1;31m%s %.2f\033[0m\n", r.MostExpensive.Currency, r.MostExpensive.PriceValue())
		fmt.Fprintln(w)
	}

	// ── TOP 5 HIGHEST RATED ──────────────────────────────────────────────
	fmt.Fprintf(w, "\033[1;33m  Top %d Highest Rated Listings\033[0m\n", topRatedCount)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopRated) == 0 {
		fmt.Fprintf(w, "  No rated listings found\n")
	} else {
		for i, l := range r.TopRated {
			title := truncate(l.Title, 38)
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%.2f ★\033[0m (%d)\n",
				i+1, title, l.RatingValue(), l.ReviewCountValue())
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Listings by Category\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for _, cat := range models.Categories {
		fmt.Fprintf(w, "  %-22s %d\n", cat, r.ListingsByCategory[cat])
	}
	fmt.Fprintln(w)

	// Listings by Continent
	fmt.Fprintf(w, "\033[1;33m  Listings by Continent\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsByContinent) == 0 {
		fmt.Fprintf(w, "  No continent data\n")
	} else {
		// Sort continents by count descending
		type contCount struct {
			name  string
			count int
		}
		var conts []contCount
		for name, cnt := range r.ListingsByContinent {
			conts = append(conts, contCount{name, cnt})
		}
		sort.Slice(conts, func(i, j int) bool {
			if conts[i].count != conts[j].count {
				return conts[i].count > conts[j].count
			}
			return conts[i].name < conts[j].name
		})
		for _, cc := range conts {
			fmt.Fprintf(w, "  %-20s %d\n", truncate(cc.name, 18), cc.count)
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
