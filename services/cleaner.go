package services

import (
	"strings"
	"unicode"

	"tourgraph/models"
	"tourgraph/scraper/catalog"
	"tourgraph/utils"
)

// unknownCountry is stored when a partition's country ancestor is not seeded.
const unknownCountry = "Unknown"

// Cleaner turns catalog wire records into clean, validated Listings.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Merge combines the results of several search strategies into one set keyed
// by code. Batches are read in order and the first occurrence of a code wins.
func (c *Cleaner) Merge(batches [][]models.ListingSummary) map[string]models.ListingSummary {
	merged := make(map[string]models.ListingSummary)
	codes := utils.NewCodeSet()
	total := 0

	for _, batch := range batches {
		total += len(batch)
		for _, s := range batch {
			code := strings.TrimSpace(s.Code)
			if code == "" {
				c.logger.Warn("[cleaner] Dropping search result with empty code: %s", s.Title)
				continue
			}
			if !codes.Add(code) {
				continue
			}
			s.Code = code
			s.Title = normaliseText(s.Title)
			merged[code] = s
		}
	}

	c.logger.Debug("[cleaner] Merged %d search rows into %d codes", total, codes.Size())
	return merged
}

// BuildListing assembles a Listing from a fresh detail record and the search
// summary it was discovered through. Price and currency come from the
// summary; the catalog's detail record carries no price.
func (c *Cleaner) BuildListing(detail *catalog.ProductDetail, summary models.ListingSummary, part models.Partition, country string) *models.Listing {
	if country == "" {
		country = unknownCountry
	}
	code := strings.TrimSpace(detail.ProductCode)
	if code == "" {
		code = summary.Code
	}
	title := normaliseText(detail.Title)
	if title == "" {
		title = summary.Title
	}
	currency := strings.ToUpper(strings.TrimSpace(summary.Currency))
	if currency == "" {
		currency = "USD"
	}

	return &models.Listing{
		Code:            code,
		Title:           title,
		Description:     strings.TrimSpace(detail.Description),
		PartitionID:     part.ID,
		PartitionName:   part.Name,
		Country:         country,
		Continent:       part.Continent(),
		Timezone:        strings.TrimSpace(detail.TimeZone),
		Rating:          clampRating(detail.Rating()),
		ReviewCount:     detail.ReviewCount(),
		Price:           summary.Price,
		Currency:        currency,
		DurationMinutes: detail.DurationMinutes(),
		CoverImageURL:   detail.CoverImageURL(),
		ImageURLs:       detail.ImageURLs(),
		Inclusions:      detail.InclusionTexts(),
		BookingURL:      strings.TrimSpace(detail.ProductURL),
		SupplierName:    detail.SupplierName(),
		Tags:            detail.Tags,
		Fingerprint:     Fingerprint(summary),
		Status:          models.StatusActive,
	}
}

// clampRating drops ratings outside 0..5 so a bad upstream value does not
// fail the whole insert.
func clampRating(r *float64) *float64 {
	if r == nil || *r < 0 || *r > 5 {
		return nil
	}
	return r
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
