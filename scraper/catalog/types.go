package catalog

import (
	"strconv"
	"strings"

	"tourgraph/models"
)

// SortStrategy is one ordering of a partition search. Several strategies are
// merged to get past the per-query result cap.
type SortStrategy struct {
	Name  string
	Sort  string
	Order string
}

// SearchStrategies is the fixed set used by partition sync, in merge order.
var SearchStrategies = []SortStrategy{
	{Name: "default", Sort: "DEFAULT"},
	{Name: "rating-desc", Sort: "TRAVELER_RATING", Order: "DESCENDING"},
	{Name: "price-asc", Sort: "PRICE", Order: "ASCENDING"},
	{Name: "price-desc", Sort: "PRICE", Order: "DESCENDING"},
}

type searchRequest struct {
	Filtering  searchFiltering  `json:"filtering"`
	Sorting    searchSorting    `json:"sorting"`
	Pagination searchPagination `json:"pagination"`
	Currency   string           `json:"currency"`
}

type searchFiltering struct {
	Destination string `json:"destination"`
}

type searchSorting struct {
	Sort  string `json:"sort"`
	Order string `json:"order,omitempty"`
}

type searchPagination struct {
	Start int `json:"start"`
	Count int `json:"count"`
}

type searchResponse struct {
	Products   []SearchProduct `json:"products"`
	TotalCount int             `json:"totalCount"`
}

// SearchProduct is one row of a search response.
type SearchProduct struct {
	ProductCode string   `json:"productCode"`
	Title       string   `json:"title"`
	Pricing     *Pricing `json:"pricing,omitempty"`
	Reviews     *Reviews `json:"reviews,omitempty"`
}

type Pricing struct {
	Summary struct {
		FromPrice *float64 `json:"fromPrice,omitempty"`
	} `json:"summary"`
	Currency string `json:"currency,omitempty"`
}

type Reviews struct {
	TotalReviews          *int     `json:"totalReviews,omitempty"`
	CombinedAverageRating *float64 `json:"combinedAverageRating,omitempty"`
}

// Summary converts the wire row into the fields change detection tracks.
func (p SearchProduct) Summary() models.ListingSummary {
	s := models.ListingSummary{Code: p.ProductCode, Title: p.Title, Currency: "USD"}
	if p.Pricing != nil {
		s.Price = p.Pricing.Summary.FromPrice
		if p.Pricing.Currency != "" {
			s.Currency = p.Pricing.Currency
		}
	}
	if p.Reviews != nil {
		s.Rating = p.Reviews.CombinedAverageRating
		s.ReviewCount = p.Reviews.TotalReviews
	}
	return s
}

type ImageVariant struct {
	Height int    `json:"height"`
	Width  int    `json:"width"`
	URL    string `json:"url"`
}

type Image struct {
	Caption  string         `json:"caption,omitempty"`
	IsCover  bool           `json:"isCover"`
	Variants []ImageVariant `json:"variants"`
}

type Duration struct {
	FixedDurationInMinutes      *int `json:"fixedDurationInMinutes,omitempty"`
	VariableDurationFromMinutes *int `json:"variableDurationFromMinutes,omitempty"`
	VariableDurationToMinutes   *int `json:"variableDurationToMinutes,omitempty"`
}

type Itinerary struct {
	ItineraryType string    `json:"itineraryType,omitempty"`
	Duration      *Duration `json:"duration,omitempty"`
}

type Inclusion struct {
	Category         string `json:"category,omitempty"`
	Type             string `json:"type,omitempty"`
	TypeDescription  string `json:"typeDescription,omitempty"`
	OtherDescription string `json:"otherDescription,omitempty"`
}

type Supplier struct {
	Name string `json:"name"`
}

// ProductDetail is the full record returned for one product code.
type ProductDetail struct {
	ProductCode string      `json:"productCode"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Images      []Image     `json:"images"`
	Reviews     *Reviews    `json:"reviews,omitempty"`
	Itinerary   *Itinerary  `json:"itinerary,omitempty"`
	Inclusions  []Inclusion `json:"inclusions,omitempty"`
	Tags        []int       `json:"tags,omitempty"`
	ProductURL  string      `json:"productUrl,omitempty"`
	Supplier    *Supplier   `json:"supplier,omitempty"`
	TimeZone    string      `json:"timeZone,omitempty"`
}

type destinationsResponse struct {
	Destinations []Destination `json:"destinations"`
	TotalCount   int           `json:"totalCount"`
}

// Destination is one node of the catalog's geographic hierarchy.
type Destination struct {
	DestinationID       int    `json:"destinationId"`
	Name                string `json:"name"`
	Type                string `json:"type"`
	ParentDestinationID int    `json:"parentDestinationId,omitempty"`
	LookupID            string `json:"lookupId"`
	TimeZone            string `json:"timeZone,omitempty"`
	Center              *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"center,omitempty"`
}

// Partition converts the wire record to the stored model.
func (d Destination) Partition() models.Partition {
	p := models.Partition{
		ID:         strconv.Itoa(d.DestinationID),
		Name:       strings.TrimSpace(d.Name),
		Timezone:   d.TimeZone,
		LookupPath: d.LookupID,
	}
	if d.ParentDestinationID != 0 && d.ParentDestinationID != d.DestinationID {
		p.ParentID = models.String(strconv.Itoa(d.ParentDestinationID))
	}
	if d.Center != nil {
		p.Latitude = models.Float64(d.Center.Latitude)
		p.Longitude = models.Float64(d.Center.Longitude)
	}
	return p
}
