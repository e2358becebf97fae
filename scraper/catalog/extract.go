package catalog

import "strings"

const (
	heroWidth  = 720
	heroHeight = 480
)

// pickVariant prefers the 720x480 landscape rendition, else the last (largest)
// variant listed.
func pickVariant(img Image) string {
	for _, v := range img.Variants {
		if v.Width == heroWidth && v.Height == heroHeight && v.URL != "" {
			return v.URL
		}
	}
	if n := len(img.Variants); n > 0 {
		return img.Variants[n-1].URL
	}
	return ""
}

// CoverImageURL returns the cover picture, falling back to the first image.
func (d *ProductDetail) CoverImageURL() string {
	if len(d.Images) == 0 {
		return ""
	}
	cover := d.Images[0]
	for _, img := range d.Images {
		if img.IsCover {
			cover = img
			break
		}
	}
	return pickVariant(cover)
}

// ImageURLs returns one URL per image, in catalog order, skipping images
// without a usable variant.
func (d *ProductDetail) ImageURLs() []string {
	out := make([]string, 0, len(d.Images))
	for _, img := range d.Images {
		if u := pickVariant(img); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// DurationMinutes is the fixed duration, else the lower bound of a variable
// one. Nil when neither is set.
func (d *ProductDetail) DurationMinutes() *int {
	if d.Itinerary == nil || d.Itinerary.Duration == nil {
		return nil
	}
	dur := d.Itinerary.Duration
	if dur.FixedDurationInMinutes != nil && *dur.FixedDurationInMinutes > 0 {
		return dur.FixedDurationInMinutes
	}
	if dur.VariableDurationFromMinutes != nil && *dur.VariableDurationFromMinutes > 0 {
		return dur.VariableDurationFromMinutes
	}
	return nil
}

// InclusionTexts returns the human-readable inclusion lines.
func (d *ProductDetail) InclusionTexts() []string {
	out := make([]string, 0, len(d.Inclusions))
	for _, inc := range d.Inclusions {
		text := strings.TrimSpace(inc.OtherDescription)
		if text == "" {
			text = strings.TrimSpace(inc.TypeDescription)
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}

// Rating and ReviewCount read the review block, nil when absent.
func (d *ProductDetail) Rating() *float64 {
	if d.Reviews == nil {
		return nil
	}
	return d.Reviews.CombinedAverageRating
}

func (d *ProductDetail) ReviewCount() *int {
	if d.Reviews == nil {
		return nil
	}
	return d.Reviews.TotalReviews
}

// SupplierName returns "" when the supplier block is missing.
func (d *ProductDetail) SupplierName() string {
	if d.Supplier == nil {
		return ""
	}
	return strings.TrimSpace(d.Supplier.Name)
}
