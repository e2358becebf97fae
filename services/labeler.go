package services

import "tourgraph/models"

// Label thresholds.
const (
	TopRatedMinRating  = 4.9
	TopRatedMinReviews = 50
	MostReviewedMin    = 1000
	PremiumMinPrice    = 500.0
	BargainMinRating   = 4.8
	BargainMaxPrice    = 30.0
)

// UniqueTagIDs are catalog tags that mark an unusual experience.
var UniqueTagIDs = map[int]struct{}{
	21074: {}, // unique experiences
	11940: {}, // once in a lifetime
	11923: {}, // unusual
}

// WellKnownPartitionIDs are the major destinations. A listing anywhere else
// counts as off the beaten path.
var WellKnownPartitionIDs = map[string]struct{}{
	// North America
	"684": {}, "704": {}, "712": {}, "651": {}, "828": {},
	"662": {}, "286": {}, "298": {}, "287": {}, "641": {},
	// Europe
	"479": {}, "737": {}, "525": {}, "511": {}, "541": {},
	"542": {}, "523": {}, "538": {}, "518": {}, "919": {},
	// Asia and Oceania
	"334": {}, "349": {}, "367": {}, "364": {}, "351": {},
	"2363": {}, "355": {}, "343": {}, "20044": {}, "317": {},
	// Elsewhere
	"318": {}, "806": {}, "910": {}, "296": {}, "290": {},
}

// LabelInput is everything the labeler looks at.
type LabelInput struct {
	Rating      *float64
	ReviewCount *int
	Price       *float64
	Tags        []int
	WellKnown   bool
}

// IsWellKnownPartition reports whether id is one of the major destinations.
func IsWellKnownPartition(id string) bool {
	_, ok := WellKnownPartitionIDs[id]
	return ok
}

// AssignCategory returns the first matching label. Rule order is part of the
// contract: a listing that is both top rated and premium is top rated.
func AssignCategory(in LabelInput) models.Category {
	rating, hasRating := optFloat(in.Rating)
	reviews, hasReviews := optInt(in.ReviewCount)
	price, hasPrice := optFloat(in.Price)

	switch {
	case hasRating && rating >= TopRatedMinRating && hasReviews && reviews >= TopRatedMinReviews:
		return models.CategoryTopRated
	case hasReviews && reviews >= MostReviewedMin:
		return models.CategoryMostReviewed
	case hasPrice && price >= PremiumMinPrice:
		return models.CategoryPremium
	case hasRating && rating >= BargainMinRating && hasPrice && price <= BargainMaxPrice:
		return models.CategoryBargainPremium
	case hasUniqueTag(in.Tags):
		return models.CategoryUnique
	case !in.WellKnown:
		return models.CategoryOffBeatenPath
	}
	return models.CategoryWildcard
}

func hasUniqueTag(tags []int) bool {
	for _, t := range tags {
		if _, ok := UniqueTagIDs[t]; ok {
			return true
		}
	}
	return false
}

// optFloat treats nil and zero alike: a zero price is a missing price.
func optFloat(v *float64) (float64, bool) {
	if v == nil || *v == 0 {
		return 0, false
	}
	return *v, true
}

func optInt(v *int) (int, bool) {
	if v == nil || *v == 0 {
		return 0, false
	}
	return *v, true
}
