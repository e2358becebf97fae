package models

import "strings"

// Partition is a geographic destination of the external catalog. Leaf
// partitions (no children) are the unit of sync work.
type Partition struct {
	ID        string
	Name      string
	ParentID  *string
	Timezone  string
	Latitude  *float64
	Longitude *float64
	// LookupPath is the dotted hierarchy code, "continent.country[.region...]".
	LookupPath string
}

// continentCodes maps the first segment of a lookup path to a continent.
var continentCodes = map[string]string{
	"1": "Africa",
	"2": "Asia",
	"3": "Oceania",
	"4": "Caribbean",
	"6": "Europe",
	"8": "North America",
	"9": "South America",
}

// Continent derives the continent name from the lookup path.
func (p Partition) Continent() string {
	return ContinentFromLookupPath(p.LookupPath)
}

// CountryID returns the id of the country-level ancestor, or "" when the
// lookup path is too short to carry one.
func (p Partition) CountryID() string {
	parts := strings.Split(p.LookupPath, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// ContinentFromLookupPath returns "Unknown" for unrecognised codes.
func ContinentFromLookupPath(path string) string {
	code := strings.SplitN(path, ".", 2)[0]
	if name, ok := continentCodes[code]; ok {
		return name
	}
	return "Unknown"
}
