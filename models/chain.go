package models

import (
	"strings"
	"time"
)

// ChainLength is the exact number of stops in a thematic chain.
const ChainLength = 5

// ChainStop is one stop of a thematic chain.
type ChainStop struct {
	PartitionName string `json:"city"`
	Country       string `json:"country"`
	ListingID     int64  `json:"tour_id"`
	ListingTitle  string `json:"tour_title"`
	Theme         string `json:"theme"`
	// Connector links this stop to the next one; nil on the last stop.
	Connector *string `json:"connection_to_next"`
}

// ThematicChain is a five-stop journey between two partitions.
type ThematicChain struct {
	From        string      `json:"city_from"`
	To          string      `json:"city_to"`
	Stops       []ChainStop `json:"chain"`
	Summary     string      `json:"summary"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// PairKey returns the canonical storage key for a pair of partition names.
// Either query direction yields the same key.
func PairKey(a, b string) (string, string) {
	if strings.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}
