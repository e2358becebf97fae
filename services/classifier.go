package services

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"tourgraph/models"
)

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 12

// Fingerprint hashes the change-sensitive fields of a search summary. The
// same function runs on both sides of a comparison, so equality of two
// fingerprints is the only change test.
func Fingerprint(s models.ListingSummary) string {
	parts := []string{
		s.Code,
		s.Title,
		formatOptFloat(s.Price),
		formatOptFloat(s.Rating),
		formatOptInt(s.ReviewCount),
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// formatOptFloat prints the shortest decimal form, "" for nil.
func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatOptInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// Classification splits one partition's codes into four disjoint sets. Each
// slice is sorted by code.
type Classification struct {
	New       []models.ListingSummary
	Changed   []models.ListingSummary
	Unchanged []string
	Missing   []string
}

// Classify compares a fresh search against the cached fingerprints of the
// same partition. Every fresh code lands in exactly one of New, Changed or
// Unchanged; every cached code absent from the search lands in Missing.
func Classify(fresh map[string]models.ListingSummary, cached map[string]string) Classification {
	var c Classification

	for code, summary := range fresh {
		old, known := cached[code]
		switch {
		case !known:
			c.New = append(c.New, summary)
		case old != Fingerprint(summary):
			c.Changed = append(c.Changed, summary)
		default:
			c.Unchanged = append(c.Unchanged, code)
		}
	}
	for code := range cached {
		if _, ok := fresh[code]; !ok {
			c.Missing = append(c.Missing, code)
		}
	}

	sort.Slice(c.New, func(i, j int) bool { return c.New[i].Code < c.New[j].Code })
	sort.Slice(c.Changed, func(i, j int) bool { return c.Changed[i].Code < c.Changed[j].Code })
	sort.Strings(c.Unchanged)
	sort.Strings(c.Missing)
	return c
}
