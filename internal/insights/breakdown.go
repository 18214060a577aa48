// Package insights aggregates classified tracks into the mood breakdown,
// vibe clusters and personality profile shown to users.
package insights

import (
	"math"
	"slices"
	"strings"
)

// MoodShare is one mood's part of the breakdown.
type MoodShare struct {
	Mood       string `json:"mood"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// Breakdown converts mood counts into rounded percentages, largest first.
// Ties are ordered by mood name.
func Breakdown(counts map[string]int) []MoodShare {
	total := 0
	for _, n := range counts {
		total += n
	}
	shares := make([]MoodShare, 0, len(counts))
	if total == 0 {
		return shares
	}

	for mood, n := range counts {
		if n <= 0 {
			continue
		}
		shares = append(shares, MoodShare{
			Mood:       mood,
			Count:      n,
			Percentage: int(math.Round(100 * float64(n) / float64(total))),
		})
	}
	slices.SortFunc(shares, func(a, b MoodShare) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Mood, b.Mood)
	})
	return shares
}

// Dominant returns the most frequent mood, or "" when there is none.
func Dominant(counts map[string]int) string {
	shares := Breakdown(counts)
	if len(shares) == 0 {
		return ""
	}
	return shares[0].Mood
}
