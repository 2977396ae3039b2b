package catalog

import (
	"sort"
	"strings"

	"github.com/azizikri/offer-feed/internal/domain"
)

// ItemCounts maps normalized labels to the number of offers referencing them.
type ItemCounts struct {
	Stores     map[string]int `json:"stores"`
	Categories map[string]int `json:"categories"`
}

// LabelCount is one entry of a popularity ranking.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// NormalizeLabel trims and lower-cases a label for counting.
func NormalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CountItems counts each offer's store once and each comma-separated category
// token once.
func CountItems(offers []domain.Offer) ItemCounts {
	counts := ItemCounts{
		Stores:     make(map[string]int),
		Categories: make(map[string]int),
	}
	for _, o := range offers {
		if store := NormalizeLabel(o.Store); store != "" {
			counts.Stores[store]++
		}
		seen := make(map[string]bool)
		for _, tok := range strings.Split(o.Category, ",") {
			tok = NormalizeLabel(tok)
			if tok == "" || seen[tok] {
				continue
			}
			seen[tok] = true
			counts.Categories[tok]++
		}
	}
	return counts
}

// Top ranks labels by count, most popular first, ties broken by label.
// n <= 0 returns the full ranking.
func Top(m map[string]int, n int) []LabelCount {
	out := make([]LabelCount, 0, len(m))
	for label, count := range m {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
