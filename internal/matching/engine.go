// Package matching maps a catalog and a user's preferences to the offers the
// user is likely to care about.
package matching

import (
	"strings"

	"github.com/azizikri/offer-feed/internal/domain"
)

// Filter returns the offers matching prefs.
// With no preferences at all the input is returned unchanged.
// An offer passes if it satisfies any one of the store, brand or bank checks.
// An empty result is returned as-is; falling back to the full catalog is the
// caller's decision.
func Filter(offers []domain.Offer, prefs domain.PreferenceSet) []domain.Offer {
	if prefs.IsEmpty() {
		return offers
	}

	stores := normalize(prefs.Stores)
	brands := normalize(prefs.Brands)
	banks := normalize(prefs.Banks)

	matched := make([]domain.Offer, 0, len(offers))
	for _, o := range offers {
		if Match(o, stores, brands, banks) {
			matched = append(matched, o)
		}
	}
	return matched
}

// Match reports whether a single offer passes any category check. The
// identifier slices must already be lower-cased.
func Match(o domain.Offer, stores, brands, banks []string) bool {
	if len(stores) > 0 && looseAny(strings.ToLower(o.Store), stores) {
		return true
	}
	if len(brands) > 0 && looseAny(strings.ToLower(o.Category), brands) {
		return true
	}
	if len(banks) > 0 {
		text := strings.ToLower(o.Description + " " + o.LongDescription + " " + o.Terms)
		for _, bank := range banks {
			if strings.Contains(text, bank) {
				return true
			}
		}
	}
	return false
}

// looseAny is a bidirectional substring test. It is intentionally loose:
// "in" matches "india" and the other way around.
func looseAny(field string, identifiers []string) bool {
	if field == "" {
		return false
	}
	for _, id := range identifiers {
		if strings.Contains(field, id) || strings.Contains(id, field) {
			return true
		}
	}
	return false
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
