package catalog

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/azizikri/offer-feed/internal/domain"
)

var mockNamespace = uuid.MustParse("6f1c1f4e-7d54-4a8e-9f0b-3c2f8a6b9d10")

var (
	mockStores     = []string{"Amazon", "Flipkart", "Myntra", "Nike", "Ajio", "Swiggy", "Zomato", "Croma", "Nykaa", "MakeMyTrip"}
	mockCategories = []string{"Electronics", "Fashion", "Footwear", "Food", "Beauty", "Travel", "Mobiles", "Home"}
	mockBanks      = []string{"HDFC Bank", "ICICI Bank", "SBI Card", "Axis Bank", "Kotak"}
)

// mockEpoch anchors generated dates so the mock catalog never changes between calls.
var mockEpoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

const mockSize = 48

// MockCatalog returns the fallback catalog. Every call yields the same offers.
func MockCatalog() []domain.Offer {
	rng := rand.New(rand.NewPCG(20250101, 42))

	offers := make([]domain.Offer, 0, mockSize)
	for i := range mockSize {
		store := mockStores[rng.IntN(len(mockStores))]
		cat1 := mockCategories[rng.IntN(len(mockCategories))]
		cat2 := mockCategories[rng.IntN(len(mockCategories))]
		category := cat1
		if cat2 != cat1 {
			category = cat1 + ", " + cat2
		}
		bank := mockBanks[rng.IntN(len(mockBanks))]
		discount := float64(5 + rng.IntN(46))
		starts := mockEpoch.Add(time.Duration(rng.IntN(60*24)) * time.Hour)

		offers = append(offers, domain.Offer{
			ID:              uuid.NewSHA1(mockNamespace, fmt.Appendf(nil, "mock-offer-%d", i)).String(),
			Title:           fmt.Sprintf("%.0f%% off on %s at %s", discount, cat1, store),
			Description:     fmt.Sprintf("Flat %.0f%% off with %s cards", discount, bank),
			LongDescription: fmt.Sprintf("Shop %s on %s and save more.", strings.ToLower(category), store),
			Terms:           fmt.Sprintf("Offer valid for %s customers on a minimum order.", bank),
			Store:           store,
			Category:        category,
			DiscountValue:   discount,
			CashbackRate:    float64(rng.IntN(11)),
			MinOrderValue:   float64(100 * (1 + rng.IntN(20))),
			Code:            fmt.Sprintf("%s%02d", strings.ToUpper(store[:3]), i),
			Status:          "active",
			StartsAt:        starts,
			EndsAt:          starts.Add(time.Duration(7+rng.IntN(30)) * 24 * time.Hour),
			Featured:        i%7 == 0,
			Sponsored:       i%11 == 0,
			RedirectURL:     "https://example.com/go/" + strings.ToLower(store),
		})
	}
	return offers
}
