package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrCatalogUnavailable    = errors.New("catalog unavailable")
	ErrPreferenceWriteFailed = errors.New("preference write failed")
	ErrPreferenceLoadFailed  = errors.New("preference load failed")
	ErrSubscriptionDropped   = errors.New("subscription dropped")
	ErrInvalidCategory       = errors.New("invalid preference category")
	ErrInvalidIdentifier     = errors.New("invalid identifier")
	ErrAlreadyExists         = errors.New("row already exists")
	ErrNotFound              = errors.New("row not found")
	ErrNoSession             = errors.New("no active session")
)

type Offer struct {
	ID              string    `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Description     string    `json:"description" db:"description"`
	LongDescription string    `json:"long_description" db:"long_description"`
	Terms           string    `json:"terms" db:"terms"`
	Store           string    `json:"store" db:"store"`
	Category        string    `json:"category" db:"category"`
	DiscountValue   float64   `json:"discount_value" db:"discount_value"`
	CashbackRate    float64   `json:"cashback_rate" db:"cashback_rate"`
	MinOrderValue   float64   `json:"min_order_value" db:"min_order_value"`
	Code            string    `json:"code" db:"code"`
	Status          string    `json:"status" db:"status"`
	StartsAt        time.Time `json:"starts_at" db:"starts_at"`
	EndsAt          time.Time `json:"ends_at" db:"ends_at"`
	Featured        bool      `json:"featured" db:"featured"`
	Sponsored       bool      `json:"sponsored" db:"sponsored"`
	RedirectURL     string    `json:"redirect_url" db:"redirect_url"`
}

type Category string

const (
	CategoryStores Category = "stores"
	CategoryBrands Category = "brands"
	CategoryBanks  Category = "banks"
)

// Categories lists every preference category in display order.
var Categories = []Category{CategoryStores, CategoryBrands, CategoryBanks}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Categories, c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

// PreferenceSet holds a user's identifiers per category. Identifiers are unique
// within a category; order carries no meaning.
type PreferenceSet struct {
	Stores []string `json:"stores"`
	Brands []string `json:"brands"`
	Banks  []string `json:"banks"`
}

func (p PreferenceSet) Get(c Category) []string {
	switch c {
	case CategoryStores:
		return p.Stores
	case CategoryBrands:
		return p.Brands
	case CategoryBanks:
		return p.Banks
	}
	return nil
}

func (p PreferenceSet) IsEmpty() bool {
	return len(p.Stores) == 0 && len(p.Brands) == 0 && len(p.Banks) == 0
}

func (p PreferenceSet) Contains(c Category, identifier string) bool {
	return slices.Contains(p.Get(c), identifier)
}

type PreferenceRow struct {
	Category   Category `db:"category"`
	Identifier string   `db:"identifier"`
}

type MutationOp string

const (
	OpAdd    MutationOp = "add"
	OpRemove MutationOp = "remove"
)

type ChangeKind string

const (
	KindPreference ChangeKind = "preference"
	KindSaved      ChangeKind = "saved"
)

type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeDelete ChangeOp = "delete"
)

// ChangeEvent describes one committed row change for a user. For saved items
// Category is empty and Identifier is the offer ID.
type ChangeEvent struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Kind       ChangeKind `json:"kind"`
	Op         ChangeOp   `json:"op"`
	Category   Category   `json:"category,omitempty"`
	Identifier string     `json:"identifier"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func ChangeOpFor(op MutationOp) ChangeOp {
	if op == OpRemove {
		return ChangeDelete
	}
	return ChangeInsert
}
