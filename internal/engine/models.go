package engine

import "tradeup-scout/internal/items"

// InputSlot is one of the up-to-ten items consumed by a trade-up.
// MinFloat/MaxFloat override the catalog's float range for the slot;
// PriceOverrideNet skips the market lookup for the slot entirely.
type InputSlot struct {
	MarketHashName   string   `json:"marketHashName"`
	Float            float64  `json:"float"`
	CollectionID     string   `json:"collectionId"`
	MinFloat         *float64 `json:"minFloat,omitempty"`
	MaxFloat         *float64 `json:"maxFloat,omitempty"`
	PriceOverrideNet *float64 `json:"priceOverrideNet,omitempty"`
}

// Options tune a single calculation.
type Options struct {
	// BuyerToNetRate divides buyer prices into seller-net prices.
	// Zero means the calculator default; values <= 1 are rejected.
	BuyerToNetRate float64 `json:"buyerToNetRate,omitempty"`
}

// TargetOverride pins outcome parameters for one (collection, base
// name) pair. Matching is case-insensitive. A Price override skips
// the market lookup; a range override narrows where the roll must
// land; an Exterior or MarketHashName override replaces the derived
// listing name.
type TargetOverride struct {
	CollectionID   string         `json:"collectionId"`
	BaseName       string         `json:"baseName"`
	MinFloat       *float64       `json:"minFloat,omitempty"`
	MaxFloat       *float64       `json:"maxFloat,omitempty"`
	MarketHashName string         `json:"marketHashName,omitempty"`
	Price          *float64       `json:"price,omitempty"`
	Exterior       items.Exterior `json:"exterior,omitempty"`
}

// Request is a full trade-up calculation ask.
type Request struct {
	Inputs              []InputSlot      `json:"inputs"`
	TargetCollectionIDs []string         `json:"targetCollectionIds"`
	Options             *Options         `json:"options,omitempty"`
	TargetOverrides     []TargetOverride `json:"targetOverrides,omitempty"`
}

// InputReport echoes a slot with its resolved prices.
type InputReport struct {
	MarketHashName  string   `json:"marketHashName"`
	Float           float64  `json:"float"`
	CollectionID    string   `json:"collectionId"`
	NormalizedFloat *float64 `json:"normalizedFloat,omitempty"`
	BuyerPrice      *float64 `json:"buyerPrice,omitempty"`
	NetPrice        *float64 `json:"netPrice,omitempty"`
	PriceError      string   `json:"priceError,omitempty"`
}

// Outcome is one possible trade-up result with its roll, prices and
// probability. MinFloat/MaxFloat are the effective range the roll was
// clamped into; WithinRange is false when the projected roll had to
// be clamped to reach it.
type Outcome struct {
	CollectionID   string          `json:"collectionId"`
	CollectionName string          `json:"collectionName"`
	BaseName       string          `json:"baseName"`
	MinFloat       float64         `json:"minFloat"`
	MaxFloat       float64         `json:"maxFloat"`
	RollFloat      float64         `json:"rollFloat"`
	Exterior       items.Exterior  `json:"exterior"`
	WearRange      items.WearRange `json:"wearRange"`
	Probability    float64         `json:"probability"`
	BuyerPrice     *float64        `json:"buyerPrice"`
	NetPrice       *float64        `json:"netPrice"`
	PriceError     string          `json:"priceError,omitempty"`
	MarketHashName string          `json:"marketHashName"`
	WithinRange    bool            `json:"withinRange"`
}

// Result is the full calculation report.
type Result struct {
	AverageFloat           float64        `json:"averageFloat"`
	NormalizedAverageFloat float64        `json:"normalizedAverageFloat"`
	NormalizationMode      string         `json:"normalizationMode"` // "normalized" or "simple"
	CollectionCounts       map[string]int `json:"collectionCounts"`
	BuyerToNetRate         float64        `json:"buyerToNetRate"`

	Inputs   []InputReport `json:"inputs"`
	Outcomes []Outcome     `json:"outcomes"`

	TotalInputNet              float64 `json:"totalInputNet"`
	TotalOutcomeNet            float64 `json:"totalOutcomeNet"`
	ExpectedValue              float64 `json:"expectedValue"`
	MaxBudgetPerSlot           float64 `json:"maxBudgetPerSlot"`
	PositiveOutcomeProbability float64 `json:"positiveOutcomeProbability"`

	Warnings []string `json:"warnings,omitempty"`
}

// TargetEntry is one possible output of a target collection.
type TargetEntry struct {
	BaseName string  `json:"baseName"`
	MinFloat float64 `json:"minFloat"`
	MaxFloat float64 `json:"maxFloat"`
}

// TargetCollection is a resolved target with its output entries.
type TargetCollection struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Entries []TargetEntry `json:"entries"`
}
