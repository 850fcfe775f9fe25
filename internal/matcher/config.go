// Package matcher ranks receipt emails against a transaction and reconciles
// whole batches.
//
// Every candidate is scored on a fixed point scale from independent signals:
//   - Amount: the extracted email amount closest to the transaction amount
//   - Date: same day, within the configured tolerance, or within a wider window
//   - Merchant text: sequence ratio or token-set Jaccard against the sender
//     domain and subject
//   - Learned sender domain: a fixed bonus when the domain is mapped to the
//     merchant
//   - Receipt keywords: a fixed bonus when receipt vocabulary is present
//
// The point sum is divided by the theoretical maximum and clamped to [0, 1].
// Two thresholds apply: candidates must exceed the inclusion threshold to be
// ranked at all, and a batch accepts the top-ranked candidate only when it
// reaches the higher acceptance threshold.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateToleranceDays = 2
//
//	reconciler := matcher.NewReconciler(config, store, log)
//	candidates := reconciler.FindCandidates(tx, emails, config.MinInclusionScore)
//	result := reconciler.ReconcileBatch(transactions, emails, config.AcceptanceThreshold)
package matcher

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MatchType represents the quality and confidence level of a receipt match.
// This classification helps determine how much manual review may be required.
type MatchType int

const (
	// MatchExact represents an exact amount on the same day.
	// These matches usually require no manual review.
	MatchExact MatchType = iota

	// MatchClose represents a high-confidence match that is not exact.
	MatchClose

	// MatchFuzzy represents a match that leans on merchant text or learned
	// sender domains. These matches usually require manual review.
	MatchFuzzy

	// MatchPossible represents a candidate that only cleared the inclusion
	// threshold.
	MatchPossible

	// MatchNone indicates no suitable receipt was found.
	MatchNone
)

// String returns the string representation of MatchType
func (mt MatchType) String() string {
	switch mt {
	case MatchExact:
		return "Exact"
	case MatchClose:
		return "Close"
	case MatchFuzzy:
		return "Fuzzy"
	case MatchPossible:
		return "Possible"
	case MatchNone:
		return "None"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the match type by name.
func (mt MatchType) MarshalText() ([]byte, error) {
	return []byte(mt.String()), nil
}

// MatchingConfig holds configuration parameters for receipt matching.
// This configuration controls the point tiers of every signal, the date
// windows and both thresholds. Different configurations can be used for
// different scenarios (strict vs relaxed matching).
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): balanced approach for most use cases
//   - StrictMatchingConfig(): tight tolerances for automated acceptance
//   - RelaxedMatchingConfig(): loose tolerances for exploratory matching
type MatchingConfig struct {
	// ExactAmountTolerance is the largest difference still considered the
	// same amount.
	ExactAmountTolerance decimal.Decimal `json:"exact_amount_tolerance" mapstructure:"exact_amount_tolerance"`

	// CloseAmountTolerance and LooseAmountTolerance bound the lower amount tiers.
	CloseAmountTolerance decimal.Decimal `json:"close_amount_tolerance" mapstructure:"close_amount_tolerance"`
	LooseAmountTolerance decimal.Decimal `json:"loose_amount_tolerance" mapstructure:"loose_amount_tolerance"`

	// DateToleranceDays defines the number of days tolerance for date matching
	DateToleranceDays int `json:"date_tolerance_days" mapstructure:"date_tolerance_days"`

	// DateWindowDays is the widest gap that still earns date points.
	DateWindowDays int `json:"date_window_days" mapstructure:"date_window_days"`

	// Points awarded per signal tier.
	Points PointTable `json:"points" mapstructure:"points"`

	// MaxPoints is the theoretical maximum used to rescale the point sum.
	MaxPoints float64 `json:"max_points" mapstructure:"max_points"`

	// ReceiptKeywords earn the keyword bonus when found in subject or body.
	ReceiptKeywords []string `json:"receipt_keywords" mapstructure:"receipt_keywords"`

	// MinInclusionScore is the default threshold a candidate must exceed to
	// be ranked.
	MinInclusionScore float64 `json:"min_inclusion_score" mapstructure:"min_inclusion_score"`

	// AcceptanceThreshold is the default confidence a top-ranked candidate
	// needs to be accepted by a batch.
	AcceptanceThreshold float64 `json:"acceptance_threshold" mapstructure:"acceptance_threshold"`

	// EnableFuzzyMatching allows the Fuzzy match type.
	EnableFuzzyMatching bool `json:"enable_fuzzy_matching" mapstructure:"enable_fuzzy_matching"`
}

// PointTable defines the points of every signal tier.
type PointTable struct {
	ExactAmount   float64 `json:"exact_amount" mapstructure:"exact_amount"`
	CloseAmount   float64 `json:"close_amount" mapstructure:"close_amount"`
	LooseAmount   float64 `json:"loose_amount" mapstructure:"loose_amount"`
	SameDay       float64 `json:"same_day" mapstructure:"same_day"`
	WithinDays    float64 `json:"within_days" mapstructure:"within_days"`
	WithinWindow  float64 `json:"within_window" mapstructure:"within_window"`
	Merchant      float64 `json:"merchant" mapstructure:"merchant"`
	MappingBonus  float64 `json:"mapping_bonus" mapstructure:"mapping_bonus"`
	KeywordsBonus float64 `json:"keywords_bonus" mapstructure:"keywords_bonus"`
}

// Validate checks that no tier is negative and date tiers descend.
func (pt *PointTable) Validate() error {
	values := map[string]float64{
		"exact_amount":   pt.ExactAmount,
		"close_amount":   pt.CloseAmount,
		"loose_amount":   pt.LooseAmount,
		"same_day":       pt.SameDay,
		"within_days":    pt.WithinDays,
		"within_window":  pt.WithinWindow,
		"merchant":       pt.Merchant,
		"mapping_bonus":  pt.MappingBonus,
		"keywords_bonus": pt.KeywordsBonus,
	}
	for name, v := range values {
		if v < 0 {
			return fmt.Errorf("%s points cannot be negative: %f", name, v)
		}
	}
	if pt.CloseAmount > pt.ExactAmount || pt.LooseAmount > pt.CloseAmount {
		return fmt.Errorf("amount points must not increase with the difference")
	}
	if pt.WithinDays > pt.SameDay || pt.WithinWindow > pt.WithinDays {
		return fmt.Errorf("date points must not increase with the gap")
	}
	return nil
}

func defaultReceiptKeywords() []string {
	return []string{
		"receipt", "invoice", "order", "payment", "confirmation", "purchase",
		"charged", "billing", "paid", "total",
	}
}

func defaultPoints() PointTable {
	return PointTable{
		ExactAmount:   1.5,
		CloseAmount:   1.0,
		LooseAmount:   0.5,
		SameDay:       1.0,
		WithinDays:    0.7,
		WithinWindow:  0.3,
		Merchant:      0.5,
		MappingBonus:  0.3,
		KeywordsBonus: 0.2,
	}
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		ExactAmountTolerance: decimal.RequireFromString("0.01"),
		CloseAmountTolerance: decimal.NewFromInt(5),
		LooseAmountTolerance: decimal.NewFromInt(20),
		DateToleranceDays:    3,
		DateWindowDays:       7,
		Points:               defaultPoints(),
		MaxPoints:            3.0,
		ReceiptKeywords:      defaultReceiptKeywords(),
		MinInclusionScore:    0.3,
		AcceptanceThreshold:  0.7,
		EnableFuzzyMatching:  true,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.CloseAmountTolerance = decimal.NewFromInt(1)
	config.LooseAmountTolerance = decimal.NewFromInt(5)
	config.DateToleranceDays = 1
	config.DateWindowDays = 3
	config.MinInclusionScore = 0.5
	config.AcceptanceThreshold = 0.85
	config.EnableFuzzyMatching = false
	return config
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.CloseAmountTolerance = decimal.NewFromInt(10)
	config.LooseAmountTolerance = decimal.NewFromInt(50)
	config.DateToleranceDays = 5
	config.DateWindowDays = 14
	config.MinInclusionScore = 0.2
	config.AcceptanceThreshold = 0.5
	return config
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.ExactAmountTolerance.IsNegative() {
		return fmt.Errorf("exact amount tolerance cannot be negative: %s", mc.ExactAmountTolerance)
	}
	if mc.CloseAmountTolerance.LessThan(mc.ExactAmountTolerance) || mc.LooseAmountTolerance.LessThan(mc.CloseAmountTolerance) {
		return fmt.Errorf("amount tolerances must be ordered exact <= close <= loose: %s, %s, %s",
			mc.ExactAmountTolerance, mc.CloseAmountTolerance, mc.LooseAmountTolerance)
	}

	if mc.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance days cannot be negative: %d", mc.DateToleranceDays)
	}
	if mc.DateWindowDays < mc.DateToleranceDays {
		return fmt.Errorf("date window (%d days) cannot be shorter than date tolerance (%d days)",
			mc.DateWindowDays, mc.DateToleranceDays)
	}

	if err := mc.Points.Validate(); err != nil {
		return fmt.Errorf("invalid points: %w", err)
	}
	if mc.MaxPoints <= 0 {
		return fmt.Errorf("max points must be positive: %f", mc.MaxPoints)
	}

	if mc.MinInclusionScore < 0.0 || mc.MinInclusionScore > 1.0 {
		return fmt.Errorf("minimum inclusion score must be between 0.0 and 1.0: %f", mc.MinInclusionScore)
	}
	if mc.AcceptanceThreshold < 0.0 || mc.AcceptanceThreshold > 1.0 {
		return fmt.Errorf("acceptance threshold must be between 0.0 and 1.0: %f", mc.AcceptanceThreshold)
	}
	if mc.AcceptanceThreshold < mc.MinInclusionScore {
		return fmt.Errorf("acceptance threshold (%f) cannot be below the inclusion score (%f)",
			mc.AcceptanceThreshold, mc.MinInclusionScore)
	}

	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}

	clone := *mc
	clone.ReceiptKeywords = make([]string, len(mc.ReceiptKeywords))
	for i, k := range mc.ReceiptKeywords {
		clone.ReceiptKeywords[i] = strings.ToLower(k)
	}
	return &clone
}

// AmountPoints returns the amount points for an absolute difference. The
// result never increases as the difference grows.
func (mc *MatchingConfig) AmountPoints(difference decimal.Decimal) float64 {
	difference = difference.Abs()
	switch {
	case difference.LessThanOrEqual(mc.ExactAmountTolerance):
		return mc.Points.ExactAmount
	case difference.LessThanOrEqual(mc.CloseAmountTolerance):
		return mc.Points.CloseAmount
	case difference.LessThanOrEqual(mc.LooseAmountTolerance):
		return mc.Points.LooseAmount
	default:
		return 0
	}
}

// DatePoints returns the date points for a gap in days.
func (mc *MatchingConfig) DatePoints(days int) float64 {
	switch {
	case days < 0:
		return 0
	case days == 0:
		return mc.Points.SameDay
	case days <= mc.DateToleranceDays:
		return mc.Points.WithinDays
	case days <= mc.DateWindowDays:
		return mc.Points.WithinWindow
	default:
		return 0
	}
}
