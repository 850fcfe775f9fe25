package matcher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/internal/testutil"
	"receipt-reconciliation-service/pkg/logger"
)

func createTestTransaction(merchant, amount, date string) *models.Transaction {
	tx := models.NewTransaction(merchant, decimal.RequireFromString(amount), models.MustParseDate(date))
	tx.Category = "Technology"
	tx.PaymentMethod = "credit_card"
	return tx
}

func createTestEmail(from, subject, body, date string) *models.Email {
	return &models.Email{From: from, Subject: subject, Body: body, Date: models.MustParseDate(date)}
}

func newTestReconciler(store profile.Reader) *Reconciler {
	return NewReconciler(DefaultMatchingConfig(), store, logger.Discard())
}

func TestFindCandidatesClaudeSubscription(t *testing.T) {
	r := newTestReconciler(profile.NewStore())
	tx := createTestTransaction("CLAUDE", "20.00", "2025-06-28")
	email := createTestEmail("billing@anthropic.com", "Your Claude subscription", "Amount charged: $20.00", "2025-06-28")

	candidates := r.FindCandidates(tx, []*models.Email{email}, 0.3)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.GreaterOrEqual(t, c.Confidence, 0.6)
	assert.Contains(t, c.Reasons, "Exact amount match")
	assert.Contains(t, c.Reasons, "Same date")
	assert.Equal(t, MatchExact, c.MatchType)
	assert.Equal(t, 1.5, c.Scores.Amount)
	assert.Equal(t, 1.0, c.Scores.Date)
	assert.InDelta(t, 0.2, c.Scores.Merchant, 1e-9)
	assert.Equal(t, 0.2, c.Scores.Keywords)
	assert.Equal(t, 0.0, c.Scores.Mapping)
	assert.InDelta(t, 2.9/3.0, c.Confidence, 1e-9)
	assert.Equal(t, 0, c.DaysApart)
	assert.Equal(t, "20", c.MatchedAmount.Decimal.String())
}

func TestFindCandidatesMappingBonus(t *testing.T) {
	store := profile.NewStore()
	store.PutMapping(&models.MerchantDomainMapping{MerchantKey: "CLAUDE", Domain: "anthropic.com", Confidence: 0.7, SampleCount: 2})
	r := newTestReconciler(store)

	tx := createTestTransaction("Claude", "20.00", "2025-06-28")
	email := createTestEmail("billing@anthropic.com", "Monthly statement", "See attached", "2025-06-30")

	c := r.Score(tx, email)
	assert.Equal(t, 0.3, c.Scores.Mapping)
	assert.Contains(t, c.Reasons, "Learned sender domain anthropic.com")
	assert.Equal(t, 0.7, c.Scores.Date)
	assert.Contains(t, c.Reasons, "Date within 3 days")
	assert.Equal(t, 0.0, c.Scores.Amount)
	assert.False(t, c.MatchedAmount.Valid)
}

func TestFindCandidatesProfileDomainCountsAsMapping(t *testing.T) {
	store := profile.NewStore()
	store.PutMerchantProfile(&models.MerchantProfile{Key: "SQUARE *COFFEE SHOP", EmailDomains: []string{"squareup.com"}})
	r := newTestReconciler(store)

	c := r.Score(createTestTransaction("SQUARE *COFFEE SHOP", "4.50", "2025-06-28"),
		createTestEmail("receipts@squareup.com", "Receipt", "Total $4.50", "2025-06-28"))
	assert.Equal(t, 0.3, c.Scores.Mapping)
}

func TestFindCandidatesSortedAndFiltered(t *testing.T) {
	r := newTestReconciler(profile.NewStore())
	tx := createTestTransaction("CLAUDE", "20.00", "2025-06-28")

	emails := []*models.Email{
		createTestEmail("news@example.com", "Weekly digest", "No amounts here", "2025-01-01"),
		createTestEmail("billing@anthropic.com", "Receipt", "Total $24.00", "2025-06-30"),
		nil,
		createTestEmail("billing@anthropic.com", "Your Claude subscription", "Amount charged: $20.00", "2025-06-28"),
		createTestEmail("billing@anthropic.com", "Receipt", "Total $24.00", "2025-06-30"),
	}

	minInclusion := 0.3
	candidates := r.FindCandidates(tx, emails, minInclusion)
	require.Len(t, candidates, 3)

	assert.Equal(t, 3, candidates[0].EmailIndex)
	// Equal confidence keeps input order.
	assert.Equal(t, 1, candidates[1].EmailIndex)
	assert.Equal(t, 4, candidates[2].EmailIndex)
	assert.Equal(t, candidates[1].Confidence, candidates[2].Confidence)

	for i, c := range candidates {
		assert.Greater(t, c.Confidence, minInclusion)
		if i > 0 {
			assert.LessOrEqual(t, c.Confidence, candidates[i-1].Confidence)
		}
	}
}

func TestFindCandidatesInclusionIsStrict(t *testing.T) {
	r := newTestReconciler(profile.NewStore())
	tx := createTestTransaction("ZZZ", "20.00", "2025-06-28")
	// Same day only: 1.0 / 3 points.
	email := createTestEmail("a@b.example", "hello", "nothing", "2025-06-28")

	c := r.Score(tx, email)
	require.InDelta(t, 1.0/3.0, c.Confidence, 1e-9)

	assert.Empty(t, r.FindCandidates(tx, []*models.Email{email}, c.Confidence))
	assert.Len(t, r.FindCandidates(tx, []*models.Email{email}, c.Confidence-0.01), 1)
	assert.Empty(t, r.FindCandidates(nil, []*models.Email{email}, 0))
}

func TestFindCandidatesRandomizedInvariants(t *testing.T) {
	gen := testutil.NewGenerator(99)
	r := newTestReconciler(profile.NewStore())
	emails := gen.Emails(60)

	for _, tx := range gen.Transactions(40) {
		for _, minInclusion := range []float64{0, 0.2, 0.4} {
			candidates := r.FindCandidates(tx, emails, minInclusion)
			for i, c := range candidates {
				assert.Greater(t, c.Confidence, minInclusion)
				assert.LessOrEqual(t, c.Confidence, 1.0)
				if i > 0 {
					assert.LessOrEqual(t, c.Confidence, candidates[i-1].Confidence)
				}
			}
		}
	}
}

func TestAmountPointsNonIncreasing(t *testing.T) {
	config := DefaultMatchingConfig()
	previous := config.AmountPoints(decimal.Zero)
	for cents := int64(0); cents <= 3000; cents++ {
		points := config.AmountPoints(decimal.New(cents, -2))
		assert.LessOrEqual(t, points, previous, "difference %d cents", cents)
		previous = points
	}

	assert.Equal(t, 1.5, config.AmountPoints(decimal.RequireFromString("-0.01")))
	assert.Equal(t, 1.0, config.AmountPoints(decimal.RequireFromString("5.00")))
	assert.Equal(t, 0.5, config.AmountPoints(decimal.RequireFromString("5.01")))
	assert.Equal(t, 0.0, config.AmountPoints(decimal.RequireFromString("20.01")))
}

func TestDatePoints(t *testing.T) {
	config := DefaultMatchingConfig()
	tests := []struct {
		days int
		want float64
	}{
		{-1, 0}, {0, 1.0}, {1, 0.7}, {3, 0.7}, {4, 0.3}, {7, 0.3}, {8, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, config.DatePoints(tt.days), "days=%d", tt.days)
	}
}

func TestMatchTypeString(t *testing.T) {
	assert.Equal(t, "Exact", MatchExact.String())
	assert.Equal(t, "Possible", MatchPossible.String())
	assert.Equal(t, "Unknown", MatchType(42).String())

	text, err := MatchFuzzy.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Fuzzy", string(text))
}

func TestMatchingConfigValidate(t *testing.T) {
	for name, config := range map[string]*MatchingConfig{
		"default": DefaultMatchingConfig(),
		"strict":  StrictMatchingConfig(),
		"relaxed": RelaxedMatchingConfig(),
	} {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, config.Validate())
		})
	}

	tests := []struct {
		name   string
		modify func(*MatchingConfig)
	}{
		{"negative date tolerance", func(c *MatchingConfig) { c.DateToleranceDays = -1 }},
		{"window shorter than tolerance", func(c *MatchingConfig) { c.DateWindowDays = 1 }},
		{"unordered tolerances", func(c *MatchingConfig) { c.LooseAmountTolerance = decimal.NewFromInt(1) }},
		{"negative points", func(c *MatchingConfig) { c.Points.KeywordsBonus = -0.1 }},
		{"increasing amount points", func(c *MatchingConfig) { c.Points.LooseAmount = 2 }},
		{"zero max points", func(c *MatchingConfig) { c.MaxPoints = 0 }},
		{"inclusion out of range", func(c *MatchingConfig) { c.MinInclusionScore = 1.5 }},
		{"acceptance below inclusion", func(c *MatchingConfig) { c.AcceptanceThreshold = 0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.modify(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestMatchingConfigClone(t *testing.T) {
	config := DefaultMatchingConfig()
	clone := config.Clone()
	clone.ReceiptKeywords[0] = "changed"
	clone.Points.SameDay = 0

	assert.Equal(t, "receipt", config.ReceiptKeywords[0])
	assert.Equal(t, 1.0, config.Points.SameDay)
	assert.Nil(t, (*MatchingConfig)(nil).Clone())
}
