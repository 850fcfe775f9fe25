package predictor

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

func newTx(merchant, amount, category, method string, tip bool) *models.Transaction {
	tx := models.NewTransaction(merchant, decimal.RequireFromString(amount), models.MustParseDate("2025-06-28"))
	tx.Category = category
	tx.PaymentMethod = method
	tx.HasTip = tip
	return tx
}

func TestPredictUnknownMerchant(t *testing.T) {
	p := New(profile.NewStore(), nil, logger.Discard())

	got := p.Predict(newTx("NEW PLACE", "20.00", "", "", false))
	assert.False(t, got.ProfileFound)
	assert.InDelta(t, 0.5, got.Likelihood, 1e-9)
	assert.InDelta(t, 0.3, got.Confidence, 1e-9)
	assert.Empty(t, got.Factors)
}

func TestPredictAdjustments(t *testing.T) {
	tests := []struct {
		name       string
		tx         *models.Transaction
		likelihood float64
		factors    []string
	}{
		{
			name:       "paypal with tip",
			tx:         newTx("CAFE", "20.00", "", "PayPal", true),
			likelihood: 0.9,
			factors:    []string{"payment_method:paypal", FactorTip},
		},
		{
			name:       "food category large amount",
			tx:         newTx("BISTRO", "150.00", "Food & Dining", "", false),
			likelihood: 0.75,
			factors:    []string{"category:Food & Dining", FactorLargeAmount},
		},
		{
			name:       "cash small amount",
			tx:         newTx("KIOSK", "3.50", "", "cash", false),
			likelihood: 0.1,
			factors:    []string{"payment_method:cash", FactorSmallAmount},
		},
		{
			name:       "atm clamps at zero",
			tx:         newTx("ATM WITHDRAWAL", "200.00", "ATM", "atm", false),
			likelihood: 0,
			factors:    []string{"payment_method:atm", "category:ATM", FactorLargeAmount},
		},
		{
			name:       "square tip clamps at one",
			tx:         newTx("SQUARE *COFFEE", "120.00", "Food & Dining", "square", true),
			likelihood: 1,
			factors:    []string{"payment_method:square", "category:Food & Dining", FactorTip, FactorLargeAmount},
		},
		{
			name:       "unknown tables ignored",
			tx:         newTx("SHOP", "50.00", "Misc", "wire", false),
			likelihood: 0.5,
			factors:    []string{},
		},
	}

	p := New(profile.NewStore(), nil, logger.Discard())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Predict(tt.tx)
			assert.InDelta(t, tt.likelihood, got.Likelihood, 1e-9)
			assert.Equal(t, tt.factors, got.Factors)
		})
	}
}

func TestPredictSeedsFromProfile(t *testing.T) {
	store := profile.NewStore()
	store.PutMerchantProfile(&models.MerchantProfile{Key: "CLAUDE", ReceiptLikelihood: 0.8, Confidence: 0.7})
	p := New(store, nil, logger.Discard())

	got := p.Predict(newTx("claude", "20.00", "Technology", "credit_card", false))
	require.True(t, got.ProfileFound)
	assert.Equal(t, "CLAUDE", got.MerchantKey)
	assert.InDelta(t, 1.0, got.Likelihood, 1e-9)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	assert.Equal(t, []string{FactorMerchantProfile, "payment_method:credit_card", "category:Technology"}, got.Factors)
}

func TestPredictNilAndMissingAmount(t *testing.T) {
	p := New(profile.NewStore(), nil, logger.Discard())

	got := p.Predict(nil)
	assert.InDelta(t, 0.5, got.Likelihood, 1e-9)

	got = p.Predict(&models.Transaction{Merchant: "NO AMOUNT"})
	assert.InDelta(t, 0.5, got.Likelihood, 1e-9)
	assert.NotContains(t, got.Factors, FactorSmallAmount)
}

func TestPredictAlwaysInRange(t *testing.T) {
	gen := testutil.NewGenerator(42)
	store := profile.NewStore()
	for _, prof := range gen.MerchantProfiles(20) {
		store.PutMerchantProfile(prof)
	}
	p := New(store, nil, logger.Discard())

	for _, tx := range gen.Transactions(500) {
		got := p.Predict(tx)
		assert.GreaterOrEqual(t, got.Likelihood, 0.0)
		assert.LessOrEqual(t, got.Likelihood, 1.0)
		assert.GreaterOrEqual(t, got.Confidence, 0.0)
		assert.LessOrEqual(t, got.Confidence, 1.0)
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.BaseLikelihood = 1.2
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.SmallAmountThreshold = decimal.NewFromInt(500)
	assert.Error(t, c.Validate())
}
