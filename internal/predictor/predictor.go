// Package predictor estimates how likely a transaction is to have a receipt.
package predictor

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/logger"
)

// Factor names reported in Prediction.Factors.
const (
	FactorMerchantProfile = "merchant_profile"
	FactorPaymentMethod   = "payment_method"
	FactorCategory        = "category"
	FactorTip             = "has_tip"
	FactorLargeAmount     = "large_amount"
	FactorSmallAmount     = "small_amount"
)

// Config holds the base values and adjustment tables. Table keys are
// compared case-insensitively.
type Config struct {
	BaseLikelihood      float64            `mapstructure:"base_likelihood"`
	BaseConfidence      float64            `mapstructure:"base_confidence"`
	PaymentAdjustments  map[string]float64 `mapstructure:"payment_adjustments"`
	CategoryAdjustments map[string]float64 `mapstructure:"category_adjustments"`
	TipAdjustment       float64            `mapstructure:"tip_adjustment"`

	LargeAmountThreshold  decimal.Decimal `mapstructure:"large_amount_threshold"`
	LargeAmountAdjustment float64         `mapstructure:"large_amount_adjustment"`
	SmallAmountThreshold  decimal.Decimal `mapstructure:"small_amount_threshold"`
	SmallAmountAdjustment float64         `mapstructure:"small_amount_adjustment"`
}

// DefaultConfig returns the stock adjustment tables.
func DefaultConfig() *Config {
	return &Config{
		BaseLikelihood: 0.5,
		BaseConfidence: 0.3,
		PaymentAdjustments: map[string]float64{
			"paypal":      0.2,
			"square":      0.25,
			"stripe":      0.2,
			"credit_card": 0.1,
			"debit_card":  0.05,
			"cash":        -0.3,
			"atm":         -0.5,
		},
		CategoryAdjustments: map[string]float64{
			"food & dining": 0.15,
			"shopping":      0.1,
			"technology":    0.1,
			"travel":        0.1,
			"atm":           -0.5,
			"transfer":      -0.4,
		},
		TipAdjustment:         0.2,
		LargeAmountThreshold:  decimal.NewFromInt(100),
		LargeAmountAdjustment: 0.1,
		SmallAmountThreshold:  decimal.NewFromInt(5),
		SmallAmountAdjustment: -0.1,
	}
}

// Validate checks that the base values are probabilities and the amount
// thresholds are ordered.
func (c *Config) Validate() error {
	if c.BaseLikelihood < 0 || c.BaseLikelihood > 1 {
		return fmt.Errorf("base_likelihood must be between 0 and 1, got %f", c.BaseLikelihood)
	}
	if c.BaseConfidence < 0 || c.BaseConfidence > 1 {
		return fmt.Errorf("base_confidence must be between 0 and 1, got %f", c.BaseConfidence)
	}
	if c.SmallAmountThreshold.GreaterThan(c.LargeAmountThreshold) {
		return fmt.Errorf("small_amount_threshold (%s) cannot exceed large_amount_threshold (%s)",
			c.SmallAmountThreshold, c.LargeAmountThreshold)
	}
	return nil
}

// Prediction is the receipt likelihood of one transaction.
type Prediction struct {
	MerchantKey  string   `json:"merchant" yaml:"merchant"`
	Likelihood   float64  `json:"likelihood" yaml:"likelihood"`
	Confidence   float64  `json:"confidence" yaml:"confidence"`
	Factors      []string `json:"factors" yaml:"factors"`
	ProfileFound bool     `json:"profile_found" yaml:"profile_found"`
}

// Predictor scores transactions against learned merchant profiles.
type Predictor struct {
	profiles   profile.Reader
	config     *Config
	payments   map[string]float64
	categories map[string]float64
	logger     logger.Logger
}

// New creates a predictor reading from profiles.
func New(profiles profile.Reader, config *Config, log logger.Logger) *Predictor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Predictor{
		profiles:   profiles,
		config:     config,
		payments:   lowerKeys(config.PaymentAdjustments),
		categories: lowerKeys(config.CategoryAdjustments),
		logger:     logger.OrGlobal(log).WithComponent("predictor"),
	}
}

// Predict returns the likelihood that tx has a receipt. Likelihood and
// confidence are always within [0, 1], including for unknown merchants.
func (p *Predictor) Predict(tx *models.Transaction) *Prediction {
	result := &Prediction{
		Likelihood: p.config.BaseLikelihood,
		Confidence: p.config.BaseConfidence,
		Factors:    []string{},
	}
	if tx == nil {
		return p.clamp(result)
	}
	result.MerchantKey = tx.MerchantKey()

	if prof, ok := p.profiles.MerchantProfile(result.MerchantKey); ok {
		result.Likelihood = prof.ReceiptLikelihood
		result.Confidence = prof.Confidence
		result.ProfileFound = true
		result.Factors = append(result.Factors, FactorMerchantProfile)
	}

	if method := tx.NormalizedPaymentMethod(); method != "" {
		if adj, ok := p.payments[method]; ok {
			result.Likelihood += adj
			result.Factors = append(result.Factors, FactorPaymentMethod+":"+method)
		}
	}
	if category := strings.TrimSpace(tx.Category); category != "" {
		if adj, ok := p.categories[strings.ToLower(category)]; ok {
			result.Likelihood += adj
			result.Factors = append(result.Factors, FactorCategory+":"+category)
		}
	}
	if tx.HasTip {
		result.Likelihood += p.config.TipAdjustment
		result.Factors = append(result.Factors, FactorTip)
	}
	if tx.Amount.Valid {
		switch amount := tx.Amount.Decimal; {
		case amount.GreaterThan(p.config.LargeAmountThreshold):
			result.Likelihood += p.config.LargeAmountAdjustment
			result.Factors = append(result.Factors, FactorLargeAmount)
		case amount.LessThan(p.config.SmallAmountThreshold):
			result.Likelihood += p.config.SmallAmountAdjustment
			result.Factors = append(result.Factors, FactorSmallAmount)
		}
	}

	p.logger.WithFields(logger.Fields{
		"merchant":   result.MerchantKey,
		"likelihood": result.Likelihood,
		"factors":    len(result.Factors),
	}).Debug("predicted receipt likelihood")
	return p.clamp(result)
}

func (p *Predictor) clamp(r *Prediction) *Prediction {
	r.Likelihood = models.Clamp01(r.Likelihood)
	r.Confidence = models.Clamp01(r.Confidence)
	return r
}

func lowerKeys(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
