// Package learner turns batches of historical transactions and emails into
// merchant profiles, sender patterns and merchant/domain mappings.
//
// All three learners share the same contract: invalid records are skipped and
// counted, groups smaller than Config.MinGroupSize never produce an entity,
// and qualifying groups are merged into the profile store rather than
// overwriting what earlier passes learned.
package learner

import (
	"fmt"
	"strings"

	"receipt-reconciliation-service/internal/profile"
)

// Config holds the priors, keyword tables and thresholds used by the
// learners. All maps are keyed by lower-case values.
type Config struct {
	// PaymentMethodPriors seeds a profile's receipt likelihood from its
	// primary payment method.
	PaymentMethodPriors map[string]float64 `mapstructure:"payment_method_priors"`

	// UnknownPaymentPrior is used when the primary payment method is not in
	// PaymentMethodPriors.
	UnknownPaymentPrior float64 `mapstructure:"unknown_payment_prior"`

	// TipFrequencyThreshold and TipBonus: profiles with a tip frequency above
	// the threshold get the bonus and the frequent_tips tag.
	TipFrequencyThreshold float64 `mapstructure:"tip_frequency_threshold"`
	TipBonus              float64 `mapstructure:"tip_bonus"`

	// ConsistencyCVThreshold and ConsistencyBonus: profiles whose amount
	// coefficient of variation is below the threshold get the bonus and the
	// consistent_amounts tag.
	ConsistencyCVThreshold float64 `mapstructure:"consistency_cv_threshold"`
	ConsistencyBonus       float64 `mapstructure:"consistency_bonus"`

	// DigitalPaymentMethods earn the digital_payment tag.
	DigitalPaymentMethods []string `mapstructure:"digital_payment_methods"`

	StopWords       []string `mapstructure:"stop_words"`
	ReceiptKeywords []string `mapstructure:"receipt_keywords"`

	MinGroupSize        int `mapstructure:"min_group_size"`
	MinTokenLength      int `mapstructure:"min_token_length"`
	TopKeywords         int `mapstructure:"top_keywords"`
	KeywordMinFrequency int `mapstructure:"keyword_min_frequency"`
	MaxCommonAmounts    int `mapstructure:"max_common_amounts"`

	// SenderBaseLikelihood, SenderKeywordStep and SenderMaxLikelihood define
	// min(max, base + step * receipt keywords in the top tokens).
	SenderBaseLikelihood float64 `mapstructure:"sender_base_likelihood"`
	SenderKeywordStep    float64 `mapstructure:"sender_keyword_step"`
	SenderMaxLikelihood  float64 `mapstructure:"sender_max_likelihood"`

	// CandidateConfidence is the fixed confidence of a same-day,
	// amount-in-body transaction/email pair.
	CandidateConfidence float64 `mapstructure:"candidate_confidence"`

	// RuleConfidenceFloor promotes mappings at or above it to learned rules.
	RuleConfidenceFloor float64 `mapstructure:"rule_confidence_floor"`
}

// DefaultConfig returns the stock priors and thresholds.
func DefaultConfig() *Config {
	return &Config{
		PaymentMethodPriors: map[string]float64{
			"cash":        0.1,
			"atm":         0.0,
			"debit_card":  0.6,
			"credit_card": 0.8,
			"paypal":      0.9,
			"stripe":      0.9,
			"square":      0.95,
		},
		UnknownPaymentPrior:    0.5,
		TipFrequencyThreshold:  0.5,
		TipBonus:               0.1,
		ConsistencyCVThreshold: 0.5,
		ConsistencyBonus:       0.1,
		DigitalPaymentMethods:  []string{"paypal", "square", "stripe"},
		StopWords: []string{
			"the", "and", "for", "you", "your", "with", "this", "that", "from",
			"have", "are", "was", "our", "has", "will", "not", "but", "all",
			"can", "been", "thank", "thanks", "please", "here", "there",
		},
		ReceiptKeywords:      []string{"receipt", "invoice", "payment", "confirmation", "order", "purchase"},
		MinGroupSize:         2,
		MinTokenLength:       4,
		TopKeywords:          10,
		KeywordMinFrequency:  2,
		MaxCommonAmounts:     5,
		SenderBaseLikelihood: 0.3,
		SenderKeywordStep:    0.15,
		SenderMaxLikelihood:  0.9,
		CandidateConfidence:  0.8,
		RuleConfidenceFloor:  0.7,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MinGroupSize < 2 {
		return fmt.Errorf("min_group_size must be at least 2, got %d", c.MinGroupSize)
	}
	for method, prior := range c.PaymentMethodPriors {
		if prior < 0 || prior > 1 {
			return fmt.Errorf("payment method prior for %q must be between 0 and 1, got %f", method, prior)
		}
	}
	if c.UnknownPaymentPrior < 0 || c.UnknownPaymentPrior > 1 {
		return fmt.Errorf("unknown_payment_prior must be between 0 and 1, got %f", c.UnknownPaymentPrior)
	}
	if c.ConsistencyCVThreshold <= 0 {
		return fmt.Errorf("consistency_cv_threshold must be positive, got %f", c.ConsistencyCVThreshold)
	}
	if c.TopKeywords <= 0 {
		return fmt.Errorf("top_keywords must be positive, got %d", c.TopKeywords)
	}
	if c.KeywordMinFrequency < 1 {
		return fmt.Errorf("keyword_min_frequency must be at least 1, got %d", c.KeywordMinFrequency)
	}
	if c.MaxCommonAmounts <= 0 {
		return fmt.Errorf("max_common_amounts must be positive, got %d", c.MaxCommonAmounts)
	}
	if c.SenderMaxLikelihood < 0 || c.SenderMaxLikelihood > 1 {
		return fmt.Errorf("sender_max_likelihood must be between 0 and 1, got %f", c.SenderMaxLikelihood)
	}
	if c.CandidateConfidence < 0 || c.CandidateConfidence > 1 {
		return fmt.Errorf("candidate_confidence must be between 0 and 1, got %f", c.CandidateConfidence)
	}
	if c.RuleConfidenceFloor < 0 || c.RuleConfidenceFloor > 1 {
		return fmt.Errorf("rule_confidence_floor must be between 0 and 1, got %f", c.RuleConfidenceFloor)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.PaymentMethodPriors = make(map[string]float64, len(c.PaymentMethodPriors))
	for k, v := range c.PaymentMethodPriors {
		out.PaymentMethodPriors[strings.ToLower(k)] = v
	}
	out.DigitalPaymentMethods = append([]string(nil), c.DigitalPaymentMethods...)
	out.StopWords = append([]string(nil), c.StopWords...)
	out.ReceiptKeywords = append([]string(nil), c.ReceiptKeywords...)
	return &out
}

// PaymentPrior returns the seed likelihood for a payment method.
func (c *Config) PaymentPrior(method string) float64 {
	if prior, ok := c.PaymentMethodPriors[strings.ToLower(strings.TrimSpace(method))]; ok {
		return prior
	}
	return c.UnknownPaymentPrior
}

// IsDigitalPayment reports whether method is one of DigitalPaymentMethods.
func (c *Config) IsDigitalPayment(method string) bool {
	method = strings.ToLower(strings.TrimSpace(method))
	for _, m := range c.DigitalPaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

func (c *Config) limits() profile.Limits {
	return profile.Limits{MaxCommonAmounts: c.MaxCommonAmounts, MaxKeywords: c.TopKeywords}
}
