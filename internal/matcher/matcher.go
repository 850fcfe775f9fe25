package matcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/logger"
)

// Reconciler scores receipt emails against transactions using a read-only
// view of learned profiles.
type Reconciler struct {
	config   *MatchingConfig
	profiles profile.Reader
	keywords map[string]struct{}
	logger   logger.Logger
}

// SignalScores holds the points earned by each signal of a candidate.
type SignalScores struct {
	Amount   float64 `json:"amount" yaml:"amount"`
	Date     float64 `json:"date" yaml:"date"`
	Merchant float64 `json:"merchant" yaml:"merchant"`
	Mapping  float64 `json:"mapping" yaml:"mapping"`
	Keywords float64 `json:"keywords" yaml:"keywords"`
}

// Total returns the point sum.
func (s SignalScores) Total() float64 {
	return s.Amount + s.Date + s.Merchant + s.Mapping + s.Keywords
}

// MatchCandidate is one scored transaction/email pair. It is never
// persisted.
type MatchCandidate struct {
	Transaction *models.Transaction `json:"transaction" yaml:"transaction"`
	Email       *models.Email       `json:"email" yaml:"email"`

	// EmailIndex is the position of Email in the candidate list.
	EmailIndex int `json:"email_index" yaml:"email_index"`

	Scores     SignalScores `json:"scores" yaml:"scores"`
	Confidence float64      `json:"confidence" yaml:"confidence"`
	MatchType  MatchType    `json:"match_type" yaml:"match_type"`

	// MatchedAmount is the email amount closest to the transaction amount.
	MatchedAmount    decimal.NullDecimal `json:"matched_amount" yaml:"matched_amount"`
	AmountDifference decimal.NullDecimal `json:"amount_difference" yaml:"amount_difference"`

	// DaysApart is the absolute date gap, or -1 when either date is unknown.
	DaysApart int `json:"days_apart" yaml:"days_apart"`

	Reasons []string `json:"reasons" yaml:"reasons"`
}

// NewReconciler creates a reconciler. A nil config uses
// DefaultMatchingConfig and a nil profiles reader disables the learned
// sender-domain bonus.
func NewReconciler(config *MatchingConfig, profiles profile.Reader, log logger.Logger) *Reconciler {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	config = config.Clone()

	keywords := make(map[string]struct{}, len(config.ReceiptKeywords))
	for _, k := range config.ReceiptKeywords {
		keywords[k] = struct{}{}
	}

	return &Reconciler{
		config:   config,
		profiles: profiles,
		keywords: keywords,
		logger:   logger.OrGlobal(log).WithComponent("reconciler"),
	}
}

// Config returns a copy of the current configuration.
func (r *Reconciler) Config() *MatchingConfig {
	return r.config.Clone()
}

// FindCandidates scores every email against tx and returns those whose
// confidence is strictly greater than minInclusion, highest confidence first.
// Candidates with equal confidence keep their input order. Nil emails are
// ignored.
func (r *Reconciler) FindCandidates(tx *models.Transaction, emails []*models.Email, minInclusion float64) []*MatchCandidate {
	results := []*MatchCandidate{}
	if tx == nil {
		return results
	}

	ctx := r.anchorContext(tx)
	for i, email := range emails {
		if email == nil {
			continue
		}
		candidate := r.score(tx, ctx, email, i)
		if candidate.Confidence > minInclusion {
			results = append(results, candidate)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	r.logger.WithFields(logger.Fields{
		"merchant":   ctx.merchantKey,
		"emails":     len(emails),
		"candidates": len(results),
	}).Debug("ranked receipt candidates")
	return results
}

// Score returns the candidate for a single pair without any threshold.
func (r *Reconciler) Score(tx *models.Transaction, email *models.Email) *MatchCandidate {
	return r.score(tx, r.anchorContext(tx), email, 0)
}

// anchor holds per-transaction lookups shared across its candidates.
type anchor struct {
	merchantKey string
	merchant    string
	domains     map[string]struct{}
}

func (r *Reconciler) anchorContext(tx *models.Transaction) anchor {
	a := anchor{
		merchantKey: tx.MerchantKey(),
		merchant:    strings.ToLower(strings.TrimSpace(tx.Merchant)),
		domains:     make(map[string]struct{}),
	}
	if r.profiles == nil {
		return a
	}
	for _, m := range r.profiles.MappingsForMerchant(a.merchantKey) {
		a.domains[m.Domain] = struct{}{}
	}
	if p, ok := r.profiles.MerchantProfile(a.merchantKey); ok {
		for _, d := range p.EmailDomains {
			a.domains[d] = struct{}{}
		}
	}
	return a
}

func (r *Reconciler) score(tx *models.Transaction, a anchor, email *models.Email, index int) *MatchCandidate {
	c := &MatchCandidate{
		Transaction: tx,
		Email:       email,
		EmailIndex:  index,
		DaysApart:   -1,
		Reasons:     []string{},
	}

	r.scoreAmount(tx, email, c)
	r.scoreDate(tx, email, c)
	r.scoreMerchant(a, email, c)
	r.scoreMapping(a, email, c)
	r.scoreKeywords(email, c)

	c.Confidence = models.Clamp01(c.Scores.Total() / r.config.MaxPoints)
	c.MatchType = r.determineMatchType(c)
	return c
}

func (r *Reconciler) scoreAmount(tx *models.Transaction, email *models.Email, c *MatchCandidate) {
	if !tx.Amount.Valid {
		return
	}
	closest, ok := ClosestAmount(ExtractAmounts(email.Subject+" "+email.Body), tx.Amount.Decimal)
	if !ok {
		return
	}
	difference := closest.Sub(tx.Amount.Decimal).Abs()
	c.MatchedAmount = decimal.NewNullDecimal(closest)
	c.AmountDifference = decimal.NewNullDecimal(difference)

	c.Scores.Amount = r.config.AmountPoints(difference)
	switch c.Scores.Amount {
	case 0:
	case r.config.Points.ExactAmount:
		c.Reasons = append(c.Reasons, "Exact amount match")
	case r.config.Points.CloseAmount:
		c.Reasons = append(c.Reasons, fmt.Sprintf("Amount within $%s", r.config.CloseAmountTolerance.StringFixed(2)))
	default:
		c.Reasons = append(c.Reasons, fmt.Sprintf("Amount within $%s", r.config.LooseAmountTolerance.StringFixed(2)))
	}
}

func (r *Reconciler) scoreDate(tx *models.Transaction, email *models.Email, c *MatchCandidate) {
	if tx.Date.IsZero() || email.Date.IsZero() {
		return
	}
	c.DaysApart = tx.Date.DaysBetween(email.Date)
	c.Scores.Date = r.config.DatePoints(c.DaysApart)

	switch {
	case c.Scores.Date == 0:
	case c.DaysApart == 0:
		c.Reasons = append(c.Reasons, "Same date")
	case c.DaysApart <= r.config.DateToleranceDays:
		c.Reasons = append(c.Reasons, fmt.Sprintf("Date within %d days", r.config.DateToleranceDays))
	default:
		c.Reasons = append(c.Reasons, fmt.Sprintf("Date within %d days", r.config.DateWindowDays))
	}
}

func (r *Reconciler) scoreMerchant(a anchor, email *models.Email, c *MatchCandidate) {
	if a.merchant == "" {
		return
	}
	best := TextSimilarity(a.merchant, email.Subject)
	if domain := email.Domain(); domain != "" {
		best = max(best, TextSimilarity(a.merchant, domain), TextSimilarity(a.merchant, models.DomainStem(domain)))
	}
	c.Scores.Merchant = best * r.config.Points.Merchant
	if best > 0 {
		c.Reasons = append(c.Reasons, fmt.Sprintf("Merchant similarity %.2f", best))
	}
}

func (r *Reconciler) scoreMapping(a anchor, email *models.Email, c *MatchCandidate) {
	domain := email.Domain()
	if domain == "" {
		return
	}
	if _, ok := a.domains[domain]; ok {
		c.Scores.Mapping = r.config.Points.MappingBonus
		c.Reasons = append(c.Reasons, fmt.Sprintf("Learned sender domain %s", domain))
	}
}

func (r *Reconciler) scoreKeywords(email *models.Email, c *MatchCandidate) {
	var found []string
	seen := make(map[string]struct{})
	for _, token := range tokenPattern.FindAllString(strings.ToLower(email.Subject+" "+email.Body), -1) {
		if _, ok := r.keywords[token]; !ok {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		found = append(found, token)
	}
	if len(found) > 0 {
		c.Scores.Keywords = r.config.Points.KeywordsBonus
		c.Reasons = append(c.Reasons, "Receipt keywords: "+strings.Join(found, ", "))
	}
}

// determineMatchType determines the type of match based on scores
func (r *Reconciler) determineMatchType(c *MatchCandidate) MatchType {
	if c.Scores.Amount == r.config.Points.ExactAmount && c.DaysApart == 0 && c.Confidence >= 0.8 {
		return MatchExact
	}

	if c.Confidence >= 0.75 {
		return MatchClose
	}

	if c.Confidence >= 0.5 && r.config.EnableFuzzyMatching {
		return MatchFuzzy
	}

	if c.Confidence > r.config.MinInclusionScore {
		return MatchPossible
	}

	return MatchNone
}
