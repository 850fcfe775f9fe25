package learner

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// neutralCorrelation stands in for an amount correlation that cannot be
// computed.
const neutralCorrelation = 0.5

// PotentialMatch is a transaction/email pair dated the same day whose email
// body mentions the transaction amount.
type PotentialMatch struct {
	Transaction *models.Transaction
	Email       *models.Email
	Confidence  float64
}

// MappingLearner correlates transactions with emails to learn which sender
// domains issue a merchant's receipts.
type MappingLearner struct {
	store  *profile.Store
	config *Config
	logger logger.Logger
	now    func() time.Time
	newID  func() string
}

// NewMappingLearner creates a learner writing into store.
func NewMappingLearner(store *profile.Store, config *Config, log logger.Logger) *MappingLearner {
	if config == nil {
		config = DefaultConfig()
	}
	return &MappingLearner{
		store:  store,
		config: config.Clone(),
		logger: logger.OrGlobal(log).WithComponent("mapping_learner"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock overrides the clock used for rule timestamps.
func (l *MappingLearner) WithClock(now func() time.Time) *MappingLearner {
	l.now = now
	return l
}

// FindPotentialMatches pairs every valid, dated transaction with every valid
// email from the same day whose body contains the amount with two decimals.
// Pairs appear in transaction order, then email order.
func (l *MappingLearner) FindPotentialMatches(transactions []*models.Transaction, emails []*models.Email, stats *LearningStats) []PotentialMatch {
	validEmails := make([]*models.Email, 0, len(emails))
	for i, email := range emails {
		if email == nil {
			l.skip(stats, errors.ValidationError(errors.CodeMissingField, "email", nil, nil))
			continue
		}
		if err := email.Validate(); err != nil {
			l.skip(stats, err.WithContext("email_index", i))
			continue
		}
		validEmails = append(validEmails, email)
	}

	var matches []PotentialMatch
	for i, tx := range transactions {
		if tx == nil {
			l.skip(stats, errors.ValidationError(errors.CodeMissingField, "transaction", nil, nil))
			continue
		}
		if err := tx.Validate(); err != nil {
			l.skip(stats, err.WithContext("transaction_index", i))
			continue
		}
		if stats != nil {
			stats.RecordsAnalyzed++
		}
		if tx.Date.IsZero() {
			continue
		}
		amount := tx.AmountString()
		for _, email := range validEmails {
			if email.Date.Equal(tx.Date) && strings.Contains(email.Body, amount) {
				matches = append(matches, PotentialMatch{
					Transaction: tx,
					Email:       email,
					Confidence:  l.config.CandidateConfidence,
				})
			}
		}
	}
	return matches
}

// Learn merges a mapping for every (merchant, sender domain) pair backed by
// at least MinGroupSize potential matches, promotes confident mappings to
// learned rules and enriches existing merchant profiles with the domain.
func (l *MappingLearner) Learn(transactions []*models.Transaction, emails []*models.Email) *LearningStats {
	start := time.Now()
	stats := newStats("mappings")

	matches := l.FindPotentialMatches(transactions, emails, stats)
	stats.CandidatePairs = len(matches)

	groups := newGroupOrder[PotentialMatch]()
	for _, m := range matches {
		groups.add(models.MappingKey(m.Transaction.MerchantKey(), m.Email.Domain()), m)
	}

	stats.GroupsAnalyzed = len(groups.keys)
	for _, key := range groups.keys {
		group := groups.groups[key]
		if len(group) < l.config.MinGroupSize {
			continue
		}
		stats.GroupsQualified++

		merchant, domain := group[0].Transaction.MerchantKey(), group[0].Email.Domain()
		stats.record(l.store.MergeMapping(l.summarize(merchant, domain, group)))

		mapping, _ := l.store.Mapping(merchant, domain)
		if mapping.Confidence >= l.config.RuleConfidenceFloor {
			if l.promote(mapping) {
				stats.RulesCreated++
			} else {
				stats.RulesUpdated++
			}
		}
		l.enrich(merchant, domain)
	}

	stats.Duration = time.Since(start)
	l.logger.WithFields(logger.Fields{
		"pairs":   stats.CandidatePairs,
		"groups":  stats.GroupsAnalyzed,
		"created": stats.ProfilesCreated,
		"updated": stats.ProfilesUpdated,
		"rules":   stats.RulesCreated + stats.RulesUpdated,
	}).Info("mapping learning pass finished")
	return stats
}

func (l *MappingLearner) summarize(merchant, domain string, group []PotentialMatch) *models.MerchantDomainMapping {
	amounts := make([]float64, len(group))
	dates := make([]models.Date, len(group))
	for i, m := range group {
		amounts[i] = m.Transaction.AmountValue().InexactFloat64()
		dates[i] = m.Transaction.Date
	}

	correlation, err := coefficientOfVariation(amounts)
	if err != nil {
		l.logger.WithFields(logger.Fields{"merchant": merchant, "domain": domain, "code": err.Code}).
			Debug("amount correlation unavailable, using neutral value")
		correlation = neutralCorrelation
	}

	return &models.MerchantDomainMapping{
		MerchantKey:       merchant,
		Domain:            domain,
		Confidence:        models.MappingConfidence(len(group)),
		SampleCount:       len(group),
		AmountCorrelation: correlation,
		LastSeen:          latest(dates, l.now().UTC()),
	}
}

// promote creates or refreshes the learned rule for mapping. It reports
// whether the rule is new.
func (l *MappingLearner) promote(mapping *models.MerchantDomainMapping) bool {
	now := l.now().UTC()
	rule, exists := l.store.Rule(mapping.MerchantKey, mapping.Domain)
	if !exists {
		rule = &models.LearnedRule{
			ID:          l.newID(),
			MerchantKey: mapping.MerchantKey,
			Domain:      mapping.Domain,
			CreatedAt:   now,
		}
	}
	rule.Confidence = mapping.Confidence
	rule.UpdatedAt = now
	l.store.PutRule(rule)
	return !exists
}

// enrich adds domain and its sender keywords to an existing merchant profile.
func (l *MappingLearner) enrich(merchant, domain string) {
	sender, hasSender := l.store.SenderPattern(domain)
	l.store.UpdateMerchantProfile(merchant, func(current *models.MerchantProfile) *models.MerchantProfile {
		if current == nil {
			return nil
		}
		current.AddEmailDomain(domain)
		if hasSender {
			current.SubjectKeywords = profile.AppendKeywords(current.SubjectKeywords, sender.SubjectKeywords, l.config.TopKeywords)
			current.BodyKeywords = profile.AppendKeywords(current.BodyKeywords, sender.BodyKeywords, l.config.TopKeywords)
		}
		return current
	})
}

func (l *MappingLearner) skip(stats *LearningStats, err *errors.ReconcilerError) {
	l.logger.WithField("code", err.Code).Debug("skipping record for mapping")
	if stats != nil {
		stats.skip(err)
	}
}
