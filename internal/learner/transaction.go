package learner

import (
	"time"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// TransactionLearner aggregates transaction history into merchant profiles.
type TransactionLearner struct {
	store  *profile.Store
	config *Config
	logger logger.Logger
	now    func() time.Time
}

// NewTransactionLearner creates a learner writing into store. A nil config
// uses DefaultConfig and a nil logger uses the global logger.
func NewTransactionLearner(store *profile.Store, config *Config, log logger.Logger) *TransactionLearner {
	if config == nil {
		config = DefaultConfig()
	}
	return &TransactionLearner{
		store:  store,
		config: config.Clone(),
		logger: logger.OrGlobal(log).WithComponent("transaction_learner"),
		now:    time.Now,
	}
}

// WithClock overrides the clock used for profiles without dated samples.
func (l *TransactionLearner) WithClock(now func() time.Time) *TransactionLearner {
	l.now = now
	return l
}

// Learn groups transactions by normalized merchant and merges a profile for
// every group of at least MinGroupSize members.
func (l *TransactionLearner) Learn(transactions []*models.Transaction) *LearningStats {
	start := time.Now()
	stats := newStats("transactions")

	groups := newGroupOrder[*models.Transaction]()
	for i, tx := range transactions {
		if tx == nil {
			stats.skip(errors.ValidationError(errors.CodeMissingField, "transaction", nil, nil))
			continue
		}
		if err := tx.Validate(); err != nil {
			l.logger.WithFields(logger.Fields{"index": i, "code": err.Code}).Debug("skipping transaction")
			stats.skip(err.WithContext("index", i))
			continue
		}
		stats.RecordsAnalyzed++
		groups.add(tx.MerchantKey(), tx)
	}

	stats.GroupsAnalyzed = len(groups.keys)
	for _, key := range groups.keys {
		group := groups.groups[key]
		if len(group) < l.config.MinGroupSize {
			continue
		}
		stats.GroupsQualified++
		created := l.store.MergeMerchantProfile(l.summarize(key, group), l.config.limits(), l.derive)
		stats.record(created)
	}

	stats.Duration = time.Since(start)
	l.logger.WithFields(logger.Fields{
		"analyzed": stats.RecordsAnalyzed,
		"skipped":  stats.RecordsSkipped,
		"groups":   stats.GroupsAnalyzed,
		"created":  stats.ProfilesCreated,
		"updated":  stats.ProfilesUpdated,
	}).Info("transaction learning pass finished")
	return stats
}

// summarize builds the statistics of one merchant group as a profile delta.
func (l *TransactionLearner) summarize(key string, group []*models.Transaction) *models.MerchantProfile {
	amounts := make([]decimal.Decimal, 0, len(group))
	dates := make([]models.Date, 0, len(group))
	p := &models.MerchantProfile{Key: key, SampleCount: len(group)}

	for _, tx := range group {
		amount := tx.AmountValue()
		amounts = append(amounts, amount)
		dates = append(dates, tx.Date)
		if tx.Category != "" {
			p.CategoryCounts = models.AddLabel(p.CategoryCounts, tx.Category, 1)
		}
		if method := tx.NormalizedPaymentMethod(); method != "" {
			p.PaymentMethodCounts = models.AddLabel(p.PaymentMethodCounts, method, 1)
		}
		if tx.HasTip {
			p.TipCount++
		}
	}

	p.AmountRange = models.AmountRange{Min: decimal.Min(amounts[0], amounts[1:]...), Max: decimal.Max(amounts[0], amounts[1:]...)}
	p.CommonAmounts = commonAmounts(amounts, l.config.MaxCommonAmounts)
	floats := toFloats(amounts)
	p.MeanAmount = mean(floats)
	p.AmountVariance = populationVariance(floats)
	p.TipFrequency = float64(p.TipCount) / float64(len(group))
	p.PrimaryCategory = models.ModeLabel(p.CategoryCounts)
	p.PrimaryPaymentMethod = models.ModeLabel(p.PaymentMethodCounts)
	p.BillingCycle = billingCycle(dates)
	p.LastSeen = latest(dates, l.now().UTC())
	p.Confidence = models.ProfileConfidence(p.SampleCount)
	return p
}

// derive recomputes likelihood and tags from a (possibly merged) profile.
func (l *TransactionLearner) derive(p *models.MerchantProfile) {
	p.Tags = nil
	likelihood := l.config.PaymentPrior(p.PrimaryPaymentMethod)

	if p.TipFrequency > l.config.TipFrequencyThreshold {
		likelihood += l.config.TipBonus
		p.AddTag(models.TagFrequentTips)
	}
	if cv, ok := p.AmountCV(); ok && cv < l.config.ConsistencyCVThreshold {
		likelihood += l.config.ConsistencyBonus
		p.AddTag(models.TagConsistentAmounts)
	}
	if l.config.IsDigitalPayment(p.PrimaryPaymentMethod) {
		p.AddTag(models.TagDigitalPayment)
	}
	if p.BillingCycle == models.BillingMonthly || p.BillingCycle == models.BillingYearly {
		p.AddTag(models.TagSubscription)
	}

	p.ReceiptLikelihood = models.Clamp01(likelihood)
}
