// Package engine is the single entry point for learning, prediction and
// reconciliation. An Engine owns one profile store, serializes every write
// to it and optionally saves a snapshot after each learning pass.
package engine

import (
	"context"
	"sync"
	"time"

	"receipt-reconciliation-service/internal/learner"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/persistence"
	"receipt-reconciliation-service/internal/predictor"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// Config groups the injected tables and thresholds of every component.
type Config struct {
	Learning   *learner.Config
	Prediction *predictor.Config
	Matching   *matcher.MatchingConfig
}

// DefaultConfig returns the default configuration of every component.
func DefaultConfig() *Config {
	return &Config{
		Learning:   learner.DefaultConfig(),
		Prediction: predictor.DefaultConfig(),
		Matching:   matcher.DefaultMatchingConfig(),
	}
}

// Validate checks each component configuration, filling nil ones with
// defaults.
func (c *Config) Validate() error {
	if c.Learning == nil {
		c.Learning = learner.DefaultConfig()
	}
	if c.Prediction == nil {
		c.Prediction = predictor.DefaultConfig()
	}
	if c.Matching == nil {
		c.Matching = matcher.DefaultMatchingConfig()
	}
	if err := c.Learning.Validate(); err != nil {
		return err
	}
	if err := c.Prediction.Validate(); err != nil {
		return err
	}
	return c.Matching.Validate()
}

// Option customizes an Engine.
type Option func(*Engine)

// WithStore starts the engine from an existing store instead of an empty one.
func WithStore(store *profile.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithSink saves a snapshot to sink after every learning pass.
func WithSink(sink persistence.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithClock fixes the time used by the learners.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine wires the learners, predictor and reconciler around one store.
type Engine struct {
	// writeMu serializes learning passes and loads.
	writeMu sync.Mutex

	store  *profile.Store
	config *Config
	sink   persistence.Sink
	now    func() time.Time
	logger logger.Logger

	transactions *learner.TransactionLearner
	emails       *learner.EmailLearner
	mappings     *learner.MappingLearner
	predictor    *predictor.Predictor
	reconciler   *matcher.Reconciler
}

// New builds an engine. A nil config uses DefaultConfig.
func New(config *Config, log logger.Logger, opts ...Option) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config: config,
		now:    time.Now,
		logger: logger.OrGlobal(log).WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = profile.NewStore()
	}

	e.transactions = learner.NewTransactionLearner(e.store, config.Learning, log).WithClock(e.now)
	e.emails = learner.NewEmailLearner(e.store, config.Learning, log).WithClock(e.now)
	e.mappings = learner.NewMappingLearner(e.store, config.Learning, log).WithClock(e.now)
	e.predictor = predictor.New(e.store, config.Prediction, log)
	e.reconciler = matcher.NewReconciler(config.Matching, e.store, log)
	return e, nil
}

// Profiles returns a read-only view of the learned knowledge.
func (e *Engine) Profiles() profile.Reader {
	return e.store
}

// Snapshot returns an independent copy of the store.
func (e *Engine) Snapshot() *profile.Store {
	return e.store.Snapshot()
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// LearnFromTransactions updates merchant profiles from a transaction batch.
func (e *Engine) LearnFromTransactions(ctx context.Context, transactions []*models.Transaction) *learner.LearningStats {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	stats := e.transactions.Learn(transactions)
	e.autoSave(ctx, stats)
	return stats
}

// LearnFromEmails updates sender patterns from an email batch.
func (e *Engine) LearnFromEmails(ctx context.Context, emails []*models.Email) *learner.LearningStats {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	stats := e.emails.Learn(emails)
	e.autoSave(ctx, stats)
	return stats
}

// LearnMerchantMappings learns merchant to sender-domain mappings from the
// two batches.
func (e *Engine) LearnMerchantMappings(ctx context.Context, transactions []*models.Transaction, emails []*models.Email) *learner.LearningStats {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	stats := e.mappings.Learn(transactions, emails)
	e.autoSave(ctx, stats)
	return stats
}

// PredictReceiptLikelihood estimates whether tx has a receipt.
func (e *Engine) PredictReceiptLikelihood(tx *models.Transaction) *predictor.Prediction {
	return e.predictor.Predict(tx)
}

// FindReceiptCandidates ranks emails for tx using the configured inclusion
// threshold.
func (e *Engine) FindReceiptCandidates(tx *models.Transaction, emails []*models.Email) []*matcher.MatchCandidate {
	return e.reconciler.FindCandidates(tx, emails, e.config.Matching.MinInclusionScore)
}

// FindReceiptCandidatesAbove ranks emails for tx keeping only candidates
// above minInclusion.
func (e *Engine) FindReceiptCandidatesAbove(tx *models.Transaction, emails []*models.Email, minInclusion float64) []*matcher.MatchCandidate {
	return e.reconciler.FindCandidates(tx, emails, minInclusion)
}

// ReconcileBatch pairs transactions with emails using the configured
// acceptance threshold.
func (e *Engine) ReconcileBatch(transactions []*models.Transaction, emails []*models.Email) *matcher.ReconciliationResult {
	return e.reconciler.ReconcileBatch(transactions, emails, e.config.Matching.AcceptanceThreshold)
}

// Save writes a snapshot to path. The format follows the file extension.
func (e *Engine) Save(ctx context.Context, path string) bool {
	adapter, err := persistence.Open(path)
	if err != nil {
		e.logger.WithError(err).WithField("path", path).Warn("Failed to open snapshot destination")
		return false
	}
	defer e.close(adapter)

	return persistence.Save(ctx, adapter, e.store.Snapshot(), e.logger)
}

// Load replaces the learned knowledge with the snapshot at path. When the
// snapshot is missing or corrupt the engine is left with empty profiles and
// Load returns false.
func (e *Engine) Load(ctx context.Context, path string) bool {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	adapter, err := persistence.Open(path)
	if err != nil {
		e.logger.WithError(err).WithField("path", path).Warn("Failed to open snapshot source")
		e.store.Replace(profile.NewStore())
		return false
	}
	defer e.close(adapter)

	loaded, ok := persistence.Load(ctx, adapter, e.logger)
	e.store.Replace(loaded)
	return ok
}

func (e *Engine) autoSave(ctx context.Context, stats *learner.LearningStats) {
	if e.sink == nil {
		return
	}
	stats.Persisted = persistence.Save(ctx, e.sink, e.store.Snapshot(), e.logger)
}

func (e *Engine) close(adapter persistence.Adapter) {
	if err := adapter.Close(); err != nil {
		e.logger.WithError(errors.FileError(errors.CodeFileWrite, adapter.String(), err)).Warn("Failed to close snapshot")
	}
}
