package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/persistence"
	"receipt-reconciliation-service/internal/testutil"
	"receipt-reconciliation-service/pkg/logger"
)

var fixedNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	e, err := New(nil, logger.Discard(), opts...)
	require.NoError(t, err)
	return e
}

func coffee(amount, date string) *models.Transaction {
	tx := models.NewTransaction("SQUARE *COFFEE SHOP", decimal.RequireFromString(amount), models.MustParseDate(date))
	tx.PaymentMethod = "square"
	tx.Category = "Food & Dining"
	return tx
}

type recordingSink struct {
	mu     sync.Mutex
	writes []*persistence.Document
	err    error
}

func (s *recordingSink) Write(_ context.Context, doc *persistence.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, doc)
	return nil
}

func (s *recordingSink) String() string { return "recording" }

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matching.AcceptanceThreshold = 2
	_, err := New(cfg, logger.Discard())
	assert.Error(t, err)
}

func TestLearnFromTransactionsAutoSaves(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(t, WithSink(sink))

	stats := e.LearnFromTransactions(context.Background(), []*models.Transaction{
		coffee("67.89", "2025-06-01"),
		coffee("65.00", "2025-06-08"),
	})
	assert.Equal(t, 1, stats.ProfilesCreated)
	assert.True(t, stats.Persisted)
	require.Len(t, sink.writes, 1)
	assert.Contains(t, sink.writes[0].TransactionPatterns, "SQUARE *COFFEE SHOP")

	p, ok := e.Profiles().MerchantProfile("SQUARE *COFFEE SHOP")
	require.True(t, ok)
	assert.True(t, p.HasTag(models.TagConsistentAmounts))
}

func TestAutoSaveFailureIsReportedNotRaised(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("disk full")}
	e := newEngine(t, WithSink(sink))

	stats := e.LearnFromTransactions(context.Background(), []*models.Transaction{
		coffee("67.89", "2025-06-01"),
		coffee("65.00", "2025-06-08"),
	})
	assert.False(t, stats.Persisted)
	assert.Equal(t, 1, e.Snapshot().Counts().MerchantProfiles)
}

func TestWithoutSinkNothingIsPersisted(t *testing.T) {
	e := newEngine(t)
	stats := e.LearnFromEmails(context.Background(), []*models.Email{
		{From: "receipts@square.com", Subject: "Receipt", Body: "Payment received"},
		{From: "receipts@square.com", Subject: "Receipt", Body: "Payment received"},
	})
	assert.False(t, stats.Persisted)
	assert.Equal(t, 1, stats.ProfilesCreated)
}

func TestFindReceiptCandidatesClaudeExample(t *testing.T) {
	e := newEngine(t)
	tx := models.NewTransaction("CLAUDE", decimal.RequireFromString("20.00"), models.MustParseDate("2025-06-28"))
	tx.Category = "Technology"
	tx.PaymentMethod = "credit_card"

	emails := []*models.Email{{
		From:    "billing@anthropic.com",
		Subject: "Your Claude subscription",
		Body:    "Amount charged: $20.00",
		Date:    models.MustParseDate("2025-06-28"),
	}}

	candidates := e.FindReceiptCandidates(tx, emails)
	require.Len(t, candidates, 1)
	assert.GreaterOrEqual(t, candidates[0].Confidence, 0.6)
	assert.Contains(t, candidates[0].Reasons, "Exact amount match")
	assert.Contains(t, candidates[0].Reasons, "Same date")

	assert.Empty(t, e.FindReceiptCandidatesAbove(tx, emails, 0.99))
}

func TestPredictUnknownMerchant(t *testing.T) {
	e := newEngine(t)
	p := e.PredictReceiptLikelihood(models.NewTransaction("NEVER SEEN", decimal.NewFromInt(3), models.MustParseDate("2025-01-01")))
	assert.False(t, p.ProfileFound)
	assert.GreaterOrEqual(t, p.Likelihood, 0.0)
	assert.LessOrEqual(t, p.Likelihood, 1.0)
	assert.GreaterOrEqual(t, p.Confidence, 0.0)
	assert.LessOrEqual(t, p.Confidence, 1.0)
}

func TestScenarioLearnThenReconcile(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewGenerator(11).Scenario(4)
	e := newEngine(t)

	e.LearnFromTransactions(ctx, s.Transactions)
	e.LearnFromEmails(ctx, s.Emails())
	stats := e.LearnMerchantMappings(ctx, s.Transactions, s.Emails())
	assert.Equal(t, 4, stats.CandidatePairs)
	assert.Equal(t, 1, stats.RulesCreated)

	key := models.NormalizeMerchant(s.Merchant)
	p, ok := e.Profiles().MerchantProfile(key)
	require.True(t, ok)
	assert.True(t, p.HasEmailDomain(s.Domain))

	prediction := e.PredictReceiptLikelihood(s.Transactions[0])
	assert.True(t, prediction.ProfileFound)

	result := e.ReconcileBatch(s.Transactions, s.Emails())
	require.Len(t, result.Matches, 4)
	for i, m := range result.Matches {
		assert.Equal(t, s.Transactions[i].ID, m.Transaction.ID)
		assert.Equal(t, s.Receipts[i].ID, m.Email.ID)
	}
	assert.Empty(t, result.UnmatchedTransactions)
	assert.Len(t, result.UnmatchedEmails, 4)
	assert.Equal(t, 100.0, result.Summary.GetMatchRate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"profiles.json", "profiles.db"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), name)

			e := newEngine(t)
			e.LearnFromTransactions(ctx, []*models.Transaction{
				coffee("67.89", "2025-06-01"),
				coffee("65.00", "2025-06-08"),
			})
			require.True(t, e.Save(ctx, path))

			fresh := newEngine(t)
			require.True(t, fresh.Load(ctx, path))

			want, _ := e.Profiles().MerchantProfile("SQUARE *COFFEE SHOP")
			got, ok := fresh.Profiles().MerchantProfile("SQUARE *COFFEE SHOP")
			require.True(t, ok)
			assert.InDelta(t, want.Confidence, got.Confidence, 1e-9)
			assert.InDelta(t, want.ReceiptLikelihood, got.ReceiptLikelihood, 1e-9)

			// The predictor reads the restored profiles.
			assert.True(t, fresh.PredictReceiptLikelihood(coffee("66.00", "2025-07-01")).ProfileFound)
		})
	}
}

func TestLoadCorruptSnapshotLeavesEmptyProfiles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0600))

	e := newEngine(t)
	e.LearnFromTransactions(ctx, []*models.Transaction{
		coffee("67.89", "2025-06-01"),
		coffee("65.00", "2025-06-08"),
	})

	assert.False(t, e.Load(ctx, path))
	assert.Zero(t, e.Snapshot().Counts().MerchantProfiles)
}

func TestConcurrentLearningIsSerialized(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.LearnFromTransactions(ctx, []*models.Transaction{
				coffee("10.00", "2025-06-01"),
				coffee("10.00", "2025-06-02"),
			})
			e.PredictReceiptLikelihood(coffee("10.00", "2025-06-03"))
		}()
	}
	wg.Wait()

	p, ok := e.Profiles().MerchantProfile("SQUARE *COFFEE SHOP")
	require.True(t, ok)
	assert.Equal(t, 16, p.SampleCount)
}
