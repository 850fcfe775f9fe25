package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

var seen = time.Date(2025, 6, 28, 0, 0, 0, 0, time.UTC)

func sampleStore() *profile.Store {
	s := profile.NewStore()
	s.PutMerchantProfile(&models.MerchantProfile{
		Key:           "CLAUDE",
		EmailDomains:  []string{"anthropic.com"},
		BodyKeywords:  []string{"charged", "subscription"},
		CommonAmounts: []models.AmountCount{{Amount: decimal.RequireFromString("20.00"), Count: 3}},
		AmountRange: models.AmountRange{
			Min: decimal.RequireFromString("20.00"),
			Max: decimal.RequireFromString("20.00"),
		},
		BillingCycle:         models.BillingMonthly,
		ReceiptLikelihood:    0.95,
		Confidence:           0.6,
		SampleCount:          3,
		LastSeen:             seen,
		Tags:                 []string{models.TagConsistentAmounts, models.TagSubscription},
		PrimaryCategory:      "Technology",
		PrimaryPaymentMethod: "credit_card",
		PaymentMethodCounts:  []models.LabelCount{{Label: "credit_card", Count: 3}},
		MeanAmount:           20,
	})
	s.PutSenderPattern(&models.SenderPattern{
		Domain:            "anthropic.com",
		Keywords:          []string{"charged", "subscription"},
		ReceiptLikelihood: 0.6,
		Confidence:        0.5,
		SampleCount:       2,
		LastSeen:          seen,
	})
	s.PutMapping(&models.MerchantDomainMapping{
		MerchantKey:       "CLAUDE",
		Domain:            "anthropic.com",
		Confidence:        0.8,
		SampleCount:       3,
		AmountCorrelation: 0,
		LastSeen:          seen,
	})
	s.PutRule(&models.LearnedRule{
		ID:          "rule-1",
		MerchantKey: "CLAUDE",
		Domain:      "anthropic.com",
		Confidence:  0.8,
		CreatedAt:   seen,
		UpdatedAt:   seen,
	})
	return s
}

func assertEquivalent(t *testing.T, want, got *profile.Store) {
	t.Helper()
	assert.Equal(t, want.Counts(), got.Counts())

	for _, w := range want.MerchantProfiles() {
		g, ok := got.MerchantProfile(w.Key)
		require.True(t, ok, w.Key)
		assert.InDelta(t, w.Confidence, g.Confidence, 1e-9)
		assert.InDelta(t, w.ReceiptLikelihood, g.ReceiptLikelihood, 1e-9)
		assert.Equal(t, w.SampleCount, g.SampleCount)
		assert.Equal(t, w.Tags, g.Tags)
		assert.Equal(t, w.BillingCycle, g.BillingCycle)
		assert.True(t, w.LastSeen.Equal(g.LastSeen))
		assert.True(t, w.AmountRange.Min.Equal(g.AmountRange.Min))
		require.Len(t, g.CommonAmounts, len(w.CommonAmounts))
		assert.True(t, w.CommonAmounts[0].Amount.Equal(g.CommonAmounts[0].Amount))
	}
	for _, w := range want.SenderPatterns() {
		g, ok := got.SenderPattern(w.Domain)
		require.True(t, ok, w.Domain)
		assert.InDelta(t, w.Confidence, g.Confidence, 1e-9)
		assert.Equal(t, w.Keywords, g.Keywords)
	}
	for _, w := range want.Mappings() {
		g, ok := got.Mapping(w.MerchantKey, w.Domain)
		require.True(t, ok, w.Key())
		assert.InDelta(t, w.Confidence, g.Confidence, 1e-9)
		assert.Equal(t, w.SampleCount, g.SampleCount)
	}
	for _, w := range want.Rules() {
		g, ok := got.Rule(w.MerchantKey, w.Domain)
		require.True(t, ok)
		assert.Equal(t, w.ID, g.ID)
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
	}
}

func TestDocumentTopLevelKeys(t *testing.T) {
	data, err := json.Marshal(FromStore(sampleStore()))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"transaction_patterns", "email_patterns", "merchant_mappings", "learned_rules", "timestamp"} {
		assert.Contains(t, raw, key)
	}

	var patterns map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw["transaction_patterns"], &patterns))
	require.Contains(t, patterns, "CLAUDE")
	assert.Equal(t, "2025-06-28T00:00:00Z", patterns["CLAUDE"]["last_seen"])
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		file string
	}{
		{name: "json file", file: "profiles.json"},
		{name: "sqlite", file: "profiles.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			adapter, err := Open(filepath.Join(t.TempDir(), "nested", tt.file))
			require.NoError(t, err)
			defer adapter.Close()

			original := sampleStore()
			require.True(t, Save(ctx, adapter, original, logger.Discard()))

			restored, ok := Load(ctx, adapter, logger.Discard())
			require.True(t, ok)
			assertEquivalent(t, original, restored)
		})
	}
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewSQLiteAdapter(filepath.Join(t.TempDir(), "profiles.sqlite"))
	require.NoError(t, err)
	defer adapter.Close()

	require.True(t, Save(ctx, adapter, sampleStore(), logger.Discard()))
	require.True(t, Save(ctx, adapter, profile.NewStore(), logger.Discard()))

	restored, ok := Load(ctx, adapter, logger.Discard())
	require.True(t, ok)
	assert.Equal(t, profile.Counts{}, restored.Counts())
}

func TestRestoreMissingSnapshot(t *testing.T) {
	ctx := context.Background()
	file := NewFileAdapter(filepath.Join(t.TempDir(), "missing.json"))
	_, err := Restore(ctx, file)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	db, err := NewSQLiteAdapter(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = Restore(ctx, db)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestRestoreCorruptSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid json", content: `{"transaction_patterns": [`},
		{name: "bad timestamp", content: `{"transaction_patterns": {"CLAUDE": {"last_seen": "yesterday"}}, "timestamp": "2025-06-28T00:00:00Z"}`},
		{name: "confidence out of range", content: `{"email_patterns": {"x.com": {"confidence": 4}}, "timestamp": "2025-06-28T00:00:00Z"}`},
		{name: "mapping without domain", content: `{"merchant_mappings": {"CLAUDE|": {"merchant": "CLAUDE"}}, "timestamp": "2025-06-28T00:00:00Z"}`},
		{name: "future version", content: `{"version": 99, "timestamp": "2025-06-28T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "profiles.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			_, err := Restore(context.Background(), NewFileAdapter(path))
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategorySerialization))
		})
	}
}

func TestLoadCorruptReturnsEmptyStoreAndWarns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))

	var buf bytes.Buffer
	store, ok := Load(context.Background(), NewFileAdapter(path), logger.NewWithWriter(&buf, logger.DebugLevel))
	assert.False(t, ok)
	require.NotNil(t, store)
	assert.Equal(t, profile.Counts{}, store.Counts())
	assert.Contains(t, buf.String(), "level=warning")
	assert.Contains(t, buf.String(), "Failed to load profile snapshot")
}

func TestSaveToUnwritableSinkReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	var buf bytes.Buffer
	ok := Save(context.Background(), NewFileAdapter(filepath.Join(blocker, "profiles.json")), sampleStore(), logger.NewWithWriter(&buf, logger.DebugLevel))
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "Failed to save profile snapshot")
}

func TestIsSQLitePath(t *testing.T) {
	assert.True(t, IsSQLitePath("data/profiles.db"))
	assert.True(t, IsSQLitePath("profiles.SQLITE"))
	assert.False(t, IsSQLitePath("profiles.json"))
	assert.False(t, IsSQLitePath("profiles"))
}
