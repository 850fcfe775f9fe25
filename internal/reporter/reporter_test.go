package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"receipt-reconciliation-service/internal/learner"
	"receipt-reconciliation-service/internal/matcher"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/predictor"
	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/logger"
)

func sampleTransactions() []*models.Transaction {
	claude := models.NewTransaction("CLAUDE", decimal.RequireFromString("20.00"), models.MustParseDate("2025-06-28"))
	coffee := models.NewTransaction("SQUARE *COFFEE SHOP", decimal.RequireFromString("6.75"), models.MustParseDate("2025-06-28"))
	return []*models.Transaction{claude, coffee}
}

func sampleEmails() []*models.Email {
	return []*models.Email{
		{From: "billing@anthropic.com", Subject: "Your Claude subscription", Body: "Amount charged: $20.00", Date: models.MustParseDate("2025-06-28")},
		{From: "news@example.com", Subject: "Weekly digest", Body: "Nothing to see", Date: models.MustParseDate("2025-06-28")},
	}
}

func sampleResult() *matcher.ReconciliationResult {
	r := matcher.NewReconciler(nil, profile.NewStore(), logger.Discard())
	return r.ReconcileBatch(sampleTransactions(), sampleEmails(), 0.7)
}

func generator(t *testing.T, format OutputFormat) *ReportGenerator {
	t.Helper()
	config := DefaultReportConfig()
	config.Format = format
	rg, err := NewReportGenerator(config)
	require.NoError(t, err)
	return rg
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{name: "default config", config: nil},
		{name: "valid config", config: DefaultReportConfig()},
		{
			name:        "invalid format",
			config:      &ReportConfig{Format: "invalid", TableMaxWidth: 120},
			expectError: true,
		},
		{
			name:        "table width too small",
			config:      &ReportConfig{Format: FormatConsole, TableMaxWidth: 30},
			expectError: true,
		},
		{
			name:        "negative list limit",
			config:      &ReportConfig{Format: FormatYAML, TableMaxWidth: 80, MaxListItems: -1},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rg, err := NewReportGenerator(tt.config)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, rg.GetConfiguration())
		})
	}
}

func TestGenerateReportConsole(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generator(t, FormatConsole).GenerateReport(sampleResult(), &buf))

	out := buf.String()
	assert.Contains(t, out, "RECEIPT RECONCILIATION REPORT")
	assert.Contains(t, out, "Matched:   1 (50.0%)")
	assert.Contains(t, out, "=== MATCHED RECEIPTS ===")
	assert.Contains(t, out, "Claude 20.00 <- billing@anthropic.com")
	assert.Contains(t, out, "Square *Coffee Shop")
	assert.Contains(t, out, "news@example.com")
}

func TestGenerateReportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generator(t, FormatJSON).GenerateReport(sampleResult(), &buf))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "summary")
	assert.Contains(t, decoded, "matches")

	matches := decoded["matches"].([]interface{})
	require.Len(t, matches, 1)
	first := matches[0].(map[string]interface{})
	assert.Equal(t, "Exact", first["match_type"])
}

func TestGenerateReportYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generator(t, FormatYAML).GenerateReport(sampleResult(), &buf))

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	summary, ok := decoded["summary"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 2, summary["total_transactions"])
}

func TestGenerateReportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generator(t, FormatCSV).GenerateReport(sampleResult(), &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Status", records[0][0])
	assert.Equal(t, "Matched", records[1][0])
	assert.Equal(t, "Unmatched Transaction", records[2][0])
	assert.Equal(t, "Unmatched Email", records[3][0])
}

func TestGenerateReportNilResult(t *testing.T) {
	assert.Error(t, generator(t, FormatConsole).GenerateReport(nil, io.Discard))
}

func TestGenerateLearningReport(t *testing.T) {
	store := profile.NewStore()
	l := learner.NewTransactionLearner(store, learner.DefaultConfig(), logger.Discard())
	txs := sampleTransactions()
	txs = append(txs, sampleTransactions()...)
	txs = append(txs, &models.Transaction{Merchant: "MISSING AMOUNT"})
	stats := l.Learn(txs)

	var buf bytes.Buffer
	require.NoError(t, generator(t, FormatConsole).GenerateLearningReport([]*learner.LearningStats{stats}, store.Counts(), &buf))
	out := buf.String()
	assert.Contains(t, out, "Records Skipped:   1")
	assert.Contains(t, out, "Profiles Created:  2")
	assert.Contains(t, out, "skipped missing_field:")
	assert.Contains(t, out, "Merchant Profiles: 2")

	buf.Reset()
	require.NoError(t, generator(t, FormatCSV).GenerateLearningReport([]*learner.LearningStats{stats}, store.Counts(), &buf))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[1][5])
}

func TestGeneratePredictionReport(t *testing.T) {
	p := predictor.New(profile.NewStore(), nil, logger.Discard())
	predictions := []*predictor.Prediction{p.Predict(sampleTransactions()[0])}

	var buf bytes.Buffer
	require.NoError(t, generator(t, FormatJSON).GeneratePredictionReport(predictions, &buf))

	var decoded struct {
		Predictions []predictor.Prediction `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Predictions, 1)
	assert.Equal(t, "CLAUDE", decoded.Predictions[0].MerchantKey)
}

func TestGenerateCandidateReportTruncates(t *testing.T) {
	r := matcher.NewReconciler(nil, profile.NewStore(), logger.Discard())
	tx := sampleTransactions()[0]
	var emails []*models.Email
	for i := 0; i < 4; i++ {
		emails = append(emails, sampleEmails()[0])
	}
	lists := []CandidateList{{Transaction: tx, Candidates: r.FindCandidates(tx, emails, 0.3)}}

	config := DefaultReportConfig()
	config.MaxListItems = 2
	rg, err := NewReportGenerator(config)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rg.GenerateCandidateReport(lists, &buf))
	assert.Contains(t, buf.String(), "... and 2 more")
	assert.Equal(t, 2, strings.Count(buf.String(), "billing@anthropic.com"))
}

func TestGenerateProfileReport(t *testing.T) {
	store := profile.NewStore()
	store.PutMerchantProfile(&models.MerchantProfile{
		Key:               "SQUARE *COFFEE SHOP",
		ReceiptLikelihood: 1,
		Confidence:        0.5,
		SampleCount:       2,
		BillingCycle:      models.BillingIrregular,
		Tags:              []string{models.TagConsistentAmounts},
		LastSeen:          time.Date(2025, 6, 28, 0, 0, 0, 0, time.UTC),
	})
	store.PutMapping(&models.MerchantDomainMapping{MerchantKey: "CLAUDE", Domain: "anthropic.com", Confidence: 0.7, SampleCount: 2})

	var buf bytes.Buffer
	require.NoError(t, generator(t, FormatConsole).GenerateProfileReport(store, &buf))
	out := buf.String()
	assert.Contains(t, out, "Square *Coffee Shop")
	assert.Contains(t, out, "[consistent_amounts]")
	assert.Contains(t, out, "-> anthropic.com")

	assert.Error(t, generator(t, FormatConsole).GenerateProfileReport(nil, &buf))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	if bytes.HasPrefix(p, []byte("{")) {
		return 0, errors.New("encoder failure")
	}
	return len(p), nil
}

func TestSafeReportGeneratorFallsBackToConsole(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	srg, err := NewSafeReportGenerator(config, logger.Discard())
	require.NoError(t, err)

	result := sampleResult()
	err = srg.Render(func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateReport(result, w)
	}, failingWriter{})
	assert.NoError(t, err)
}

func TestSafeReportGeneratorWritesBackupFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	srg, err := NewSafeReportGenerator(nil, logger.Discard())
	require.NoError(t, err)

	result := sampleResult()
	err = srg.Render(func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateReport(result, w)
	}, f)
	require.NoError(t, err)

	backup, err := os.ReadFile(filepath.Join(dir, "report_backup.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(backup), "RECEIPT RECONCILIATION REPORT")
}

func TestSafeReportGeneratorRejectsInvalidConfig(t *testing.T) {
	_, err := NewSafeReportGenerator(&ReportConfig{Format: "xml", TableMaxWidth: 80}, logger.Discard())
	assert.Error(t, err)
}
