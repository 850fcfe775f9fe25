package config

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestBuildEngineConfigDefaults(t *testing.T) {
	cfg, err := BuildEngineConfig(newViper(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Matching.MinInclusionScore)
	assert.Equal(t, 0.7, cfg.Matching.AcceptanceThreshold)
	assert.Equal(t, 3, cfg.Matching.DateToleranceDays)
	assert.Equal(t, 2, cfg.Learning.MinGroupSize)
}

func TestBuildEngineConfigFromFile(t *testing.T) {
	v := newViper(t, `
learning:
  min_group_size: 3
  payment_method_priors:
    credit_card: 0.75
matching:
  acceptance_threshold: 0.8
  close_amount_tolerance: "2.50"
  loose_amount_tolerance: 10
`)
	cfg, err := BuildEngineConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Learning.MinGroupSize)
	assert.Equal(t, 0.75, cfg.Learning.PaymentMethodPriors["credit_card"])
	assert.Equal(t, 0.8, cfg.Matching.AcceptanceThreshold)
	assert.True(t, cfg.Matching.CloseAmountTolerance.Equal(decimal.RequireFromString("2.50")))
	assert.True(t, cfg.Matching.LooseAmountTolerance.Equal(decimal.NewFromInt(10)))
	// untouched keys keep their defaults
	assert.Equal(t, 0.3, cfg.Matching.MinInclusionScore)
}

func TestBuildEngineConfigFlagsOverrideFile(t *testing.T) {
	v := newViper(t, "matching:\n  acceptance_threshold: 0.8\n")
	v.Set(KeyAcceptance, 0.9)
	v.Set(KeyMinInclusion, 0.4)
	v.Set(KeyDateTolerance, 5)

	cfg, err := BuildEngineConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Matching.AcceptanceThreshold)
	assert.Equal(t, 0.4, cfg.Matching.MinInclusionScore)
	assert.Equal(t, 5, cfg.Matching.DateToleranceDays)

	v.Set(KeyDateTolerance, 10)
	cfg, err = BuildEngineConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Matching.DateWindowDays)
}

func TestBuildEngineConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		set  map[string]interface{}
	}{
		{name: "acceptance below inclusion", set: map[string]interface{}{KeyMinInclusion: 0.8, KeyAcceptance: 0.5}},
		{name: "threshold out of range", set: map[string]interface{}{KeyAcceptance: 1.5}},
		{name: "bad decimal", yaml: "matching:\n  exact_amount_tolerance: abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t, tt.yaml)
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := BuildEngineConfig(v)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestCreateTransactionParserConfig(t *testing.T) {
	v := newViper(t, `
transactions:
  merchant_column: Description
  amount_column: Debit
  delimiter: ";"
`)
	cfg, err := CreateTransactionParserConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "Description", cfg.MerchantColumn)
	assert.Equal(t, "Debit", cfg.AmountColumn)
	assert.Equal(t, ';', cfg.Delimiter)
	assert.Equal(t, "date", cfg.DateColumn)

	v = newViper(t, "transactions:\n  delimiter: \"ab\"\n")
	_, err = CreateTransactionParserConfig(v)
	assert.Error(t, err)
}

func TestCreateEmailParserConfig(t *testing.T) {
	v := newViper(t, "emails:\n  from_column: sender\n  delimiter: '\\t'\n")
	cfg, err := CreateEmailParserConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "sender", cfg.FromColumn)
	assert.Equal(t, '\t', cfg.Delimiter)
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		name        string
		format      string
		expectError bool
		check       func(t *testing.T, cfg *reporter.ReportConfig)
	}{
		{
			name:   "console keeps list limit",
			format: "console",
			check: func(t *testing.T, cfg *reporter.ReportConfig) {
				assert.Equal(t, 10, cfg.MaxListItems)
			},
		},
		{
			name:   "json lists everything",
			format: "JSON",
			check: func(t *testing.T, cfg *reporter.ReportConfig) {
				assert.Equal(t, reporter.FormatJSON, cfg.Format)
				assert.Equal(t, 0, cfg.MaxListItems)
			},
		},
		{
			name:   "csv has headers",
			format: "csv",
			check: func(t *testing.T, cfg *reporter.ReportConfig) {
				assert.True(t, cfg.CSVHeaders)
			},
		},
		{name: "unknown format", format: "xml", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t, "")
			v.Set(KeyOutputFormat, tt.format)
			cfg, err := CreateReportConfig(v)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestCreateLoggerConfig(t *testing.T) {
	v := newViper(t, "")
	cfg, err := CreateLoggerConfig(v)
	require.NoError(t, err)
	assert.Equal(t, logger.WarnLevel, cfg.Level)

	v.Set(KeyVerbose, true)
	cfg, err = CreateLoggerConfig(v)
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, cfg.Level)

	v = newViper(t, "")
	v.Set(KeyLogLevel, "loud")
	_, err = CreateLoggerConfig(v)
	assert.Error(t, err)
}
