// Package config turns viper settings (config file, RECEIPTMATCH_* env vars
// and bound command-line flags) into the component configurations used by
// the receiptmatch commands.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"receipt-reconciliation-service/internal/engine"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// Keys of the top-level settings that commands bind flags to.
const (
	KeyProfiles      = "profiles"
	KeyOutputFormat  = "output-format"
	KeyOutputFile    = "output-file"
	KeyLogLevel      = "log-level"
	KeyLogFormat     = "log-format"
	KeyVerbose       = "verbose"
	KeyMinInclusion  = "min-inclusion"
	KeyAcceptance    = "acceptance"
	KeyDateTolerance = "date-tolerance"
	KeyWorkers       = "workers"
	KeyProgress      = "progress"
)

// Sections of the config file.
const (
	SectionLearning     = "learning"
	SectionPrediction   = "prediction"
	SectionMatching     = "matching"
	SectionTransactions = "transactions"
	SectionEmails       = "emails"
	SectionReport       = "report"
)

// SetDefaults registers the defaults of the top-level settings.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyProfiles, "profiles.json")
	v.SetDefault(KeyOutputFormat, string(reporter.FormatConsole))
	v.SetDefault(KeyLogLevel, string(logger.WarnLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
	v.SetDefault(KeyWorkers, 4)
}

// decodeHook lets config files spell amounts as numbers or strings and
// delimiters as one-character strings.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		decimalHook,
		runeHook,
		mapstructure.StringToSliceHookFunc(","),
	)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return data, nil
	}
}

func runeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Int32 {
		return data, nil
	}
	s := data.(string)
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return nil, fmt.Errorf("expected a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// unmarshalSection decodes section over target, leaving defaults in place
// for anything the section does not mention.
func unmarshalSection(v *viper.Viper, section string, target interface{}) error {
	if !v.IsSet(section) {
		return nil
	}
	if err := v.UnmarshalKey(section, target, viper.DecodeHook(decodeHook())); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, section, v.Get(section), err)
	}
	return nil
}

// BuildEngineConfig returns the engine configuration: defaults, then the
// learning/prediction/matching sections of the config file, then the
// threshold flags.
func BuildEngineConfig(v *viper.Viper) (*engine.Config, error) {
	cfg := engine.DefaultConfig()

	if err := unmarshalSection(v, SectionLearning, cfg.Learning); err != nil {
		return nil, err
	}
	if err := unmarshalSection(v, SectionPrediction, cfg.Prediction); err != nil {
		return nil, err
	}
	if err := unmarshalSection(v, SectionMatching, cfg.Matching); err != nil {
		return nil, err
	}

	if v.IsSet(KeyMinInclusion) {
		cfg.Matching.MinInclusionScore = v.GetFloat64(KeyMinInclusion)
	}
	if v.IsSet(KeyAcceptance) {
		cfg.Matching.AcceptanceThreshold = v.GetFloat64(KeyAcceptance)
	}
	if v.IsSet(KeyDateTolerance) {
		cfg.Matching.DateToleranceDays = v.GetInt(KeyDateTolerance)
		if cfg.Matching.DateWindowDays < cfg.Matching.DateToleranceDays {
			cfg.Matching.DateWindowDays = cfg.Matching.DateToleranceDays
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "engine", "", err).
			WithSuggestion("check the learning, prediction and matching sections and the threshold flags")
	}
	return cfg, nil
}

// CreateTransactionParserConfig returns the transaction column mapping.
func CreateTransactionParserConfig(v *viper.Viper) (*parsers.TransactionParserConfig, error) {
	cfg := parsers.DefaultTransactionParserConfig()
	if err := unmarshalSection(v, SectionTransactions, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, SectionTransactions, "", err)
	}
	return cfg, nil
}

// CreateEmailParserConfig returns the email column mapping.
func CreateEmailParserConfig(v *viper.Viper) (*parsers.EmailParserConfig, error) {
	cfg := parsers.DefaultEmailParserConfig()
	if err := unmarshalSection(v, SectionEmails, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, SectionEmails, "", err)
	}
	return cfg, nil
}

// CreateReportConfig creates a report configuration for the requested
// output format.
func CreateReportConfig(v *viper.Viper) (*reporter.ReportConfig, error) {
	cfg := reporter.DefaultReportConfig()
	if err := unmarshalSection(v, SectionReport, cfg); err != nil {
		return nil, err
	}

	format := reporter.OutputFormat(strings.ToLower(v.GetString(KeyOutputFormat)))
	if format != "" {
		cfg.Format = format
	}

	switch cfg.Format {
	case reporter.FormatCSV:
		cfg.CSVHeaders = true
	case reporter.FormatJSON, reporter.FormatYAML:
		// Structured output is consumed by programs; lists are never cut.
		cfg.MaxListItems = 0
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyOutputFormat, cfg.Format, err).
			WithSuggestion("use one of: console, json, yaml, csv")
	}
	return cfg, nil
}

// CreateLoggerConfig builds the logger configuration. Verbose forces debug
// output.
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.Level(strings.ToLower(v.GetString(KeyLogLevel)))
	cfg.Format = logger.Format(strings.ToLower(v.GetString(KeyLogFormat)))
	if v.GetBool(KeyVerbose) {
		cfg.Level = logger.DebugLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyLogLevel, cfg.Level, err)
	}
	return cfg, nil
}
