package parsers

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// TransactionParser handles parsing of transaction CSV and JSON files
type TransactionParser struct {
	*BaseParser
	config *TransactionParserConfig
	logger logger.Logger
}

// NewTransactionParser creates a new TransactionParser with the given configuration
func NewTransactionParser(config *TransactionParserConfig, log logger.Logger) (*TransactionParser, error) {
	if config == nil {
		config = DefaultTransactionParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"transaction_parser_config",
			config,
			err,
		).WithSuggestion("Check the transaction parser configuration values")
	}

	return &TransactionParser{
		BaseParser: NewBaseParser(parseConfigFor(config.HasHeader, config.Delimiter), log),
		config:     config,
		logger:     logger.OrGlobal(log).WithComponent("transaction_parser"),
	}, nil
}

// ParseFile parses a transaction file, choosing the format by extension.
func (tp *TransactionParser) ParseFile(ctx context.Context, filePath string) ([]*models.Transaction, *ParseStats, error) {
	tp.logger.WithFields(logger.Fields{
		"file_path": filePath,
		"operation": "parse_transactions",
	}).Info("Starting transaction parsing")

	file, err := tp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	transactions, stats, err := tp.Parse(ctx, file, DetectFormat(filePath), filePath)
	if err != nil {
		return transactions, stats, err
	}

	tp.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Info("Transaction parsing completed")

	if stats.HasErrors() {
		tp.logger.WithField("sample_errors", stats.GetSampleErrors(3)).Warn("Encountered errors during parsing")
	}
	return transactions, stats, nil
}

// Parse reads transactions from r in the given format. source names the
// input in errors.
func (tp *TransactionParser) Parse(ctx context.Context, r io.Reader, format Format, source string) ([]*models.Transaction, *ParseStats, error) {
	stats := NewParseStats()
	stats.Files = 1

	if format == FormatJSON {
		transactions, err := decodeJSONRecords[models.Transaction](ctx, r, source, stats, tp.logger)
		stats.RecordsValid = len(transactions)
		return transactions, stats, err
	}

	reader := tp.NewReader(r)
	parseCtx := NewParseContext(ctx, source)
	if err := tp.ReadHeaders(reader, parseCtx, tp.requiredHeaders(), tp.defaultHeaders()); err != nil {
		return nil, stats, err
	}

	transactions := []*models.Transaction{}
	for {
		record, err := tp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if rerr, ok := errors.AsReconcilerError(err); ok {
				stats.AddError(rerr)
				continue
			}
			// Context cancellation.
			return transactions, stats, err
		}

		stats.RecordsParsed++
		transaction, perr := tp.parseTransactionFromRecord(record, parseCtx)
		if perr != nil {
			tp.logger.WithError(perr).WithField("line_number", parseCtx.LineNumber).Debug("Skipping transaction record")
			stats.AddError(perr)
			continue
		}

		transactions = append(transactions, transaction)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	return transactions, stats, nil
}

func (tp *TransactionParser) requiredHeaders() []string {
	return []string{
		tp.config.GetColumnName("merchant"),
		tp.config.GetColumnName("amount"),
	}
}

// defaultHeaders is the column order assumed for files without a header row.
func (tp *TransactionParser) defaultHeaders() []string {
	return []string{
		tp.config.GetColumnName("merchant"),
		tp.config.GetColumnName("amount"),
		tp.config.GetColumnName("date"),
		tp.config.GetColumnName("category"),
		tp.config.GetColumnName("payment_method"),
		tp.config.GetColumnName("has_tip"),
		tp.config.GetColumnName("id"),
	}
}

// parseTransactionFromRecord creates a Transaction from a CSV record. An
// empty amount or merchant is kept so the learner can count the record as
// skipped; an amount, date or flag that is present but unreadable fails the
// record.
func (tp *TransactionParser) parseTransactionFromRecord(record []string, parseCtx *ParseContext) (*models.Transaction, *errors.ReconcilerError) {
	tx := &models.Transaction{
		ID:            tp.FieldValue(record, parseCtx, tp.config.GetColumnName("id")),
		Merchant:      tp.FieldValue(record, parseCtx, tp.config.GetColumnName("merchant")),
		Category:      tp.FieldValue(record, parseCtx, tp.config.GetColumnName("category")),
		PaymentMethod: tp.FieldValue(record, parseCtx, tp.config.GetColumnName("payment_method")),
	}

	amountColumn := tp.config.GetColumnName("amount")
	if amountStr := tp.FieldValue(record, parseCtx, amountColumn); amountStr != "" {
		amount, err := models.ParseDecimalFromString(amountStr)
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.Source, parseCtx.LineNumber, amountColumn, err).
				WithSuggestion("Check the amount format - use decimal numbers like '123.45'")
		}
		tx.Amount = decimal.NewNullDecimal(amount)
	}

	dateColumn := tp.config.GetColumnName("date")
	if dateStr := tp.FieldValue(record, parseCtx, dateColumn); dateStr != "" {
		date, err := models.ParseDate(dateStr)
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.Source, parseCtx.LineNumber, dateColumn, err).
				WithSuggestion("Use a date such as '2025-06-28'")
		}
		tx.Date = date
	}

	tipColumn := tp.config.GetColumnName("has_tip")
	hasTip, err := parseBool(tp.FieldValue(record, parseCtx, tipColumn))
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.Source, parseCtx.LineNumber, tipColumn,
			fmt.Errorf("has_tip: %w", err))
	}
	tx.HasTip = hasTip

	return tx, nil
}
