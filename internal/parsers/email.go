package parsers

import (
	"context"
	"io"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// EmailParser handles parsing of email export CSV and JSON files
type EmailParser struct {
	*BaseParser
	config *EmailParserConfig
	logger logger.Logger
}

// NewEmailParser creates a new EmailParser with the given configuration
func NewEmailParser(config *EmailParserConfig, log logger.Logger) (*EmailParser, error) {
	if config == nil {
		config = DefaultEmailParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"email_parser_config",
			config,
			err,
		).WithSuggestion("Check the email parser configuration values")
	}

	return &EmailParser{
		BaseParser: NewBaseParser(parseConfigFor(config.HasHeader, config.Delimiter), log),
		config:     config,
		logger:     logger.OrGlobal(log).WithComponent("email_parser"),
	}, nil
}

// ParseFile parses an email file, choosing the format by extension.
func (ep *EmailParser) ParseFile(ctx context.Context, filePath string) ([]*models.Email, *ParseStats, error) {
	file, err := ep.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	emails, stats, err := ep.Parse(ctx, file, DetectFormat(filePath), filePath)
	if err != nil {
		return emails, stats, err
	}

	ep.logger.WithFields(logger.Fields{
		"file_path":      filePath,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
		"error_count":    stats.ErrorCount,
	}).Info("Email parsing completed")
	return emails, stats, nil
}

// Parse reads emails from r in the given format.
func (ep *EmailParser) Parse(ctx context.Context, r io.Reader, format Format, source string) ([]*models.Email, *ParseStats, error) {
	stats := NewParseStats()
	stats.Files = 1

	if format == FormatJSON {
		emails, err := decodeJSONRecords[models.Email](ctx, r, source, stats, ep.logger)
		stats.RecordsValid = len(emails)
		return emails, stats, err
	}

	reader := ep.NewReader(r)
	parseCtx := NewParseContext(ctx, source)
	required := []string{ep.config.GetColumnName("from")}
	defaults := []string{
		ep.config.GetColumnName("from"),
		ep.config.GetColumnName("subject"),
		ep.config.GetColumnName("body"),
		ep.config.GetColumnName("date"),
		ep.config.GetColumnName("has_attachments"),
		ep.config.GetColumnName("id"),
	}
	if err := ep.ReadHeaders(reader, parseCtx, required, defaults); err != nil {
		return nil, stats, err
	}

	emails := []*models.Email{}
	for {
		record, err := ep.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if rerr, ok := errors.AsReconcilerError(err); ok {
				stats.AddError(rerr)
				continue
			}
			return emails, stats, err
		}

		stats.RecordsParsed++
		email, perr := ep.parseEmailFromRecord(record, parseCtx)
		if perr != nil {
			stats.AddError(perr)
			continue
		}
		emails = append(emails, email)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber
	return emails, stats, nil
}

func (ep *EmailParser) parseEmailFromRecord(record []string, parseCtx *ParseContext) (*models.Email, *errors.ReconcilerError) {
	email := &models.Email{
		ID:      ep.FieldValue(record, parseCtx, ep.config.GetColumnName("id")),
		From:    ep.FieldValue(record, parseCtx, ep.config.GetColumnName("from")),
		Subject: ep.FieldValue(record, parseCtx, ep.config.GetColumnName("subject")),
		Body:    ep.FieldValue(record, parseCtx, ep.config.GetColumnName("body")),
	}

	dateColumn := ep.config.GetColumnName("date")
	if dateStr := ep.FieldValue(record, parseCtx, dateColumn); dateStr != "" {
		date, err := models.ParseDate(dateStr)
		if err != nil {
			return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.Source, parseCtx.LineNumber, dateColumn, err).
				WithSuggestion("Use a date such as '2025-06-28' or an RFC 1123 Date header")
		}
		email.Date = date
	}

	attachmentsColumn := ep.config.GetColumnName("has_attachments")
	hasAttachments, err := parseBool(ep.FieldValue(record, parseCtx, attachmentsColumn))
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.Source, parseCtx.LineNumber, attachmentsColumn, err)
	}
	email.HasAttachments = hasAttachments

	return email, nil
}
