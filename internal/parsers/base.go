// Package parsers loads transaction and email batches from CSV and JSON
// files.
//
// Every parser fully materializes its output before returning, so the
// result can be handed straight to a learner. Records that cannot be
// decoded are counted in ParseStats and skipped; records that decode but
// miss required fields are passed through so learners can count them.
//
// Example usage:
//
//	parser, err := NewTransactionParser(nil)
//	transactions, stats, err := parser.ParseFile(ctx, "transactions.csv")
//
//	emails, stats, err := NewConcurrentParser(4).ParseEmailFiles(ctx, paths, nil)
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// Format is an input file encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// DetectFormat picks the format from the file extension. Unknown
// extensions are read as CSV.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field, email bodies included
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig, log logger.Logger) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.OrGlobal(log).WithComponent("base_parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}

	lowerName := strings.ToLower(name)
	for header, index := range pc.HeaderMap {
		if strings.ToLower(header) == lowerName {
			return index
		}
	}
	return -1
}

// OpenFile opens a file for reading, validating its encoding when
// configured. The caller closes the file.
func (bp *BaseParser) OpenFile(filePath string) (*os.File, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening input file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open input file")
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			return nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
	}
	return file, nil
}

// NewReader wraps r in a csv.Reader configured for this parser.
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

// validateEncoding checks if the file contains valid UTF-8 text
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), bp.config.MaxFieldSize+1024)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 { // Check first 100 lines
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeInvalidFormat,
				filePath,
				lineNum,
				"encoding",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			).WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.ParseError(errors.CodeInvalidFormat, filePath, lineNum, "encoding", err)
	}
	return nil
}

// ReadHeaders reads and validates the header row
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, requiredHeaders, defaultHeaders []string) error {
	if !bp.config.HasHeader {
		parseCtx.Headers = append([]string(nil), defaultHeaders...)
		bp.buildHeaderMap(parseCtx)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ParseError(
				errors.CodeInvalidFormat,
				parseCtx.Source,
				1,
				"headers",
				fmt.Errorf("file is empty"),
			).WithSuggestion("Ensure the file contains header and data rows")
		}
		return errors.ParseError(
			errors.CodeInvalidFormat,
			parseCtx.Source,
			1,
			"headers",
			err,
		).WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.Headers = bp.cleanHeaders(headers)
	bp.buildHeaderMap(parseCtx)

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read headers")

	missing := bp.findMissingHeaders(parseCtx, requiredHeaders)
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")

		return errors.ParseError(
			errors.CodeMissingColumn,
			parseCtx.Source,
			parseCtx.LineNumber,
			strings.Join(missing, ", "),
			nil,
		).WithSuggestion(fmt.Sprintf("Ensure the CSV file contains these headers: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// cleanHeaders removes whitespace and a UTF-8 byte order mark
func (bp *BaseParser) cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, "\ufeff")
		}
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

func (bp *BaseParser) buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers))
	for i, header := range parseCtx.Headers {
		parseCtx.HeaderMap[header] = i
	}
}

func (bp *BaseParser) findMissingHeaders(parseCtx *ParseContext, required []string) []string {
	var missing []string
	for _, header := range required {
		if parseCtx.GetColumnIndex(header) == -1 {
			missing = append(missing, header)
		}
	}
	return missing
}

// ReadRecord returns the next non-empty record. It returns io.EOF at the
// end of input.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, parseCtx.ctx.Err()
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			parseCtx.LineNumber++
			bp.logger.WithError(err).WithField("line_number", parseCtx.LineNumber).Warn("Failed to read CSV record")
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, parseCtx.LineNumber, "record", err)
		}

		parseCtx.LineNumber++

		if bp.config.SkipEmptyRows && bp.isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(
						errors.CodeInvalidData,
						parseCtx.Source,
						parseCtx.LineNumber,
						fieldName(parseCtx, i),
						fmt.Errorf("field size %d exceeds limit of %d bytes", len(field), bp.config.MaxFieldSize),
					)
				}
			}
		}
		return record, nil
	}
}

func fieldName(parseCtx *ParseContext, index int) string {
	if index < len(parseCtx.Headers) {
		return parseCtx.Headers[index]
	}
	return fmt.Sprintf("field_%d", index)
}

func (bp *BaseParser) isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// FieldValue returns the trimmed value of a column, or "" when the column
// is absent from the headers or the record is short.
func (bp *BaseParser) FieldValue(record []string, parseCtx *ParseContext, column string) string {
	if column == "" {
		return ""
	}
	index := parseCtx.GetColumnIndex(column)
	if index == -1 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	Files         int
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*errors.ReconcilerError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{Errors: make([]*errors.ReconcilerError, 0)}
}

// AddError records a skipped record.
func (ps *ParseStats) AddError(err *errors.ReconcilerError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// Merge adds other's counts and errors to ps.
func (ps *ParseStats) Merge(other *ParseStats) {
	if other == nil {
		return
	}
	ps.Files += other.Files
	ps.TotalLines += other.TotalLines
	ps.RecordsParsed += other.RecordsParsed
	ps.RecordsValid += other.RecordsValid
	ps.ErrorCount += other.ErrorCount
	ps.Errors = append(ps.Errors, other.Errors...)
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns a sample of the parsing errors for logging/debugging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}
