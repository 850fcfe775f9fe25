package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// RenderFunc writes one report with the given generator.
type RenderFunc func(rg *ReportGenerator, writer io.Writer) error

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report configuration values")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          logger.OrGlobal(log).WithComponent("reporter"),
	}, nil
}

// Render runs render against writer. When a structured format fails the
// report is retried as console text; when writing to a file fails it is
// retried into a sibling backup file.
func (srg *SafeReportGenerator) Render(render RenderFunc, writer io.Writer) error {
	if render == nil || writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	err := render(srg.ReportGenerator, writer)
	if err == nil {
		return nil
	}
	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if file, ok := writer.(*os.File); ok && isFileError(err) {
		return srg.renderToBackup(render, file, err)
	}
	if srg.config.Format != FormatConsole {
		return srg.renderAsConsole(render, writer, err)
	}
	return wrapGenerationError(err)
}

func (srg *SafeReportGenerator) renderAsConsole(render RenderFunc, writer io.Writer, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	fallback, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := render(fallback, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.WithField("fallback_format", FormatConsole).Info("Report generated using format fallback")
	return nil
}

func (srg *SafeReportGenerator) renderToBackup(render RenderFunc, file *os.File, originalErr error) error {
	originalPath := file.Name()
	backupPath := backupPath(originalPath)

	backup, err := os.Create(backupPath)
	if err != nil {
		return wrapGenerationError(originalErr)
	}
	defer backup.Close()

	if err := render(srg.ReportGenerator, backup); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Warn("Report written to backup location")
	return nil
}

func isFileError(err error) bool {
	if os.IsPermission(err) || os.IsNotExist(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "file already closed")
}

func backupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", strings.TrimSuffix(base, ext), ext))
}

func wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return errors.InternalError(
		errors.CodeUnexpectedError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	if f, ok := writer.(*os.File); ok {
		return "file:" + f.Name()
	}
	return fmt.Sprintf("writer:%T", writer)
}
