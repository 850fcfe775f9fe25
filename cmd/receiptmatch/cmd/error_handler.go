package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	stderrors "errors"

	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a handler that reports to out.
func NewCLIErrorHandler(out io.Writer, verbose bool) *CLIErrorHandler {
	if out == nil {
		out = os.Stderr
	}
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     out,
		verbose: verbose,
	}
}

// HandleError prints err and returns the process exit code for it.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", categoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more details\n")
	}
	return 1
}

func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure the profile snapshot directory is writable`

	case errors.CategoryParse:
		return `Parse error help:
• Transaction CSVs need merchant, amount and date columns
• Email CSVs need from, subject, body and date columns; JSON files hold an array of objects
• Ensure the file uses UTF-8 encoding
• Column names can be remapped in the transactions/emails sections of --config`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Dates must be YYYY-MM-DD
• Amounts are decimal numbers; currency symbols and thousands separators are stripped`

	case errors.CategorySerialization:
		return `Profile snapshot help:
• The snapshot may be corrupt; move it aside and run 'receiptmatch learn' again
• Use a .db or .sqlite extension to store profiles in SQLite instead of JSON`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Thresholds must lie in [0, 1] and --min-inclusion must not exceed --acceptance
• Verify configuration file syntax if using --config`

	default:
		return `For more help:
• Use 'receiptmatch --help' for general help
• Use 'receiptmatch <command> --help' for command-specific help`
	}
}

func isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || stderrors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) || stderrors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied")
}

func isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full")
}
