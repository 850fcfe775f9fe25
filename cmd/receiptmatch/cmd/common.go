package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/schollz/progressbar/v3"

	"receipt-reconciliation-service/cmd/receiptmatch/config"
	"receipt-reconciliation-service/internal/engine"
	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/internal/parsers"
	"receipt-reconciliation-service/internal/persistence"
	"receipt-reconciliation-service/internal/reporter"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// openEngine builds an engine from the current settings and loads the
// profile snapshot when one exists. A missing snapshot is a normal first run.
func (a *app) openEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, err := config.BuildEngineConfig(a.v)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(cfg, a.logger)
	if err != nil {
		return nil, err
	}

	path := a.v.GetString(config.KeyProfiles)
	if path == "" {
		return eng, nil
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		a.logger.WithField("profiles", path).Info("No profile snapshot yet, starting empty")
		return eng, nil
	}
	log := a.logger.WithFields(logger.Fields{"profiles": path, "backend": snapshotBackend(path)})
	if !eng.Load(ctx, path) {
		log.Warn("Profile snapshot could not be loaded, starting empty")
		return eng, nil
	}
	log.WithField("merchant_profiles", eng.Snapshot().Counts().MerchantProfiles).Debug("Loaded profile snapshot")
	return eng, nil
}

// saveEngine writes the engine's profiles to the configured snapshot. A
// failed save is retried a few times since a SQLite snapshot may be held by
// another process.
func (a *app) saveEngine(ctx context.Context, eng *engine.Engine) error {
	path := a.v.GetString(config.KeyProfiles)
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.FileError(errors.CodeFileWrite, path, err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if eng.Save(ctx, path) {
			return nil
		}
		a.logger.WithFields(logger.Fields{"profiles": path, "attempt": attempt}).Debug("Snapshot save failed")
		return fmt.Errorf("save attempt %d failed", attempt)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, saveRetries), ctx))
	if err != nil {
		return errors.SerializationError(errors.CodeSinkFailed, path, err).
			WithSuggestion("check that the profile snapshot location is writable")
	}
	return nil
}

const saveRetries = 2

// progress returns a bar on stderr, or a silent one unless --progress is set.
func (a *app) progress(total int, description string) *progressbar.ProgressBar {
	if !a.v.GetBool(config.KeyProgress) {
		return progressbar.NewOptions(total, progressbar.OptionSetVisibility(false))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(a.stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(a.stderr)
		}),
	)
}

// loadTransactions materializes every transaction file before returning.
func (a *app) loadTransactions(ctx context.Context, paths []string) ([]*models.Transaction, error) {
	if err := validateFiles(paths, "transaction file"); err != nil {
		return nil, err
	}
	cfg, err := config.CreateTransactionParserConfig(a.v)
	if err != nil {
		return nil, err
	}
	cp := parsers.NewConcurrentParser(a.v.GetInt(config.KeyWorkers), a.logger)
	txs, stats, err := cp.ParseTransactionFiles(ctx, paths, cfg)
	if err != nil {
		return nil, err
	}
	a.logParseStats("transactions", stats)
	return txs, nil
}

// loadEmails materializes every email file before returning.
func (a *app) loadEmails(ctx context.Context, paths []string) ([]*models.Email, error) {
	if err := validateFiles(paths, "email file"); err != nil {
		return nil, err
	}
	cfg, err := config.CreateEmailParserConfig(a.v)
	if err != nil {
		return nil, err
	}
	cp := parsers.NewConcurrentParser(a.v.GetInt(config.KeyWorkers), a.logger)
	emails, stats, err := cp.ParseEmailFiles(ctx, paths, cfg)
	if err != nil {
		return nil, err
	}
	a.logParseStats("emails", stats)
	return emails, nil
}

func (a *app) logParseStats(kind string, stats *parsers.ParseStats) {
	if stats == nil {
		return
	}
	log := a.logger.WithField("input", kind)
	if stats.HasErrors() {
		log.WithField("errors", stats.String()).Warn("Some records could not be parsed")
		return
	}
	log.WithField("stats", stats.String()).Debug("Parsed input")
}

// report renders through a SafeReportGenerator into the configured output.
func (a *app) report(render reporter.RenderFunc) error {
	reportConfig, err := config.CreateReportConfig(a.v)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, a.logger)
	if err != nil {
		return err
	}

	var output io.Writer = a.stdout
	if path := a.v.GetString(config.KeyOutputFile); path != "" {
		file, err := os.Create(path)
		if err != nil {
			return errors.FileError(errors.CodeFileWrite, path, err)
		}
		defer func() {
			if cerr := file.Close(); cerr != nil {
				a.logger.WithError(cerr).WithField("output_file", path).Warn("Failed to close output file")
			}
		}()
		output = file
	}

	return generator.Render(render, output)
}

func validateFiles(paths []string, description string) error {
	if len(paths) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, description, nil, nil).
			WithSuggestion(fmt.Sprintf("pass at least one %s", description))
	}
	for _, path := range paths {
		if err := validateFileExists(path, description); err != nil {
			return err
		}
	}
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).WithContext("description", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	return nil
}

// verbosef prints progress on stderr when --verbose is set.
func (a *app) verbosef(format string, args ...interface{}) {
	if a.v.GetBool(config.KeyVerbose) {
		fmt.Fprintf(a.stderr, format, args...)
	}
}

func snapshotBackend(path string) string {
	if persistence.IsSQLitePath(path) {
		return "sqlite"
	}
	return "json"
}
