package parsers

import (
	"context"
	"sync"

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/logger"
)

// ConcurrentParser loads several files at once with a bounded number of
// workers. Results are returned only after every file has finished and keep
// the order of the input paths.
type ConcurrentParser struct {
	maxConcurrency int
	semaphore      chan struct{}
	logger         logger.Logger
}

// NewConcurrentParser creates a new concurrent parser
func NewConcurrentParser(maxConcurrency int, log logger.Logger) *ConcurrentParser {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &ConcurrentParser{
		maxConcurrency: maxConcurrency,
		semaphore:      make(chan struct{}, maxConcurrency),
		logger:         logger.OrGlobal(log).WithComponent("concurrent_parser"),
	}
}

// FileResult holds the outcome of parsing one file
type FileResult[T any] struct {
	FilePath string
	Records  []*T
	Stats    *ParseStats
	Error    error
}

// parseAll runs parse for every path and collects the results by index.
func parseAll[T any](ctx context.Context, cp *ConcurrentParser, paths []string, parse func(context.Context, string) ([]*T, *ParseStats, error)) []FileResult[T] {
	results := make([]FileResult[T], len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()

			select {
			case cp.semaphore <- struct{}{}:
			case <-ctx.Done():
				results[i] = FileResult[T]{FilePath: path, Error: ctx.Err()}
				return
			}
			defer func() { <-cp.semaphore }()

			records, stats, err := parse(ctx, path)
			results[i] = FileResult[T]{FilePath: path, Records: records, Stats: stats, Error: err}
		}(i, path)
	}
	wg.Wait()
	return results
}

// collect flattens per-file results. The first file error is returned
// alongside everything that did load.
func collect[T any](cp *ConcurrentParser, results []FileResult[T]) ([]*T, *ParseStats, error) {
	all := []*T{}
	stats := NewParseStats()
	var firstErr error
	for _, r := range results {
		if r.Error != nil {
			cp.logger.WithError(r.Error).WithField("file_path", r.FilePath).Warn("Failed to parse file")
			if firstErr == nil {
				firstErr = r.Error
			}
		}
		all = append(all, r.Records...)
		stats.Merge(r.Stats)
	}
	return all, stats, firstErr
}

// ParseTransactionFiles loads all transaction files with one shared config.
func (cp *ConcurrentParser) ParseTransactionFiles(ctx context.Context, paths []string, config *TransactionParserConfig) ([]*models.Transaction, *ParseStats, error) {
	parser, err := NewTransactionParser(config, cp.logger)
	if err != nil {
		return nil, nil, err
	}
	return collect(cp, parseAll(ctx, cp, paths, parser.ParseFile))
}

// ParseEmailFiles loads all email files with one shared config.
func (cp *ConcurrentParser) ParseEmailFiles(ctx context.Context, paths []string, config *EmailParserConfig) ([]*models.Email, *ParseStats, error) {
	parser, err := NewEmailParser(config, cp.logger)
	if err != nil {
		return nil, nil, err
	}
	return collect(cp, parseAll(ctx, cp, paths, parser.ParseFile))
}
