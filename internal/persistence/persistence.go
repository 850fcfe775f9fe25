// Package persistence saves and restores profile stores. Snapshots are
// written through a Sink and read back through a Source; the JSON file and
// SQLite adapters in this package implement both.
package persistence

import (
	"context"
	stderrors "errors"
	"fmt"

	"receipt-reconciliation-service/internal/profile"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// ErrNoSnapshot is returned by a Source that holds no snapshot yet.
var ErrNoSnapshot = stderrors.New("no snapshot stored")

// Sink receives snapshot documents.
type Sink interface {
	Write(ctx context.Context, doc *Document) error
	String() string
}

// Source yields the most recently written snapshot document.
type Source interface {
	Read(ctx context.Context) (*Document, error)
	String() string
}

// Adapter is a durable location that is both a Sink and a Source.
type Adapter interface {
	Sink
	Source
	Close() error
}

// Open returns the adapter for location: paths ending in .db, .sqlite or
// .sqlite3 use SQLite, everything else a JSON file.
func Open(location string) (Adapter, error) {
	if IsSQLitePath(location) {
		return NewSQLiteAdapter(location)
	}
	return NewFileAdapter(location), nil
}

// Save writes a snapshot of store to sink. Failures are logged and reported
// through the result.
func Save(ctx context.Context, sink Sink, store *profile.Store, log logger.Logger) bool {
	log = logger.OrGlobal(log).WithComponent("persistence")
	doc := FromStore(store)
	if err := sink.Write(ctx, doc); err != nil {
		log.WithError(err).WithField("sink", sink.String()).Warn("Failed to save profile snapshot")
		return false
	}
	log.WithFields(logger.Fields{
		"sink":                 sink.String(),
		"transaction_patterns": len(doc.TransactionPatterns),
		"email_patterns":       len(doc.EmailPatterns),
		"merchant_mappings":    len(doc.MerchantMappings),
		"learned_rules":        len(doc.LearnedRules),
	}).Info("Saved profile snapshot")
	return true
}

// Restore reads a snapshot from source and rebuilds a store. It returns
// ErrNoSnapshot when the source is empty and a serialization error when the
// snapshot is unreadable or inconsistent.
func Restore(ctx context.Context, source Source) (*profile.Store, error) {
	doc, err := source.Read(ctx)
	if err != nil {
		if stderrors.Is(err, ErrNoSnapshot) || errors.IsReconcilerError(err) {
			return nil, err
		}
		return nil, errors.SerializationError(errors.CodeCorruptSnapshot, source.String(), err)
	}
	store, err := doc.ToStore()
	if err != nil {
		return nil, errors.SerializationError(errors.CodeCorruptSnapshot, source.String(), err)
	}
	return store, nil
}

// Load restores a store from source. On any failure it logs a warning and
// returns an empty store with false.
func Load(ctx context.Context, source Source, log logger.Logger) (*profile.Store, bool) {
	log = logger.OrGlobal(log).WithComponent("persistence")
	store, err := Restore(ctx, source)
	if err != nil {
		entry := log.WithError(err).WithField("source", source.String())
		if stderrors.Is(err, ErrNoSnapshot) {
			entry.Warn("No profile snapshot found, starting with empty profiles")
		} else {
			entry.Warn("Failed to load profile snapshot, starting with empty profiles")
		}
		return profile.NewStore(), false
	}
	counts := store.Counts()
	log.WithFields(logger.Fields{
		"source":               source.String(),
		"transaction_patterns": counts.MerchantProfiles,
		"email_patterns":       counts.SenderPatterns,
		"merchant_mappings":    counts.Mappings,
		"learned_rules":        counts.Rules,
	}).Info("Loaded profile snapshot")
	return store, true
}

func sinkError(sink Sink, err error) error {
	if errors.IsReconcilerError(err) {
		return err
	}
	return errors.SerializationError(errors.CodeSinkFailed, sink.String(), fmt.Errorf("write: %w", err))
}
