package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"receipt-reconciliation-service/pkg/logger"
)

// ExpectedSchemaVersion is the user_version a migrated database reports.
const ExpectedSchemaVersion = 2

// Migration is one forward-only schema step.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial profile schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS snapshot_meta (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					version INTEGER NOT NULL,
					saved_at TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS merchant_profiles (
					merchant TEXT PRIMARY KEY,
					receipt_likelihood REAL NOT NULL,
					confidence REAL NOT NULL,
					sample_count INTEGER NOT NULL,
					billing_cycle TEXT NOT NULL,
					last_seen TEXT,
					data TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS sender_patterns (
					domain TEXT PRIMARY KEY,
					receipt_likelihood REAL NOT NULL,
					confidence REAL NOT NULL,
					sample_count INTEGER NOT NULL,
					last_seen TEXT,
					data TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS merchant_mappings (
					merchant TEXT NOT NULL,
					domain TEXT NOT NULL,
					confidence REAL NOT NULL,
					sample_count INTEGER NOT NULL,
					amount_correlation REAL NOT NULL,
					last_seen TEXT,
					PRIMARY KEY (merchant, domain)
				)`,
			}
			return execAll(tx, queries)
		},
	},
	{
		Version:     2,
		Description: "Add learned rules and domain lookup index",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS learned_rules (
					id TEXT PRIMARY KEY,
					merchant TEXT NOT NULL,
					domain TEXT NOT NULL,
					confidence REAL NOT NULL,
					created_at TEXT,
					updated_at TEXT,
					UNIQUE (merchant, domain)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_merchant_mappings_domain ON merchant_mappings(domain)`,
			}
			return execAll(tx, queries)
		},
	},
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Migrate applies every pending migration, each in its own transaction.
func (a *SQLiteAdapter) Migrate(ctx context.Context) error {
	var currentVersion int
	if err := a.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		a.log.WithFields(logger.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applied migration")
	}

	var finalVersion int
	if err := a.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion); err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}
	return nil
}
