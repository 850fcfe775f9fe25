package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"receipt-reconciliation-service/internal/models"
	"receipt-reconciliation-service/pkg/errors"
	"receipt-reconciliation-service/pkg/logger"
)

// IsSQLitePath reports whether path names a SQLite database file.
func IsSQLitePath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

// SQLiteAdapter stores snapshots in normalized SQLite tables. Each Write
// replaces the stored snapshot inside a single transaction.
type SQLiteAdapter struct {
	db     *sql.DB
	log    logger.Logger
	dbPath string
}

// NewSQLiteAdapter opens (creating if needed) and migrates the database at
// dbPath.
func NewSQLiteAdapter(dbPath string) (*SQLiteAdapter, error) {
	if dbPath == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "snapshot path", dbPath, nil)
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, errors.FileError(errors.CodeFileWrite, dbPath, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	a := &SQLiteAdapter{
		db:     db,
		dbPath: dbPath,
		log:    logger.OrGlobal(nil).WithComponent("sqlite"),
	}
	if err := a.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteAdapter) String() string { return a.dbPath }

// Close closes the database connection.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

// Write replaces the stored snapshot with doc.
func (a *SQLiteAdapter) Write(ctx context.Context, doc *Document) (err error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return sinkError(a, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"merchant_profiles", "sender_patterns", "merchant_mappings", "learned_rules", "snapshot_meta"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return sinkError(a, fmt.Errorf("failed to clear %s: %w", table, err))
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (id, version, saved_at) VALUES (1, ?, ?)`,
		doc.Version, doc.Timestamp); err != nil {
		return sinkError(a, fmt.Errorf("failed to write snapshot metadata: %w", err))
	}

	if err = a.writeProfiles(ctx, tx, doc); err != nil {
		return err
	}
	if err = a.writeSenders(ctx, tx, doc); err != nil {
		return err
	}
	if err = a.writeMappings(ctx, tx, doc); err != nil {
		return err
	}
	if err = a.writeRules(ctx, tx, doc); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return sinkError(a, fmt.Errorf("failed to commit snapshot: %w", err))
	}
	return nil
}

func (a *SQLiteAdapter) writeProfiles(ctx context.Context, tx *sql.Tx, doc *Document) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO merchant_profiles
		(merchant, receipt_likelihood, confidence, sample_count, billing_cycle, last_seen, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return sinkError(a, err)
	}
	defer stmt.Close()

	for key, p := range doc.TransactionPatterns {
		data, err := json.Marshal(p)
		if err != nil {
			return errors.SerializationError(errors.CodeEncodeFailed, a.dbPath, err)
		}
		if _, err := stmt.ExecContext(ctx, key, p.ReceiptLikelihood, p.Confidence, p.SampleCount,
			p.BillingCycle, p.LastSeen, string(data)); err != nil {
			return sinkError(a, fmt.Errorf("failed to insert merchant profile %q: %w", key, err))
		}
	}
	return nil
}

func (a *SQLiteAdapter) writeSenders(ctx context.Context, tx *sql.Tx, doc *Document) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sender_patterns
		(domain, receipt_likelihood, confidence, sample_count, last_seen, data)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return sinkError(a, err)
	}
	defer stmt.Close()

	for domain, s := range doc.EmailPatterns {
		data, err := json.Marshal(s)
		if err != nil {
			return errors.SerializationError(errors.CodeEncodeFailed, a.dbPath, err)
		}
		if _, err := stmt.ExecContext(ctx, domain, s.ReceiptLikelihood, s.Confidence, s.SampleCount,
			s.LastSeen, string(data)); err != nil {
			return sinkError(a, fmt.Errorf("failed to insert sender pattern %q: %w", domain, err))
		}
	}
	return nil
}

func (a *SQLiteAdapter) writeMappings(ctx context.Context, tx *sql.Tx, doc *Document) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO merchant_mappings
		(merchant, domain, confidence, sample_count, amount_correlation, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return sinkError(a, err)
	}
	defer stmt.Close()

	for key, m := range doc.MerchantMappings {
		if _, err := stmt.ExecContext(ctx, m.Merchant, m.Domain, m.Confidence, m.SampleCount,
			m.AmountCorrelation, m.LastSeen); err != nil {
			return sinkError(a, fmt.Errorf("failed to insert mapping %q: %w", key, err))
		}
	}
	return nil
}

func (a *SQLiteAdapter) writeRules(ctx context.Context, tx *sql.Tx, doc *Document) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO learned_rules
		(id, merchant, domain, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return sinkError(a, err)
	}
	defer stmt.Close()

	for key, r := range doc.LearnedRules {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Merchant, r.Domain, r.Confidence,
			r.CreatedAt, r.UpdatedAt); err != nil {
			return sinkError(a, fmt.Errorf("failed to insert rule %q: %w", key, err))
		}
	}
	return nil
}

// Read loads the stored snapshot. An empty database yields ErrNoSnapshot.
func (a *SQLiteAdapter) Read(ctx context.Context) (*Document, error) {
	doc := &Document{
		TransactionPatterns: make(map[string]MerchantProfileDoc),
		EmailPatterns:       make(map[string]SenderPatternDoc),
		MerchantMappings:    make(map[string]MappingDoc),
		LearnedRules:        make(map[string]RuleDoc),
	}

	err := a.db.QueryRowContext(ctx, `SELECT version, saved_at FROM snapshot_meta WHERE id = 1`).
		Scan(&doc.Version, &doc.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot metadata: %w", err)
	}

	if err := a.readProfiles(ctx, doc); err != nil {
		return nil, err
	}
	if err := a.readSenders(ctx, doc); err != nil {
		return nil, err
	}
	if err := a.readMappings(ctx, doc); err != nil {
		return nil, err
	}
	if err := a.readRules(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (a *SQLiteAdapter) readProfiles(ctx context.Context, doc *Document) error {
	rows, err := a.db.QueryContext(ctx, `SELECT merchant, data FROM merchant_profiles`)
	if err != nil {
		return fmt.Errorf("failed to query merchant profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return fmt.Errorf("failed to scan merchant profile: %w", err)
		}
		var p MerchantProfileDoc
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return errors.SerializationError(errors.CodeCorruptSnapshot, a.dbPath,
				fmt.Errorf("merchant profile %q: %w", key, err))
		}
		doc.TransactionPatterns[key] = p
	}
	return rows.Err()
}

func (a *SQLiteAdapter) readSenders(ctx context.Context, doc *Document) error {
	rows, err := a.db.QueryContext(ctx, `SELECT domain, data FROM sender_patterns`)
	if err != nil {
		return fmt.Errorf("failed to query sender patterns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var domain, data string
		if err := rows.Scan(&domain, &data); err != nil {
			return fmt.Errorf("failed to scan sender pattern: %w", err)
		}
		var s SenderPatternDoc
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return errors.SerializationError(errors.CodeCorruptSnapshot, a.dbPath,
				fmt.Errorf("sender pattern %q: %w", domain, err))
		}
		doc.EmailPatterns[domain] = s
	}
	return rows.Err()
}

func (a *SQLiteAdapter) readMappings(ctx context.Context, doc *Document) error {
	rows, err := a.db.QueryContext(ctx, `SELECT merchant, domain, confidence, sample_count,
		amount_correlation, COALESCE(last_seen, '') FROM merchant_mappings`)
	if err != nil {
		return fmt.Errorf("failed to query merchant mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m MappingDoc
		if err := rows.Scan(&m.Merchant, &m.Domain, &m.Confidence, &m.SampleCount,
			&m.AmountCorrelation, &m.LastSeen); err != nil {
			return fmt.Errorf("failed to scan merchant mapping: %w", err)
		}
		doc.MerchantMappings[models.MappingKey(m.Merchant, m.Domain)] = m
	}
	return rows.Err()
}

func (a *SQLiteAdapter) readRules(ctx context.Context, doc *Document) error {
	rows, err := a.db.QueryContext(ctx, `SELECT id, merchant, domain, confidence,
		COALESCE(created_at, ''), COALESCE(updated_at, '') FROM learned_rules`)
	if err != nil {
		return fmt.Errorf("failed to query learned rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r RuleDoc
		if err := rows.Scan(&r.ID, &r.Merchant, &r.Domain, &r.Confidence,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan learned rule: %w", err)
		}
		doc.LearnedRules[models.MappingKey(r.Merchant, r.Domain)] = r
	}
	return rows.Err()
}
