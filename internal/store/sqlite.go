// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides pool/ledger/audit persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// claimRetryAttempts bounds the forward-scan retry loop in ClaimEntry.
// A lost race re-reads the next-oldest unclaimed entry; after this many
// losses the claim reports ErrNoEntries.
const claimRetryAttempts = 5

// enqueueBatchSize bounds how many pool entries are written per transaction.
const enqueueBatchSize = 100

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// WAL and a busy timeout via DSN pragmas so every pooled connection
	// gets them; claims from concurrent requests block briefly instead of
	// failing with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pool_entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			value      TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'unclaimed' CHECK (status IN ('unclaimed', 'claimed')),
			batch_id   TEXT,
			created_at TEXT NOT NULL,
			claimed_by TEXT,
			claimed_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_pool_status_id ON pool_entries(status, id);
		CREATE INDEX IF NOT EXISTS idx_pool_batch ON pool_entries(batch_id);

		CREATE TABLE IF NOT EXISTS tokens (
			token        TEXT PRIMARY KEY,
			login        TEXT NOT NULL,
			secret       TEXT NOT NULL,
			owner_id     TEXT NOT NULL,
			owner_handle TEXT,
			status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'revoked')),
			created_at   TEXT NOT NULL,
			revoked_at   TEXT,
			revoked_by   TEXT,
			access_count   INTEGER NOT NULL DEFAULT 0,
			last_access_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_tokens_created ON tokens(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_tokens_owner ON tokens(owner_id);
		CREATE INDEX IF NOT EXISTS idx_tokens_status ON tokens(status);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id     TEXT PRIMARY KEY,
			actor_id     TEXT NOT NULL,
			actor_handle TEXT,
			action       TEXT NOT NULL,
			target_id    TEXT,
			ts           TEXT NOT NULL,
			detail_json  TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Access tracking columns arrived after the first release; SQLite has
	// no ADD COLUMN IF NOT EXISTS, so check pragma_table_info first.
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('tokens') WHERE name = 'access_count'`,
			apply:  `ALTER TABLE tokens ADD COLUMN access_count INTEGER NOT NULL DEFAULT 0`,
			column: "access_count",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('tokens') WHERE name = 'last_access_at'`,
			apply:  `ALTER TABLE tokens ADD COLUMN last_access_at TEXT`,
			column: "last_access_at",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to tokens: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "tokens")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
