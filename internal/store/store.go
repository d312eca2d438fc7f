package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/cfgsync/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added audit index on (account_id, seq)
const currentSchemaVersion = ir.SchemaVersion

// Defaults for Open.
const (
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 4
)

// Store is the SQLite backend. It implements Backend and audit.Recorder.
//
// SQLite admits one writer at a time. Writers (config transactions and audit
// inserts) queue on writerGate before taking a pooled connection, so at most
// one connection is ever parked on the database write lock and the rest of
// the pool stays free for readers.
type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	writerGate  chan struct{}
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	busyTimeout  time.Duration
	maxOpenConns int
}

// WithBusyTimeout sets how long a writer waits for the database lock before
// failing with ErrBusy.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *openConfig) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// WithMaxOpenConns sets the connection pool size. One connection is
// reserved for the writer, so the pool never shrinks below two.
func WithMaxOpenConns(n int) Option {
	return func(c *openConfig) {
		if n > 0 {
			c.maxOpenConns = n
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{
		busyTimeout:  DefaultBusyTimeout,
		maxOpenConns: DefaultMaxOpenConns,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxOpenConns < 2 {
		cfg.maxOpenConns = 2
	}

	db, err := sql.Open("sqlite3", dsn(path, cfg.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.maxOpenConns)
	db.SetMaxIdleConns(cfg.maxOpenConns)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:          db,
		busyTimeout: cfg.busyTimeout,
		writerGate:  make(chan struct{}, 1),
	}, nil
}

// dsn builds the connection string. Pragmas live here rather than in Exec
// calls because each pooled connection must carry them.
func dsn(path string, busyTimeout time.Duration) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", strconv.FormatInt(busyTimeout.Milliseconds(), 10))
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// acquireWriter waits for the writer slot. It fails with ErrBusy after
// busyTimeout and with ctx.Err() if ctx ends first. The returned release
// func is safe to call more than once.
func (s *Store) acquireWriter(ctx context.Context) (func(), error) {
	timer := time.NewTimer(s.busyTimeout)
	defer timer.Stop()

	select {
	case s.writerGate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: writer slot not free after %s", ErrBusy, s.busyTimeout)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-s.writerGate })
	}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the per-account audit index used by ReadAudit.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_config_audit_logs_account
		ON config_audit_logs(account_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
