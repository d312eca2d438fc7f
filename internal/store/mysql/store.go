// Package mysql is the MySQL/InnoDB backend for cfgsync.
//
// Unlike SQLite, InnoDB has real row locks: LockConfig issues
// SELECT ... FOR UPDATE, which blocks only writers of the same account.
// A lock wait longer than innodb_lock_wait_timeout (error 1205) or a deadlock
// (error 1213) is reported as store.ErrBusy.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/roach88/cfgsync/internal/ir"
	"github.com/roach88/cfgsync/internal/store"
)

// MySQL error numbers mapped to store.ErrBusy.
const (
	errLockWaitTimeout = 1205
	errLockDeadlock    = 1213
	errDuplicateEntry  = 1062
)

// DefaultLockWaitTimeout is applied as innodb_lock_wait_timeout per session.
const DefaultLockWaitTimeout = 5 * time.Second

var schema = []string{
	`CREATE TABLE IF NOT EXISTS portfolio_configs (
		account_id    VARCHAR(191) NOT NULL PRIMARY KEY,
		stock_codes   MEDIUMTEXT   NOT NULL,
		memos         MEDIUMTEXT   NOT NULL,
		holdings      MEDIUMTEXT   NOT NULL,
		alert_prices  MEDIUMTEXT   NOT NULL,
		index_codes   MEDIUMTEXT   NOT NULL,
		pinned_stocks MEDIUMTEXT   NOT NULL,
		revision      BIGINT       NOT NULL,
		data_hash     CHAR(64)     NOT NULL,
		last_client   TEXT         NULL,
		updated_at    DATETIME(6)  NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS config_audit_logs (
		seq             BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id              CHAR(36)     NOT NULL UNIQUE,
		account_id      VARCHAR(191) NOT NULL,
		action          VARCHAR(16)  NOT NULL,
		client_revision BIGINT       NULL,
		server_revision BIGINT       NULL,
		client_hash     VARCHAR(64)  NULL,
		server_hash     VARCHAR(64)  NULL,
		merged          BOOLEAN      NOT NULL DEFAULT FALSE,
		client_info     TEXT         NOT NULL,
		created_at      DATETIME(6)  NOT NULL,
		INDEX idx_config_audit_logs_account (account_id, seq)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
}

const selectConfigSQL = `
	SELECT account_id, stock_codes, memos, holdings, alert_prices, index_codes, pinned_stocks,
	       revision, data_hash, last_client, updated_at
	FROM portfolio_configs
	WHERE account_id = ?`

// Store is the MySQL backend. It implements store.Backend and audit.Recorder.
type Store struct {
	db *sql.DB
}

var _ store.Backend = (*Store)(nil)

// Option configures Open.
type Option func(*gomysql.Config)

// WithLockWaitTimeout sets innodb_lock_wait_timeout for every session.
// InnoDB counts whole seconds; the value is rounded up.
func WithLockWaitTimeout(d time.Duration) Option {
	return func(c *gomysql.Config) {
		if d <= 0 {
			return
		}
		secs := int64((d + time.Second - 1) / time.Second)
		c.Params["innodb_lock_wait_timeout"] = strconv.FormatInt(secs, 10)
	}
}

// Open connects with the given DSN (go-sql-driver format) and creates the
// tables if needed. parseTime and UTC are forced on.
func Open(dsn string, opts ...Option) (*Store, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	WithLockWaitTimeout(DefaultLockWaitTimeout)(cfg)
	for _, opt := range opts {
		opt(cfg)
	}

	connector, err := gomysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// GetConfig reads the account's record with a consistent non-locking read.
func (s *Store) GetConfig(ctx context.Context, accountID string) (ir.ConfigRecord, bool, error) {
	rec, err := scanConfig(s.db.QueryRowContext(ctx, selectConfigSQL, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ConfigRecord{}, false, nil
	}
	if err != nil {
		return ir.ConfigRecord{}, false, fmt.Errorf("get config: %w", classify(err))
	}
	return rec, true, nil
}

// BeginConfigTx starts a transaction. No lock is held until LockConfig.
func (s *Store) BeginConfigTx(ctx context.Context) (store.ConfigTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin config tx: %w", classify(err))
	}
	return &configTx{tx: tx}, nil
}

type configTx struct {
	tx *sql.Tx
}

// LockConfig takes the row lock with SELECT ... FOR UPDATE. For an absent
// row InnoDB locks the gap on the primary key, so two concurrent creators
// serialize as well.
func (t *configTx) LockConfig(ctx context.Context, accountID string) (ir.ConfigRecord, bool, error) {
	rec, err := scanConfig(t.tx.QueryRowContext(ctx, selectConfigSQL+" FOR UPDATE", accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ConfigRecord{}, false, nil
	}
	if err != nil {
		return ir.ConfigRecord{}, false, fmt.Errorf("lock config: %w", classify(err))
	}
	return rec, true, nil
}

func (t *configTx) SaveConfig(ctx context.Context, rec ir.ConfigRecord) error {
	if rec.Revision == 1 {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO portfolio_configs
			(account_id, stock_codes, memos, holdings, alert_prices, index_codes, pinned_stocks,
			 revision, data_hash, last_client, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.AccountID,
			rec.StockCodes,
			rec.Memos,
			rec.Holdings,
			rec.AlertPrices,
			rec.IndexCodes,
			rec.PinnedStocks,
			rec.Revision,
			rec.DataHash,
			nullString(rec.LastClient),
			rec.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("save config: insert: %w", classify(err))
		}
		return nil
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE portfolio_configs
		SET stock_codes = ?, memos = ?, holdings = ?, alert_prices = ?, index_codes = ?, pinned_stocks = ?,
		    revision = ?, data_hash = ?, last_client = ?, updated_at = ?
		WHERE account_id = ? AND revision = ?`,
		rec.StockCodes,
		rec.Memos,
		rec.Holdings,
		rec.AlertPrices,
		rec.IndexCodes,
		rec.PinnedStocks,
		rec.Revision,
		rec.DataHash,
		nullString(rec.LastClient),
		rec.UpdatedAt.UTC(),
		rec.AccountID,
		rec.Revision-1,
	)
	if err != nil {
		return fmt.Errorf("save config: update: %w", classify(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save config: rows affected: %w", err)
	}
	if rowsAffected != 1 {
		return fmt.Errorf("save config: account %s revision %d: %w", rec.AccountID, rec.Revision-1, store.ErrRevisionMismatch)
	}
	return nil
}

func (t *configTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit config tx: %w", classify(err))
	}
	return nil
}

func (t *configTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback config tx: %w", err)
	}
	return nil
}

// Record appends an audit entry outside any config transaction.
func (s *Store) Record(ctx context.Context, e ir.AuditEntry) error {
	if !e.Action.Valid() {
		return fmt.Errorf("record audit: invalid action %q", e.Action)
	}
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_audit_logs
		(id, account_id, action, client_revision, server_revision, client_hash, server_hash,
		 merged, client_info, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.AccountID,
		string(e.Action),
		nullInt64(e.ClientRevision),
		nullInt64(e.ServerRevision),
		nullString(e.ClientHash),
		nullString(e.ServerHash),
		e.Merged,
		e.ClientInfo,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ReadAudit returns the account's audit entries oldest first.
// A limit > 0 keeps only the newest limit entries.
func (s *Store) ReadAudit(ctx context.Context, accountID string, limit int) ([]ir.AuditEntry, error) {
	const cols = `id, account_id, action, client_revision, server_revision, client_hash, server_hash,
		merged, client_info, created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+cols+` FROM (
				SELECT seq, `+cols+` FROM config_audit_logs
				WHERE account_id = ?
				ORDER BY seq DESC
				LIMIT ?
			) AS newest
			ORDER BY seq ASC`, accountID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+cols+` FROM config_audit_logs
			WHERE account_id = ?
			ORDER BY seq ASC`, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []ir.AuditEntry{}
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return entries, nil
}

// classify maps InnoDB lock-wait timeouts, deadlocks and duplicate-key
// races on insert to store.ErrBusy.
func classify(err error) error {
	var me *gomysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case errLockWaitTimeout, errLockDeadlock, errDuplicateEntry:
		return fmt.Errorf("%w: %v", store.ErrBusy, err)
	}
	return err
}
