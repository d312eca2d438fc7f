package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/cfgsync/internal/ir"
)

const selectConfigSQL = `
	SELECT account_id, stock_codes, memos, holdings, alert_prices, index_codes, pinned_stocks,
	       revision, data_hash, last_client, updated_at
	FROM portfolio_configs
	WHERE account_id = ?
`

// GetConfig reads the account's record. Reads never wait on writers (WAL).
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

// BeginConfigTx starts an immediate transaction, taking the database write
// lock. Fails with ErrBusy if the lock is not granted within busy_timeout.
//
// The writer slot is held until Commit or Rollback.
func (s *Store) BeginConfigTx(ctx context.Context) (ConfigTx, error) {
	release, err := s.acquireWriter(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin config tx: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		release()
		return nil, fmt.Errorf("begin config tx: %w", classify(err))
	}
	return &sqliteTx{tx: tx, release: release}, nil
}

type sqliteTx struct {
	tx      *sql.Tx
	release func()
}

// LockConfig reads the record inside the immediate transaction. The write
// lock was already taken by BEGIN IMMEDIATE.
func (t *sqliteTx) LockConfig(ctx context.Context, accountID string) (ir.ConfigRecord, bool, error) {
	rec, err := scanConfig(t.tx.QueryRowContext(ctx, selectConfigSQL, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ConfigRecord{}, false, nil
	}
	if err != nil {
		return ir.ConfigRecord{}, false, fmt.Errorf("lock config: %w", classify(err))
	}
	return rec, true, nil
}

func (t *sqliteTx) SaveConfig(ctx context.Context, rec ir.ConfigRecord) error {
	if rec.Revision == 1 {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO portfolio_configs
			(account_id, stock_codes, memos, holdings, alert_prices, index_codes, pinned_stocks,
			 revision, data_hash, last_client, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
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
			formatTime(rec.UpdatedAt),
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
		WHERE account_id = ? AND revision = ?
	`,
		rec.StockCodes,
		rec.Memos,
		rec.Holdings,
		rec.AlertPrices,
		rec.IndexCodes,
		rec.PinnedStocks,
		rec.Revision,
		rec.DataHash,
		nullString(rec.LastClient),
		formatTime(rec.UpdatedAt),
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
		return fmt.Errorf("save config: account %s revision %d: %w", rec.AccountID, rec.Revision-1, ErrRevisionMismatch)
	}

	return nil
}

func (t *sqliteTx) Commit() error {
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit config tx: %w", classify(err))
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	defer t.release()
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback config tx: %w", err)
	}
	return nil
}

// classify maps lock contention to ErrBusy. A UNIQUE violation on insert
// means another process created the row first; a retry will see it.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %v", ErrBusy, err)
	case se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey, se.ExtendedCode == sqlite3.ErrConstraintUnique:
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}
