package store

import (
	"context"
	"errors"

	"github.com/roach88/cfgsync/internal/ir"
)

// ErrBusy reports that the storage lock could not be acquired within the
// configured wait timeout. The transaction was rolled back and nothing was
// written; the same request can be retried unchanged.
var ErrBusy = errors.New("storage busy")

// IsBusy reports whether err is (or wraps) ErrBusy.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// Backend is durable storage for configuration records.
//
// Implemented by *Store (SQLite) and mysql.Store.
type Backend interface {
	// GetConfig reads the account's record without taking any lock.
	// found is false when the account has no record.
	GetConfig(ctx context.Context, accountID string) (rec ir.ConfigRecord, found bool, err error)

	// BeginConfigTx starts a write transaction. Every mutation of a
	// ConfigRecord must happen inside one.
	BeginConfigTx(ctx context.Context) (ConfigTx, error)

	Ping(ctx context.Context) error
	Close() error
}

// ConfigTx is a write transaction scoped to configuration records.
//
// Raw CRUD only: revision checks belong to the caller. Rollback after Commit
// is a no-op so callers can always defer it.
type ConfigTx interface {
	// LockConfig reads the account's record and holds the write lock on it
	// until the transaction ends. It creates nothing when the record is absent.
	LockConfig(ctx context.Context, accountID string) (rec ir.ConfigRecord, found bool, err error)

	// SaveConfig inserts the record when rec.Revision is 1 and otherwise
	// updates the row currently at rec.Revision-1.
	SaveConfig(ctx context.Context, rec ir.ConfigRecord) error

	Commit() error
	Rollback() error
}

// ErrRevisionMismatch is returned by SaveConfig when the stored row is not at
// the revision the update was computed from. It indicates the caller wrote
// without holding the lock from LockConfig.
var ErrRevisionMismatch = errors.New("stored revision does not match update base")
