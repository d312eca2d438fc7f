package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/cfgsync/internal/audit"
	"github.com/roach88/cfgsync/internal/ir"
	"github.com/roach88/cfgsync/internal/store"
)

// DefaultRetryAfter is the delay suggested to clients on StatusBusy.
const DefaultRetryAfter = time.Second

// Engine runs the sync protocol against a storage backend.
//
// Thread-safety model:
//   - Save, Get, Version: safe from any goroutine
//   - Writes to one account are serialized by the storage row lock and,
//     when enabled, the in-process AccountLocks
//   - Writes to different accounts proceed in parallel
type Engine struct {
	backend    store.Backend
	locks      *AccountLocks // nil disables the in-process layer
	trail      *audit.Trail
	logger     *slog.Logger
	now        func() time.Time
	retryAfter time.Duration
	metrics    *instruments
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithAccountLocks sets the in-process lock table.
func WithAccountLocks(locks *AccountLocks) EngineOption {
	return func(e *Engine) {
		e.locks = locks
	}
}

// WithoutAccountLocks disables the in-process lock layer. Writes are then
// serialized by the storage row lock alone.
func WithoutAccountLocks() EngineOption {
	return func(e *Engine) {
		e.locks = nil
	}
}

// WithTrail sets the audit trail. Default: a trail that discards entries.
func WithTrail(t *audit.Trail) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.trail = t
		}
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the wall clock used for updated_at.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRetryAfter sets the delay suggested on StatusBusy.
func WithRetryAfter(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.retryAfter = d
		}
	}
}

// New creates an Engine over backend.
//
// Defaults: DefaultLockShards account locks, no audit sink, time.Now,
// DefaultRetryAfter, global OpenTelemetry providers.
func New(backend store.Backend, opts ...EngineOption) *Engine {
	e := &Engine{
		backend:    backend,
		locks:      NewAccountLocks(DefaultLockShards),
		trail:      audit.NewTrail(nil),
		logger:     slog.Default(),
		now:        time.Now,
		retryAfter: DefaultRetryAfter,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		e.metrics = newInstruments(nil, nil, e.logger)
	}

	return e
}

// Save applies a client write under the sync protocol.
//
// Returns an Outcome for every expected result, including conflicts and
// lock timeouts. Returns an error only for client errors (*SyncError) and
// internal faults; in both cases nothing was persisted.
func (e *Engine) Save(ctx context.Context, req SaveRequest) (Outcome, error) {
	ctx, finish := e.metrics.startSave(ctx, req)

	var (
		out     Outcome
		pending *ir.AuditEntry
	)
	critical := func() error {
		var err error
		out, pending, err = e.saveLocked(ctx, req)
		return err
	}
	var err error
	if e.locks != nil {
		err = e.locks.WithLock(req.AccountID, critical)
	} else {
		err = critical()
	}

	if pending != nil {
		e.trail.Append(ctx, *pending)
	}

	switch {
	case err == nil:
		e.logger.Debug("config save",
			"account_id", req.AccountID,
			"outcome", out.Status.String(),
			"server_revision", out.ServerRevision,
		)
	case store.IsBusy(err):
		e.logger.Warn("config save busy",
			"account_id", req.AccountID,
			"error", err,
		)
		out, err = Outcome{Status: StatusBusy, ClientRevision: req.ClientRevision, RetryAfter: e.retryAfter}, nil
	case IsClientError(err):
		e.logger.Info("config save rejected",
			"account_id", req.AccountID,
			"error", err,
		)
	default:
		e.logger.Error("config save failed",
			"account_id", req.AccountID,
			"error", err,
		)
		err = fmt.Errorf("save config for account %s: %w", req.AccountID, err)
	}

	finish(out, err)
	return out, err
}

// saveLocked runs the decision algorithm inside one storage transaction.
// It returns the audit entry to append once the transaction has ended.
func (e *Engine) saveLocked(ctx context.Context, req SaveRequest) (Outcome, *ir.AuditEntry, error) {
	tx, err := e.backend.BeginConfigTx(ctx)
	if err != nil {
		return Outcome{}, nil, err
	}
	defer tx.Rollback() // No-op if committed

	current, found, err := tx.LockConfig(ctx, req.AccountID)
	if err != nil {
		return Outcome{}, nil, err
	}

	var next ir.ConfigRecord
	if found {
		if req.ClientRevision == nil {
			entry := e.auditEntry(req, ir.AuditWrite, current.Revision, current.DataHash)
			return Outcome{}, &entry, newMissingRevisionError(req.AccountID, current.Revision)
		}

		if *req.ClientRevision != current.Revision {
			// A stale revision with identical content is a retry of a write
			// that already landed.
			if ir.DataHash(req.Fields) == current.DataHash {
				entry := e.auditEntry(req, ir.AuditWrite, current.Revision, current.DataHash)
				entry.Merged = true
				return Outcome{
					Status:         StatusNoChange,
					Record:         current,
					ServerRevision: current.Revision,
					ClientRevision: req.ClientRevision,
					Merged:         true,
				}, &entry, nil
			}

			entry := e.auditEntry(req, ir.AuditConflict, current.Revision, current.DataHash)
			return Outcome{
				Status:         StatusConflict,
				Record:         current,
				ServerRevision: current.Revision,
				ClientRevision: req.ClientRevision,
			}, &entry, nil
		}

		next = current
		next.Revision = current.Revision + 1
	} else {
		if req.ClientRevision != nil && *req.ClientRevision != 0 {
			return Outcome{}, nil, newInvalidInitialRevisionError(req.AccountID, req.ClientRevision)
		}
		next = ir.ConfigRecord{AccountID: req.AccountID, Revision: 1}
	}

	next.ConfigFields = req.Fields
	next.DataHash = ir.DataHash(req.Fields)
	next.LastClient = req.LastClient
	next.UpdatedAt = e.timestamp()

	if err := tx.SaveConfig(ctx, next); err != nil {
		return Outcome{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, nil, err
	}

	entry := e.auditEntry(req, ir.AuditWrite, next.Revision, next.DataHash)
	return Outcome{
		Status:         StatusSaved,
		Record:         next,
		ServerRevision: next.Revision,
		ClientRevision: req.ClientRevision,
	}, &entry, nil
}

// Get returns the account's record, or found=false if it has none.
// A read audit entry is appended when a record exists.
func (e *Engine) Get(ctx context.Context, accountID, clientInfo string) (ir.ConfigRecord, bool, error) {
	rec, found, err := e.backend.GetConfig(ctx, accountID)
	if err != nil {
		e.logger.Error("config read failed", "account_id", accountID, "error", err)
		return ir.ConfigRecord{}, false, fmt.Errorf("get config for account %s: %w", accountID, err)
	}
	if found {
		e.trail.Append(ctx, ir.AuditEntry{
			AccountID:      accountID,
			Action:         ir.AuditRead,
			ServerRevision: ir.Int64Ptr(rec.Revision),
			ServerHash:     ir.StringPtr(rec.DataHash),
			ClientInfo:     clientInfo,
		})
	}
	return rec, found, nil
}

// Version returns the polling view of the account's record. An account with
// no record reports revision 0.
func (e *Engine) Version(ctx context.Context, accountID string) (ir.VersionInfo, error) {
	rec, found, err := e.backend.GetConfig(ctx, accountID)
	if err != nil {
		return ir.VersionInfo{}, fmt.Errorf("get version for account %s: %w", accountID, err)
	}
	if !found {
		return ir.VersionInfo{}, nil
	}
	return rec.Version(), nil
}

// Ping checks the storage backend.
func (e *Engine) Ping(ctx context.Context) error {
	return e.backend.Ping(ctx)
}

func (e *Engine) auditEntry(req SaveRequest, action ir.AuditAction, serverRevision int64, serverHash string) ir.AuditEntry {
	return ir.AuditEntry{
		AccountID:      req.AccountID,
		Action:         action,
		ClientRevision: req.ClientRevision,
		ServerRevision: ir.Int64Ptr(serverRevision),
		ClientHash:     ir.StringPtr(req.ClientHash),
		ServerHash:     ir.StringPtr(serverHash),
		ClientInfo:     req.ClientInfo,
	}
}

// timestamp is truncated to microseconds so every backend stores it exactly.
func (e *Engine) timestamp() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}
