package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/cfgsync/internal/ir"
)

// DefaultTimeout bounds a single synchronous audit write.
const DefaultTimeout = 2 * time.Second

// Trail is the fire-and-forget front of the audit log.
//
// Append fills in ID and CreatedAt, then hands the entry to the recorder.
// Errors and panics are contained: logged, counted, swallowed.
//
// Thread-safety: Trail is safe for concurrent use.
type Trail struct {
	rec      Recorder
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	failures atomic.Int64
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithLogger sets the operational logger for audit failures.
func WithLogger(l *slog.Logger) TrailOption {
	return func(t *Trail) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTimeout bounds each recorder call.
func WithTimeout(d time.Duration) TrailOption {
	return func(t *Trail) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithNow overrides the clock used for CreatedAt.
func WithNow(now func() time.Time) TrailOption {
	return func(t *Trail) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTrail wraps rec. A nil rec behaves like Nop.
func NewTrail(rec Recorder, opts ...TrailOption) *Trail {
	if rec == nil {
		rec = Nop{}
	}
	t := &Trail{
		rec:     rec,
		logger:  slog.Default(),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append records e. It never fails from the caller's point of view.
//
// The write is detached from ctx cancellation so that a client hanging up
// after its config write does not also drop the audit entry.
func (t *Trail) Append(ctx context.Context, e ir.AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.Must(uuid.NewV7()).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	if err := t.record(ctx, e); err != nil {
		t.failures.Add(1)
		t.logger.Error("audit record failed",
			"account_id", e.AccountID,
			"action", string(e.Action),
			"audit_id", e.ID,
			"error", err,
		)
	}
}

func (t *Trail) record(ctx context.Context, e ir.AuditEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit recorder panic: %v", r)
		}
	}()
	return t.rec.Record(ctx, e)
}

// Failures returns how many entries could not be recorded.
func (t *Trail) Failures() int64 {
	return t.failures.Load()
}
