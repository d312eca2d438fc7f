package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/cfgsync/internal/ir"
)

// DefaultBufferSize is the Async queue capacity.
const DefaultBufferSize = 1024

var (
	// ErrBufferFull is returned when the Async queue is at capacity.
	// The entry is dropped.
	ErrBufferFull = errors.New("audit buffer full")

	// ErrClosed is returned by Record after Close.
	ErrClosed = errors.New("audit buffer closed")
)

// Async decouples audit sinks from the request path: Record enqueues and
// returns immediately, one goroutine drains the queue into the next recorder.
//
// Entries still queued at process crash are lost. That is the accepted gap
// between "the write happened" and "the write was audited".
type Async struct {
	next    Recorder
	logger  *slog.Logger
	timeout time.Duration
	queue   chan ir.AuditEntry

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts the drain goroutine. Call Close to flush and stop it.
func NewAsync(next Recorder, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		next:    next,
		logger:  logger,
		timeout: DefaultTimeout,
		queue:   make(chan ir.AuditEntry, size),
		done:    make(chan struct{}),
	}
	go a.drain()
	return a
}

// Record enqueues e without blocking.
func (a *Async) Record(_ context.Context, e ir.AuditEntry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		return ErrBufferFull
	}
}

func (a *Async) drain() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Record(ctx, e); err != nil {
			a.logger.Error("audit drain failed",
				"account_id", e.AccountID,
				"action", string(e.Action),
				"audit_id", e.ID,
				"error", err,
			)
		}
		cancel()
	}
}

// Close stops accepting entries and waits until the queue is drained or ctx
// is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
