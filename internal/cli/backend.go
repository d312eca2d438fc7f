package cli

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/roach88/cfgsync/internal/audit"
	"github.com/roach88/cfgsync/internal/audit/redisstream"
	"github.com/roach88/cfgsync/internal/config"
	"github.com/roach88/cfgsync/internal/engine"
	"github.com/roach88/cfgsync/internal/ir"
	"github.com/roach88/cfgsync/internal/store"
	"github.com/roach88/cfgsync/internal/store/mysql"
)

// backend is a config store that also keeps the audit table.
// Both the SQLite and the MySQL store satisfy it.
type backend interface {
	store.Backend
	audit.Recorder
	ReadAudit(ctx context.Context, accountID string, limit int) ([]ir.AuditEntry, error)
}

func openBackend(cfg config.Config) (backend, error) {
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		slog.Info("opening database", "driver", cfg.Database.Driver)
		st, err := mysql.Open(cfg.Database.DSN, mysql.WithLockWaitTimeout(cfg.Database.BusyTimeout))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil
	default:
		slog.Info("opening database", "driver", cfg.Database.Driver, "path", cfg.Database.Path)
		st, err := store.Open(cfg.Database.Path,
			store.WithBusyTimeout(cfg.Database.BusyTimeout),
			store.WithMaxOpenConns(cfg.Database.MaxOpenConns),
		)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, nil
	}
}

// buildAuditRecorder assembles the audit sink. The returned close func
// drains buffered entries and releases sink connections.
//
//	store: the backend's audit table
//	redis: the audit table plus the Redis stream
//	none:  discard
func buildAuditRecorder(cfg config.Config, be backend, logger *slog.Logger) (audit.Recorder, func(context.Context) error, error) {
	var (
		rec     audit.Recorder
		closers []func(context.Context) error
	)

	switch cfg.Audit.Sink {
	case config.SinkNone:
		return audit.Nop{}, func(context.Context) error { return nil }, nil
	case config.SinkRedis:
		stream, err := redisstream.New(cfg.Redis.Addr,
			redisstream.WithPassword(cfg.Redis.Password),
			redisstream.WithDB(cfg.Redis.DB),
			redisstream.WithStream(cfg.Redis.Stream),
			redisstream.WithMaxLen(cfg.Redis.MaxLen),
		)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to connect audit stream", err)
		}
		logger.Info("audit stream ready", "addr", cfg.Redis.Addr, "stream", stream.Name())
		rec = audit.Multi(be, stream)
		closers = append(closers, func(context.Context) error { return stream.Close() })
	default:
		rec = be
	}

	if cfg.Audit.Buffer > 0 {
		async := audit.NewAsync(rec, cfg.Audit.Buffer, logger)
		rec = async
		// The buffer drains before the sinks close.
		closers = append([]func(context.Context) error{async.Close}, closers...)
	}

	closeAll := func(ctx context.Context) error {
		var err error
		for _, c := range closers {
			err = multierr.Append(err, c(ctx))
		}
		return err
	}
	return rec, closeAll, nil
}

// newEngine wires an engine over be according to cfg.
func newEngine(cfg config.Config, be backend, rec audit.Recorder, logger *slog.Logger) *engine.Engine {
	opts := []engine.EngineOption{
		engine.WithTrail(audit.NewTrail(rec, audit.WithLogger(logger))),
		engine.WithLogger(logger),
		engine.WithRetryAfter(cfg.Sync.RetryAfter),
	}
	if cfg.Locking.AccountLocks {
		opts = append(opts, engine.WithAccountLocks(engine.NewAccountLocks(cfg.Locking.Shards)))
	} else {
		opts = append(opts, engine.WithoutAccountLocks())
	}
	return engine.New(be, opts...)
}

// session is an opened backend with its engine, for one-shot commands.
type session struct {
	backend    backend
	engine     *engine.Engine
	closeAudit func(context.Context) error
}

func openSession(opts *RootOptions) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	be, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	rec, closeAudit, err := buildAuditRecorder(cfg, be, logger)
	if err != nil {
		be.Close()
		return nil, err
	}
	return &session{
		backend:    be,
		engine:     newEngine(cfg, be, rec, logger),
		closeAudit: closeAudit,
	}, nil
}

func (s *session) Close(ctx context.Context) error {
	err := multierr.Combine(s.closeAudit(ctx), s.backend.Close())
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}
