package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/cfgsync/internal/audit"
	"github.com/roach88/cfgsync/internal/ir"
	"github.com/roach88/cfgsync/internal/store"
	"github.com/roach88/cfgsync/internal/testutil"
)

func setupTestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestEngine wires an engine to a fresh store that also records audit
// entries synchronously.
func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	clock := testutil.NewDeterministicClock()
	base := []EngineOption{
		WithTrail(audit.NewTrail(s)),
		WithClock(clock.Now),
	}
	return New(s, append(base, opts...)...), s
}

func rev(n int64) *int64 { return &n }

func stocks(codes string) ir.ConfigFields {
	return ir.ConfigFields{StockCodes: codes}
}

func save(t *testing.T, e *Engine, account string, clientRevision *int64, fields ir.ConfigFields) Outcome {
	t.Helper()
	out, err := e.Save(context.Background(), SaveRequest{
		AccountID:      account,
		ClientRevision: clientRevision,
		Fields:         fields,
		ClientInfo:     "engine-test",
	})
	require.NoError(t, err)
	return out
}

func TestEngine_New_Defaults(t *testing.T) {
	s := setupTestStore(t)
	e := New(s)

	require.NotNil(t, e.locks)
	assert.Equal(t, DefaultLockShards, e.locks.Shards())
	assert.Equal(t, DefaultRetryAfter, e.retryAfter)
	assert.NotNil(t, e.trail)
	assert.NotNil(t, e.metrics)
}

func TestEngine_Scenario(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	out := save(t, e, "A", rev(0), stocks("sh600000"))
	assert.Equal(t, StatusSaved, out.Status)
	assert.Equal(t, int64(1), out.Record.Revision)

	out = save(t, e, "A", rev(1), stocks("sh600000,sh600001"))
	assert.Equal(t, StatusSaved, out.Status)
	assert.Equal(t, int64(2), out.Record.Revision)

	out = save(t, e, "A", rev(1), stocks("sh600002"))
	assert.Equal(t, StatusConflict, out.Status)
	assert.Equal(t, int64(2), out.ServerRevision)
	assert.Equal(t, int64(1), *out.ClientRevision)
	assert.Equal(t, "sh600000,sh600001", out.Record.StockCodes)

	out = save(t, e, "A", rev(1), stocks("sh600000,sh600001"))
	assert.Equal(t, StatusNoChange, out.Status)
	assert.True(t, out.Merged)
	assert.True(t, out.OK())
	assert.Equal(t, int64(2), out.Record.Revision)

	stored, found, err := s.GetConfig(ctx, "A")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), stored.Revision)

	entries, err := s.ReadAudit(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, ir.AuditWrite, entries[0].Action)
	assert.Equal(t, int64(1), *entries[0].ServerRevision)
	assert.Equal(t, ir.AuditWrite, entries[1].Action)
	assert.Equal(t, int64(2), *entries[1].ServerRevision)
	assert.Equal(t, ir.AuditConflict, entries[2].Action)
	assert.Equal(t, int64(1), *entries[2].ClientRevision)
	assert.Equal(t, int64(2), *entries[2].ServerRevision)
	assert.Equal(t, ir.AuditWrite, entries[3].Action)
	assert.True(t, entries[3].Merged)
	for _, entry := range entries {
		assert.Equal(t, "engine-test", entry.ClientInfo)
	}
}

func TestEngine_InitialCreation(t *testing.T) {
	tests := []struct {
		name     string
		revision *int64
	}{
		{"absent revision", nil},
		{"zero revision", rev(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, s := newTestEngine(t)
			out := save(t, e, "acct", tt.revision, stocks("sh600000"))

			assert.Equal(t, StatusSaved, out.Status)
			assert.Equal(t, int64(1), out.Record.Revision)
			assert.Equal(t, ir.DataHash(stocks("sh600000")), out.Record.DataHash)

			stored, found, err := s.GetConfig(context.Background(), "acct")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, out.Record, stored)
		})
	}
}

func TestEngine_InvalidInitialRevision(t *testing.T) {
	for _, bad := range []int64{1, 2, -1} {
		e, s := newTestEngine(t)

		_, err := e.Save(context.Background(), SaveRequest{
			AccountID:      "acct",
			ClientRevision: rev(bad),
			Fields:         stocks("x"),
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInitialRevision)
		assert.True(t, IsClientError(err))

		_, found, err := s.GetConfig(context.Background(), "acct")
		require.NoError(t, err)
		assert.False(t, found, "nothing may be created for revision %d", bad)
	}
}

func TestEngine_MissingRevisionOnExistingRecord(t *testing.T) {
	e, s := newTestEngine(t)
	save(t, e, "acct", nil, stocks("a"))

	_, err := e.Save(context.Background(), SaveRequest{AccountID: "acct", Fields: stocks("b")})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRevision)
	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, int64(1), se.ServerRevision)

	entries, err := s.ReadAudit(context.Background(), "acct", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ir.AuditWrite, entries[0].Action)
	assert.Nil(t, entries[0].ClientRevision)
	assert.Equal(t, int64(1), *entries[0].ServerRevision)

	stored, _, err := s.GetConfig(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "a", stored.StockCodes)
}

func TestEngine_MonotonicRevisions(t *testing.T) {
	e, _ := newTestEngine(t)

	var current int64
	for i := 1; i <= 20; i++ {
		out := save(t, e, "acct", rev(current), ir.ConfigFields{Memos: string(rune('a' + i))})
		require.Equal(t, StatusSaved, out.Status)
		assert.Equal(t, int64(i), out.Record.Revision)
		current = out.Record.Revision
	}
}

func TestEngine_IdempotentRetry(t *testing.T) {
	e, s := newTestEngine(t)
	save(t, e, "acct", rev(0), stocks("a"))
	first := save(t, e, "acct", rev(1), stocks("a,b"))

	retry := save(t, e, "acct", rev(1), stocks("a,b"))

	assert.Equal(t, StatusNoChange, retry.Status)
	assert.True(t, retry.Merged)
	assert.Equal(t, first.Record, retry.Record, "retry returns the stored record untouched")

	stored, _, err := s.GetConfig(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Revision)
}

func TestEngine_SameRevisionSameContentAdvances(t *testing.T) {
	e, _ := newTestEngine(t)
	save(t, e, "acct", rev(0), stocks("a"))

	out := save(t, e, "acct", rev(1), stocks("a"))

	assert.Equal(t, StatusSaved, out.Status)
	assert.Equal(t, int64(2), out.Record.Revision)
}

func TestEngine_TrueConflictLeavesRecordUntouched(t *testing.T) {
	e, s := newTestEngine(t)
	save(t, e, "acct", rev(0), stocks("a"))
	latest := save(t, e, "acct", rev(1), stocks("a,b"))

	out := save(t, e, "acct", rev(1), ir.ConfigFields{StockCodes: "a", Memos: "mine"})

	assert.Equal(t, StatusConflict, out.Status)
	assert.False(t, out.OK())
	assert.Equal(t, latest.Record, out.Record)

	stored, _, err := s.GetConfig(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, latest.Record, stored)
}

func TestEngine_FutureRevisionIsConflict(t *testing.T) {
	e, _ := newTestEngine(t)
	save(t, e, "acct", rev(0), stocks("a"))

	out := save(t, e, "acct", rev(7), stocks("b"))

	assert.Equal(t, StatusConflict, out.Status)
	assert.Equal(t, int64(1), out.ServerRevision)
}

func TestEngine_LastClientAndTimestamp(t *testing.T) {
	e, s := newTestEngine(t)
	client := "android-14"

	out, err := e.Save(context.Background(), SaveRequest{
		AccountID:  "acct",
		Fields:     stocks("a"),
		LastClient: &client,
	})
	require.NoError(t, err)

	assert.Equal(t, &client, out.Record.LastClient)
	assert.Equal(t, testutil.DefaultBase.Add(time.Second), out.Record.UpdatedAt)

	out = save(t, e, "acct", rev(1), stocks("b"))
	assert.Nil(t, out.Record.LastClient, "last writer wins, including absence")

	stored, _, err := s.GetConfig(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultBase.Add(2*time.Second), stored.UpdatedAt)
}

func TestEngine_GetAuditsReadsOfExistingRecords(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, found, err := e.Get(ctx, "acct", "reader")
	require.NoError(t, err)
	assert.False(t, found)

	saved := save(t, e, "acct", nil, stocks("a"))
	rec, found, err := e.Get(ctx, "acct", "reader")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, saved.Record, rec)

	entries, err := s.ReadAudit(ctx, "acct", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2, "one write, one read; the miss is not audited")
	assert.Equal(t, ir.AuditRead, entries[1].Action)
	assert.Equal(t, "reader", entries[1].ClientInfo)
	assert.Equal(t, rec.DataHash, *entries[1].ServerHash)
}

func TestEngine_Version(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	v, err := e.Version(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Revision)
	assert.Nil(t, v.UpdatedAt)

	saved := save(t, e, "acct", nil, stocks("a"))
	v, err = e.Version(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Revision)
	assert.Equal(t, saved.Record.DataHash, v.DataHash)
	require.NotNil(t, v.UpdatedAt)
	assert.Equal(t, saved.Record.UpdatedAt, *v.UpdatedAt)
}

func TestEngine_AuditFailureDoesNotAffectWrite(t *testing.T) {
	s := setupTestStore(t)
	trail := audit.NewTrail(audit.RecorderFunc(func(context.Context, ir.AuditEntry) error {
		return errors.New("audit table gone")
	}))
	e := New(s, WithTrail(trail))

	out := save(t, e, "acct", nil, stocks("a"))

	assert.Equal(t, StatusSaved, out.Status)
	assert.Equal(t, int64(1), trail.Failures())

	stored, found, err := s.GetConfig(context.Background(), "acct")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), stored.Revision)
}

func TestEngine_BusyWhenRowLockHeld(t *testing.T) {
	s := setupTestStore(t, store.WithBusyTimeout(50*time.Millisecond))
	e := New(s, WithRetryAfter(2*time.Second))
	ctx := context.Background()

	holder, err := s.BeginConfigTx(ctx)
	require.NoError(t, err)

	out, err := e.Save(ctx, SaveRequest{AccountID: "acct", Fields: stocks("a")})
	require.NoError(t, err, "busy is an outcome, not an error")
	assert.Equal(t, StatusBusy, out.Status)
	assert.Equal(t, 2*time.Second, out.RetryAfter)

	require.NoError(t, holder.Rollback())

	// Neither the row lock nor the account lock is left held.
	out = save(t, e, "acct", nil, stocks("a"))
	assert.Equal(t, StatusSaved, out.Status)
	assert.Equal(t, int64(1), out.Record.Revision)
}

func TestEngine_InternalFaultRollsBack(t *testing.T) {
	s := setupTestStore(t)
	e := New(&faultyBackend{Store: s, failSave: errors.New("disk I/O error")})

	_, err := e.Save(context.Background(), SaveRequest{AccountID: "acct", Fields: stocks("a")})

	require.Error(t, err)
	assert.False(t, IsClientError(err))
	assert.Contains(t, err.Error(), "disk I/O error")

	_, found, err := s.GetConfig(context.Background(), "acct")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_InternalFaultWithoutAccountLocks(t *testing.T) {
	s := setupTestStore(t)
	e := New(&faultyBackend{Store: s, failSave: errors.New("disk I/O error")}, WithoutAccountLocks())

	_, err := e.Save(context.Background(), SaveRequest{AccountID: "acct", Fields: stocks("a")})

	require.Error(t, err)
	assert.False(t, IsClientError(err))
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestEngine_CommitFailureRollsBack(t *testing.T) {
	s := setupTestStore(t)
	e := New(&faultyBackend{Store: s, failCommit: errors.New("commit lost")})

	_, err := e.Save(context.Background(), SaveRequest{AccountID: "acct", Fields: stocks("a")})

	require.Error(t, err)
	_, found, err := s.GetConfig(context.Background(), "acct")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_WithTelemetryNoop(t *testing.T) {
	s := setupTestStore(t)
	e := New(s, WithTelemetry(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider()))

	out := save(t, e, "acct", nil, stocks("a"))
	assert.Equal(t, StatusSaved, out.Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "saved", StatusSaved.String())
	assert.Equal(t, "no_change", StatusNoChange.String())
	assert.Equal(t, "conflict", StatusConflict.String())
	assert.Equal(t, "busy", StatusBusy.String())
	assert.Equal(t, "unknown", Status(0).String())
}

// faultyBackend injects failures into the write transaction of a real store.
type faultyBackend struct {
	*store.Store
	failSave   error
	failCommit error
}

func (b *faultyBackend) BeginConfigTx(ctx context.Context) (store.ConfigTx, error) {
	tx, err := b.Store.BeginConfigTx(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{ConfigTx: tx, b: b}, nil
}

type faultyTx struct {
	store.ConfigTx
	b *faultyBackend
}

func (t *faultyTx) SaveConfig(ctx context.Context, rec ir.ConfigRecord) error {
	if t.b.failSave != nil {
		return t.b.failSave
	}
	return t.ConfigTx.SaveConfig(ctx, rec)
}

func (t *faultyTx) Commit() error {
	if t.b.failCommit != nil {
		return t.b.failCommit
	}
	return t.ConfigTx.Commit()
}
