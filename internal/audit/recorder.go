package audit

import (
	"context"

	"go.uber.org/multierr"

	"github.com/roach88/cfgsync/internal/ir"
)

// Recorder persists audit entries.
type Recorder interface {
	Record(ctx context.Context, e ir.AuditEntry) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e ir.AuditEntry) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, e ir.AuditEntry) error {
	return f(ctx, e)
}

// Nop discards every entry.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, ir.AuditEntry) error { return nil }

// Multi writes each entry to every recorder. All recorders are attempted;
// their errors are combined.
func Multi(recorders ...Recorder) Recorder {
	out := make([]Recorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return multiRecorder(out)
}

type multiRecorder []Recorder

func (m multiRecorder) Record(ctx context.Context, e ir.AuditEntry) error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Record(ctx, e))
	}
	return err
}
