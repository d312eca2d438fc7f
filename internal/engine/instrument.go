package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/roach88/cfgsync/internal/engine"

// instruments holds the tracer and meters for Save.
type instruments struct {
	tracer   trace.Tracer
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

// WithTelemetry sets the OpenTelemetry providers. nil uses the globals.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) EngineOption {
	return func(e *Engine) {
		e.metrics = newInstruments(tp, mp, e.logger)
	}
}

func newInstruments(tp trace.TracerProvider, mp metric.MeterProvider, logger *slog.Logger) *instruments {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	in := &instruments{tracer: tp.Tracer(instrumentationName)}

	var err error
	in.outcomes, err = meter.Int64Counter("cfgsync.save.outcomes",
		metric.WithDescription("Config saves by outcome"),
	)
	if err != nil {
		logger.Warn("otel counter unavailable", "error", err)
	}
	in.duration, err = meter.Float64Histogram("cfgsync.save.duration",
		metric.WithDescription("Config save latency including lock waits"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("otel histogram unavailable", "error", err)
	}
	return in
}

// startSave opens the save span. The returned func records the result.
func (in *instruments) startSave(ctx context.Context, req SaveRequest) (context.Context, func(Outcome, error)) {
	start := time.Now()
	ctx, span := in.tracer.Start(ctx, "cfgsync.save",
		trace.WithAttributes(attribute.String("cfgsync.account_id", req.AccountID)),
	)
	if req.ClientRevision != nil {
		span.SetAttributes(attribute.Int64("cfgsync.client_revision", *req.ClientRevision))
	}

	return ctx, func(out Outcome, err error) {
		result := out.Status.String()
		switch {
		case IsClientError(err):
			result = "client_error"
		case err != nil:
			result = "internal_error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.String("cfgsync.outcome", result),
			attribute.Int64("cfgsync.server_revision", out.ServerRevision),
		)
		span.End()

		attrs := metric.WithAttributes(attribute.String("outcome", result))
		if in.outcomes != nil {
			in.outcomes.Add(ctx, 1, attrs)
		}
		if in.duration != nil {
			in.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}
}
