package litepool

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/karloscodes/litepool/retry"
)

const instrumentationName = "github.com/karloscodes/litepool"

// telemetry holds the tracer and instruments for one pool. An
// instrument that fails to register stays nil and is skipped.
type telemetry struct {
	tracer trace.Tracer
	path   attribute.KeyValue
	attrs  metric.MeasurementOption

	retries     metric.Int64Counter
	checkpoints metric.Int64Counter
	acquireWait metric.Float64Histogram
	acquired    metric.Int64Counter

	registration metric.Registration
}

func newTelemetry(cfg Config, stats func() Stats) *telemetry {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	t := &telemetry{
		tracer: tp.Tracer(instrumentationName),
		path:   attribute.String("db.path", cfg.Path),
	}
	t.attrs = metric.WithAttributes(t.path)
	meter := mp.Meter(instrumentationName)

	var errs []error
	var err error
	t.retries, err = meter.Int64Counter("litepool.retries",
		metric.WithDescription("Operations retried after busy or locked errors"))
	errs = append(errs, err)
	t.checkpoints, err = meter.Int64Counter("litepool.checkpoints",
		metric.WithDescription("WAL checkpoints run, by mode and outcome"))
	errs = append(errs, err)
	t.acquired, err = meter.Int64Counter("litepool.acquires",
		metric.WithDescription("Connections handed out"))
	errs = append(errs, err)
	t.acquireWait, err = meter.Float64Histogram("litepool.acquire.wait",
		metric.WithDescription("Time spent waiting for a free slot"),
		metric.WithUnit("s"))
	errs = append(errs, err)

	inUse, err := meter.Int64ObservableGauge("litepool.connections.in_use",
		metric.WithDescription("Connections currently borrowed"))
	errs = append(errs, err)
	idle, err := meter.Int64ObservableGauge("litepool.connections.idle",
		metric.WithDescription("Open connections waiting to be borrowed"))
	errs = append(errs, err)
	waiting, err := meter.Int64ObservableGauge("litepool.acquire.waiting",
		metric.WithDescription("Callers blocked in Acquire"))
	errs = append(errs, err)

	if errors.Join(errs...) == nil {
		t.registration, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			s := stats()
			o.ObserveInt64(inUse, int64(s.InUse), t.attrs)
			o.ObserveInt64(idle, int64(s.Idle), t.attrs)
			o.ObserveInt64(waiting, int64(s.Waiting), t.attrs)
			return nil
		}, inUse, idle, waiting)
	}
	return t
}

func (t *telemetry) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (t *telemetry) onRetry(retry.Attempt) {
	if t.retries != nil {
		t.retries.Add(context.Background(), 1, t.attrs)
	}
}

func (t *telemetry) recordAcquire(ctx context.Context, waited time.Duration) {
	if t.acquireWait != nil {
		t.acquireWait.Record(ctx, waited.Seconds(), t.attrs)
	}
	if t.acquired != nil {
		t.acquired.Add(ctx, 1, t.attrs)
	}
}

func (t *telemetry) recordCheckpoint(ctx context.Context, mode CheckpointMode, outcome string) {
	if t.checkpoints != nil {
		t.checkpoints.Add(ctx, 1, metric.WithAttributes(
			t.path,
			attribute.String("mode", string(mode)),
			attribute.String("outcome", outcome),
		))
	}
}

func (t *telemetry) shutdown() error {
	if t.registration == nil {
		return nil
	}
	return t.registration.Unregister()
}

// finish records err on span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
