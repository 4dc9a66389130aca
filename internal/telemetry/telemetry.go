package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry owns the process TracerProvider.
//
// Exporter failures do not stop the bridge; the instance reports itself as
// degraded and hands out no-op tracers.
type Telemetry struct {
	config         *Config
	tracerProvider *trace.TracerProvider

	degraded atomic.Bool
	reason   atomic.Value
}

// New creates a Telemetry instance. A disabled config yields a no-op
// instance.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tpOpts := []trace.TracerProviderOption{
		trace.WithResource(newResource(cfg)),
		trace.WithSampler(newSampler(cfg.Sampling.Rate)),
	}
	if o.processor != nil {
		tpOpts = append(tpOpts, trace.WithSpanProcessor(o.processor))
	}

	exporter := o.exporter
	if exporter == nil && o.processor == nil {
		exp, err := newExporter(ctx, cfg)
		if err != nil {
			t.setDegraded(err)
			return t, nil
		}
		exporter = exp
	}
	if exporter != nil {
		tpOpts = append(tpOpts, trace.WithBatcher(exporter))
	}

	t.tracerProvider = trace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope, or a no-op
// tracer when tracing is disabled or degraded.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return noop.NewTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Shutdown flushes pending spans and stops the provider. Without a context
// deadline the configured shutdown timeout applies.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("trace provider shutdown: %w", err)
	}
	return nil
}

// ForceFlush exports all pending spans.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil || t.tracerProvider == nil {
		return nil
	}
	return t.tracerProvider.ForceFlush(ctx)
}

// HealthStatus reports whether tracing is running.
type HealthStatus struct {
	Enabled  bool   `json:"enabled"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// Health returns the current telemetry health status.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{}
	}
	reason, _ := t.reason.Load().(string)
	return HealthStatus{
		Enabled:  t.config.Enabled && t.tracerProvider != nil,
		Degraded: t.degraded.Load(),
		Reason:   reason,
	}
}

func (t *Telemetry) setDegraded(err error) {
	t.reason.Store(err.Error())
	t.degraded.Store(true)
}
