package observability

import (
	"context"
	"time"

	"presence-tracker/internal/common/logger"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the otel meter and tracer used by the presence core.
// A nil *Observability is valid and records nothing.
type Observability struct {
	meterProvider     *metric.MeterProvider
	meter             otelmetric.Meter
	tracer            trace.Tracer
	heartbeatCounter  otelmetric.Int64Counter
	heartbeatDuration otelmetric.Float64Histogram
	sweepClosed       otelmetric.Int64Counter
}

// New registers the otel prometheus exporter with the default registerer.
func New(serviceName string, log logger.Logger) *Observability {
	return NewWithRegisterer(serviceName, promclient.DefaultRegisterer, log)
}

// NewWithRegisterer is New with an explicit prometheus registerer.
func NewWithRegisterer(serviceName string, reg promclient.Registerer, log logger.Logger) *Observability {
	log = logger.ForComponent(log, "observability")
	tracer := otel.Tracer(serviceName)

	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		log.Warn("Failed to create Prometheus exporter", map[string]interface{}{"error": err})
		return &Observability{tracer: tracer}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	heartbeatCounter, _ := meter.Int64Counter(
		"presence.heartbeats",
		otelmetric.WithDescription("Number of heartbeats processed"),
	)

	heartbeatDuration, _ := meter.Float64Histogram(
		"presence.heartbeat.duration",
		otelmetric.WithDescription("Heartbeat processing duration"),
		otelmetric.WithUnit("ms"),
	)

	sweepClosed, _ := meter.Int64Counter(
		"presence.sweep.closed",
		otelmetric.WithDescription("Stale presences closed by the sweeper"),
	)

	return &Observability{
		meterProvider:     provider,
		meter:             meter,
		tracer:            tracer,
		heartbeatCounter:  heartbeatCounter,
		heartbeatDuration: heartbeatDuration,
		sweepClosed:       sweepClosed,
	}
}

// StartSpan opens a span under ctx. It never returns a nil span.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("presence-tracker")
	if o != nil && o.tracer != nil {
		tracer = o.tracer
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordHeartbeat(ctx context.Context, kind, result string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	)
	if o.heartbeatCounter != nil {
		o.heartbeatCounter.Add(ctx, 1, attrs)
	}
	if o.heartbeatDuration != nil {
		o.heartbeatDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordSweepClosed(ctx context.Context, closed int) {
	if o == nil || o.sweepClosed == nil || closed == 0 {
		return
	}
	o.sweepClosed.Add(ctx, int64(closed))
}

func (o *Observability) Shutdown() {
	if o != nil && o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.meterProvider.Shutdown(ctx)
	}
}
