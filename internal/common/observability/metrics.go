package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider      *metric.MeterProvider
	meter              otelmetric.Meter
	runCounter         otelmetric.Int64Counter
	transitionCounter  otelmetric.Int64Counter
	runDuration        otelmetric.Float64Histogram
	staleCandidates    otelmetric.Int64Gauge
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	runCounter, _ := meter.Int64Counter(
		"reconciliation.runs",
		otelmetric.WithDescription("Number of reconciliation runs"),
	)

	transitionCounter, _ := meter.Int64Counter(
		"reconciliation.transitions",
		otelmetric.WithDescription("Number of substage transitions applied"),
	)

	runDuration, _ := meter.Float64Histogram(
		"reconciliation.run.duration",
		otelmetric.WithDescription("Reconciliation run duration"),
		otelmetric.WithUnit("ms"),
	)

	staleCandidates, _ := meter.Int64Gauge(
		"reconciliation.stale.candidates",
		otelmetric.WithDescription("Candidates flagged stale on the last run"),
	)

	return &Observability{
		meterProvider:     provider,
		meter:             meter,
		runCounter:        runCounter,
		transitionCounter: transitionCounter,
		runDuration:       runDuration,
		staleCandidates:   staleCandidates,
	}
}

func (o *Observability) RecordRun(ctx context.Context, status string) {
	if o.runCounter != nil {
		o.runCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordTransitions(ctx context.Context, stage string, count int) {
	if o.transitionCounter != nil && count > 0 {
		o.transitionCounter.Add(ctx, int64(count), otelmetric.WithAttributes(
			attribute.String("stage", stage),
		))
	}
}

func (o *Observability) RecordRunDuration(ctx context.Context, duration time.Duration, status string) {
	if o.runDuration != nil {
		o.runDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordStaleCandidates(ctx context.Context, count int) {
	if o.staleCandidates != nil {
		o.staleCandidates.Record(ctx, int64(count))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
