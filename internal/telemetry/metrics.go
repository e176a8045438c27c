package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments for the allocation core. A nil *Metrics is
// valid and records nothing, so tests and the CLI can skip the OTel setup.
type Metrics struct {
	cacheLookups    metric.Int64Counter
	backendCalls    metric.Int64Counter
	backendDuration metric.Float64Histogram
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/clusterkit/segmentpool")

	cacheLookups, err := meter.Int64Counter(
		"segmentpool.cache.lookups",
		metric.WithDescription("Cache lookups by outcome (hit/miss)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache lookup counter: %w", err)
	}

	backendCalls, err := meter.Int64Counter(
		"segmentpool.inventory.calls",
		metric.WithDescription("Inventory calls by operation kind and latency class"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory call counter: %w", err)
	}

	backendDuration, err := meter.Float64Histogram(
		"segmentpool.inventory.call_duration",
		metric.WithDescription("Inventory call duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create inventory duration histogram: %w", err)
	}

	return &Metrics{
		cacheLookups:    cacheLookups,
		backendCalls:    backendCalls,
		backendDuration: backendDuration,
	}, nil
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, class string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordBackendCall(ctx context.Context, kind, latencyClass string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("latency_class", latencyClass),
	)
	m.backendCalls.Add(ctx, 1, attrs)
	m.backendDuration.Record(ctx, elapsed.Seconds(), attrs)
}
