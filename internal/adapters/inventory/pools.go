package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clusterkit/segmentpool/internal/logging"
	"github.com/clusterkit/segmentpool/internal/telemetry"
	"golang.org/x/sync/semaphore"
)

type latencyClass string

const (
	latencyNormal latencyClass = "normal"
	latencySlow   latencyClass = "slow"
	latencySevere latencyClass = "severe"
)

func classifyLatency(elapsed, slowThreshold, severeThreshold time.Duration) latencyClass {
	switch {
	case elapsed >= severeThreshold:
		return latencySevere
	case elapsed >= slowThreshold:
		return latencySlow
	default:
		return latencyNormal
	}
}

// Pools bounds the number of concurrent inventory calls, independently for
// reads and writes. Reads dominate volume and are cheap, so the read pool is
// wider. Every call is timed and classified against the slow/severe
// thresholds; classification drives log severity and metrics, never a hard
// timeout - cancellation remains the caller's business via ctx.
type Pools struct {
	readSlots  *semaphore.Weighted
	writeSlots *semaphore.Weighted

	slowThreshold   time.Duration
	severeThreshold time.Duration

	metrics *telemetry.Metrics
}

func NewPools(readWorkers, writeWorkers int, slowThreshold, severeThreshold time.Duration, metrics *telemetry.Metrics) *Pools {
	if readWorkers <= 0 || writeWorkers <= 0 {
		panic("logic error: pool sizes must be positive")
	}
	return &Pools{
		readSlots:       semaphore.NewWeighted(int64(readWorkers)),
		writeSlots:      semaphore.NewWeighted(int64(writeWorkers)),
		slowThreshold:   slowThreshold,
		severeThreshold: severeThreshold,
		metrics:         metrics,
	}
}

func (p *Pools) RunRead(ctx context.Context, description string, call func(context.Context) error) error {
	return p.run(ctx, "read", p.readSlots, description, call)
}

func (p *Pools) RunWrite(ctx context.Context, description string, call func(context.Context) error) error {
	return p.run(ctx, "write", p.writeSlots, description, call)
}

func (p *Pools) run(ctx context.Context, kind string, slots *semaphore.Weighted, description string, call func(context.Context) error) error {
	if err := slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for %s slot: %w", kind, err)
	}
	defer slots.Release(1)

	start := time.Now()
	err := call(ctx)
	elapsed := time.Since(start)

	class := classifyLatency(elapsed, p.slowThreshold, p.severeThreshold)
	p.metrics.RecordBackendCall(ctx, kind, string(class), elapsed)

	logger := logging.FromContext(ctx)
	attrs := []any{
		slog.String("kind", kind),
		slog.String("operation", description),
		slog.String("duration", elapsed.String()),
		slog.String("latencyClass", string(class)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	switch class {
	case latencySevere:
		logger.ErrorContext(ctx, "inventory call severely throttled", attrs...)
	case latencySlow:
		logger.WarnContext(ctx, "inventory call slow", attrs...)
	default:
		logger.InfoContext(ctx, "inventory call completed", attrs...)
	}

	return err
}
