// Package metrics wires the engine's counters and histograms through
// OpenTelemetry, the way a production filesystem service wires its storage and
// filesystem-op metrics through the same otel.Meter/metric.Int64Counter
// primitives.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	OpKey    = "op"
	CodeKey  = "code"
	ErrorKey = "error"
)

var (
	opsMeter    = otel.Meter("lfs_op")
	engineMeter = otel.Meter("lfs_engine")

	opAttrSets    sync.Map
	errorAttrSets sync.Map
)

func opAttrSet(op string) metric.MeasurementOption {
	if v, ok := opAttrSets.Load(op); ok {
		return v.(metric.MeasurementOption)
	}
	v, _ := opAttrSets.LoadOrStore(op, metric.WithAttributeSet(attribute.NewSet(attribute.String(OpKey, op))))
	return v.(metric.MeasurementOption)
}

func errorAttrSet(op, code string) metric.MeasurementOption {
	key := op + "|" + code
	if v, ok := errorAttrSets.Load(key); ok {
		return v.(metric.MeasurementOption)
	}
	v, _ := errorAttrSets.LoadOrStore(key, metric.WithAttributeSet(
		attribute.NewSet(attribute.String(OpKey, op), attribute.String(CodeKey, code))))
	return v.(metric.MeasurementOption)
}

// Handle is the set of instruments the core records against. A nil *Handle
// is safe to use (every method becomes a no-op), mirroring the usual
// NoopMetricHandle for mounts that don't wire metrics up.
type Handle struct {
	opCount      metric.Int64Counter
	opErrorCount metric.Int64Counter
	opLatency    metric.Float64Histogram

	commits     metric.Int64Counter
	compactions metric.Int64Counter
	relocations metric.Int64Counter
	orphansFxd  metric.Int64Counter
	allocScans  metric.Int64Counter
	allocFails  metric.Int64Counter
	gcPasses    metric.Int64Counter
	gcLatency   metric.Float64Histogram
}

// NewHandle builds a Handle backed by the global otel MeterProvider. Call
// once per mount; safe to share across goroutines (the FS mutex already
// serializes the core, but instrument recording itself is concurrency-safe).
func NewHandle() (*Handle, error) {
	h := &Handle{}
	var err error

	if h.opCount, err = opsMeter.Int64Counter("lfs/op/count"); err != nil {
		return nil, err
	}
	if h.opErrorCount, err = opsMeter.Int64Counter("lfs/op/error_count"); err != nil {
		return nil, err
	}
	if h.opLatency, err = opsMeter.Float64Histogram("lfs/op/latency_ms",
		metric.WithExplicitBucketBoundaries(1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024)); err != nil {
		return nil, err
	}
	if h.commits, err = engineMeter.Int64Counter("lfs/mdir/commits"); err != nil {
		return nil, err
	}
	if h.compactions, err = engineMeter.Int64Counter("lfs/mdir/compactions"); err != nil {
		return nil, err
	}
	if h.relocations, err = engineMeter.Int64Counter("lfs/mdir/relocations"); err != nil {
		return nil, err
	}
	if h.orphansFxd, err = engineMeter.Int64Counter("lfs/mdir/orphans_fixed"); err != nil {
		return nil, err
	}
	if h.allocScans, err = engineMeter.Int64Counter("lfs/alloc/scans"); err != nil {
		return nil, err
	}
	if h.allocFails, err = engineMeter.Int64Counter("lfs/alloc/nospc"); err != nil {
		return nil, err
	}
	if h.gcPasses, err = engineMeter.Int64Counter("lfs/gc/passes"); err != nil {
		return nil, err
	}
	if h.gcLatency, err = engineMeter.Float64Histogram("lfs/gc/latency_ms"); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *Handle) OpCount(ctx context.Context, op string) {
	if h == nil {
		return
	}
	h.opCount.Add(ctx, 1, opAttrSet(op))
}

func (h *Handle) OpError(ctx context.Context, op, code string) {
	if h == nil {
		return
	}
	h.opErrorCount.Add(ctx, 1, errorAttrSet(op, code))
}

func (h *Handle) OpLatency(ctx context.Context, op string, d time.Duration) {
	if h == nil {
		return
	}
	h.opLatency.Record(ctx, float64(d.Microseconds())/1000, opAttrSet(op))
}

func (h *Handle) Commit(ctx context.Context)     { h.inc(ctx, func() metric.Int64Counter { return h.commits }) }
func (h *Handle) Compaction(ctx context.Context)  { h.inc(ctx, func() metric.Int64Counter { return h.compactions }) }
func (h *Handle) Relocation(ctx context.Context)  { h.inc(ctx, func() metric.Int64Counter { return h.relocations }) }
func (h *Handle) OrphanFixed(ctx context.Context) { h.inc(ctx, func() metric.Int64Counter { return h.orphansFxd }) }
func (h *Handle) AllocScan(ctx context.Context)   { h.inc(ctx, func() metric.Int64Counter { return h.allocScans }) }
func (h *Handle) AllocFailed(ctx context.Context) { h.inc(ctx, func() metric.Int64Counter { return h.allocFails }) }

func (h *Handle) GCPass(ctx context.Context, d time.Duration) {
	if h == nil {
		return
	}
	h.gcPasses.Add(ctx, 1)
	h.gcLatency.Record(ctx, float64(d.Microseconds())/1000)
}

func (h *Handle) inc(ctx context.Context, pick func() metric.Int64Counter) {
	if h == nil {
		return
	}
	pick().Add(ctx, 1)
}
