package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the tasking store instruments.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheHits        metric.Int64Counter
	CacheMisses      metric.Int64Counter
	StreamsNarrowed  metric.Int64Counter
	OverlapRejects   metric.Int64Counter
	StatusesAdded    metric.Int64Counter
	StatusesPruned   metric.Int64Counter
	ReconcileLatency metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CacheHits, err = meter.Int64Counter("tasking.stream_cache.hits",
		metric.WithDescription("Command stream lookups served from cache"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("tasking.stream_cache.misses",
		metric.WithDescription("Command stream lookups that went to the database"),
	)
	if err != nil {
		return nil, err
	}

	m.StreamsNarrowed, err = meter.Int64Counter("tasking.streams.narrowed",
		metric.WithDescription("Existing command streams whose valid time was narrowed"),
	)
	if err != nil {
		return nil, err
	}

	m.OverlapRejects, err = meter.Int64Counter("tasking.streams.overlap_rejects",
		metric.WithDescription("Command stream inserts rejected for full overlap"),
	)
	if err != nil {
		return nil, err
	}

	m.StatusesAdded, err = meter.Int64Counter("tasking.statuses.added",
		metric.WithDescription("Command status reports stored"),
	)
	if err != nil {
		return nil, err
	}

	m.StatusesPruned, err = meter.Int64Counter("tasking.statuses.pruned",
		metric.WithDescription("Command status reports removed by retention"),
	)
	if err != nil {
		return nil, err
	}

	m.ReconcileLatency, err = meter.Float64Histogram("tasking.streams.add.duration",
		metric.WithDescription("Command stream insert duration including reconciliation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// CacheHit counts one cache hit.
func (m *Metrics) CacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1)
}

// CacheMiss counts one cache miss.
func (m *Metrics) CacheMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// Narrowed counts n narrowed streams.
func (m *Metrics) Narrowed(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.StreamsNarrowed.Add(ctx, int64(n))
}

// OverlapRejected counts one rejected insert.
func (m *Metrics) OverlapRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.OverlapRejects.Add(ctx, 1)
}

// StatusAdded counts one stored status, labelled by status code.
func (m *Metrics) StatusAdded(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.StatusesAdded.Add(ctx, 1, metric.WithAttributes(AttrStatusCode.String(code)))
}

// Pruned counts n statuses removed by retention.
func (m *Metrics) Pruned(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.StatusesPruned.Add(ctx, n)
}

// AddDuration records how long one stream insert took.
func (m *Metrics) AddDuration(ctx context.Context, seconds float64, outcome string) {
	if m == nil {
		return
	}
	m.ReconcileLatency.Record(ctx, seconds, metric.WithAttributes(attribute.String("outcome", outcome)))
}
