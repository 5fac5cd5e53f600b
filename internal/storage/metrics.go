package storage

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/vectorcache/internal/storage"

// Metrics tracks storage statistics. Counters are mirrored to the global
// OpenTelemetry meter provider.
type Metrics struct {
	storedCounter  metric.Int64Counter
	failedCounter  metric.Int64Counter
	droppedCounter metric.Int64Counter
	deletedCounter metric.Int64Counter
	latency        metric.Float64Histogram
	Stored         int64
	Compressed     int64
	Failed         int64
	Dropped        int64
	Deleted        int64
	BytesStored    int64
}

func newMetrics() *Metrics {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	// Instrument errors are ignored; nil instruments are skipped.
	m.storedCounter, _ = meter.Int64Counter("vectorcache.storage.stored", metric.WithDescription("Tool responses stored"))
	m.failedCounter, _ = meter.Int64Counter("vectorcache.storage.failed", metric.WithDescription("Tool responses that failed to store"))
	m.droppedCounter, _ = meter.Int64Counter("vectorcache.storage.dropped", metric.WithDescription("Tool responses dropped by back-pressure"))
	m.deletedCounter, _ = meter.Int64Counter("vectorcache.storage.deleted", metric.WithDescription("Points removed by retention cleanup"))
	m.latency, _ = meter.Float64Histogram("vectorcache.storage.latency", metric.WithUnit("ms"))
	return m
}

func (m *Metrics) stored(ctx context.Context, tool string, compressed bool, size int, took time.Duration) {
	atomic.AddInt64(&m.Stored, 1)
	atomic.AddInt64(&m.BytesStored, int64(size))
	if compressed {
		atomic.AddInt64(&m.Compressed, 1)
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool), attribute.Bool("compressed", compressed))
	if m.storedCounter != nil {
		m.storedCounter.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(took.Microseconds())/1000, attrs)
	}
}

func (m *Metrics) failed(ctx context.Context) {
	atomic.AddInt64(&m.Failed, 1)
	if m.failedCounter != nil {
		m.failedCounter.Add(ctx, 1)
	}
}

func (m *Metrics) dropped(ctx context.Context) {
	atomic.AddInt64(&m.Dropped, 1)
	if m.droppedCounter != nil {
		m.droppedCounter.Add(ctx, 1)
	}
}

func (m *Metrics) deleted(ctx context.Context, n int) {
	atomic.AddInt64(&m.Deleted, int64(n))
	if m.deletedCounter != nil {
		m.deletedCounter.Add(ctx, int64(n))
	}
}

// GetStats returns the current storage statistics.
func (m *Metrics) GetStats() map[string]any {
	return map[string]any{
		"stored":       atomic.LoadInt64(&m.Stored),
		"compressed":   atomic.LoadInt64(&m.Compressed),
		"failed":       atomic.LoadInt64(&m.Failed),
		"dropped":      atomic.LoadInt64(&m.Dropped),
		"deleted":      atomic.LoadInt64(&m.Deleted),
		"bytes_stored": atomic.LoadInt64(&m.BytesStored),
	}
}
