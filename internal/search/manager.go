// Package search executes classified queries against the vector cache and
// shapes the results for the tool surface.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/query"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/vector"
)

// ErrNotFound is returned when a requested point does not exist.
var ErrNotFound = errors.New("point not found")

// Search configuration constants.
const (
	// DefaultThreshold selects the configured score threshold.
	DefaultThreshold = -1

	maxQueryLimit = 100

	// analyticsPageSize bounds each scroll page of an analytics scan.
	analyticsPageSize = 1000

	slowQueryThreshold  = 500 * time.Millisecond
	queryLogTruncateLen = 50
	meterName           = "github.com/thebtf/vectorcache/internal/search"
)

// SearchMetrics tracks search performance statistics.
type SearchMetrics struct {
	searches          metric.Int64Counter
	latency           metric.Float64Histogram
	TotalSearches     int64
	VectorSearches    int64
	FilterSearches    int64
	LookupSearches    int64
	TotalLatencyNs    int64
	CoalescedRequests int64
	SearchErrors      int64
}

func newSearchMetrics() *SearchMetrics {
	meter := otel.Meter(meterName)
	m := &SearchMetrics{}
	m.searches, _ = meter.Int64Counter("vectorcache.search.requests", metric.WithDescription("Search requests by route"))
	m.latency, _ = meter.Float64Histogram("vectorcache.search.latency", metric.WithUnit("ms"))
	return m
}

func (m *SearchMetrics) record(ctx context.Context, route string, took time.Duration, err error) {
	atomic.AddInt64(&m.TotalSearches, 1)
	atomic.AddInt64(&m.TotalLatencyNs, took.Nanoseconds())
	if err != nil {
		atomic.AddInt64(&m.SearchErrors, 1)
	}
	attrs := metric.WithAttributes(attribute.String("route", route), attribute.Bool("error", err != nil))
	if m.searches != nil {
		m.searches.Add(ctx, 1, attrs)
	}
	if m.latency != nil {
		m.latency.Record(ctx, float64(took.Microseconds())/1000, attrs)
	}
}

// GetStats returns the current search statistics.
func (m *SearchMetrics) GetStats() map[string]any {
	total := atomic.LoadInt64(&m.TotalSearches)
	avgLatencyMs := float64(0)
	if total > 0 {
		avgLatencyMs = float64(atomic.LoadInt64(&m.TotalLatencyNs)) / float64(total) / 1e6
	}
	return map[string]any{
		"total_searches":     total,
		"vector_searches":    atomic.LoadInt64(&m.VectorSearches),
		"filter_searches":    atomic.LoadInt64(&m.FilterSearches),
		"lookup_searches":    atomic.LoadInt64(&m.LookupSearches),
		"coalesced_requests": atomic.LoadInt64(&m.CoalescedRequests),
		"search_errors":      atomic.LoadInt64(&m.SearchErrors),
		"avg_latency_ms":     avgLatencyMs,
	}
}

// Manager runs searches, lookups and analytics over the cache collection.
type Manager struct {
	conn        *connection.Manager
	catalog     *services.Catalog
	metrics     *SearchMetrics
	now         func() time.Time
	searchGroup singleflight.Group
	logger      zerolog.Logger
	collection  string
}

// NewManager creates a search manager. A nil catalog uses the built-in services.
func NewManager(conn *connection.Manager, catalog *services.Catalog) *Manager {
	if catalog == nil {
		catalog = services.Default()
	}
	return &Manager{
		conn:    conn,
		catalog: catalog,
		metrics: newSearchMetrics(),
		now:     time.Now,
		logger:  log.With().Str("component", "search").Logger(),
	}
}

// Metrics returns the search statistics.
func (m *Manager) Metrics() *SearchMetrics {
	return m.metrics
}

// Catalog returns the service catalog used for titles and service filters.
func (m *Manager) Catalog() *services.Catalog {
	return m.catalog
}

// Collection returns the collection searched, the primary one unless scoped.
func (m *Manager) Collection() string {
	if m.collection != "" {
		return m.collection
	}
	return m.conn.Config().Collection
}

// Scoped returns a manager over another collection sharing this manager's
// connection, catalog and metrics.
func (m *Manager) Scoped(collection string) *Manager {
	if collection == "" || collection == m.Collection() {
		return m
	}
	return &Manager{
		conn:       m.conn,
		catalog:    m.catalog,
		metrics:    m.metrics,
		now:        m.now,
		logger:     m.logger.With().Str("collection", collection).Logger(),
		collection: collection,
	}
}

// store returns the initialized vector store or connection.ErrUnavailable.
func (m *Manager) store(ctx context.Context) (vector.Store, error) {
	if !m.conn.EnsureInitialized(ctx) {
		return nil, connection.ErrUnavailable
	}
	return m.conn.Store()
}

// normalize applies configured defaults to a limit and score threshold.
func (m *Manager) normalize(limit int, threshold float64) (int, float64) {
	cfg := m.conn.Config()
	if limit <= 0 {
		limit = cfg.SearchLimit
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	if threshold < 0 {
		threshold = cfg.ScoreThreshold
	}
	return limit, threshold
}

// Search parses query and runs the matching retrieval strategy. Identical
// concurrent searches share one execution.
func (m *Manager) Search(ctx context.Context, q string, limit int, threshold float64) (*Response, error) {
	limit, threshold = m.normalize(limit, threshold)
	key := fmt.Sprintf("search|%s|%s|%d|%g", m.Collection(), q, limit, threshold)

	v, err, shared := m.searchGroup.Do(key, func() (any, error) {
		return m.execute(ctx, query.Parse(q), q, limit, threshold)
	})
	if shared {
		atomic.AddInt64(&m.metrics.CoalescedRequests, 1)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// execute dispatches an intent and records metrics.
func (m *Manager) execute(ctx context.Context, intent query.Intent, original string, limit int, threshold float64) (*Response, error) {
	start := time.Now()
	results, err := m.dispatch(ctx, intent, original, limit, threshold)
	took := time.Since(start)
	m.metrics.record(ctx, string(intent.Kind), took, err)

	if took > slowQueryThreshold {
		m.logger.Warn().
			Str("query", truncate(original, queryLogTruncateLen)).
			Str("kind", string(intent.Kind)).
			Dur("took", took).
			Msg("Slow search")
	}
	if err != nil {
		return nil, err
	}
	return &Response{
		Results:          results,
		QueryType:        string(intent.Kind),
		TotalResults:     len(results),
		ProcessingTimeMs: float64(took.Microseconds()) / 1000,
		Intent:           &intent,
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
