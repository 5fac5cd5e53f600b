package search

import (
	"context"
	"fmt"
	"time"

	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/query"
	"github.com/thebtf/vectorcache/internal/vector"
)

// Hit is one entry of a unified search response.
type Hit struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float32 `json:"score,omitempty"`
}

// UnifiedResponse is the uniform shape returned by UnifiedSearch on every route.
type UnifiedResponse struct {
	QueryType        string  `json:"query_type"`
	Error            string  `json:"error,omitempty"`
	Results          []Hit   `json:"results"`
	TotalResults     int     `json:"total_results"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// UnifiedSearch routes q by capability: overview queries become analytics
// rollups, service and time references become service history scans, and
// everything else is a plain Search. A negative threshold selects the
// configured one. Errors are reported in the response.
func (m *Manager) UnifiedSearch(ctx context.Context, q string, limit int, threshold float64) *UnifiedResponse {
	start := time.Now()
	limit, threshold = m.normalize(limit, threshold)
	intent := query.ParseUnified(q, m.catalog)

	resp := &UnifiedResponse{QueryType: string(intent.Kind), Results: []Hit{}}
	var err error
	switch intent.Kind {
	case query.KindOverview:
		resp.Results, err = m.overview(ctx, limit)
	case query.KindServiceHistory:
		resp.Results, err = m.serviceHistory(ctx, intent, limit, threshold)
	default:
		var r *Response
		r, err = m.Search(ctx, q, limit, threshold)
		if err == nil {
			resp.QueryType = r.QueryType
			resp.Results = m.Hits(r.Results)
		}
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Results = []Hit{}
	}
	resp.TotalResults = len(resp.Results)
	resp.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return resp
}

// overview reformats the per-tool rollup as one pseudo-result per tool.
func (m *Manager) overview(ctx context.Context, limit int) ([]Hit, error) {
	stats, err := m.GetAnalytics(ctx, time.Time{}, time.Time{}, payload.FieldToolName)
	if err != nil {
		return nil, err
	}
	hits := []Hit{}
	for _, key := range stats.Keys() {
		if len(hits) == limit {
			break
		}
		svc := m.catalog.Resolve(key)
		id := "analytics:" + key
		hits = append(hits, Hit{
			ID:    id,
			Title: fmt.Sprintf("%s (%d calls)", Title(svc, key), stats.Groups[key].Count),
			URL:   ResultURL(svc, m.Collection(), id),
		})
	}
	return hits, nil
}

// serviceHistory scans one service's records within the intent's time range,
// newest first, or ranks them by the semantic remainder when one is present.
// The service and time range become structured filter conditions directly.
func (m *Manager) serviceHistory(ctx context.Context, intent query.Intent, limit int, threshold float64) ([]Hit, error) {
	m.logger.Debug().
		Str("service", intent.ServiceName).
		Str("time_range", intent.TimeRange).
		Str("query", truncate(intent.SemanticQuery, queryLogTruncateLen)).
		Msg("Service history search")

	filters := make(map[string]string, len(intent.Filters)+1)
	for k, v := range intent.Filters {
		filters[k] = v
	}
	if intent.ServiceName != "" {
		filters[payload.FieldToolName] = intent.ServiceName
	}
	filter := m.buildFilter(filters)
	if startAt, endAt, ok := query.TimeRangeBounds(intent.TimeRange, m.now()); ok {
		tf := timeFilter(startAt, endAt)
		if filter == nil {
			filter = tf
		} else {
			filter.Must = append(filter.Must, tf.Must...)
		}
	}

	started := time.Now()
	var (
		results []Result
		err     error
	)
	if intent.HasSemanticQuery() {
		results, err = m.vectorSearch(ctx, intent.SemanticQuery, filter, limit, threshold)
	} else {
		results, err = m.recent(ctx, filter, limit)
	}
	m.metrics.record(ctx, string(query.KindServiceHistory), time.Since(started), err)
	if err != nil {
		return nil, err
	}
	return m.Hits(results), nil
}

// Recent returns the newest limit records of the collection.
func (m *Manager) Recent(ctx context.Context, limit int) ([]Result, error) {
	limit, _ = m.normalize(limit, DefaultThreshold)
	return m.recent(ctx, nil, limit)
}

// recent returns up to limit points matching filter, newest first.
func (m *Manager) recent(ctx context.Context, filter *vector.Filter, limit int) ([]Result, error) {
	store, err := m.store(ctx)
	if err != nil {
		return nil, err
	}
	page, err := store.Scroll(ctx, vector.ScrollRequest{
		Collection: m.Collection(),
		Filter:     filter,
		Limit:      limit,
		OrderBy:    payload.FieldTimestampUnix,
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("recent scan: %w", err)
	}
	return m.toResults(page.Points, &exactScore), nil
}

// Hits converts results to unified hits with service titles and links.
func (m *Manager) Hits(results []Result) []Hit {
	out := make([]Hit, 0, len(results))
	for _, r := range results {
		svc := m.service(r.Metadata)
		out = append(out, Hit{
			ID:    r.ID,
			Title: Title(svc, r.ToolName),
			URL:   ResultURL(svc, m.Collection(), r.ID),
			Score: r.Score,
		})
	}
	return out
}
