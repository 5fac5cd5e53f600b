package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/query"
	"github.com/thebtf/vectorcache/internal/vector"
)

var exactScore float32 = 1.0

// dispatch runs an intent. Service-history intents are handled by
// UnifiedSearch; here they fall back to their filters plus semantic query.
func (m *Manager) dispatch(ctx context.Context, intent query.Intent, original string, limit int, threshold float64) ([]Result, error) {
	switch intent.Kind {
	case query.KindIDLookup:
		return m.lookup(ctx, intent.ID)
	case query.KindFilteredSearch, query.KindServiceHistory:
		filter := m.buildFilter(intent.Filters)
		if intent.HasSemanticQuery() {
			return m.vectorSearch(ctx, intent.SemanticQuery, filter, limit, threshold)
		}
		return m.filterScan(ctx, filter, limit)
	default:
		text := strings.TrimSpace(original)
		if text == "" {
			return []Result{}, nil
		}
		return m.vectorSearch(ctx, text, nil, limit, threshold)
	}
}

// lookup retrieves a point by id. A missing point yields no results.
func (m *Manager) lookup(ctx context.Context, id string) ([]Result, error) {
	atomic.AddInt64(&m.metrics.LookupSearches, 1)
	store, err := m.store(ctx)
	if err != nil {
		return nil, err
	}
	if !ValidID(id) {
		return []Result{}, nil
	}
	points, err := store.Get(ctx, m.Collection(), []string{id})
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", id, err)
	}
	return m.toResults(points, &exactScore), nil
}

// vectorSearch embeds text and runs a nearest-neighbour query, optionally
// constrained by filter.
func (m *Manager) vectorSearch(ctx context.Context, text string, filter *vector.Filter, limit int, threshold float64) ([]Result, error) {
	atomic.AddInt64(&m.metrics.VectorSearches, 1)
	store, err := m.store(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := m.conn.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	req := vector.QueryRequest{
		Collection: m.Collection(),
		Vector:     vec,
		Filter:     filter,
		Limit:      limit,
	}
	if threshold > 0 {
		t := float32(threshold)
		req.ScoreThreshold = &t
	}
	points, err := store.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	return m.toResults(points, nil), nil
}

// filterScan pages through points matching filter without vector math. Every
// result scores 1.0.
func (m *Manager) filterScan(ctx context.Context, filter *vector.Filter, limit int) ([]Result, error) {
	atomic.AddInt64(&m.metrics.FilterSearches, 1)
	store, err := m.store(ctx)
	if err != nil {
		return nil, err
	}
	points, err := vector.ScrollAll(ctx, store, vector.ScrollRequest{
		Collection: m.Collection(),
		Filter:     filter,
		Limit:      limit,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("filter scan: %w", err)
	}
	return m.toResults(points, &exactScore), nil
}

// indexTypes maps indexed payload fields to their type for value coercion.
var indexTypes = func() map[string]vector.FieldType {
	out := map[string]vector.FieldType{}
	for _, idx := range vector.RequiredIndexes() {
		out[idx.Field] = idx.Type
	}
	return out
}()

// buildFilter turns extracted field/value pairs into an AND filter. A
// tool_name value that names a known service matches the service field.
func (m *Manager) buildFilter(filters map[string]string) *vector.Filter {
	if len(filters) == 0 {
		return nil
	}
	f := &vector.Filter{}
	for _, field := range sortedKeys(filters) {
		value := filters[field]
		if field == payload.FieldToolName && m.catalog.Has(value) {
			f.Must = append(f.Must, vector.MatchCondition(payload.FieldService, strings.ToLower(value)))
			continue
		}
		f.Must = append(f.Must, vector.MatchCondition(field, coerce(field, value)))
	}
	return f
}

// coerce converts a filter value to the indexed type of its field.
func coerce(field, value string) any {
	switch indexTypes[field] {
	case vector.FieldInteger:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	case vector.FieldBool:
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return value
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
