package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/vector"
)

// Group is the rollup of one group-by value.
type Group struct {
	Timestamps []string `json:"timestamps"`
	Count      int      `json:"count"`
}

// Analytics is the outcome of GetAnalytics.
type Analytics struct {
	Groups  map[string]*Group `json:"groups"`
	Start   *time.Time        `json:"start,omitempty"`
	End     *time.Time        `json:"end,omitempty"`
	GroupBy string            `json:"group_by"`
	Total   int               `json:"total"`
}

// Keys returns the group keys by descending count, then by name.
func (a *Analytics) Keys() []string {
	keys := make([]string, 0, len(a.Groups))
	for k := range a.Groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := a.Groups[keys[i]].Count, a.Groups[keys[j]].Count
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// GetAnalytics scans the collection and groups points by the groupBy payload
// field. Zero start or end leaves that side of the time range open. Points
// without the field land in the "unknown" group.
func (m *Manager) GetAnalytics(ctx context.Context, start, end time.Time, groupBy string) (*Analytics, error) {
	if groupBy == "" {
		groupBy = payload.FieldToolName
	}
	store, err := m.store(ctx)
	if err != nil {
		return nil, err
	}

	req := vector.ScrollRequest{
		Collection: m.Collection(),
		Filter:     timeFilter(start, end),
		Limit:      analyticsPageSize,
		Include: []string{
			strings.SplitN(groupBy, ".", 2)[0],
			"metadata",
			payload.FieldTimestamp,
			payload.FieldTimestampUnix,
		},
	}
	points, err := vector.ScrollAll(ctx, store, req, 0)
	if err != nil {
		return nil, fmt.Errorf("analytics scan: %w", err)
	}

	out := &Analytics{GroupBy: groupBy, Groups: map[string]*Group{}, Total: len(points)}
	if !start.IsZero() {
		out.Start = &start
	}
	if !end.IsZero() {
		out.End = &end
	}
	for _, p := range points {
		key := groupKey(p.Payload, groupBy)
		g, ok := out.Groups[key]
		if !ok {
			g = &Group{}
			out.Groups[key] = g
		}
		g.Count++
		if ts := payload.String(p.Payload, payload.FieldTimestamp); ts != "" {
			g.Timestamps = append(g.Timestamps, ts)
		}
	}
	return out, nil
}

func groupKey(p map[string]any, groupBy string) string {
	if groupBy == payload.FieldToolName {
		if name := ToolName(p); name != "" {
			return name
		}
		return services.UnknownID
	}
	v, ok := payload.Lookup(p, groupBy)
	if !ok {
		v, ok = payload.Lookup(p, "metadata."+groupBy)
	}
	if !ok || v == nil || fmt.Sprint(v) == "" {
		return services.UnknownID
	}
	return fmt.Sprint(v)
}

// timeFilter restricts timestamp_unix to [start, end). Nil when both are zero.
func timeFilter(start, end time.Time) *vector.Filter {
	if start.IsZero() && end.IsZero() {
		return nil
	}
	var r vector.Range
	if !start.IsZero() {
		v := float64(start.Unix())
		r.Gte = &v
	}
	if !end.IsZero() {
		v := float64(end.Unix())
		r.Lt = &v
	}
	return &vector.Filter{Must: []vector.Condition{vector.RangeCondition(payload.FieldTimestampUnix, r)}}
}
