package resources

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/vector"
)

// Neighbor is a point stored close in time to another.
type Neighbor struct {
	ID          string  `json:"id"`
	ToolName    string  `json:"tool_name"`
	Timestamp   string  `json:"timestamp"`
	DiffSeconds float64 `json:"diff_seconds"`
	SameSession bool    `json:"same_session"`
}

// PointDetail is a point with its temporal context.
type PointDetail struct {
	Point  search.Result `json:"point"`
	Nearby []Neighbor    `json:"nearby"`
}

// CacheEntry is one point listed by the cache resource.
type CacheEntry struct {
	PointID   string `json:"point_id"`
	Timestamp string `json:"timestamp,omitempty"`
	User      string `json:"user,omitempty"`
}

func (h *Handler) point(ctx context.Context, collection, id string) (*PointDetail, error) {
	scoped := h.searcher.Scoped(collection)
	result, err := scoped.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	store, err := h.store(ctx)
	if err != nil {
		return nil, err
	}
	target, ok := payload.Timestamp(result.Metadata)
	if !ok {
		return &PointDetail{Point: *result, Nearby: []Neighbor{}}, nil
	}
	session, _ := result.Metadata[payload.FieldSessionID].(string)

	points, err := vector.ScrollAll(ctx, store, vector.ScrollRequest{
		Collection: scoped.Collection(),
		Limit:      scanPageSize,
		Include: []string{
			payload.FieldToolName,
			payload.FieldTimestamp,
			payload.FieldTimestampUnix,
			payload.FieldSessionID,
			"metadata",
		},
	}, cacheScanLimit)
	if err != nil {
		return nil, fmt.Errorf("nearby scan: %w", err)
	}
	return &PointDetail{Point: *result, Nearby: Nearby(id, target, session, points)}, nil
}

// Nearby returns the points closest in time to target, excluding id and
// points without a parseable timestamp. Equal distances order by point id.
func Nearby(id string, target time.Time, session string, points []vector.ScoredPoint) []Neighbor {
	type candidate struct {
		n    Neighbor
		diff time.Duration
	}
	var cands []candidate
	for _, p := range points {
		if p.ID == id {
			continue
		}
		meta := flatten(p.Payload)
		ts, ok := payload.Timestamp(meta)
		if !ok {
			continue
		}
		diff := ts.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		other, _ := meta[payload.FieldSessionID].(string)
		cands = append(cands, candidate{diff: diff, n: Neighbor{
			ID:          p.ID,
			ToolName:    search.ToolName(p.Payload),
			Timestamp:   payload.String(meta, payload.FieldTimestamp),
			DiffSeconds: diff.Seconds(),
			SameSession: session != "" && other == session,
		}})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].diff != cands[j].diff {
			return cands[i].diff < cands[j].diff
		}
		return cands[i].n.ID < cands[j].n.ID
	})
	out := make([]Neighbor, 0, nearbyLimit)
	for _, c := range cands {
		if len(out) == nearbyLimit {
			break
		}
		out = append(out, c.n)
	}
	return out
}

// flatten lifts the nested v1 metadata block next to top-level fields.
func flatten(p map[string]any) map[string]any {
	nested, ok := p["metadata"].(map[string]any)
	if !ok {
		return p
	}
	out := make(map[string]any, len(p)+len(nested))
	for k, v := range nested {
		out[k] = v
	}
	for k, v := range p {
		out[k] = v
	}
	return out
}

// cache lists up to cacheScanLimit points grouped by tool, newest first.
func (h *Handler) cache(ctx context.Context) (map[string][]CacheEntry, error) {
	store, err := h.store(ctx)
	if err != nil {
		return nil, err
	}
	points, err := vector.ScrollAll(ctx, store, vector.ScrollRequest{
		Collection: h.searcher.Collection(),
		Limit:      scanPageSize,
		Include: []string{
			payload.FieldToolName,
			payload.FieldTimestamp,
			payload.FieldUserEmail,
			payload.FieldUserID,
			"metadata",
		},
	}, cacheScanLimit)
	if err != nil {
		return nil, fmt.Errorf("cache scan: %w", err)
	}
	return GroupByTool(points), nil
}

// GroupByTool groups points by tool name. Each group is sorted by timestamp
// descending; entries without a parseable timestamp come last, by point id.
func GroupByTool(points []vector.ScoredPoint) map[string][]CacheEntry {
	type keyed struct {
		ts    time.Time
		entry CacheEntry
		ok    bool
	}
	groups := map[string][]keyed{}
	for _, p := range points {
		meta := flatten(p.Payload)
		tool := search.ToolName(p.Payload)
		if tool == "" {
			tool = "unknown"
		}
		user := payload.String(meta, payload.FieldUserEmail)
		if user == "" {
			user = payload.String(meta, payload.FieldUserID)
		}
		ts, ok := payload.Timestamp(meta)
		groups[tool] = append(groups[tool], keyed{ts: ts, ok: ok, entry: CacheEntry{
			PointID:   p.ID,
			Timestamp: payload.String(meta, payload.FieldTimestamp),
			User:      user,
		}})
	}

	out := make(map[string][]CacheEntry, len(groups))
	for tool, entries := range groups {
		sort.Slice(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if a.ok != b.ok {
				return a.ok
			}
			if a.ok && !a.ts.Equal(b.ts) {
				return a.ts.After(b.ts)
			}
			return a.entry.PointID < b.entry.PointID
		})
		list := make([]CacheEntry, len(entries))
		for i, e := range entries {
			list[i] = e.entry
		}
		out[tool] = list
	}
	return out
}
