package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/vector"
)

// ValidID reports whether id is a point id the store can address: a UUID or
// an unsigned integer.
func ValidID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

// FetchResult is the document view of one point.
type FetchResult struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	ID       string         `json:"id"`
	Title    string         `json:"title,omitempty"`
	Text     string         `json:"text,omitempty"`
	URL      string         `json:"url,omitempty"`
	Error    string         `json:"error,omitempty"`
	Found    bool           `json:"found"`
}

// Get returns a single point as a Result, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Result, error) {
	store, err := m.store(ctx)
	if err != nil {
		return nil, err
	}
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: invalid point id %q", ErrNotFound, id)
	}
	points, err := store.Get(ctx, m.Collection(), []string{id})
	if err != nil {
		return nil, fmt.Errorf("retrieve %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r := m.toResult(points[0])
	return &r, nil
}

// Fetch returns the document view of a point. Failures are reported in the
// result's Error field.
func (m *Manager) Fetch(ctx context.Context, id string) FetchResult {
	results := m.FetchMany(ctx, []string{id}, "", "")
	return results[0]
}

// FetchMany returns documents for ids. Without orderBy the input order is
// kept; otherwise results are sorted by that payload key ("asc" or "desc"),
// with missing values and unfound ids last.
func (m *Manager) FetchMany(ctx context.Context, ids []string, orderBy, direction string) []FetchResult {
	out := make([]FetchResult, len(ids))
	for i, id := range ids {
		out[i] = FetchResult{ID: id}
	}

	store, err := m.store(ctx)
	if err != nil {
		for i := range out {
			out[i].Error = err.Error()
		}
		return out
	}

	var lookup []string
	for i, id := range ids {
		if ValidID(id) {
			lookup = append(lookup, id)
		} else {
			out[i].Error = "invalid point id"
		}
	}

	found := map[string]vector.ScoredPoint{}
	if len(lookup) > 0 {
		points, err := store.Get(ctx, m.Collection(), lookup)
		if err != nil {
			for i := range out {
				if out[i].Error == "" {
					out[i].Error = err.Error()
				}
			}
			return out
		}
		for _, p := range points {
			found[p.ID] = p
		}
	}

	for i := range out {
		if out[i].Error != "" {
			continue
		}
		p, ok := found[out[i].ID]
		if !ok {
			out[i].Error = ErrNotFound.Error()
			continue
		}
		out[i] = m.document(p)
	}

	if orderBy != "" {
		sortDocuments(out, orderBy, strings.EqualFold(direction, "desc"))
	}
	return out
}

// document renders a point for fetch.
func (m *Manager) document(p vector.ScoredPoint) FetchResult {
	meta := Metadata(p.Payload, m.catalog)
	svc := m.service(meta)
	record := payload.DecodeRecord(p.Payload)
	text, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		text = []byte(fmt.Sprint(record))
	}
	return FetchResult{
		ID:       p.ID,
		Title:    Title(svc, ToolName(p.Payload)),
		Text:     string(text),
		URL:      ResultURL(svc, m.Collection(), p.ID),
		Metadata: meta,
		Found:    true,
	}
}

func (m *Manager) service(meta map[string]any) services.Service {
	id, _ := meta[payload.FieldService].(string)
	if svc, ok := m.catalog.Get(id); ok {
		return svc
	}
	return services.Unknown
}

// Title renders the display title of a cached response.
func Title(svc services.Service, toolName string) string {
	if toolName == "" {
		return svc.Title()
	}
	return svc.Title() + " · " + toolName
}

// ResultURL links a result to its service when the service has a web URL and
// to its qdrant:// resource otherwise.
func ResultURL(svc services.Service, collection, id string) string {
	if svc.URL != "" {
		return svc.URL + "#" + id
	}
	return "qdrant://collection/" + collection + "/" + id
}

func sortDocuments(docs []FetchResult, key string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, aok := docs[i].Metadata[key]
		b, bok := docs[j].Metadata[key]
		if !docs[i].Found || !aok || a == nil {
			return false
		}
		if !docs[j].Found || !bok || b == nil {
			return true
		}
		c := compareValues(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareValues orders numbers numerically and everything else by its
// string form.
func compareValues(a, b any) int {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Recommend finds points similar to the positive examples and dissimilar to
// the negative ones.
func (m *Manager) Recommend(ctx context.Context, positive, negative []string, limit int, threshold float64) (*Response, error) {
	limit, threshold = m.normalize(limit, threshold)
	store, err := m.store(ctx)
	if err != nil {
		return nil, err
	}

	var pos, neg []string
	for _, id := range positive {
		if ValidID(id) {
			pos = append(pos, id)
		}
	}
	for _, id := range negative {
		if ValidID(id) {
			neg = append(neg, id)
		}
	}
	if len(pos) == 0 {
		return nil, fmt.Errorf("recommend: at least one valid positive point id is required")
	}

	req := vector.RecommendRequest{
		Collection: m.Collection(),
		Positive:   pos,
		Negative:   neg,
		Limit:      limit,
	}
	if threshold > 0 {
		t := float32(threshold)
		req.ScoreThreshold = &t
	}
	points, err := store.Recommend(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	results := m.toResults(points, nil)
	return &Response{Results: results, QueryType: "recommend", TotalResults: len(results)}, nil
}
