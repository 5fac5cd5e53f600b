// Package vectortest provides an in-memory vector.Store for tests.
package vectortest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/thebtf/vectorcache/internal/vector"
)

// Store is an in-memory vector.Store. Points scroll in ascending id order,
// like Qdrant. Errors can be injected per operation name via Fail.
type Store struct {
	collections map[string]*collection
	failures    map[string]error
	calls       map[string]int
	mu          sync.Mutex
	closed      bool
}

type collection struct {
	points  map[string]vector.Point
	indexes map[string]vector.FieldType
	spec    vector.CollectionSpec
}

// Compile-time check that Store implements vector.Store
var _ vector.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

// Fail makes every subsequent call of op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Spec returns the last applied spec of a collection.
func (s *Store) Spec(name string) (vector.CollectionSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return vector.CollectionSpec{}, false
	}
	return c.spec, true
}

// Indexes returns the indexed fields of a collection.
func (s *Store) Indexes(name string) map[string]vector.FieldType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]vector.FieldType{}
	if c, ok := s.collections[name]; ok {
		for k, v := range c.indexes {
			out[k] = v
		}
	}
	return out
}

// Len returns the number of points in a collection.
func (s *Store) Len(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// enter records a call and returns an injected error. Caller must not hold s.mu.
func (s *Store) enter(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	return s.failures[op]
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	if err := s.enter("ListCollections"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := s.enter("CollectionExists"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *Store) CreateCollection(ctx context.Context, spec vector.CollectionSpec) error {
	if err := s.enter("CreateCollection"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[spec.Name]; ok {
		return fmt.Errorf("collection %s already exists", spec.Name)
	}
	s.collections[spec.Name] = &collection{
		points:  make(map[string]vector.Point),
		indexes: make(map[string]vector.FieldType),
		spec:    spec,
	}
	return nil
}

func (s *Store) UpdateCollection(ctx context.Context, spec vector.CollectionSpec) error {
	if err := s.enter("UpdateCollection"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[spec.Name]
	if !ok {
		return vector.ErrNotFound
	}
	c.spec = spec
	return nil
}

func (s *Store) CollectionInfo(ctx context.Context, name string) (*vector.CollectionStats, error) {
	if err := s.enter("CollectionInfo"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, vector.ErrNotFound
	}
	schema := make(map[string]string, len(c.indexes))
	for k, v := range c.indexes {
		schema[k] = string(v)
	}
	return &vector.CollectionStats{
		Name:           name,
		Status:         "green",
		PointsCount:    uint64(len(c.points)),
		IndexedVectors: uint64(len(c.points)),
		SegmentsCount:  1,
		VectorSize:     c.spec.VectorSize,
		Distance:       string(c.spec.Distance),
		PayloadSchema:  schema,
	}, nil
}

func (s *Store) CreateFieldIndex(ctx context.Context, coll, field string, fieldType vector.FieldType) error {
	if err := s.enter("CreateFieldIndex"); err != nil {
		return err
	}
	if err := s.enter("CreateFieldIndex:" + field); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return vector.ErrNotFound
	}
	c.indexes[field] = fieldType
	return nil
}

func (s *Store) Upsert(ctx context.Context, coll string, points []vector.Point) error {
	if err := s.enter("Upsert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return vector.ErrNotFound
	}
	for _, p := range points {
		if c.spec.VectorSize > 0 && uint64(len(p.Vector)) != c.spec.VectorSize {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(p.Vector), c.spec.VectorSize)
		}
		c.points[p.ID] = p
	}
	return nil
}

func (s *Store) Query(ctx context.Context, req vector.QueryRequest) ([]vector.ScoredPoint, error) {
	if err := s.enter("Query"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[req.Collection]
	if !ok {
		return nil, vector.ErrNotFound
	}
	return rank(c, req.Vector, req.Filter, req.ScoreThreshold, req.Limit, nil), nil
}

func (s *Store) Recommend(ctx context.Context, req vector.RecommendRequest) ([]vector.ScoredPoint, error) {
	if err := s.enter("Recommend"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[req.Collection]
	if !ok {
		return nil, vector.ErrNotFound
	}
	var pos, neg [][]float32
	exclude := map[string]bool{}
	for _, id := range req.Positive {
		if p, ok := c.points[id]; ok {
			pos = append(pos, p.Vector)
		}
		exclude[id] = true
	}
	for _, id := range req.Negative {
		if p, ok := c.points[id]; ok {
			neg = append(neg, p.Vector)
		}
		exclude[id] = true
	}
	if len(pos) == 0 {
		return nil, fmt.Errorf("recommend: no positive examples found")
	}
	target := average(pos)
	if len(neg) > 0 {
		avgNeg := average(neg)
		for i := range target {
			target[i] = target[i] + (target[i] - avgNeg[i])
		}
	}
	return rank(c, target, req.Filter, req.ScoreThreshold, req.Limit, exclude), nil
}

func (s *Store) Scroll(ctx context.Context, req vector.ScrollRequest) (*vector.ScrollPage, error) {
	if err := s.enter("Scroll"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[req.Collection]
	if !ok {
		return nil, vector.ErrNotFound
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	matched := make([]vector.Point, 0, len(c.points))
	for _, p := range c.points {
		if Matches(p.Payload, req.Filter) {
			matched = append(matched, p)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if req.OrderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			a, _ := toFloat(lookup(matched[i].Payload, req.OrderBy))
			b, _ := toFloat(lookup(matched[j].Payload, req.OrderBy))
			if req.Descending {
				return a > b
			}
			return a < b
		})
		if len(matched) > limit {
			matched = matched[:limit]
		}
		return &vector.ScrollPage{Points: toScored(matched, req.Include)}, nil
	}

	start := 0
	if req.Offset != "" {
		start = sort.Search(len(matched), func(i int) bool { return matched[i].ID >= req.Offset })
	}
	end := min(start+limit, len(matched))
	page := &vector.ScrollPage{Points: toScored(matched[start:end], req.Include)}
	if end < len(matched) {
		page.NextOffset = matched[end].ID
	}
	return page, nil
}

func (s *Store) Get(ctx context.Context, coll string, ids []string) ([]vector.ScoredPoint, error) {
	if err := s.enter("Get"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return nil, vector.ErrNotFound
	}
	var out []vector.ScoredPoint
	for _, id := range ids {
		if p, ok := c.points[id]; ok {
			out = append(out, vector.ScoredPoint{ID: p.ID, Payload: copyPayload(p.Payload, nil)})
		}
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, coll string, ids []string) error {
	if err := s.enter("Delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return vector.ErrNotFound
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

func (s *Store) DeleteByFilter(ctx context.Context, coll string, filter *vector.Filter) error {
	if err := s.enter("DeleteByFilter"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return vector.ErrNotFound
	}
	for id, p := range c.points {
		if Matches(p.Payload, filter) {
			delete(c.points, id)
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context, coll string, filter *vector.Filter) (uint64, error) {
	if err := s.enter("Count"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return 0, vector.ErrNotFound
	}
	var n uint64
	for _, p := range c.points {
		if Matches(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Matches evaluates a filter against a payload.
func Matches(payload map[string]any, f *vector.Filter) bool {
	if f.Empty() {
		return true
	}
	for _, c := range f.Must {
		if !matchCondition(payload, c) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if matchCondition(payload, c) {
			return false
		}
	}
	return true
}

func matchCondition(payload map[string]any, c vector.Condition) bool {
	v := lookup(payload, c.Field)
	if v == nil {
		return false
	}
	if c.Range != nil {
		f, ok := toFloat(v)
		if !ok {
			return false
		}
		r := c.Range
		if r.Gte != nil && f < *r.Gte {
			return false
		}
		if r.Gt != nil && f <= *r.Gt {
			return false
		}
		if r.Lte != nil && f > *r.Lte {
			return false
		}
		if r.Lt != nil && f >= *r.Lt {
			return false
		}
		return true
	}
	return fmt.Sprint(v) == fmt.Sprint(c.Match)
}

// lookup resolves a dotted payload path.
func lookup(payload map[string]any, path string) any {
	if v, ok := payload[path]; ok {
		return v
	}
	parts := strings.Split(path, ".")
	var cur any = payload
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func rank(c *collection, target []float32, f *vector.Filter, threshold *float32, limit int, exclude map[string]bool) []vector.ScoredPoint {
	if limit <= 0 {
		limit = 10
	}
	var out []vector.ScoredPoint
	for _, p := range c.points {
		if exclude[p.ID] || !Matches(p.Payload, f) {
			continue
		}
		score := cosine(target, p.Vector)
		if threshold != nil && score < *threshold {
			continue
		}
		out = append(out, vector.ScoredPoint{ID: p.ID, Score: score, Payload: copyPayload(p.Payload, nil)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func average(vs [][]float32) []float32 {
	out := make([]float32, len(vs[0]))
	for _, v := range vs {
		for i := range out {
			if i < len(v) {
				out[i] += v[i] / float32(len(vs))
			}
		}
	}
	return out
}

func toScored(points []vector.Point, include []string) []vector.ScoredPoint {
	out := make([]vector.ScoredPoint, len(points))
	for i, p := range points {
		out[i] = vector.ScoredPoint{ID: p.ID, Payload: copyPayload(p.Payload, include)}
	}
	return out
}

func copyPayload(in map[string]any, include []string) map[string]any {
	out := make(map[string]any, len(in))
	if len(include) > 0 {
		for _, k := range include {
			if v, ok := in[k]; ok {
				out[k] = v
			}
		}
		return out
	}
	for k, v := range in {
		out[k] = v
	}
	return out
}
