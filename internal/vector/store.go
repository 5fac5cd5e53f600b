// Package vector defines the vector-store abstraction used by vectorcache.
//
// The concrete backend is Qdrant (see the qdrant subpackage); managers only
// depend on the Store interface so that tests can run against an in-memory
// implementation.
package vector

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a collection or point does not exist.
var ErrNotFound = errors.New("vector: not found")

// Distance is the similarity metric of a collection.
type Distance string

const (
	DistanceCosine    Distance = "Cosine"
	DistanceEuclid    Distance = "Euclid"
	DistanceDot       Distance = "Dot"
	DistanceManhattan Distance = "Manhattan"
)

// ParseDistance maps a configuration string to a Distance, defaulting to cosine.
func ParseDistance(s string) Distance {
	switch s {
	case "euclid", "Euclid", "euclidean", "EUCLID":
		return DistanceEuclid
	case "dot", "Dot", "DOT":
		return DistanceDot
	case "manhattan", "Manhattan", "MANHATTAN":
		return DistanceManhattan
	default:
		return DistanceCosine
	}
}

// FieldType is the payload index type.
type FieldType string

const (
	FieldKeyword  FieldType = "keyword"
	FieldInteger  FieldType = "integer"
	FieldBool     FieldType = "bool"
	FieldDatetime FieldType = "datetime"
	FieldFloat    FieldType = "float"
)

// Point is the unit of persistence.
type Point struct {
	Payload map[string]any
	ID      string
	Vector  []float32
}

// ScoredPoint is a point returned by a query, with its relevance score.
// Retrieve and scroll results carry Score 0 unless the caller assigns one.
type ScoredPoint struct {
	Payload map[string]any
	ID      string
	Score   float32
}

// Condition is a single payload condition. Exactly one of Match or Range is set.
type Condition struct {
	Match any
	Range *Range
	Field string
}

// Range is a numeric range condition. Nil bounds are open.
type Range struct {
	Gte *float64
	Gt  *float64
	Lte *float64
	Lt  *float64
}

// Filter is a conjunction of conditions, with optional negations.
type Filter struct {
	Must    []Condition
	MustNot []Condition
}

// Empty reports whether the filter has no conditions.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Must) == 0 && len(f.MustNot) == 0)
}

// MatchCondition builds an exact-match condition.
func MatchCondition(field string, value any) Condition {
	return Condition{Field: field, Match: value}
}

// RangeCondition builds a numeric range condition.
func RangeCondition(field string, r Range) Condition {
	return Condition{Field: field, Range: &r}
}

// QueryRequest is a nearest-neighbour search.
type QueryRequest struct {
	Filter         *Filter
	ScoreThreshold *float32
	Collection     string
	Vector         []float32
	Limit          int
}

// RecommendRequest searches by example points.
type RecommendRequest struct {
	Filter         *Filter
	ScoreThreshold *float32
	Collection     string
	Positive       []string
	Negative       []string
	Limit          int
}

// ScrollRequest pages through a collection without vector math.
type ScrollRequest struct {
	Filter     *Filter
	Collection string
	Offset     string
	OrderBy    string
	Include    []string
	Limit      int
	Descending bool
}

// ScrollPage is one page of a scroll. NextOffset is empty on the last page.
type ScrollPage struct {
	NextOffset string
	Points     []ScoredPoint
}

// CollectionStats summarizes a collection.
type CollectionStats struct {
	PayloadSchema  map[string]string `json:"payload_schema"`
	Name           string            `json:"name"`
	Status         string            `json:"status"`
	Distance       string            `json:"distance,omitempty"`
	PointsCount    uint64            `json:"points_count"`
	IndexedVectors uint64            `json:"indexed_vectors_count"`
	SegmentsCount  uint64            `json:"segments_count"`
	VectorSize     uint64            `json:"vector_size,omitempty"`
}

// Store is the subset of vector database operations vectorcache relies on.
type Store interface {
	ListCollections(ctx context.Context) ([]string, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	UpdateCollection(ctx context.Context, spec CollectionSpec) error
	CollectionInfo(ctx context.Context, name string) (*CollectionStats, error)
	CreateFieldIndex(ctx context.Context, collection, field string, fieldType FieldType) error

	Upsert(ctx context.Context, collection string, points []Point) error
	Query(ctx context.Context, req QueryRequest) ([]ScoredPoint, error)
	Recommend(ctx context.Context, req RecommendRequest) ([]ScoredPoint, error)
	Scroll(ctx context.Context, req ScrollRequest) (*ScrollPage, error)
	Get(ctx context.Context, collection string, ids []string) ([]ScoredPoint, error)
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) error
	Count(ctx context.Context, collection string, filter *Filter) (uint64, error)

	Close() error
}

// ScrollAll pages through a collection until maxPoints points were collected
// or the collection is exhausted. A maxPoints of 0 means no bound.
func ScrollAll(ctx context.Context, s Store, req ScrollRequest, maxPoints int) ([]ScoredPoint, error) {
	if req.Limit <= 0 {
		req.Limit = 256
	}
	var out []ScoredPoint
	for {
		if maxPoints > 0 && req.Limit > maxPoints-len(out) {
			req.Limit = maxPoints - len(out)
		}
		page, err := s.Scroll(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, page.Points...)
		if page.NextOffset == "" || len(page.Points) == 0 {
			return out, nil
		}
		if maxPoints > 0 && len(out) >= maxPoints {
			return out, nil
		}
		req.Offset = page.NextOffset
	}
}
