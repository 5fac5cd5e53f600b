// Package qdrant implements vector.Store on top of the Qdrant gRPC client.
package qdrant

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	qc "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thebtf/vectorcache/internal/vector"
)

// Config holds the connection parameters for a single Qdrant endpoint.
type Config struct {
	Host   string
	APIKey string
	// UserAgent is sent on every gRPC call.
	UserAgent string
	Port      int
	UseTLS    bool
	// InsecureSkipVerify disables certificate verification for TLS endpoints.
	InsecureSkipVerify bool
}

// Client adapts *qdrant.Client to vector.Store.
type Client struct {
	client *qc.Client
	wait   bool
}

// Compile-time check that Client implements vector.Store
var _ vector.Store = (*Client)(nil)

// NewClient creates a client. The gRPC connection is established lazily; call
// ListCollections to verify connectivity.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 6334
	}

	qcfg := &qc.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		// Connectivity is probed by the caller with its own timeout.
		SkipCompatibilityCheck: true,
	}
	if cfg.UseTLS {
		// #nosec G402 -- URL-based cloud endpoints are used without certificate verification when configured so
		qcfg.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify, MinVersion: tls.VersionTLS12}
	}
	if cfg.UserAgent != "" {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithUserAgent(cfg.UserAgent))
	}

	client, err := qc.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{client: client, wait: true}, nil
}

// translate maps gRPC NotFound to vector.ErrNotFound.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", vector.ErrNotFound, status.Convert(err).Message())
	}
	return err
}

func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	names, err := c.client.ListCollections(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return names, nil
}

func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := c.client.CollectionExists(ctx, name)
	return ok, translate(err)
}

func (c *Client) CreateCollection(ctx context.Context, spec vector.CollectionSpec) error {
	err := c.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: qc.NewVectorsConfig(&qc.VectorParams{
			Size:     spec.VectorSize,
			Distance: toDistance(spec.Distance),
			OnDisk:   qc.PtrOf(spec.VectorOnDisk),
		}),
		HnswConfig:       toHNSW(spec.HNSW),
		OptimizersConfig: toOptimizer(spec.Optimizer),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", spec.Name, translate(err))
	}
	return nil
}

func (c *Client) UpdateCollection(ctx context.Context, spec vector.CollectionSpec) error {
	err := c.client.UpdateCollection(ctx, &qc.UpdateCollection{
		CollectionName:   spec.Name,
		HnswConfig:       toHNSW(spec.HNSW),
		OptimizersConfig: toOptimizer(spec.Optimizer),
	})
	if err != nil {
		return fmt.Errorf("update collection %s: %w", spec.Name, translate(err))
	}
	return nil
}

func (c *Client) CollectionInfo(ctx context.Context, name string) (*vector.CollectionStats, error) {
	info, err := c.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, translate(err)
	}
	stats := &vector.CollectionStats{
		Name:           name,
		Status:         info.GetStatus().String(),
		PointsCount:    info.GetPointsCount(),
		IndexedVectors: info.GetIndexedVectorsCount(),
		SegmentsCount:  info.GetSegmentsCount(),
		PayloadSchema:  make(map[string]string, len(info.GetPayloadSchema())),
	}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		stats.VectorSize = params.GetSize()
		stats.Distance = params.GetDistance().String()
	}
	for field, schema := range info.GetPayloadSchema() {
		stats.PayloadSchema[field] = schema.GetDataType().String()
	}
	return stats, nil
}

func (c *Client) CreateFieldIndex(ctx context.Context, collection, field string, fieldType vector.FieldType) error {
	_, err := c.client.CreateFieldIndex(ctx, &qc.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      field,
		FieldType:      toFieldType(fieldType).Enum(),
		Wait:           qc.PtrOf(c.wait),
	})
	if err != nil {
		return fmt.Errorf("create index %s.%s: %w", collection, field, translate(err))
	}
	return nil
}

func (c *Client) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qc.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qc.TryValueMap(p.Payload)
		if err != nil {
			return fmt.Errorf("convert payload of point %s: %w", p.ID, err)
		}
		structs = append(structs, &qc.PointStruct{
			Id:      toPointID(p.ID),
			Vectors: qc.NewVectors(p.Vector...),
			Payload: payload,
		})
	}
	_, err := c.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: collection,
		Wait:           qc.PtrOf(c.wait),
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, translate(err))
	}
	return nil
}

func (c *Client) Query(ctx context.Context, req vector.QueryRequest) ([]vector.ScoredPoint, error) {
	q := &qc.QueryPoints{
		CollectionName: req.Collection,
		Query:          qc.NewQuery(req.Vector...),
		Filter:         toFilter(req.Filter),
		WithPayload:    qc.NewWithPayload(true),
		ScoreThreshold: req.ScoreThreshold,
	}
	if req.Limit > 0 {
		q.Limit = qc.PtrOf(uint64(req.Limit))
	}
	res, err := c.client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", req.Collection, translate(err))
	}
	return fromScored(res), nil
}

func (c *Client) Recommend(ctx context.Context, req vector.RecommendRequest) ([]vector.ScoredPoint, error) {
	input := &qc.RecommendInput{}
	for _, id := range req.Positive {
		input.Positive = append(input.Positive, qc.NewVectorInputID(toPointID(id)))
	}
	for _, id := range req.Negative {
		input.Negative = append(input.Negative, qc.NewVectorInputID(toPointID(id)))
	}
	q := &qc.QueryPoints{
		CollectionName: req.Collection,
		Query:          qc.NewQueryRecommend(input),
		Filter:         toFilter(req.Filter),
		WithPayload:    qc.NewWithPayload(true),
		ScoreThreshold: req.ScoreThreshold,
	}
	if req.Limit > 0 {
		q.Limit = qc.PtrOf(uint64(req.Limit))
	}
	res, err := c.client.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("recommend %s: %w", req.Collection, translate(err))
	}
	return fromScored(res), nil
}

func (c *Client) Scroll(ctx context.Context, req vector.ScrollRequest) (*vector.ScrollPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	sp := &qc.ScrollPoints{
		CollectionName: req.Collection,
		Filter:         toFilter(req.Filter),
		Limit:          qc.PtrOf(uint32(limit)),
		WithPayload:    qc.NewWithPayload(true),
	}
	if len(req.Include) > 0 {
		sp.WithPayload = qc.NewWithPayloadInclude(req.Include...)
	}
	if req.OrderBy != "" {
		dir := qc.Direction_Asc
		if req.Descending {
			dir = qc.Direction_Desc
		}
		sp.OrderBy = &qc.OrderBy{Key: req.OrderBy, Direction: dir.Enum()}
	} else if req.Offset != "" {
		sp.Offset = toPointID(req.Offset)
	}

	resp, err := c.client.GetPointsClient().Scroll(ctx, sp)
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", req.Collection, translate(err))
	}
	page := &vector.ScrollPage{Points: fromRetrieved(resp.GetResult())}
	if next := resp.GetNextPageOffset(); next != nil {
		page.NextOffset = pointIDString(next)
	}
	return page, nil
}

func (c *Client) Get(ctx context.Context, collection string, ids []string) ([]vector.ScoredPoint, error) {
	pids := make([]*qc.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, toPointID(id))
	}
	res, err := c.client.Get(ctx, &qc.GetPoints{
		CollectionName: collection,
		Ids:            pids,
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get points from %s: %w", collection, translate(err))
	}
	return fromRetrieved(res), nil
}

func (c *Client) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qc.PointId, 0, len(ids))
	for _, id := range ids {
		pids = append(pids, toPointID(id))
	}
	_, err := c.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: collection,
		Wait:           qc.PtrOf(c.wait),
		Points:         qc.NewPointsSelector(pids...),
	})
	if err != nil {
		return fmt.Errorf("delete %d points from %s: %w", len(ids), collection, translate(err))
	}
	return nil
}

func (c *Client) DeleteByFilter(ctx context.Context, collection string, filter *vector.Filter) error {
	f := toFilter(filter)
	if f == nil {
		f = &qc.Filter{}
	}
	_, err := c.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: collection,
		Wait:           qc.PtrOf(c.wait),
		Points:         qc.NewPointsSelectorFilter(f),
	})
	if err != nil {
		return fmt.Errorf("delete by filter from %s: %w", collection, translate(err))
	}
	return nil
}

func (c *Client) Count(ctx context.Context, collection string, filter *vector.Filter) (uint64, error) {
	n, err := c.client.Count(ctx, &qc.CountPoints{
		CollectionName: collection,
		Filter:         toFilter(filter),
		Exact:          qc.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, translate(err))
	}
	return n, nil
}

// Close releases the gRPC connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// toPointID accepts UUIDs and unsigned integers; anything else is hashed into
// a deterministic UUID so that lookups by malformed ids simply miss.
func toPointID(id string) *qc.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qc.NewIDNum(n)
	}
	if u, err := uuid.Parse(id); err == nil {
		return qc.NewID(u.String())
	}
	return qc.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func pointIDString(id *qc.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
