// Package resources serves the read-only qdrant:// resource surface.
package resources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/vector"
)

// Scheme prefixes every URI served by the handler.
const Scheme = "qdrant://"

// Response types.
const (
	TypeCollections    = "collections"
	TypeCollectionInfo = "collection_info"
	TypeRecent         = "recent_responses"
	TypePoint          = "point"
	TypeSearch         = "search_results"
	TypeStatus         = "status"
	TypeCache          = "cache"
	TypeError          = "error"
)

// Error codes carried by error responses.
const (
	CodeUnknownResource = "unknown_resource"
	CodeNotFound        = "not_found"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

const (
	recentLimit    = 10
	searchLimit    = 10
	cacheScanLimit = 1000
	nearbyLimit    = 2
	scanPageSize   = 256
)

// Response is the typed result of reading a resource. Failures set Type to
// TypeError and fill Code and Error; Handle never returns a Go error.
type Response struct {
	Data  any    `json:"data,omitempty"`
	URI   string `json:"uri"`
	Type  string `json:"type"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether r is an error response.
func (r Response) Failed() bool {
	return r.Type == TypeError
}

// StatsProvider contributes a named section to the status resource.
type StatsProvider interface {
	GetStats() map[string]any
}

// Handler resolves qdrant:// URIs against the vector cache.
type Handler struct {
	conn     *connection.Manager
	searcher *search.Manager
	stats    map[string]StatsProvider
	logger   zerolog.Logger
}

// NewHandler creates a resource handler.
func NewHandler(conn *connection.Manager, searcher *search.Manager) *Handler {
	return &Handler{
		conn:     conn,
		searcher: searcher,
		stats:    map[string]StatsProvider{"search": searcher.Metrics()},
		logger:   log.With().Str("component", "resources").Logger(),
	}
}

// AddStats registers a provider reported under name by the status resource.
func (h *Handler) AddStats(name string, p StatsProvider) {
	h.stats[name] = p
}

// Intercept is the resource-read hook: it handles uri when it uses the
// qdrant scheme and reports false otherwise.
func (h *Handler) Intercept(ctx context.Context, uri string) (Response, bool) {
	if !strings.HasPrefix(uri, Scheme) {
		return Response{}, false
	}
	return h.Handle(ctx, uri), true
}

// Handle routes uri to its resource.
func (h *Handler) Handle(ctx context.Context, uri string) Response {
	segs, ok := split(uri)
	if !ok || len(segs) == 0 {
		return unknown(uri)
	}

	var (
		typ  string
		data any
		err  error
	)
	switch {
	case len(segs) == 2 && segs[0] == "collections" && segs[1] == "list":
		typ = TypeCollections
		data, err = h.collections(ctx)
	case len(segs) == 3 && segs[0] == "collection" && segs[2] == "info":
		typ = TypeCollectionInfo
		data, err = h.collectionInfo(ctx, segs[1])
	case len(segs) == 4 && segs[0] == "collection" && segs[2] == "responses" && segs[3] == "recent":
		typ = TypeRecent
		data, err = h.recent(ctx, segs[1])
	case len(segs) == 3 && segs[0] == "collection":
		typ = TypePoint
		data, err = h.point(ctx, segs[1], segs[2])
	case len(segs) == 2 && segs[0] == "search":
		typ = TypeSearch
		data, err = h.search(ctx, "", segs[1])
	case len(segs) == 3 && segs[0] == "search":
		typ = TypeSearch
		data, err = h.search(ctx, segs[1], segs[2])
	case len(segs) == 1 && segs[0] == "status":
		typ = TypeStatus
		data = h.status()
	case len(segs) == 1 && segs[0] == "cache":
		typ = TypeCache
		data, err = h.cache(ctx)
	default:
		return unknown(uri)
	}

	if err != nil {
		return h.failure(uri, err)
	}
	return Response{URI: uri, Type: typ, Data: data}
}

// split returns the unescaped path segments after the scheme.
func split(uri string) ([]string, bool) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return nil, false
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil, true
	}
	parts := strings.Split(rest, "/")
	for i, p := range parts {
		u, err := url.PathUnescape(p)
		if err != nil || u == "" {
			return nil, false
		}
		parts[i] = u
	}
	return parts, true
}

func unknown(uri string) Response {
	return Response{
		URI:   uri,
		Type:  TypeError,
		Code:  CodeUnknownResource,
		Error: fmt.Sprintf("unknown resource: %s", uri),
	}
}

func (h *Handler) failure(uri string, err error) Response {
	code := CodeInternal
	switch {
	case errors.Is(err, connection.ErrUnavailable):
		code = CodeUnavailable
	case errors.Is(err, search.ErrNotFound), errors.Is(err, vector.ErrNotFound):
		code = CodeNotFound
	default:
		h.logger.Warn().Err(err).Str("uri", uri).Msg("Resource read failed")
	}
	return Response{URI: uri, Type: TypeError, Code: code, Error: err.Error()}
}

func (h *Handler) store(ctx context.Context) (vector.Store, error) {
	if !h.conn.EnsureInitialized(ctx) {
		return nil, connection.ErrUnavailable
	}
	return h.conn.Store()
}

func (h *Handler) collections(ctx context.Context) ([]*vector.CollectionStats, error) {
	store, err := h.store(ctx)
	if err != nil {
		return nil, err
	}
	names, err := store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := make([]*vector.CollectionStats, 0, len(names))
	for _, name := range names {
		info, err := store.CollectionInfo(ctx, name)
		if err != nil {
			h.logger.Debug().Err(err).Str("collection", name).Msg("Skipping collection without info")
			out = append(out, &vector.CollectionStats{Name: name, Status: "unknown"})
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func (h *Handler) collectionInfo(ctx context.Context, name string) (*vector.CollectionStats, error) {
	store, err := h.store(ctx)
	if err != nil {
		return nil, err
	}
	info, err := store.CollectionInfo(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	return info, nil
}

func (h *Handler) recent(ctx context.Context, collection string) ([]search.Result, error) {
	results, err := h.searcher.Scoped(collection).Recent(ctx, recentLimit)
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (h *Handler) search(ctx context.Context, collection, q string) (*search.Response, error) {
	return h.searcher.Scoped(collection).Search(ctx, q, searchLimit, search.DefaultThreshold)
}

func (h *Handler) status() map[string]any {
	out := map[string]any{"connection": h.conn.Status()}
	for name, p := range h.stats {
		out[name] = p.GetStats()
	}
	return out
}
