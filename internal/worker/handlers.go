package worker

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/resources"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/storage"
	"github.com/thebtf/vectorcache/pkg/hooks"
)

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, map[string]string{"error": message})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "starting"
	switch {
	case s.conn.Ready():
		status = "ready"
	case !s.conn.Enabled():
		status = "error"
	}
	writeJSON(w, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.conn.Ready() {
		if err := s.conn.InitError(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, "service initializing")
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

// requireReady holds back routes that need an initialized vector store.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.conn.Ready() {
			if err := s.conn.InitError(); err != nil {
				writeError(w, http.StatusInternalServerError, "service initialization failed: "+err.Error())
				return
			}
			writeError(w, http.StatusServiceUnavailable, "service initializing")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func invocation(tr hooks.ToolResponse) storage.Invocation {
	return storage.Invocation{
		ToolName:      tr.ToolName,
		Arguments:     tr.Arguments,
		Response:      storage.ResponseFrom(tr.Response),
		SessionID:     tr.SessionID,
		UserEmail:     tr.UserEmail,
		UserID:        tr.UserID,
		PayloadType:   tr.PayloadType,
		ExecutionTime: time.Duration(tr.ExecutionTimeMs) * time.Millisecond,
	}
}

// handleCapture queues one tool response for storage.
func (s *Service) handleCapture(w http.ResponseWriter, r *http.Request) {
	var tr hooks.ToolResponse
	if err := decodeBody(r, &tr); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if tr.ToolName == "" {
		writeError(w, http.StatusBadRequest, "tool_name is required")
		return
	}
	if !s.storage.StoreAsync(invocation(tr)) {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "dropped"})
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// BatchRequest is the body of the batch capture endpoint.
type BatchRequest struct {
	Responses []hooks.ToolResponse `json:"responses"`
}

// BatchResult reports which entries of a batch were stored.
type BatchResult struct {
	IDs    []string `json:"ids"`
	Stored int      `json:"stored"`
	Total  int      `json:"total"`
}

func (s *Service) handleCaptureBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Responses) == 0 {
		writeError(w, http.StatusBadRequest, "responses is required")
		return
	}
	if len(req.Responses) > MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d responses per batch", MaxBatchSize))
		return
	}

	invs := make([]storage.Invocation, 0, len(req.Responses))
	for i, tr := range req.Responses {
		if tr.ToolName == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("responses[%d]: tool_name is required", i))
			return
		}
		invs = append(invs, invocation(tr))
	}

	ids := s.storage.StoreBatch(r.Context(), invs)
	writeJSON(w, BatchResult{IDs: ids, Stored: len(ids), Total: len(invs)})
}

func intParam(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return def
}

func floatParam(r *http.Request, name string, def float64) float64 {
	if v, err := strconv.ParseFloat(r.URL.Query().Get(name), 64); err == nil {
		return v
	}
	return def
}

func errorStatus(err error) int {
	if errors.Is(err, connection.ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, search.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// handleSearch serves the unified search router. format=full returns the
// complete records instead of titled hits.
func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := intParam(r, "limit", 0)
	threshold := floatParam(r, "threshold", search.DefaultThreshold)

	if r.URL.Query().Get("format") == "full" {
		resp, err := s.search.Search(r.Context(), q, limit, threshold)
		if err != nil {
			writeError(w, errorStatus(err), err.Error())
			return
		}
		writeJSON(w, resp)
		return
	}
	writeJSON(w, s.search.UnifiedSearch(r.Context(), q, limit, threshold))
}

func (s *Service) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !search.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid point id")
		return
	}
	doc := s.search.Fetch(r.Context(), id)
	switch {
	case doc.Found:
		writeJSON(w, doc)
	case doc.Error == search.ErrNotFound.Error():
		writeJSONStatus(w, http.StatusNotFound, doc)
	default:
		writeJSONStatus(w, http.StatusServiceUnavailable, doc)
	}
}

var resourceStatus = map[string]int{
	resources.CodeUnknownResource: http.StatusNotFound,
	resources.CodeNotFound:        http.StatusNotFound,
	resources.CodeUnavailable:     http.StatusServiceUnavailable,
	resources.CodeInternal:        http.StatusInternalServerError,
}

func (s *Service) handleResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	resp, ok := s.resources.Intercept(r.Context(), uri)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported resource: "+uri)
		return
	}
	if resp.Failed() {
		writeJSONStatus(w, resourceStatus[resp.Code], resp)
		return
	}
	writeJSON(w, resp)
}

func (s *Service) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	for name, dst := range map[string]*time.Time{"start_date": &start, "end_date": &end} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		t, err := payload.ParseTimestamp(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+": "+err.Error())
			return
		}
		*dst = t
	}
	stats, err := s.search.GetAnalytics(r.Context(), start, end, r.URL.Query().Get("group_by"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, stats)
}
