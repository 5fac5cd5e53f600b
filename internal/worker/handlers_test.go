package worker

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/vectorcache/internal/cache"
	"github.com/thebtf/vectorcache/internal/config"
	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/connection/conntest"
	"github.com/thebtf/vectorcache/internal/resources"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/storage"
	"github.com/thebtf/vectorcache/internal/vector"
	"github.com/thebtf/vectorcache/internal/vector/vectortest"
	"github.com/thebtf/vectorcache/pkg/hooks"
)

type WorkerSuite struct {
	suite.Suite
	store *vectortest.Store
	views *cache.MemoryStore
	svc   *Service
	cfg   config.Config
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.store = vectortest.New()
	s.cfg = conntest.Config()
	s.cfg.ScoreThreshold = 0
	s.views = cache.NewMemoryStore(0)
	conn := conntest.New(s.T(), s.store, s.cfg, true)
	s.svc = newService("test-version", conn, services.Default(), s.views)
}

func (s *WorkerSuite) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.svc.Router().ServeHTTP(rec, req)
	return rec
}

func (s *WorkerSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (s *WorkerSuite) put(tool, text string) string {
	id := s.svc.storage.Store(context.Background(), storage.Invocation{
		ToolName:  tool,
		Arguments: map[string]any{"q": text},
		Response:  storage.TextResponse{Text: text},
		SessionID: "s1",
	})
	s.Require().NotEmpty(id)
	return id
}

// waitForPoints polls until the collection holds n points.
func (s *WorkerSuite) waitForPoints(n int) {
	s.Eventually(func() bool { return s.store.Len(s.cfg.Collection) == n }, 2*time.Second, 10*time.Millisecond)
}

func (s *WorkerSuite) TestHealthAndReady() {
	rec := s.do(http.MethodGet, "/health", nil)
	s.Equal(http.StatusOK, rec.Code)
	var health map[string]any
	s.decode(rec, &health)
	s.Equal("ready", health["status"])
	s.Equal("test-version", health["version"])
	s.NotEmpty(rec.Header().Get("X-Request-ID"))
	s.Equal("nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = s.do(http.MethodGet, "/api/ready", nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *WorkerSuite) TestNotReady() {
	dialErr := errors.New("connection refused")
	conn := conntest.New(s.T(), vectortest.New(), s.cfg, false,
		connection.WithDialer(func(context.Context, connection.Endpoint) (vector.Store, error) {
			return nil, dialErr
		}))
	svc := newService("v", conn, services.Default(), cache.NewMemoryStore(0))

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil))
	s.Equal(http.StatusServiceUnavailable, rec.Code)

	s.False(conn.EnsureInitialized(context.Background()))

	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Contains(rec.Body.String(), "service initialization failed")

	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Contains(rec.Body.String(), `"error"`)
}

func (s *WorkerSuite) TestCapture() {
	rec := s.do(http.MethodPost, "/api/tool-responses", hooks.ToolResponse{
		ToolName:  "search_gmail_messages",
		Arguments: map[string]any{"q": "invoice"},
		Response:  map[string]any{"messages": []any{"a", "b"}},
		SessionID: "s1",
	})
	s.Equal(http.StatusAccepted, rec.Code)
	s.waitForPoints(1)

	rec = s.do(http.MethodPost, "/api/tool-responses", hooks.ToolResponse{Response: "x"})
	s.Equal(http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tool-responses", strings.NewReader("tool=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	s.svc.Router().ServeHTTP(rr, req)
	s.Equal(http.StatusUnsupportedMediaType, rr.Code)
}

func (s *WorkerSuite) TestCaptureBatch() {
	rec := s.do(http.MethodPost, "/api/tool-responses/batch", BatchRequest{Responses: []hooks.ToolResponse{
		{ToolName: "list_drive_files", Response: "plan.docx"},
		{ToolName: "list_calendar_events", Response: "standup"},
	}})
	s.Equal(http.StatusOK, rec.Code)
	var res BatchResult
	s.decode(rec, &res)
	s.Equal(2, res.Stored)
	s.Equal(2, res.Total)
	s.Len(res.IDs, 2)
	s.Equal(2, s.store.Len(s.cfg.Collection))

	rec = s.do(http.MethodPost, "/api/tool-responses/batch", BatchRequest{})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/tool-responses/batch", BatchRequest{Responses: []hooks.ToolResponse{{Response: "x"}}})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(rec.Body.String(), "responses[0]")
}

func (s *WorkerSuite) TestSearch() {
	id := s.put("search_gmail_messages", "invoice from acme")

	rec := s.do(http.MethodGet, "/api/search?q=id:"+id, nil)
	s.Equal(http.StatusOK, rec.Code)
	var unified search.UnifiedResponse
	s.decode(rec, &unified)
	s.Require().Len(unified.Results, 1)
	s.Equal(id, unified.Results[0].ID)

	rec = s.do(http.MethodGet, "/api/search?format=full&q=tool:search_gmail_messages", nil)
	s.Equal(http.StatusOK, rec.Code)
	var full search.Response
	s.decode(rec, &full)
	s.Require().Len(full.Results, 1)
	s.Equal("search_gmail_messages", full.Results[0].ToolName)
}

func (s *WorkerSuite) TestFetch() {
	id := s.put("search_gmail_messages", "3 messages")

	rec := s.do(http.MethodGet, "/api/fetch/"+id, nil)
	s.Equal(http.StatusOK, rec.Code)
	var doc search.FetchResult
	s.decode(rec, &doc)
	s.True(doc.Found)
	s.Equal("https://mail.google.com#"+id, doc.URL)

	rec = s.do(http.MethodGet, "/api/fetch/"+uuid.NewString(), nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/fetch/not-an-id", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *WorkerSuite) TestResources() {
	s.put("list_drive_files", "plan")

	rec := s.do(http.MethodGet, "/api/resources?uri=qdrant://collections/list", nil)
	s.Equal(http.StatusOK, rec.Code)
	var resp resources.Response
	s.decode(rec, &resp)
	s.Equal(resources.TypeCollections, resp.Type)

	rec = s.do(http.MethodGet, "/api/resources?uri=qdrant://collection/missing/info", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/resources?uri=https://example.com", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *WorkerSuite) TestAnalytics() {
	s.put("list_drive_files", "a")
	s.put("list_drive_files", "b")
	s.put("search_gmail_messages", "c")

	rec := s.do(http.MethodGet, "/api/analytics", nil)
	s.Equal(http.StatusOK, rec.Code)
	var stats search.Analytics
	s.decode(rec, &stats)
	s.Equal(3, stats.Total)
	s.Equal(2, stats.Groups["list_drive_files"].Count)

	rec = s.do(http.MethodGet, "/api/analytics?start_date=whenever", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *WorkerSuite) TestDashboardIsCached() {
	s.put("list_drive_files", "a")

	rec := s.do(http.MethodGet, "/api/dashboard", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("MISS", rec.Header().Get("X-Cache"))
	var d Dashboard
	s.decode(rec, &d)
	s.Equal(1, d.Total)
	s.Require().Len(d.Tools, 1)
	s.Equal("📁 Google Drive · list_drive_files", d.Tools[0].Title)
	s.Len(d.Recent, 1)

	s.put("search_gmail_messages", "b")
	rec = s.do(http.MethodGet, "/api/dashboard", nil)
	s.Equal("HIT", rec.Header().Get("X-Cache"))
	s.decode(rec, &d)
	s.Equal(1, d.Total)

	rec = s.do(http.MethodDelete, "/api/cache?scope=views", nil)
	s.Equal(http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/api/dashboard", nil)
	s.Equal("MISS", rec.Header().Get("X-Cache"))
	s.decode(rec, &d)
	s.Equal(2, d.Total)
}

func (s *WorkerSuite) TestServices() {
	s.put("search_gmail_messages", "a")
	s.put("frobnicate", "b")

	rec := s.do(http.MethodGet, "/api/services", nil)
	s.Equal(http.StatusOK, rec.Code)
	var list []ServiceSummary
	s.decode(rec, &list)

	counts := map[string]int{}
	titles := map[string]string{}
	for _, svc := range list {
		counts[svc.ID] = svc.Count
		titles[svc.ID] = svc.Title
	}
	s.Equal(1, counts["gmail"])
	s.Equal(0, counts["drive"])
	s.Equal(1, counts[services.UnknownID])
	s.Equal("📧 Gmail", titles["gmail"])
	s.Equal("calendar", list[0].ID)
}

func (s *WorkerSuite) TestCleanup() {
	s.put("list_drive_files", "fresh")

	rec := s.do(http.MethodPost, "/api/cleanup", CleanupRequest{DaysOld: 1})
	s.Equal(http.StatusOK, rec.Code)
	var res storage.CleanupResult
	s.decode(rec, &res)
	s.Equal(storage.CleanupSuccess, res.Status)
	s.Equal(1, res.PointsScanned)

	rec = s.do(http.MethodPost, "/api/cleanup", nil)
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))

	rec = s.do(http.MethodPost, "/api/cleanup", CleanupRequest{DaysOld: -1})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *WorkerSuite) TestReindex() {
	rec := s.do(http.MethodPost, "/api/reindex", nil)
	s.Equal(http.StatusAccepted, rec.Code)
}

func (s *WorkerSuite) TestClearCache() {
	s.put("list_drive_files", "a")
	s.put("list_drive_files", "b")

	rec := s.do(http.MethodDelete, "/api/cache", nil)
	s.Equal(http.StatusOK, rec.Code)
	var res storage.ClearResult
	s.decode(rec, &res)
	s.Equal(uint64(2), res.PointsDeleted)
	s.Equal(0, s.store.Len(s.cfg.Collection))
}

func (s *WorkerSuite) TestMCPOverHTTP() {
	rec := s.do(http.MethodPost, "/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "tools/list"})
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"search_tool_history"`)
}

func (s *WorkerSuite) TestBodyTooLarge() {
	req := httptest.NewRequest(http.MethodPost, "/api/tool-responses", bytes.NewReader(make([]byte, MaxRequestBody+1)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.svc.Router().ServeHTTP(rec, req)
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
}
