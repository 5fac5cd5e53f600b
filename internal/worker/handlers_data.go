package worker

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/thebtf/vectorcache/internal/cache"
	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/storage"
)

// Cache keys of the derived views.
const (
	dashboardKey = "dashboard"
	servicesKey  = "services"

	dashboardRecent = 10
	defaultViewTTL  = time.Minute
)

// ToolCount is one row of the dashboard's per-tool usage table.
type ToolCount struct {
	Tool  string `json:"tool"`
	Title string `json:"title"`
	Count int    `json:"count"`
}

// ServiceSummary is a catalog service with its cached response count.
type ServiceSummary struct {
	services.Service
	Title string `json:"title"`
	Count int    `json:"count"`
}

// Dashboard is the cached overview served by /api/dashboard.
type Dashboard struct {
	GeneratedAt string            `json:"generated_at"`
	Status      connection.Status `json:"status"`
	Tools       []ToolCount       `json:"tools"`
	Services    []ServiceSummary  `json:"services"`
	Recent      []search.Hit      `json:"recent"`
	Total       int               `json:"total"`
}

func (s *Service) viewTTL() time.Duration {
	if s.cfg.CacheTTL > 0 {
		return s.cfg.CacheTTL
	}
	return defaultViewTTL
}

// writeCached serves a view from the TTL cache, computing it on a miss.
func (s *Service) writeCached(w http.ResponseWriter, r *http.Request, key string, compute func(context.Context) (any, error)) {
	data, hit, err := cache.GetOrCompute(r.Context(), s.cache, key, s.viewTTL(), compute)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Service) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.writeCached(w, r, dashboardKey, s.buildDashboard)
}

func (s *Service) handleServices(w http.ResponseWriter, r *http.Request) {
	s.writeCached(w, r, servicesKey, func(ctx context.Context) (any, error) {
		return s.serviceSummaries(ctx)
	})
}

func (s *Service) buildDashboard(ctx context.Context) (any, error) {
	byTool, err := s.search.GetAnalytics(ctx, time.Time{}, time.Time{}, "tool_name")
	if err != nil {
		return nil, err
	}
	svcs, err := s.serviceSummaries(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.search.Recent(ctx, dashboardRecent)
	if err != nil {
		return nil, err
	}

	d := Dashboard{
		GeneratedAt: payload.FormatTimestamp(time.Now()),
		Status:      s.conn.Status(),
		Tools:       make([]ToolCount, 0, len(byTool.Groups)),
		Services:    svcs,
		Recent:      s.search.Hits(recent),
		Total:       byTool.Total,
	}
	for _, tool := range byTool.Keys() {
		d.Tools = append(d.Tools, ToolCount{
			Tool:  tool,
			Title: search.Title(s.catalog.Resolve(tool), tool),
			Count: byTool.Groups[tool].Count,
		})
	}
	return d, nil
}

// serviceSummaries lists every catalog service with its response count.
// Responses from unrecognized tools are reported under the unknown service.
func (s *Service) serviceSummaries(ctx context.Context) ([]ServiceSummary, error) {
	byService, err := s.search.GetAnalytics(ctx, time.Time{}, time.Time{}, "service")
	if err != nil {
		return nil, err
	}
	count := func(id string) int {
		if g, ok := byService.Groups[id]; ok {
			return g.Count
		}
		return 0
	}

	out := make([]ServiceSummary, 0, len(s.catalog.IDs())+1)
	for _, id := range s.catalog.IDs() {
		svc, _ := s.catalog.Get(id)
		out = append(out, ServiceSummary{Service: svc, Title: svc.Title(), Count: count(id)})
	}
	if n := count(services.UnknownID); n > 0 {
		out = append(out, ServiceSummary{Service: services.Unknown, Title: services.Unknown.Title(), Count: n})
	}
	return out, nil
}

// invalidateViews drops the cached views after the collection changed.
func (s *Service) invalidateViews(ctx context.Context) {
	for _, key := range []string{dashboardKey, servicesKey} {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to invalidate cached view")
		}
	}
}

var maintenanceStatus = map[string]int{
	storage.CleanupSuccess:     http.StatusOK,
	storage.CleanupDisabled:    http.StatusOK,
	storage.CleanupUnavailable: http.StatusServiceUnavailable,
	storage.CleanupError:       http.StatusInternalServerError,
}

// CleanupRequest optionally overrides the retention window.
type CleanupRequest struct {
	DaysOld int `json:"days_old"`
}

func (s *Service) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DaysOld < 0 {
		writeError(w, http.StatusBadRequest, "days_old must be positive")
		return
	}
	if !s.maintenance.Allow() {
		remaining := s.maintenance.Remaining()
		w.Header().Set("Retry-After", strconv.FormatInt(remaining, 10))
		writeJSONStatus(w, http.StatusTooManyRequests, map[string]any{
			"error":       "cleanup ran recently",
			"retry_after": remaining,
		})
		return
	}

	var res storage.CleanupResult
	if req.DaysOld > 0 {
		res = s.storage.CleanupOlderThan(r.Context(), req.DaysOld)
	} else {
		res = s.storage.CleanupStale(r.Context())
	}
	if res.PointsDeleted > 0 {
		s.invalidateViews(r.Context())
	}
	writeJSONStatus(w, maintenanceStatus[res.Status], res)
}

func (s *Service) handleReindex(w http.ResponseWriter, _ *http.Request) {
	if !s.conn.TriggerReindex() {
		writeError(w, http.StatusServiceUnavailable, "reindex could not be scheduled")
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleClearCache deletes every cached response. scope=views only drops
// the derived dashboard views.
func (s *Service) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("scope") == "views" {
		s.invalidateViews(r.Context())
		writeJSON(w, map[string]string{"status": storage.CleanupSuccess})
		return
	}
	res := s.storage.ClearCache(r.Context())
	s.invalidateViews(r.Context())
	writeJSONStatus(w, maintenanceStatus[res.Status], res)
}
