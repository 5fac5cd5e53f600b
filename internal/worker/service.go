// Package worker provides the HTTP worker service for vectorcache.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vectorcache/internal/cache"
	"github.com/thebtf/vectorcache/internal/config"
	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/mcp"
	"github.com/thebtf/vectorcache/internal/resources"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/storage"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody caps request bodies; tool responses can be large.
	MaxRequestBody = 8 << 20

	// MaxBatchSize is the largest accepted capture batch.
	MaxBatchSize = 500

	// MaintenanceCooldown is the minimum number of seconds between cleanup runs.
	MaintenanceCooldown = 60

	// CaptureRate and CaptureBurst bound per-client capture traffic.
	CaptureRate  = 50
	CaptureBurst = 200
)

// Service is the worker service orchestrator.
type Service struct {
	version string
	cfg     config.Config

	conn      *connection.Manager
	storage   *storage.Manager
	search    *search.Manager
	resources *resources.Handler
	mcp       *mcp.Server
	catalog   *services.Catalog
	cache     cache.Store

	captureLimiter *ClientRateLimiter
	maintenance    *Cooldown

	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	configWatcher  *config.Watcher
	onConfigChange func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// NewService builds the worker from configuration. The vector store
// connection is established in the background once Start is called.
func NewService(cfg *config.Config, version string) (*Service, error) {
	catalog, err := services.Load(cfg.ServiceCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load service catalog: %w", err)
	}

	var store cache.Store = cache.NewMemoryStore(cache.DefaultMaxEntries)
	if cfg.RedisURL != "" {
		store = cache.NewRedisStore(cache.NewPool(cfg.RedisURL), cache.DefaultPrefix)
	}

	return newService(version, connection.New(*cfg), catalog, store), nil
}

func newService(version string, conn *connection.Manager, catalog *services.Catalog, store cache.Store) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	st := storage.NewManager(conn, catalog)
	conn.SetCleanup(st.CleanupFunc())
	sm := search.NewManager(conn, catalog)
	rh := resources.NewHandler(conn, sm)
	rh.AddStats("storage", st.Metrics())

	svc := &Service{
		version:        version,
		cfg:            conn.Config(),
		conn:           conn,
		storage:        st,
		search:         sm,
		resources:      rh,
		mcp:            mcp.NewServer(sm, st, rh, version),
		catalog:        catalog,
		cache:          store,
		captureLimiter: NewClientRateLimiter(CaptureRate, CaptureBurst),
		maintenance:    NewCooldown(MaintenanceCooldown),
		router:         chi.NewRouter(),
		startTime:      time.Now(),
		ctx:            ctx,
		cancel:         cancel,
		logger:         log.With().Str("component", "worker").Logger(),
	}
	svc.onConfigChange = svc.restartForConfig
	rh.AddStats("capture", svc.captureLimiter)

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(s.accessLog)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(SecurityHeaders)
	s.router.Use(corsMiddleware(nil))
	s.router.Use(MaxBodySize(MaxRequestBody))
}

func (s *Service) setupRoutes() {
	// Health endpoints answer during initialization so hooks connect fast.
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)

	// MCP over HTTP shares the stdio server's dispatch.
	s.router.Handle("/mcp", mcp.NewStreamableHandler(s.mcp))

	// Capture is accepted before the store is ready; the task pool waits.
	s.router.Group(func(r chi.Router) {
		r.Use(RequireJSONContentType)
		r.Use(ClientRateLimitMiddleware(s.captureLimiter))
		r.Post("/api/tool-responses", s.handleCapture)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(middleware.Timeout(DefaultHTTPTimeout))

		r.With(RequireJSONContentType).Post("/api/tool-responses/batch", s.handleCaptureBatch)

		r.Get("/api/search", s.handleSearch)
		r.Get("/api/fetch/{id}", s.handleFetch)
		r.Get("/api/resources", s.handleResource)
		r.Get("/api/analytics", s.handleAnalytics)
		r.Get("/api/dashboard", s.handleDashboard)
		r.Get("/api/services", s.handleServices)

		r.Post("/api/cleanup", s.handleCleanup)
		r.Post("/api/reindex", s.handleReindex)
		r.Delete("/api/cache", s.handleClearCache)
	})
}

// Router returns the HTTP handler, for embedding and tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start begins background initialization and serves HTTP on the configured port.
func (s *Service) Start() error {
	s.conn.Start(s.ctx)
	s.startWatcher()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().
		Int("port", s.cfg.WorkerPort).
		Int("pid", os.Getpid()).
		Msg("Worker HTTP server started (initialization in progress)")
	return nil
}

// startWatcher watches the settings file; a change restarts the worker so
// the new settings take effect.
func (s *Service) startWatcher() {
	path := config.SettingsPath()
	w, err := config.Watch(path, func() {
		s.logger.Warn().Str("path", path).Msg("Config file changed")
		s.onConfigChange()
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to start config watcher")
		return
	}
	s.configWatcher = w
	s.logger.Info().Str("path", path).Msg("Config file watcher started")
}

// restartForConfig exits cleanly; hooks restart the worker with the new settings.
func (s *Service) restartForConfig() {
	s.logger.Info().Msg("Config changed, triggering graceful restart...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Shutdown(ctx)
	os.Exit(0)
}

// Shutdown stops the HTTP server, drains background work and closes the caches.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.configWatcher != nil {
		_ = s.configWatcher.Stop()
	}

	var errs []error
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.conn.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("connection shutdown: %w", err))
	}
	if err := s.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}

	s.wg.Wait()

	s.logger.Info().Msg("Worker service shutdown complete")
	return errors.Join(errs...)
}
