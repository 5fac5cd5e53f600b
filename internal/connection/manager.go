// Package connection owns the vector store and embedding model handles:
// endpoint discovery, deferred single-flight initialization and collection
// provisioning.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vectorcache/internal/config"
	"github.com/thebtf/vectorcache/internal/embedding"
	"github.com/thebtf/vectorcache/internal/tasks"
	"github.com/thebtf/vectorcache/internal/vector"
	"github.com/thebtf/vectorcache/internal/vector/qdrant"
)

// ErrUnavailable is returned by operations that need an initialized manager.
var ErrUnavailable = errors.New("vector cache unavailable")

// ErrModelLoad matches any *ModelLoadError.
var ErrModelLoad = errors.New("embedding model load failed")

// ModelLoadError reports a failed embedding model load. It aborts initialization.
type ModelLoadError struct {
	Err   error
	Model string
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load embedding model %q: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrModelLoad) true for any ModelLoadError.
func (e *ModelLoadError) Is(target error) bool { return target == ErrModelLoad }

// Dialer opens a store for an endpoint. The returned store is probed by the manager.
type Dialer func(ctx context.Context, ep Endpoint) (vector.Store, error)

// ModelLoader creates the embedding model.
type ModelLoader func() (embedding.EmbeddingModel, error)

// CleanupFunc runs a retention cleanup pass.
type CleanupFunc func(ctx context.Context) error

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the Qdrant dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithModelLoader replaces the registry-based model loader.
func WithModelLoader(l ModelLoader) Option {
	return func(m *Manager) { m.loadModel = l }
}

// WithPool runs blocking and background work on p. The manager does not close it.
func WithPool(p *tasks.Pool) Option {
	return func(m *Manager) {
		m.pool = p
		m.ownPool = false
	}
}

// WithCleanup sets the retention cleanup scheduled after initialization.
func WithCleanup(fn CleanupFunc) Option {
	return func(m *Manager) { m.cleanup = fn }
}

// WithLogger sets the parent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager holds the process-lifetime connection state. Construct it once at
// the binary root and pass it to the storage, search and resource layers.
type Manager struct {
	initializedAt time.Time
	store         vector.Store
	model         embedding.EmbeddingModel
	initErr       error
	dial          Dialer
	loadModel     ModelLoader
	cleanup       CleanupFunc
	pool          *tasks.Pool
	done          chan struct{}
	endpoint      Endpoint
	logger        zerolog.Logger
	cfg           config.Config
	mu            sync.RWMutex
	attempted     atomic.Bool
	complete      atomic.Bool
	enabled       atomic.Bool
	ownPool       bool
}

// New creates a manager. No network or model work happens until
// EnsureInitialized or Start is called.
func New(cfg config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		done:   make(chan struct{}),
		logger: log.Logger,
	}
	m.enabled.Store(true)
	m.dial = m.dialQdrant
	m.loadModel = func() (embedding.EmbeddingModel, error) {
		svc, err := embedding.NewServiceWithModel(cfg.EmbeddingModel, embedding.Options{
			BaseURL:    cfg.EmbeddingBaseURL,
			APIKey:     cfg.EmbeddingAPIKey,
			ModelName:  cfg.EmbeddingModelName,
			Dimensions: cfg.VectorSize,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "connection").Logger()
	if m.pool == nil {
		m.pool = tasks.NewPool(cfg.PoolWorkers, cfg.PoolQueueSize, m.logger)
		m.ownPool = true
	}
	return m
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() config.Config {
	return m.cfg
}

// Pool returns the task pool used for blocking and background work.
func (m *Manager) Pool() *tasks.Pool {
	return m.pool
}

// SetCleanup sets the retention cleanup function. It must be called before
// initialization starts to take effect for the first pass.
func (m *Manager) SetCleanup(fn CleanupFunc) {
	m.mu.Lock()
	m.cleanup = fn
	m.mu.Unlock()
}

// EnsureInitialized performs initialization once. The first caller does the
// work; concurrent and later callers return the current completion state
// without blocking. After a failed attempt it always returns false.
// Initialization is detached from ctx cancellation; discovery probes keep
// their own timeout.
func (m *Manager) EnsureInitialized(ctx context.Context) bool {
	if m.complete.Load() {
		return true
	}
	if !m.enabled.Load() {
		return false
	}
	if !m.attempted.CompareAndSwap(false, true) {
		return m.complete.Load()
	}

	defer close(m.done)
	if err := m.initialize(context.WithoutCancel(ctx)); err != nil {
		m.disable(err)
		return false
	}
	return true
}

// Start kicks off initialization in the background.
func (m *Manager) Start(ctx context.Context) {
	go m.EnsureInitialized(ctx)
}

// Wait blocks until an initialization attempt has finished or ctx is done.
// It reports whether the manager is ready.
func (m *Manager) Wait(ctx context.Context) bool {
	if m.EnsureInitialized(ctx) {
		return true
	}
	if !m.attempted.Load() {
		return false
	}
	select {
	case <-m.done:
	case <-ctx.Done():
	}
	return m.complete.Load()
}

// Ready reports whether initialization completed.
func (m *Manager) Ready() bool {
	return m.complete.Load()
}

// Enabled reports whether the manager can still become ready.
func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// InitError returns the error that disabled the manager, if any.
func (m *Manager) InitError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initErr
}

func (m *Manager) disable(err error) {
	m.mu.Lock()
	m.initErr = err
	m.mu.Unlock()
	m.enabled.Store(false)
	m.logger.Error().Err(err).Msg("Vector cache disabled for this process")
}

func (m *Manager) initialize(ctx context.Context) error {
	m.logger.Info().Msg("Starting vector cache initialization...")

	store, ep, err := m.discover(ctx)
	if err != nil {
		return err
	}

	model, err := m.loadModelAsync(ctx)
	if err != nil {
		_ = store.Close()
		return err
	}

	if err := m.provision(ctx, store, m.cfg.Collection); err != nil {
		_ = store.Close()
		_ = model.Close()
		return fmt.Errorf("provision collection %s: %w", m.cfg.Collection, err)
	}
	if m.cfg.DualWrite && m.cfg.LegacyCollection != "" && m.cfg.LegacyCollection != m.cfg.Collection {
		if err := m.provision(ctx, store, m.cfg.LegacyCollection); err != nil {
			m.logger.Warn().Err(err).Str("collection", m.cfg.LegacyCollection).Msg("Legacy collection provisioning failed, dual-write will fail per point")
		}
	}

	m.mu.Lock()
	m.store = store
	m.model = model
	m.endpoint = ep
	m.initializedAt = time.Now()
	m.mu.Unlock()
	m.complete.Store(true)

	m.logger.Info().
		Str("endpoint", ep.String()).
		Str("collection", m.cfg.Collection).
		Str("model", model.Version()).
		Msg("Vector cache initialization complete - ready")

	if m.cfg.RetentionDays > 0 {
		m.TriggerCleanup()
	}
	return nil
}

// loadModelAsync loads the model on its own goroutine so that a slow load
// can be abandoned when ctx ends.
func (m *Manager) loadModelAsync(ctx context.Context) (embedding.EmbeddingModel, error) {
	type result struct {
		model embedding.EmbeddingModel
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		model, err := m.loadModel()
		ch <- result{model: model, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, &ModelLoadError{Model: m.cfg.EmbeddingModel, Err: res.err}
		}
		if res.model.Dimensions() != m.cfg.VectorSize {
			_ = res.model.Close()
			return nil, &ModelLoadError{
				Model: m.cfg.EmbeddingModel,
				Err:   fmt.Errorf("model produces %d dimensions, collection expects %d", res.model.Dimensions(), m.cfg.VectorSize),
			}
		}
		return res.model, nil
	case <-ctx.Done():
		return nil, &ModelLoadError{Model: m.cfg.EmbeddingModel, Err: ctx.Err()}
	}
}

// Store returns the vector store, or ErrUnavailable before initialization.
func (m *Manager) Store() (vector.Store, error) {
	if !m.complete.Load() {
		return nil, ErrUnavailable
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil {
		return nil, ErrUnavailable
	}
	return m.store, nil
}

// Embed computes an embedding on the task pool and waits for it with ctx.
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	if !m.complete.Load() {
		return nil, ErrUnavailable
	}
	m.mu.RLock()
	model := m.model
	m.mu.RUnlock()
	if model == nil {
		return nil, ErrUnavailable
	}

	var vec []float32
	err := m.pool.Do(ctx, "embed", func(context.Context) error {
		var err error
		vec, err = model.Embed(text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vec, nil
}

// TriggerCleanup schedules a retention cleanup pass on the pool. It reports
// whether a pass was queued.
func (m *Manager) TriggerCleanup() bool {
	m.mu.RLock()
	fn := m.cleanup
	m.mu.RUnlock()
	if fn == nil || !m.complete.Load() {
		return false
	}
	err := m.pool.Submit("retention-cleanup", func(ctx context.Context) error {
		return fn(ctx)
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("Could not schedule retention cleanup")
		return false
	}
	return true
}

// TriggerReindex schedules a payload index backfill for the active
// collections. It reports whether the pass was queued.
func (m *Manager) TriggerReindex() bool {
	store, err := m.Store()
	if err != nil {
		return false
	}
	err = m.pool.Submit("reindex", func(ctx context.Context) error {
		_, err := m.Reindex(ctx, store)
		return err
	})
	if err != nil {
		m.logger.Warn().Err(err).Msg("Could not schedule reindex")
		return false
	}
	return true
}

// Shutdown drains background work and releases the store and model.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if m.ownPool {
		if err := m.pool.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	store, model := m.store, m.model
	m.store, m.model = nil, nil
	m.mu.Unlock()
	m.complete.Store(false)
	m.enabled.Store(false)

	if store != nil {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if model != nil {
		if err := model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close model: %w", err))
		}
	}
	return errors.Join(errs...)
}

// dialQdrant is the default Dialer.
func (m *Manager) dialQdrant(_ context.Context, ep Endpoint) (vector.Store, error) {
	return qdrant.NewClient(qdrant.Config{
		Host:               ep.Host,
		Port:               ep.Port,
		APIKey:             m.cfg.QdrantAPIKey,
		UseTLS:             ep.TLS,
		InsecureSkipVerify: ep.TLS && ep.FromURL,
		UserAgent:          "vectorcache",
	})
}
