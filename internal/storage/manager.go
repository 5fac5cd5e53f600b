// Package storage turns tool invocations into embedded, optionally
// compressed points and owns retention cleanup of the cache collection.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/privacy"
	"github.com/thebtf/vectorcache/internal/sanitize"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/vector"
)

const (
	// BatchSize is the number of invocations stored concurrently by StoreBatch.
	BatchSize = 32

	// embeddingResponseChars caps the response excerpt in the embedding input.
	embeddingResponseChars = 1000

	// asyncStoreTimeout bounds a detached store.
	asyncStoreTimeout = 30 * time.Second
)

// Manager persists tool invocations.
type Manager struct {
	conn    *connection.Manager
	catalog *services.Catalog
	metrics *Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

// NewManager creates a storage manager. A nil catalog uses the built-in services.
func NewManager(conn *connection.Manager, catalog *services.Catalog) *Manager {
	if catalog == nil {
		catalog = services.Default()
	}
	return &Manager{
		conn:    conn,
		catalog: catalog,
		metrics: newMetrics(),
		now:     time.Now,
		logger:  log.With().Str("component", "storage").Logger(),
	}
}

// Metrics returns the storage counters.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Store persists one invocation and returns the new point id. It is
// best-effort: failures are logged and yield an empty id.
func (m *Manager) Store(ctx context.Context, inv Invocation) string {
	id, err := m.persist(ctx, inv)
	if err != nil {
		m.logFailure(err, inv)
		return ""
	}
	return id
}

// StoreAsync queues inv on the task pool, detached from any caller context.
// It reports whether the invocation was queued.
func (m *Manager) StoreAsync(inv Invocation) bool {
	if !m.conn.Enabled() {
		return false
	}
	err := m.conn.Pool().Submit("store:"+inv.ToolName, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, asyncStoreTimeout)
		defer cancel()
		if _, err := m.persist(ctx, inv); err != nil {
			m.logFailure(err, inv)
		}
		return nil
	})
	if err != nil {
		m.metrics.dropped(context.Background())
		m.logger.Warn().Err(err).Str("tool", inv.ToolName).Msg("Dropping tool response, store queue unavailable")
		return false
	}
	return true
}

// StoreBatch stores invocations in batches of BatchSize. The returned slice
// holds the ids of the entries that were stored, in input order; failed
// entries are logged and omitted.
func (m *Manager) StoreBatch(ctx context.Context, invs []Invocation) []string {
	ids := make([]string, len(invs))
	for start := 0; start < len(invs); start += BatchSize {
		end := min(start+BatchSize, len(invs))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				id, err := m.persist(gctx, invs[i])
				if err != nil {
					m.logFailure(err, invs[i])
					return nil
				}
				ids[i] = id
				return nil
			})
		}
		_ = g.Wait()
	}

	stored := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			stored = append(stored, id)
		}
	}
	return stored
}

func (m *Manager) logFailure(err error, inv Invocation) {
	m.metrics.failed(context.Background())
	ev := m.logger.Warn()
	if errors.Is(err, connection.ErrUnavailable) {
		ev = m.logger.Debug()
	}
	ev.Err(err).Str("tool", inv.ToolName).Msg("Failed to store tool response")
}

// persist runs the full pipeline for one invocation.
func (m *Manager) persist(ctx context.Context, inv Invocation) (string, error) {
	if !m.conn.EnsureInitialized(ctx) {
		return "", connection.ErrUnavailable
	}
	store, err := m.conn.Store()
	if err != nil {
		return "", err
	}
	cfg := m.conn.Config()
	start := time.Now()

	point, size, err := m.buildPoint(ctx, inv)
	if err != nil {
		return "", err
	}

	if err := store.Upsert(ctx, cfg.Collection, []vector.Point{point}); err != nil {
		return "", fmt.Errorf("upsert into %s: %w", cfg.Collection, err)
	}

	if cfg.DualWrite && cfg.LegacyCollection != "" && cfg.LegacyCollection != cfg.Collection {
		legacy := vector.Point{ID: point.ID, Vector: point.Vector, Payload: LegacyPayload(point.Payload)}
		if err := store.Upsert(ctx, cfg.LegacyCollection, []vector.Point{legacy}); err != nil {
			m.logger.Warn().Err(err).Str("collection", cfg.LegacyCollection).Str("id", point.ID).Msg("Dual-write to legacy collection failed")
		}
	}

	compressed := payload.IsCompressed(point.Payload)
	m.metrics.stored(ctx, inv.ToolName, compressed, size, time.Since(start))
	m.logger.Debug().
		Str("id", point.ID).
		Str("tool", inv.ToolName).
		Int("size", size).
		Bool("compressed", compressed).
		Msg("Tool response stored")
	return point.ID, nil
}

// buildPoint sanitizes, encodes and embeds an invocation.
func (m *Manager) buildPoint(ctx context.Context, inv Invocation) (vector.Point, int, error) {
	cfg := m.conn.Config()
	now := m.now().UTC()

	var response any
	if inv.Response != nil {
		response = inv.Response.value()
	}
	args := sanitize.Sanitize(inv.Arguments, true)
	if inv.Arguments == nil {
		args = map[string]any{}
	}

	record := sanitize.Sanitize(map[string]any{
		payload.FieldToolName:        inv.ToolName,
		payload.FieldToolArgs:        args,
		"response":                   response,
		payload.FieldExecutionTimeMS: inv.ExecutionTime.Milliseconds(),
		payload.FieldTimestamp:       payload.FormatTimestamp(now),
	}, true)

	fields, size, err := payload.Encode(record, cfg.CompressionThreshold)
	if err != nil {
		return vector.Point{}, 0, err
	}

	vec, err := m.conn.Embed(ctx, EmbeddingInput(inv.ToolName, args, response))
	if err != nil {
		return vector.Point{}, 0, err
	}

	p := map[string]any{
		payload.FieldToolName:      inv.ToolName,
		payload.FieldToolArgs:      args,
		payload.FieldTimestamp:     payload.FormatTimestamp(now),
		payload.FieldTimestampUnix: now.Unix(),
		payload.FieldUserID:        inv.UserID,
		payload.FieldUserEmail:     inv.UserEmail,
		payload.FieldSessionID:     inv.SessionID,
		payload.FieldPayloadType:   string(payload.ParseType(inv.PayloadType)),
		payload.FieldService:       m.catalog.Resolve(inv.ToolName).ID,
		payload.FieldSchemaVersion: cfg.SchemaVersion,
		payload.FieldOriginalSize:  size,
	}
	if inv.ExecutionTime > 0 {
		p[payload.FieldExecutionTimeMS] = inv.ExecutionTime.Milliseconds()
	}
	for k, v := range fields {
		p[k] = v
	}

	return vector.Point{
		ID:      uuid.NewString(),
		Vector:  vec,
		Payload: sanitize.ValidateForStore(p),
	}, size, nil
}

// EmbeddingInput builds the text embedded for an invocation. Credentials are
// redacted since the text may be sent to a remote embedding endpoint.
func EmbeddingInput(toolName string, args, response any) string {
	argText := "{}"
	if args != nil {
		if data, err := json.Marshal(args); err == nil {
			argText = string(data)
		}
	}
	return privacy.Redact(fmt.Sprintf("Tool: %s\nArguments: %s\nResponse: %s",
		toolName, argText, truncateRunes(responseText(response), embeddingResponseChars)))
}

// legacyIdentityFields move under "metadata" in the v1 layout.
var legacyIdentityFields = []string{
	payload.FieldToolName,
	payload.FieldUserID,
	payload.FieldUserEmail,
	payload.FieldSessionID,
	payload.FieldExecutionTimeMS,
	payload.FieldService,
}

// LegacyPayload converts a payload to the v1 layout, which nests identity
// fields under "metadata".
func LegacyPayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	meta := map[string]any{}
	for k, v := range p {
		out[k] = v
	}
	for _, k := range legacyIdentityFields {
		if v, ok := out[k]; ok {
			meta[k] = v
			delete(out, k)
		}
	}
	out["metadata"] = meta
	out[payload.FieldSchemaVersion] = 1
	return out
}
