package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/vector"
)

const (
	cleanupPageSize   = 256
	cleanupDeleteSize = 512
)

// Cleanup statuses.
const (
	CleanupSuccess     = "success"
	CleanupDisabled    = "disabled"
	CleanupUnavailable = "unavailable"
	CleanupError       = "error"
)

// CleanupResult summarizes a retention cleanup pass.
type CleanupResult struct {
	Status        string `json:"status"`
	CutoffDate    string `json:"cutoff_date,omitempty"`
	Error         string `json:"error,omitempty"`
	PointsDeleted int    `json:"points_deleted"`
	PointsScanned int    `json:"points_scanned"`
	Unparseable   int    `json:"unparseable_timestamps"`
}

// CleanupStale deletes points older than the retention window. Points whose
// timestamp cannot be parsed are kept.
func (m *Manager) CleanupStale(ctx context.Context) CleanupResult {
	cfg := m.conn.Config()
	if cfg.RetentionDays <= 0 {
		return CleanupResult{Status: CleanupDisabled}
	}
	cutoff := m.now().UTC().AddDate(0, 0, -cfg.RetentionDays)
	return m.CleanupBefore(ctx, cutoff)
}

// CleanupOlderThan deletes points older than days, regardless of the
// configured retention window.
func (m *Manager) CleanupOlderThan(ctx context.Context, days int) CleanupResult {
	if days <= 0 {
		return CleanupResult{Status: CleanupError, Error: "days must be positive"}
	}
	return m.CleanupBefore(ctx, m.now().UTC().AddDate(0, 0, -days))
}

// CleanupBefore deletes every point with a parseable timestamp before cutoff.
func (m *Manager) CleanupBefore(ctx context.Context, cutoff time.Time) CleanupResult {
	res := CleanupResult{Status: CleanupSuccess, CutoffDate: payload.FormatTimestamp(cutoff)}
	if !m.conn.EnsureInitialized(ctx) {
		res.Status = CleanupUnavailable
		return res
	}
	store, err := m.conn.Store()
	if err != nil {
		res.Status = CleanupUnavailable
		return res
	}

	cfg := m.conn.Config()
	collections := []string{cfg.Collection}
	if cfg.DualWrite && cfg.LegacyCollection != "" && cfg.LegacyCollection != cfg.Collection {
		collections = append(collections, cfg.LegacyCollection)
	}

	for _, name := range collections {
		deleted, scanned, bad, err := m.cleanupCollection(ctx, store, name, cutoff)
		res.PointsDeleted += deleted
		res.PointsScanned += scanned
		res.Unparseable += bad
		if err != nil {
			res.Status = CleanupError
			res.Error = err.Error()
			m.logger.Error().Err(err).Str("collection", name).Msg("Retention cleanup failed")
			break
		}
	}

	m.metrics.deleted(ctx, res.PointsDeleted)
	m.logger.Info().
		Str("cutoff", res.CutoffDate).
		Int("deleted", res.PointsDeleted).
		Int("scanned", res.PointsScanned).
		Int("unparseable", res.Unparseable).
		Msg("Retention cleanup finished")
	return res
}

func (m *Manager) cleanupCollection(ctx context.Context, store vector.Store, name string, cutoff time.Time) (deleted, scanned, unparseable int, err error) {
	var stale []string
	req := vector.ScrollRequest{
		Collection: name,
		Limit:      cleanupPageSize,
		Include:    []string{payload.FieldTimestamp, payload.FieldTimestampUnix},
	}
	for {
		page, err := store.Scroll(ctx, req)
		if err != nil {
			return deleted, scanned, unparseable, fmt.Errorf("scan %s: %w", name, err)
		}
		for _, p := range page.Points {
			scanned++
			ts, ok := payload.Timestamp(p.Payload)
			if !ok {
				unparseable++
				continue
			}
			if ts.Before(cutoff) {
				stale = append(stale, p.ID)
			}
		}
		if page.NextOffset == "" || len(page.Points) == 0 {
			break
		}
		req.Offset = page.NextOffset
	}

	for start := 0; start < len(stale); start += cleanupDeleteSize {
		end := min(start+cleanupDeleteSize, len(stale))
		if err := store.Delete(ctx, name, stale[start:end]); err != nil {
			return deleted, scanned, unparseable, fmt.Errorf("delete from %s: %w", name, err)
		}
		deleted += end - start
	}
	return deleted, scanned, unparseable, nil
}

// CleanupFunc adapts CleanupStale to the connection manager's cleanup hook.
func (m *Manager) CleanupFunc() connection.CleanupFunc {
	return func(ctx context.Context) error {
		res := m.CleanupStale(ctx)
		if res.Status == CleanupError {
			return fmt.Errorf("retention cleanup: %s", res.Error)
		}
		return nil
	}
}

// ClearResult summarizes an explicit cache clear.
type ClearResult struct {
	Status        string `json:"status"`
	Collection    string `json:"collection"`
	Error         string `json:"error,omitempty"`
	PointsDeleted uint64 `json:"points_deleted"`
}

// ClearCache deletes every point in the primary collection. The collection
// itself and its indexes are kept.
func (m *Manager) ClearCache(ctx context.Context) ClearResult {
	cfg := m.conn.Config()
	res := ClearResult{Status: CleanupSuccess, Collection: cfg.Collection}
	if !m.conn.EnsureInitialized(ctx) {
		res.Status = CleanupUnavailable
		return res
	}
	store, err := m.conn.Store()
	if err != nil {
		res.Status = CleanupUnavailable
		return res
	}

	n, err := store.Count(ctx, cfg.Collection, nil)
	if err != nil {
		res.Status = CleanupError
		res.Error = err.Error()
		return res
	}
	if err := store.DeleteByFilter(ctx, cfg.Collection, nil); err != nil {
		res.Status = CleanupError
		res.Error = err.Error()
		return res
	}
	res.PointsDeleted = n
	m.metrics.deleted(ctx, int(n))
	m.logger.Warn().Str("collection", cfg.Collection).Uint64("deleted", n).Msg("Cache cleared")
	return res
}
