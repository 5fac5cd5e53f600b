package connection

import (
	"context"
	"fmt"

	"github.com/thebtf/vectorcache/internal/vector"
)

// ReindexResult summarizes an index backfill pass.
type ReindexResult struct {
	Created map[string][]string `json:"created"`
	Failed  map[string][]string `json:"failed,omitempty"`
}

// CollectionSpec returns the spec for a collection under the active profile.
func (m *Manager) CollectionSpec(name string) vector.CollectionSpec {
	return vector.ProfileSpec(
		vector.ParseProfile(m.cfg.OptimizationProfile),
		name,
		m.cfg.VectorSize,
		vector.ParseDistance(m.cfg.Distance),
	)
}

// provision creates the collection or aligns an existing one with the active
// profile, then backfills payload indexes.
func (m *Manager) provision(ctx context.Context, store vector.Store, name string) error {
	spec := m.CollectionSpec(name)

	exists, err := store.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}

	if !exists {
		if err := store.CreateCollection(ctx, spec); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		m.logger.Info().
			Str("collection", name).
			Str("profile", string(spec.Profile)).
			Uint64("vector_size", spec.VectorSize).
			Msg("Collection created")
	} else if err := store.UpdateCollection(ctx, spec); err != nil {
		// Existing data stays usable with the old parameters.
		m.logger.Warn().Err(err).Str("collection", name).Msg("Failed to apply optimization profile")
	}

	created, failed := m.backfillIndexes(ctx, store, name)
	if len(created) > 0 || len(failed) > 0 {
		m.logger.Info().
			Str("collection", name).
			Strs("created", created).
			Strs("failed", failed).
			Msg("Payload index backfill finished")
	}
	return nil
}

// backfillIndexes creates the required indexes missing from a collection.
// Individual failures are logged and skipped.
func (m *Manager) backfillIndexes(ctx context.Context, store vector.Store, name string) (created, failed []string) {
	missing := vector.RequiredIndexes()
	info, err := store.CollectionInfo(ctx, name)
	if err != nil {
		m.logger.Warn().Err(err).Str("collection", name).Msg("Could not read payload schema, creating all indexes")
	} else {
		missing = vector.MissingIndexes(info.PayloadSchema)
	}

	for _, idx := range missing {
		if err := store.CreateFieldIndex(ctx, name, idx.Field, idx.Type); err != nil {
			m.logger.Warn().Err(err).
				Str("collection", name).
				Str("field", idx.Field).
				Msg("Failed to create payload index")
			failed = append(failed, idx.Field)
			continue
		}
		created = append(created, idx.Field)
	}
	return created, failed
}

// Reindex backfills payload indexes on the primary collection and, with
// dual-write on, the legacy collection.
func (m *Manager) Reindex(ctx context.Context, store vector.Store) (ReindexResult, error) {
	res := ReindexResult{Created: map[string][]string{}, Failed: map[string][]string{}}
	for _, name := range m.activeCollections() {
		exists, err := store.CollectionExists(ctx, name)
		if err != nil {
			return res, fmt.Errorf("reindex %s: %w", name, err)
		}
		if !exists {
			continue
		}
		created, failed := m.backfillIndexes(ctx, store, name)
		res.Created[name] = created
		if len(failed) > 0 {
			res.Failed[name] = failed
		}
	}
	return res, nil
}

func (m *Manager) activeCollections() []string {
	names := []string{m.cfg.Collection}
	if m.cfg.DualWrite && m.cfg.LegacyCollection != "" && m.cfg.LegacyCollection != m.cfg.Collection {
		names = append(names, m.cfg.LegacyCollection)
	}
	return names
}
