package connection

import (
	"time"

	"github.com/thebtf/vectorcache/internal/tasks"
)

// Status is a point-in-time view of the manager for health reporting.
type Status struct {
	InitializedAt *time.Time  `json:"initialized_at,omitempty"`
	Endpoint      *Endpoint   `json:"endpoint,omitempty"`
	Error         string      `json:"error,omitempty"`
	Collection    string      `json:"collection"`
	Legacy        string      `json:"legacy_collection,omitempty"`
	Profile       string      `json:"optimization_profile"`
	Distance      string      `json:"distance"`
	Model         string      `json:"embedding_model,omitempty"`
	Pool          tasks.Stats `json:"pool"`
	VectorSize    int         `json:"vector_size"`
	SchemaVersion int         `json:"schema_version"`
	RetentionDays int         `json:"retention_days"`
	Attempted     bool        `json:"init_attempted"`
	Ready         bool        `json:"init_complete"`
	Enabled       bool        `json:"enabled"`
	DualWrite     bool        `json:"dual_write"`
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() Status {
	spec := m.CollectionSpec(m.cfg.Collection)
	st := Status{
		Attempted:     m.attempted.Load(),
		Ready:         m.complete.Load(),
		Enabled:       m.enabled.Load(),
		Collection:    m.cfg.Collection,
		Profile:       string(spec.Profile),
		Distance:      string(spec.Distance),
		VectorSize:    m.cfg.VectorSize,
		SchemaVersion: m.cfg.SchemaVersion,
		RetentionDays: m.cfg.RetentionDays,
		DualWrite:     m.cfg.DualWrite,
		Pool:          m.pool.Stats(),
	}
	if m.cfg.DualWrite {
		st.Legacy = m.cfg.LegacyCollection
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.initErr != nil {
		st.Error = m.initErr.Error()
	}
	if m.model != nil {
		st.Model = m.model.Version()
	}
	if st.Ready {
		ep := m.endpoint
		at := m.initializedAt
		st.Endpoint = &ep
		st.InitializedAt = &at
	}
	return st
}
