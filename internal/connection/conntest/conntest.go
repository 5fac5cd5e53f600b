// Package conntest builds initialized connection managers backed by the
// in-memory vector store and the hashing embedding model.
package conntest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/vectorcache/internal/config"
	"github.com/thebtf/vectorcache/internal/connection"
	"github.com/thebtf/vectorcache/internal/embedding"
	"github.com/thebtf/vectorcache/internal/vector"
	"github.com/thebtf/vectorcache/internal/vector/vectortest"
)

// Config returns the test configuration: local-development profile, no
// retention, a small pool.
func Config() config.Config {
	cfg := *config.Default()
	cfg.QdrantURL = ""
	cfg.QdrantPorts = []int{6334}
	cfg.OptimizationProfile = string(vector.ProfileLocalDevelopment)
	cfg.RetentionDays = 0
	cfg.PoolWorkers = 4
	cfg.PoolQueueSize = 64
	return cfg
}

// New returns a manager wired to store. When ready is true the manager is
// initialized before it is returned. The manager is shut down with the test.
func New(t testing.TB, store *vectortest.Store, cfg config.Config, ready bool, opts ...connection.Option) *connection.Manager {
	t.Helper()
	base := []connection.Option{
		connection.WithLogger(zerolog.Nop()),
		connection.WithDialer(func(context.Context, connection.Endpoint) (vector.Store, error) {
			return store, nil
		}),
		connection.WithModelLoader(func() (embedding.EmbeddingModel, error) {
			return embedding.GetModel(embedding.HashingModelVersion, embedding.Options{Dimensions: cfg.VectorSize})
		}),
	}
	m := connection.New(cfg, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	if ready && !m.EnsureInitialized(context.Background()) {
		t.Fatalf("connection manager failed to initialize: %v", m.InitError())
	}
	return m
}
