// Package cache provides short-lived TTL caching for computed service
// objects such as dashboards and service listings.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Entry is a cached value. Data holds the JSON encoding of the value.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	TTL       time.Duration   `json:"ttl"`
}

// Expired reports whether the entry's TTL elapsed at now. A zero TTL never expires.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.Timestamp.Add(e.TTL))
}

// Decode unmarshals the entry's data into v.
func (e *Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode cache entry %s: %w", e.Key, err)
	}
	return nil
}

// Store is a TTL key/value cache.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

func newEntry(key string, value any, ttl time.Duration, now time.Time) (*Entry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return &Entry{Key: key, Data: data, Timestamp: now, TTL: ttl}, nil
}

// GetOrCompute returns the cached JSON for key, computing and storing it with
// fn on a miss. Cache read and write failures fall through to fn.
func GetOrCompute(ctx context.Context, s Store, key string, ttl time.Duration, fn func(context.Context) (any, error)) (json.RawMessage, bool, error) {
	if entry, err := s.Get(ctx, key); err == nil {
		return entry.Data, true, nil
	}
	value, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s: %w", key, err)
	}
	_ = s.Set(ctx, key, json.RawMessage(data), ttl)
	return data, false, nil
}
