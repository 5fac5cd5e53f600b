package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
)

// DefaultPrefix namespaces cache keys in a shared Redis.
const DefaultPrefix = "vectorcache:cache:"

const scanCount = 100

// RedisStore is a Store shared between processes through Redis. Entries are
// written with SETEX so Redis expires them.
type RedisStore struct {
	pool   *redis.Pool
	now    func() time.Time
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewPool returns a connection pool for a redis:// URL.
func NewPool(rawURL string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(rawURL,
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(2*time.Second),
				redis.DialWriteTimeout(2*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// NewRedisStore creates a store over pool. An empty prefix uses DefaultPrefix.
func NewRedisStore(pool *redis.Pool, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{pool: pool, prefix: prefix, now: time.Now}
}

func (s *RedisStore) conn(ctx context.Context) (redis.Conn, error) {
	c, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return c, nil
}

// Get returns the entry for key or ErrMiss.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	raw, err := redis.Bytes(c.Do("GET", s.prefix+key))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode redis entry %s: %w", key, err)
	}
	if e.Expired(s.now()) {
		return nil, ErrMiss
	}
	return &e, nil
}

// Set stores value under key. TTLs round up to whole seconds.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	e, err := newEntry(key, value, ttl, s.now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode redis entry %s: %w", key, err)
	}

	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if ttl <= 0 {
		_, err = c.Do("SET", s.prefix+key, raw)
	} else {
		seconds := int64((ttl + time.Second - 1) / time.Second)
		_, err = c.Do("SETEX", s.prefix+key, seconds, raw)
	}
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("DEL", s.prefix+key); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear removes every key under the store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	cursor := 0
	for {
		values, err := redis.Values(c.Do("SCAN", cursor, "MATCH", s.prefix+"*", "COUNT", scanCount))
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		var keys []string
		if _, err := redis.Scan(values, &cursor, &keys); err != nil {
			return fmt.Errorf("redis scan reply: %w", err)
		}
		if len(keys) > 0 {
			args := redis.Args{}.AddFlat(keys)
			if _, err := c.Do("DEL", args...); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the pool.
func (s *RedisStore) Close() error {
	return s.pool.Close()
}
