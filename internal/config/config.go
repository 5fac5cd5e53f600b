// Package config provides configuration management for vectorcache.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 37790

	// DefaultCollection is the collection tool responses are cached in.
	DefaultCollection = "tool_responses"

	// DefaultVectorSize matches the default embedding model.
	DefaultVectorSize = 384

	// DefaultCompressionThreshold is the serialized size above which records are gzip-compressed.
	DefaultCompressionThreshold = 5 * 1024

	// DefaultEmbeddingModel is the embedding model used when none is configured.
	DefaultEmbeddingModel = "hashing"

	// EnvPrefix prefixes every settings key and environment variable.
	EnvPrefix = "VECTORCACHE_"
)

// DefaultQdrantPorts are probed in order when no URL is configured.
var DefaultQdrantPorts = []int{6334, 6335, 16334}

// Config holds the application configuration.
type Config struct {
	// Vector store settings
	QdrantHost       string        `json:"qdrant_host"`
	QdrantURL        string        `json:"qdrant_url"` // full URL override, e.g. https://xyz.cloud.qdrant.io:6334
	QdrantAPIKey     string        `json:"-"`
	QdrantPorts      []int         `json:"qdrant_ports"`
	DiscoveryTimeout time.Duration `json:"discovery_timeout"`

	// Collection settings
	Collection          string `json:"collection"`
	LegacyCollection    string `json:"legacy_collection"`
	Distance            string `json:"distance"`
	OptimizationProfile string `json:"optimization_profile"`
	VectorSize          int    `json:"vector_size"`
	SchemaVersion       int    `json:"schema_version"`
	DualWrite           bool   `json:"dual_write"`

	// Storage settings
	CompressionThreshold int `json:"compression_threshold"`
	RetentionDays        int `json:"retention_days"`

	// Search settings
	SearchLimit    int     `json:"search_limit"`
	ScoreThreshold float64 `json:"score_threshold"`

	// Embedding settings
	EmbeddingModel     string `json:"embedding_model"` // registry version, e.g. "openai" or "hashing"
	EmbeddingBaseURL   string `json:"embedding_base_url"`
	EmbeddingAPIKey    string `json:"-"`
	EmbeddingModelName string `json:"embedding_model_name"`

	// Worker settings
	WorkerPort    int `json:"worker_port"`
	PoolWorkers   int `json:"pool_workers"`
	PoolQueueSize int `json:"pool_queue_size"`

	// Auxiliary caches
	RedisURL           string        `json:"redis_url"`
	ServiceCatalogPath string        `json:"service_catalog"`
	CacheTTL           time.Duration `json:"cache_ttl"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.vectorcache).
func DataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vectorcache")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  "VECTORCACHE_QDRANT_HOST": "localhost",
  "VECTORCACHE_QDRANT_PORTS": "6334,6335,16334",
  "VECTORCACHE_COLLECTION": "tool_responses",
  "VECTORCACHE_RETENTION_DAYS": 30,
  "VECTORCACHE_OPTIMIZATION_PROFILE": "cloud-balanced"
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	ports := make([]int, len(DefaultQdrantPorts))
	copy(ports, DefaultQdrantPorts)
	return &Config{
		QdrantHost:           "localhost",
		QdrantPorts:          ports,
		DiscoveryTimeout:     3 * time.Second,
		Collection:           DefaultCollection,
		LegacyCollection:     DefaultCollection + "_v1",
		Distance:             "cosine",
		OptimizationProfile:  "cloud-balanced",
		VectorSize:           DefaultVectorSize,
		SchemaVersion:        2,
		CompressionThreshold: DefaultCompressionThreshold,
		RetentionDays:        30,
		SearchLimit:          10,
		ScoreThreshold:       0.3,
		EmbeddingModel:       DefaultEmbeddingModel,
		WorkerPort:           DefaultWorkerPort,
		PoolWorkers:          4,
		PoolQueueSize:        256,
		CacheTTL:             time.Minute,
	}
}

// Load loads configuration from the settings file, merging with defaults,
// then applies environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	settings := map[string]any{}
	if len(data) > 0 {
		// Return defaults plus env on parse error
		if err := json.Unmarshal(data, &settings); err != nil {
			settings = map[string]any{}
		}
	}

	// Environment wins over the settings file.
	for _, key := range settingKeys {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			settings[EnvPrefix+key] = v
		}
	}

	apply(cfg, settings)
	return cfg, nil
}

var settingKeys = []string{
	"QDRANT_HOST", "QDRANT_PORTS", "QDRANT_URL", "QDRANT_API_KEY", "DISCOVERY_TIMEOUT_MS",
	"COLLECTION", "LEGACY_COLLECTION", "VECTOR_SIZE", "DISTANCE", "OPTIMIZATION_PROFILE",
	"SCHEMA_VERSION", "DUAL_WRITE", "COMPRESSION_THRESHOLD", "RETENTION_DAYS",
	"SEARCH_LIMIT", "SCORE_THRESHOLD",
	"EMBEDDING_MODEL", "EMBEDDING_BASE_URL", "EMBEDDING_API_KEY", "EMBEDDING_MODEL_NAME",
	"WORKER_PORT", "POOL_WORKERS", "POOL_QUEUE_SIZE",
	"REDIS_URL", "SERVICE_CATALOG", "CACHE_TTL_SECONDS",
}

// apply maps settings onto cfg. Values may be JSON numbers/bools or strings
// (environment variables are always strings).
func apply(cfg *Config, s map[string]any) {
	str := func(key string, dst *string) {
		if v, ok := asString(s[EnvPrefix+key]); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int, allowZero bool) {
		if v, ok := asInt(s[EnvPrefix+key]); ok && (v > 0 || (allowZero && v == 0)) {
			*dst = v
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := asBool(s[EnvPrefix+key]); ok {
			*dst = v
		}
	}

	str("QDRANT_HOST", &cfg.QdrantHost)
	str("QDRANT_URL", &cfg.QdrantURL)
	str("QDRANT_API_KEY", &cfg.QdrantAPIKey)
	if v, ok := asString(s[EnvPrefix+"QDRANT_PORTS"]); ok && v != "" {
		if ports := parsePorts(v); len(ports) > 0 {
			cfg.QdrantPorts = ports
		}
	}
	var timeoutMs int
	num("DISCOVERY_TIMEOUT_MS", &timeoutMs, false)
	if timeoutMs > 0 {
		cfg.DiscoveryTimeout = time.Duration(timeoutMs) * time.Millisecond
	}

	str("COLLECTION", &cfg.Collection)
	str("LEGACY_COLLECTION", &cfg.LegacyCollection)
	num("VECTOR_SIZE", &cfg.VectorSize, false)
	str("DISTANCE", &cfg.Distance)
	str("OPTIMIZATION_PROFILE", &cfg.OptimizationProfile)
	num("SCHEMA_VERSION", &cfg.SchemaVersion, false)
	flag("DUAL_WRITE", &cfg.DualWrite)

	num("COMPRESSION_THRESHOLD", &cfg.CompressionThreshold, false)
	num("RETENTION_DAYS", &cfg.RetentionDays, true)

	num("SEARCH_LIMIT", &cfg.SearchLimit, false)
	if v, ok := asFloat(s[EnvPrefix+"SCORE_THRESHOLD"]); ok && v >= 0 && v <= 1 {
		cfg.ScoreThreshold = v
	}

	str("EMBEDDING_MODEL", &cfg.EmbeddingModel)
	str("EMBEDDING_BASE_URL", &cfg.EmbeddingBaseURL)
	str("EMBEDDING_API_KEY", &cfg.EmbeddingAPIKey)
	str("EMBEDDING_MODEL_NAME", &cfg.EmbeddingModelName)

	num("WORKER_PORT", &cfg.WorkerPort, false)
	num("POOL_WORKERS", &cfg.PoolWorkers, false)
	num("POOL_QUEUE_SIZE", &cfg.PoolQueueSize, false)

	str("REDIS_URL", &cfg.RedisURL)
	str("SERVICE_CATALOG", &cfg.ServiceCatalogPath)
	var ttl int
	num("CACHE_TTL_SECONDS", &ttl, false)
	if ttl > 0 {
		cfg.CacheTTL = time.Duration(ttl) * time.Second
	}
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}

// parsePorts parses a comma-separated port list, skipping invalid entries.
func parsePorts(s string) []int {
	var ports []int
	for _, p := range splitTrim(s) {
		n, err := strconv.Atoi(p)
		if err == nil && n > 0 && n < 65536 {
			ports = append(ports, n)
		}
	}
	return ports
}

// splitTrim splits a comma-separated string and trims whitespace.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
