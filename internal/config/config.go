package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all service configuration. There is exactly one settings
// source: this struct, populated from defaults, CLI flags, and CHRONICLE_*
// environment variables. Lifecycle thresholds that operators tune at runtime
// (TTL hours, snapshot retention) live in the memory_settings DB row instead.
type Config struct {
	// Database
	DBURL                   string
	DatastoreType           string // "postgres" or "sqlite"
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// Embedding provider
	EmbedType         string // "openai" or "hashing"
	EmbedCacheEntries int64  // max cached embeddings; 0 disables the cache
	OpenAIAPIKey      string
	OpenAIModelName   string
	OpenAIBaseURL     string
	OpenAIDimensions  int

	// Narrative-generation provider
	NarratorType      string // "openai" or "scripted"
	NarratorModelName string
	NarratorMaxTokens int

	// Promotion
	// PromoteThreshold is the aggregate importance at or above which a freshly
	// condensed episode is queued for background promotion.
	PromoteThreshold float64
	PromoteQueueSize int

	// CleanupInterval is the period of the background expiry loop.
	CleanupInterval time.Duration

	// Context retrieval defaults; callers may override per request.
	ContextMaxRecent       int
	ContextMaxEpisodic     int
	ContextImportanceFloor float64
	ContextSimilarityFloor float64
	ContextTopK            int
	ContextMaxChars        int

	// Server
	Listener                  ListenerConfig
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool
	ManagementAccessLog       bool
	MaxBodySize               int64
	DrainTimeout              int // seconds

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		EmbedType:               "hashing",
		EmbedCacheEntries:       10_000,
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		NarratorType:            "openai",
		NarratorModelName:       "gpt-4o-mini",
		NarratorMaxTokens:       2048,
		PromoteThreshold:        0.75,
		PromoteQueueSize:        64,
		CleanupInterval:         15 * time.Minute,
		ContextMaxRecent:        10,
		ContextMaxEpisodic:      20,
		ContextImportanceFloor:  0.6,
		ContextSimilarityFloor:  0.35,
		ContextTopK:             5,
		ContextMaxChars:         8000,
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1 << 20, // 1 MB
		DrainTimeout: 30,
	}
}

// EmbedDimension returns the dimensionality of vectors produced by the
// configured embedder. The postgres migrator uses it to size the vector column.
func (c *Config) EmbedDimension() int {
	if c.EmbedType == "openai" {
		if c.OpenAIDimensions > 0 {
			return c.OpenAIDimensions
		}
		return 1536
	}
	return 384
}
