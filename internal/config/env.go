package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyFromEnv reads CHRONICLE_* environment variables for tunables that do
// not have dedicated CLI flags.
func (c *Config) ApplyFromEnv() error {
	if c == nil {
		return nil
	}

	var err error
	if err = applyBoolEnv("CHRONICLE_DB_MIGRATE_AT_START", &c.DatastoreMigrateAtStart); err != nil {
		return err
	}
	if err = applyIntEnv("CHRONICLE_DB_MAX_OPEN_CONNS", &c.DBMaxOpenConns); err != nil {
		return err
	}
	if err = applyIntEnv("CHRONICLE_DB_MAX_IDLE_CONNS", &c.DBMaxIdleConns); err != nil {
		return err
	}
	if err = applyInt64Env("CHRONICLE_EMBED_CACHE_ENTRIES", &c.EmbedCacheEntries); err != nil {
		return err
	}
	if err = applyIntEnv("CHRONICLE_NARRATOR_MAX_TOKENS", &c.NarratorMaxTokens); err != nil {
		return err
	}
	if err = applyFloatEnv("CHRONICLE_PROMOTE_THRESHOLD", &c.PromoteThreshold); err != nil {
		return err
	}
	if err = applyIntEnv("CHRONICLE_PROMOTE_QUEUE_SIZE", &c.PromoteQueueSize); err != nil {
		return err
	}
	if err = applyDurationEnv("CHRONICLE_CLEANUP_INTERVAL", &c.CleanupInterval); err != nil {
		return err
	}
	if err = applyIntEnv("CHRONICLE_CONTEXT_MAX_RECENT", &c.ContextMaxRecent); err != nil {
		return err
	}
	if err = applyIntEnv("CHRONICLE_CONTEXT_MAX_EPISODIC", &c.ContextMaxEpisodic); err != nil {
		return err
	}
	if err = applyFloatEnv("CHRONICLE_CONTEXT_IMPORTANCE_FLOOR", &c.ContextImportanceFloor); err != nil {
		return err
	}
	if err = applyFloatEnv("CHRONICLE_CONTEXT_SIMILARITY_FLOOR", &c.ContextSimilarityFloor); err != nil {
		return err
	}
	if err = applyIntEnv("CHRONICLE_CONTEXT_TOP_K", &c.ContextTopK); err != nil {
		return err
	}
	if err = applyIntEnv("CHRONICLE_CONTEXT_MAX_CHARS", &c.ContextMaxChars); err != nil {
		return err
	}
	if err = applyInt64Env("CHRONICLE_MAX_BODY_SIZE", &c.MaxBodySize); err != nil {
		return err
	}
	return nil
}

func applyBoolEnv(name string, dst *bool) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func applyIntEnv(name string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func applyInt64Env(name string, dst *int64) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func applyFloatEnv(name string, dst *float64) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}

func applyDurationEnv(name string, dst *time.Duration) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = v
	return nil
}
