package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("CHRONICLE_PROMOTE_THRESHOLD", "0.9")
	t.Setenv("CHRONICLE_CLEANUP_INTERVAL", "5m")
	t.Setenv("CHRONICLE_CONTEXT_MAX_RECENT", "3")
	t.Setenv("CHRONICLE_DB_MIGRATE_AT_START", "false")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyFromEnv())
	require.Equal(t, 0.9, cfg.PromoteThreshold)
	require.Equal(t, 5*time.Minute, cfg.CleanupInterval)
	require.Equal(t, 3, cfg.ContextMaxRecent)
	require.False(t, cfg.DatastoreMigrateAtStart)
}

func TestApplyFromEnv_LeavesUnsetValuesAlone(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyFromEnv())
	require.Equal(t, DefaultConfig().PromoteThreshold, cfg.PromoteThreshold)
}

func TestApplyFromEnv_RejectsMalformedValues(t *testing.T) {
	t.Setenv("CHRONICLE_PROMOTE_THRESHOLD", "very high")
	cfg := DefaultConfig()
	require.ErrorContains(t, cfg.ApplyFromEnv(), "CHRONICLE_PROMOTE_THRESHOLD")
}

func TestEmbedDimension(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 384, cfg.EmbedDimension())

	cfg.EmbedType = "openai"
	require.Equal(t, 1536, cfg.EmbedDimension())

	cfg.OpenAIDimensions = 256
	require.Equal(t, 256, cfg.EmbedDimension())
}
