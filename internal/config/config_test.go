package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"EMBED_DIM", "SCOPE_MICRO_KMAX", "CONVERSATION_MEMORY_TTL"} {
		os.Unsetenv(k)
	}
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 384, cfg.DB.EmbedDim)
	require.Equal(t, 10, cfg.Scope.Micro.KMax)
	require.Equal(t, 15*time.Minute, cfg.Memory.ConversationMemoryTTL)
	require.Equal(t, 0.2, cfg.Ranking.MinFinalScore)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EMBED_DIM", "768")
	t.Setenv("SCOPE_OVERVIEW_KMAX", "60")
	t.Setenv("ENRICHMENT_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("AUTO_BOOTSTRAP", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 768, cfg.DB.EmbedDim)
	require.Equal(t, 60, cfg.Scope.Overview.KMax)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.Memory.KafkaBrokers)
	require.True(t, cfg.DB.AutoBootstrap)
}
