package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

func TestMatchAny(t *testing.T) {
	require.True(t, MatchAny("hány fok van a nappaliban", AreaPatterns["nappali"]))
	require.False(t, MatchAny("hány fok van a nappaliban", AreaPatterns["konyha"]))
}

type fakeAliasSource struct {
	areas map[string][]string
	err   error
}

func (f fakeAliasSource) LoadAreaAliases(ctx context.Context) (map[string][]string, error) {
	return f.areas, f.err
}

func TestAliasTable_MergesOverlay(t *testing.T) {
	src := fakeAliasSource{areas: map[string][]string{"nappali": {"woonkamer"}, "műhely": {"workshop"}}}
	tbl := NewAliasTable(src, config.CacheConfig{ConversationAliasesTTL: time.Minute})

	areas := tbl.Areas(context.Background())
	require.Contains(t, areas["nappali"], "woonkamer")
	require.Contains(t, areas["nappali"], "nappali") // base pattern still present
	require.Contains(t, areas["műhely"], "workshop")
}

func TestAliasTable_FallsBackToStaticOnNilSource(t *testing.T) {
	tbl := NewAliasTable(nil, config.CacheConfig{ConversationAliasesTTL: time.Minute})
	areas := tbl.Areas(context.Background())
	require.Equal(t, AreaPatterns, areas)
}
