package format

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lopeti/ha-rag-bridge/internal/cache"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/memory"
	"github.com/lopeti/ha-rag-bridge/internal/rerank"
	"github.com/lopeti/ha-rag-bridge/internal/scope"
	"github.com/lopeti/ha-rag-bridge/internal/state"
)

func newTestFormatter(t *testing.T, stateURL string) *Formatter {
	t.Helper()
	var sc *state.Cache
	if stateURL != "" {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		valCache := cache.New[state.Value](client, "state", time.Minute)
		sc = state.New(config.LiveStateConfig{BaseURL: stateURL}, valCache)
	}
	return New(sc, nil, nil, nil, nil)
}

func ranked(id, area, deviceClass string) rerank.Ranked {
	return rerank.Ranked{EntityID: id, Area: area, DeviceClass: deviceClass, FriendlyName: id}
}

func TestSelectStrategy_CompactWhenTotalExceedsEight(t *testing.T) {
	var primary []rerank.Ranked
	for i := 0; i < 9; i++ {
		primary = append(primary, ranked("e", "nappali", ""))
	}
	got := selectStrategy(Input{Primary: primary, Scope: scope.Macro})
	require.Equal(t, StrategyCompact, got)
}

func TestSelectStrategy_CompactWhenMicroScope(t *testing.T) {
	got := selectStrategy(Input{Primary: []rerank.Ranked{ranked("e", "nappali", "")}, Scope: scope.Micro})
	require.Equal(t, StrategyCompact, got)
}

func TestSelectStrategy_GroupedByAreaWhenSingleArea(t *testing.T) {
	got := selectStrategy(Input{
		Primary:        []rerank.Ranked{ranked("e", "nappali", "")},
		AreasMentioned: map[string]bool{"nappali": true},
		Scope:          scope.Macro,
	})
	require.Equal(t, StrategyGroupedByArea, got)
}

func TestSelectStrategy_TLDRWhenMultipleAreas(t *testing.T) {
	got := selectStrategy(Input{
		Primary:        []rerank.Ranked{ranked("e", "nappali", "")},
		AreasMentioned: map[string]bool{"nappali": true, "konyha": true},
		Scope:          scope.Macro,
	})
	require.Equal(t, StrategyTLDR, got)
}

func TestSelectStrategy_HierarchicalWhenFollowUpWithMemory(t *testing.T) {
	got := selectStrategy(Input{
		Primary:        []rerank.Ranked{ranked("e", "nappali", "")},
		IsFollowUp:     true,
		MemoryEntities: []memory.MemoryEntity{{EntityID: "e"}},
		Scope:          scope.Macro,
	})
	require.Equal(t, StrategyHierarchical, got)
}

func TestSelectStrategy_DetailedIsDefault(t *testing.T) {
	got := selectStrategy(Input{Primary: []rerank.Ranked{ranked("e", "nappali", "")}, Scope: scope.Macro})
	require.Equal(t, StrategyDetailed, got)
}

func TestFormat_CompactProducesPipeSeparatedLine(t *testing.T) {
	f := newTestFormatter(t, "")
	out := f.Format(context.Background(), Input{
		Primary: []rerank.Ranked{ranked("sensor.nappali_temperature", "nappali", "temperature")},
		Scope:   scope.Micro,
	})
	require.Equal(t, StrategyCompact, out.Strategy)
	require.Contains(t, out.Text, "hőmérséklet [nappali]: n/a")
}

func TestFormat_DetailedListsPrimaryAndRelatedSections(t *testing.T) {
	f := newTestFormatter(t, "")
	out := f.Format(context.Background(), Input{
		Primary: []rerank.Ranked{ranked("light.nappali", "nappali", "")},
		Related: []rerank.Ranked{ranked("light.konyha", "konyha", "")},
		Scope:   scope.Macro,
	})
	require.Equal(t, StrategyDetailed, out.Strategy)
	require.Contains(t, out.Text, "## Primary entity")
	require.Contains(t, out.Text, "## Related entities")
	require.Contains(t, out.Text, "Areas: konyha, nappali")
}

func TestFormat_GroupedByAreaTagsPrimaryAndRelated(t *testing.T) {
	f := newTestFormatter(t, "")
	out := f.Format(context.Background(), Input{
		Primary:        []rerank.Ranked{ranked("light.nappali", "nappali", "")},
		Related:        []rerank.Ranked{ranked("sensor.nappali_humidity", "nappali", "humidity")},
		AreasMentioned: map[string]bool{"nappali": true},
		Scope:          scope.Macro,
	})
	require.Equal(t, StrategyGroupedByArea, out.Strategy)
	require.Contains(t, out.Text, "[P] light.nappali")
	require.Contains(t, out.Text, "[R] páratartalom")
}

func TestFormat_TLDRAppendsAreaCounts(t *testing.T) {
	f := newTestFormatter(t, "")
	out := f.Format(context.Background(), Input{
		Primary:        []rerank.Ranked{ranked("e1", "nappali", ""), ranked("e2", "konyha", "")},
		AreasMentioned: map[string]bool{"nappali": true, "konyha": true},
		Scope:          scope.Macro,
	})
	require.Equal(t, StrategyTLDR, out.Strategy)
	require.Contains(t, out.Text, "TL;DR:")
	require.Contains(t, out.Text, "konyha(1 entities)")
	require.Contains(t, out.Text, "nappali(1 entities)")
}

func TestFormat_HierarchicalListsThreeSections(t *testing.T) {
	f := newTestFormatter(t, "")
	out := f.Format(context.Background(), Input{
		Primary:        []rerank.Ranked{ranked("light.nappali", "nappali", "")},
		Related:        []rerank.Ranked{ranked("sensor.konyha", "konyha", "")},
		MemoryEntities: []memory.MemoryEntity{{EntityID: "light.elozo", Area: "haloszoba"}},
		IsFollowUp:     true,
		Scope:          scope.Macro,
	})
	require.Equal(t, StrategyHierarchical, out.Strategy)
	require.Contains(t, out.Text, "## Primary")
	require.Contains(t, out.Text, "## Secondary")
	require.Contains(t, out.Text, "## Previous")
	require.Contains(t, out.Text, "light.elozo")
}

func TestFormat_UsesFreshReadForPrimaryAndCachedReadForRelated(t *testing.T) {
	calls := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls[r.URL.Path]++
		w.Write([]byte(`{"state":"42"}`))
	}))
	defer srv.Close()

	f := newTestFormatter(t, srv.URL)
	in := Input{
		Primary: []rerank.Ranked{ranked("sensor.a", "nappali", "temperature")},
		Related: []rerank.Ranked{ranked("sensor.b", "konyha", "temperature")},
		Scope:   scope.Macro,
	}

	ctx := context.Background()
	_ = f.Format(ctx, in)
	_ = f.Format(ctx, in)

	// primary entity uses FreshGet: called once per Format invocation (no cache)
	require.GreaterOrEqual(t, calls["/sensor.a"], 2)
	// related entity uses cached Get: second Format call should be served from cache
	require.Equal(t, 1, calls["/sensor.b"])
}

func TestCleanName_MapsGenericDeviceClassToHungarian(t *testing.T) {
	e := rerank.Ranked{EntityID: "sensor.nappali_temperature", FriendlyName: "sensor.nappali_temperature"}
	require.Equal(t, "hőmérséklet", cleanName(e))
}

func TestCleanName_PrefersFriendlyNameWhenPresent(t *testing.T) {
	e := rerank.Ranked{EntityID: "sensor.nappali_temperature", FriendlyName: "Nappali hőmérő"}
	require.Equal(t, "Nappali hőmérő", cleanName(e))
}

func TestManualHint_EmptyWithoutGraph(t *testing.T) {
	f := newTestFormatter(t, "")
	got := f.manualHint(context.Background(), Input{Primary: []rerank.Ranked{ranked("e", "nappali", "")}})
	require.Empty(t, got)
}
