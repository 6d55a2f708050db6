package rerank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/cache"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/crossencoder"
	"github.com/lopeti/ha-rag-bridge/internal/retrieve"
	"github.com/lopeti/ha-rag-bridge/internal/scope"
	"github.com/lopeti/ha-rag-bridge/internal/state"
)

type fakeCrossEncoder struct {
	scores map[string]float64 // keyed by Doc
}

func (f fakeCrossEncoder) Predict(ctx context.Context, pairs []crossencoder.Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		out[i] = f.scores[p.Doc]
	}
	return out, nil
}

func testRanking() config.RankingConfig {
	return config.RankingConfig{
		AreaBoostHouse:       1.2,
		AreaBoostSpecific:    2.0,
		FollowUpMultiplier:   1.5,
		DomainBoost:          1.5,
		DeviceClassBoost:     2.0,
		PreviousMentionBoost: 0.3,
		ControllableBoost:    0.2,
		ReadableBoost:        0.1,
		ActiveValueBoost:     2.0,
		UnavailablePenalty:   -0.5,
		MinFinalScore:        0.2,
	}
}

func candidate(id, domain, deviceClass, area string) retrieve.Candidate {
	return retrieve.Candidate{
		EntityID: id,
		Metadata: map[string]string{
			retrieve.MetaDomain:       domain,
			retrieve.MetaDeviceClass:  deviceClass,
			retrieve.MetaArea:         area,
			retrieve.MetaFriendlyName: id,
			retrieve.MetaText:         id,
		},
	}
}

func TestRerank_AreaMatchUsesMultiplicativeCombination(t *testing.T) {
	c := candidate("sensor.nappali_homerseklet", "sensor", "temperature", "nappali")
	ce := fakeCrossEncoder{scores: map[string]float64{describe(c): 0.5}}

	r := New(ce, nil, testRanking())
	convCtx := analyzer.ConversationContext{
		AreasMentioned:         map[string]bool{"nappali": true},
		DomainsMentioned:       map[string]bool{},
		DeviceClassesMentioned: map[string]bool{},
		PreviousEntities:       map[string]bool{},
		Intent:                 analyzer.IntentRead,
	}

	out, err := r.Rerank(context.Background(), []retrieve.Candidate{c}, "hány fok van a nappaliban", convCtx, scope.Macro, 10)
	require.NoError(t, err)
	require.Len(t, out.Primary, 1)

	// base=0.5, contextBoost = (2.0-1) [area] + 0.1 [readable] = 1.1 (no state cache, so no active/unavailable factor)
	// final = 0.5 * (1 + 0.5*1.1) = 0.775
	require.InDelta(t, 0.775, out.Primary[0].FinalScore, 1e-9)
}

func TestRerank_NoAreaMatchUsesAdditiveCombination(t *testing.T) {
	c := candidate("light.konyha", "light", "", "konyha")
	ce := fakeCrossEncoder{scores: map[string]float64{describe(c): 0.3}}

	r := New(ce, nil, testRanking())
	convCtx := analyzer.ConversationContext{
		AreasMentioned:         map[string]bool{},
		DomainsMentioned:       map[string]bool{"light": true},
		DeviceClassesMentioned: map[string]bool{},
		PreviousEntities:       map[string]bool{},
		Intent:                 analyzer.IntentControl,
	}

	out, err := r.Rerank(context.Background(), []retrieve.Candidate{c}, "kapcsold fel a lámpát", convCtx, scope.Micro, 10)
	require.NoError(t, err)
	require.Len(t, out.Primary, 1)

	// base=0.3, contextBoost = (1.5-1)[domain] + 0.2[controllable] = 0.7; final = 0.3+0.7=1.0
	require.InDelta(t, 1.0, out.Primary[0].FinalScore, 1e-9)
}

func TestRerank_BelowMinFinalScoreIsFiltered(t *testing.T) {
	c := candidate("sensor.unrelated", "sensor", "", "")
	ce := fakeCrossEncoder{scores: map[string]float64{describe(c): 0.0}}

	r := New(ce, nil, testRanking())
	out, err := r.Rerank(context.Background(), []retrieve.Candidate{c}, "mi van", analyzer.ConversationContext{
		AreasMentioned: map[string]bool{}, DomainsMentioned: map[string]bool{}, DeviceClassesMentioned: map[string]bool{}, PreviousEntities: map[string]bool{},
	}, scope.Macro, 10)
	require.NoError(t, err)
	require.Empty(t, out.Primary)
	require.Empty(t, out.Related)
}

func TestRerank_HasActiveValueUsesStateCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"21.5"}`))
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	valCache := cache.New[state.Value](client, "state", time.Minute)
	sc := state.New(config.LiveStateConfig{BaseURL: srv.URL}, valCache)

	c := candidate("sensor.nappali_homerseklet", "sensor", "temperature", "nappali")
	ce := fakeCrossEncoder{scores: map[string]float64{describe(c): 0.5}}

	r := New(ce, sc, testRanking())
	out, err := r.Rerank(context.Background(), []retrieve.Candidate{c}, "hány fok van", analyzer.ConversationContext{
		AreasMentioned: map[string]bool{"nappali": true}, DomainsMentioned: map[string]bool{}, DeviceClassesMentioned: map[string]bool{}, PreviousEntities: map[string]bool{},
	}, scope.Macro, 10)
	require.NoError(t, err)
	require.Len(t, out.Primary, 1)
	require.True(t, out.Primary[0].HasActiveValue)
	require.Equal(t, "21.5", out.Primary[0].CurrentValue)
	require.Equal(t, 2.0, out.Primary[0].RankingFactors["has_active_value"])
}

func TestDescribe_JoinsFieldsWithPipe(t *testing.T) {
	c := candidate("sensor.x", "sensor", "temperature", "nappali")
	got := describe(c)
	require.Contains(t, got, "sensor.x")
	require.Contains(t, got, "terület: nappali")
	require.Contains(t, got, "sensor temperature")
}

func TestTargetCount_PerScope(t *testing.T) {
	require.Equal(t, 8, targetCount(scope.Micro, 20, 100))
	require.Equal(t, 10, targetCount(scope.Macro, 10, 100))
	require.Equal(t, 18, targetCount(scope.Overview, 10, 100))
	require.Equal(t, 3, targetCount(scope.Micro, 20, 3)) // capped by N
}

func TestSplit_CapsPrimaryCount(t *testing.T) {
	filtered := make([]Ranked, 0, 20)
	for i := 0; i < 20; i++ {
		filtered = append(filtered, Ranked{EntityID: "e", FinalScore: 1.0 - float64(i)*0.01})
	}
	primary, related := split(filtered)
	require.LessOrEqual(t, len(primary), 6)
	require.Equal(t, len(filtered), len(primary)+len(related))
}
