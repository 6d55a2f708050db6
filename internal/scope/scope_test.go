package scope

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/config"
)

func testCfg() config.ScopeConfig {
	return config.ScopeConfig{
		Micro:    config.ScopeProfile{Threshold: 0.75, KMin: 5, KMax: 10},
		Macro:    config.ScopeProfile{Threshold: 0.7, KMin: 15, KMax: 30},
		Overview: config.ScopeProfile{Threshold: 0.65, KMin: 30, KMax: 50},
	}
}

func TestDetect_ControlWithQuantity_Rule1(t *testing.T) {
	r := Detect(testCfg(), "kapcsold fel az összes lámpát a konyhában", analyzer.ConversationContext{
		Intent:         analyzer.IntentControl,
		AreasMentioned: map[string]bool{"konyha": true},
	})
	require.Equal(t, Macro, r.Scope)
	require.Equal(t, 25, r.K)
}

func TestDetect_ControlWithArea_Rule2(t *testing.T) {
	r := Detect(testCfg(), "kapcsold fel a konyhai lámpát", analyzer.ConversationContext{
		Intent:         analyzer.IntentControl,
		AreasMentioned: map[string]bool{"konyha": true},
	})
	require.Equal(t, Micro, r.Scope)
	require.Equal(t, 8, r.K)
}

func TestDetect_ControlAlone_Rule3(t *testing.T) {
	r := Detect(testCfg(), "kapcsold fel a lámpát", analyzer.ConversationContext{
		Intent: analyzer.IntentControl,
	})
	require.Equal(t, Micro, r.Scope)
	require.Equal(t, 20, r.K)
}

func TestDetect_TemperatureSingleArea_Rule4(t *testing.T) {
	r := Detect(testCfg(), "hány fok van a nappaliban?", analyzer.ConversationContext{
		Intent:         analyzer.IntentRead,
		AreasMentioned: map[string]bool{"nappali": true},
	})
	require.Equal(t, Macro, r.Scope)
	require.Equal(t, 22, r.K)
	require.Equal(t, HintClimateClusterPriority, r.FormatterHint)
}

func TestDetect_SingleArea_Rule5(t *testing.T) {
	r := Detect(testCfg(), "mi van a kertben?", analyzer.ConversationContext{
		Intent:         analyzer.IntentRead,
		AreasMentioned: map[string]bool{"kert": true},
	})
	require.Equal(t, Macro, r.Scope)
	require.Equal(t, 22, r.K)
}

func TestDetect_QuantityQueryNoModifier_Rule6(t *testing.T) {
	r := Detect(testCfg(), "mennyi az energiafogyasztás?", analyzer.ConversationContext{
		Intent: analyzer.IntentRead,
	})
	require.Equal(t, Micro, r.Scope)
	require.Equal(t, 20, r.K)
}

func TestDetect_HouseWideWords_Rule7(t *testing.T) {
	r := Detect(testCfg(), "mi a helyzet otthon?", analyzer.ConversationContext{
		Intent: analyzer.IntentRead,
	})
	require.Equal(t, Overview, r.Scope)
	require.Equal(t, 45, r.K)
}

func TestDetect_MultipleAreas_Rule7(t *testing.T) {
	r := Detect(testCfg(), "mi a helyzet?", analyzer.ConversationContext{
		Intent:         analyzer.IntentRead,
		AreasMentioned: map[string]bool{"nappali": true, "konyha": true},
	})
	require.Equal(t, Overview, r.Scope)
}

func TestDetect_GlobalQuantifier_Rule8(t *testing.T) {
	r := Detect(testCfg(), "kapcsold le az összeset", analyzer.ConversationContext{
		Intent: analyzer.IntentRead,
	})
	require.Equal(t, Overview, r.Scope)
	require.Equal(t, 45, r.K)
}

func TestDetect_ShortQueryFallback_Rule9(t *testing.T) {
	r := Detect(testCfg(), "aha", analyzer.ConversationContext{Intent: analyzer.IntentRead})
	require.Equal(t, Micro, r.Scope)
	require.Equal(t, 8, r.K)
}

func TestDetect_LongQueryFallback_Rule9(t *testing.T) {
	r := Detect(testCfg(), "mondd el kérlek hogy pontosan milyen eszközök vannak bekapcsolva most", analyzer.ConversationContext{Intent: analyzer.IntentRead})
	require.Equal(t, Overview, r.Scope)
	require.Equal(t, 35, r.K)
}

func TestDetect_MediumQueryFallback_Rule9(t *testing.T) {
	r := Detect(testCfg(), "mi történt az éjjel", analyzer.ConversationContext{Intent: analyzer.IntentRead})
	require.Equal(t, Macro, r.Scope)
	require.Equal(t, 18, r.K)
}

func TestFallback_SatisfiesInvariant8(t *testing.T) {
	r := Fallback("empty query")
	require.Equal(t, Macro, r.Scope)
	require.LessOrEqual(t, r.K, 15)
	require.LessOrEqual(t, r.Confidence, 0.3)
}

func TestIsBadInput(t *testing.T) {
	require.True(t, IsBadInput(""))
	require.True(t, IsBadInput("   "))
	require.True(t, IsBadInput("12345 67890"))
	require.True(t, IsBadInput("ab"))
	require.True(t, IsBadInput("qwerty 12345"), "known garbage token must route to fallback")
	require.False(t, IsBadInput("hány fok van"))
}

func TestThreshold_ReturnsProfileThreshold(t *testing.T) {
	cfg := testCfg()
	require.Equal(t, 0.75, Threshold(cfg, Micro))
	require.Equal(t, 0.7, Threshold(cfg, Macro))
	require.Equal(t, 0.65, Threshold(cfg, Overview))
}
