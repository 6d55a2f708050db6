package rewriter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/llm"
)

type fakeGateway struct {
	reply string
	err   error
}

func (f fakeGateway) Chat(ctx context.Context, msgs []llm.Message, internalCall bool) (string, error) {
	return f.reply, f.err
}

func TestRewrite_EmptyHistoryNoRewrite(t *testing.T) {
	r := New(nil, config.LLMGatewayConfig{}, nil)
	res := r.Rewrite(context.Background(), "hány fok van?", nil, "")

	require.Equal(t, res.Original, res.Rewritten)
	require.Equal(t, MethodNoRewriteNeeded, res.Method)
	require.Equal(t, 1.0, res.Confidence)
}

func TestRewrite_NotTriggeredLongStandaloneQuestion(t *testing.T) {
	r := New(nil, config.LLMGatewayConfig{}, nil)
	history := []Message{{Role: "user", Content: "Mi a helyzet a nappaliban?"}}
	res := r.Rewrite(context.Background(), "Milyen most az idő odakint a kertben pontosan?", history, "")

	require.Equal(t, MethodNoRewriteNeeded, res.Method)
	require.Equal(t, res.Original, res.Rewritten)
}

func TestRewrite_RuleBasedEsAPattern(t *testing.T) {
	r := New(nil, config.LLMGatewayConfig{}, nil)
	history := []Message{{Role: "user", Content: "Hány fok van a nappaliban?"}}
	res := r.Rewrite(context.Background(), "és a konyhában?", history, "")

	require.Equal(t, MethodRuleBased, res.Method)
	require.Equal(t, 0.6, res.Confidence)
	require.Contains(t, res.Rewritten, "konyha")
	require.NotEmpty(t, res.CoreferencesResolved)
}

func TestRewrite_RuleBasedOttPronoun(t *testing.T) {
	r := New(nil, config.LLMGatewayConfig{}, nil)
	history := []Message{{Role: "user", Content: "Kapcsold fel a lámpát a hálóban"}}
	res := r.Rewrite(context.Background(), "ott is?", history, "")

	require.Equal(t, MethodRuleBased, res.Method)
	require.Equal(t, "Kapcsold fel a lámpát a hálóban", res.Rewritten)
}

func TestRewrite_LLMPathUsesGatewayAndCleansReply(t *testing.T) {
	gw := fakeGateway{reply: `"Hány fok van a konyhában?"`}
	r := New(gw, config.LLMGatewayConfig{RewriteTimeout: time.Second}, nil)
	history := []Message{{Role: "user", Content: "Hány fok van a nappaliban?"}}
	res := r.Rewrite(context.Background(), "és a konyhában?", history, "read")

	require.Equal(t, MethodLLM, res.Method)
	require.Equal(t, 0.85, res.Confidence)
	require.Equal(t, "Hány fok van a konyhában?", res.Rewritten)
	require.Equal(t, "read", res.IntentInherited)
}

func TestRewrite_LLMErrorFallsBackToRuleBased(t *testing.T) {
	gw := fakeGateway{err: errors.New("timeout")}
	r := New(gw, config.LLMGatewayConfig{RewriteTimeout: time.Second}, nil)
	history := []Message{{Role: "user", Content: "Hány fok van a nappaliban?"}}
	res := r.Rewrite(context.Background(), "és a konyhában?", history, "")

	require.Equal(t, MethodRuleBased, res.Method)
}

func TestRewrite_NoPatternMatchesReturnsError(t *testing.T) {
	r := New(nil, config.LLMGatewayConfig{}, nil)
	history := []Message{{Role: "assistant", Content: "Rendben."}}
	res := r.Rewrite(context.Background(), "aha", history, "")

	require.Equal(t, MethodError, res.Method)
	require.Equal(t, 0.0, res.Confidence)
	require.Equal(t, res.Original, res.Rewritten)
}
