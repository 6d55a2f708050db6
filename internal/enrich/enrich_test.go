package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lopeti/ha-rag-bridge/internal/cache"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/llm"
	"github.com/lopeti/ha-rag-bridge/internal/memory"
)

type fakeGateway struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int32
	block chan struct{}
}

func (f *fakeGateway) Chat(ctx context.Context, msgs []llm.Message, internalCall bool) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply, f.err
}

func newTestMemory(t *testing.T) *memory.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	memCache := cache.New[memory.ConversationMemory](client, "convmem", time.Hour)
	summaryCache := cache.New[memory.EnrichedContext](client, "convsummary", 15*time.Minute)
	return memory.New(memCache, summaryCache)
}

func TestEnricher_SuccessfulReplyStoresSummary(t *testing.T) {
	gw := &fakeGateway{reply: `{"detected_domains":["light"],"mentioned_areas":["konyha"],"confidence":0.9}`}
	mem := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(ctx, gw, mem, config.MemoryConfig{EnrichmentDeadline: time.Second})
	e.process(Task{Session: "sess-1", Query: "hány fok van a konyhában"})

	got, ok := mem.GetSummary(context.Background(), "sess-1")
	require.True(t, ok)
	require.Equal(t, []string{"light"}, got.DetectedDomains)
	require.Equal(t, 0.9, got.Confidence)
}

func TestEnricher_GatewayErrorFallsBackToQuickContext(t *testing.T) {
	gw := &fakeGateway{err: llm.ErrNoGateway}
	mem := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(ctx, gw, mem, config.MemoryConfig{EnrichmentDeadline: 50 * time.Millisecond})
	e.process(Task{
		Session: "sess-2",
		Quick:   QuickContext{DetectedDomains: []string{"sensor"}, DetectedAreas: []string{"nappali"}},
	})

	got, ok := mem.GetSummary(context.Background(), "sess-2")
	require.True(t, ok)
	require.Equal(t, 0.3, got.Confidence)
	require.Equal(t, []string{"sensor"}, got.DetectedDomains)
	require.Equal(t, []string{"nappali"}, got.MentionedAreas)
}

func TestEnricher_MalformedReplyFallsBack(t *testing.T) {
	gw := &fakeGateway{reply: "not json at all"}
	mem := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(ctx, gw, mem, config.MemoryConfig{EnrichmentDeadline: 50 * time.Millisecond})
	e.process(Task{Session: "sess-3"})

	got, ok := mem.GetSummary(context.Background(), "sess-3")
	require.True(t, ok)
	require.Equal(t, 0.3, got.Confidence)
}

func TestEnricher_EnqueueCoalescesInFlightSession(t *testing.T) {
	gw := &fakeGateway{reply: `{"confidence":0.5}`, block: make(chan struct{})}
	mem := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := New(ctx, gw, mem, config.MemoryConfig{EnrichmentDeadline: time.Second, EnrichmentQueueSize: 4})

	e.Enqueue(Task{Session: "sess-4"})
	time.Sleep(20 * time.Millisecond) // let the worker pick it up and block inside Chat
	e.Enqueue(Task{Session: "sess-4"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&gw.calls) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)

	close(gw.block)
}

func TestParseReply_ExtractsJSONObjectIgnoringSurroundingText(t *testing.T) {
	ec, err := parseReply("here you go: {\"confidence\":0.42,\"semantic_context\":\"ok\"} thanks")
	require.NoError(t, err)
	require.Equal(t, 0.42, ec.Confidence)
	require.Equal(t, "ok", ec.SemanticContext)
}

func TestParseReply_NoObjectReturnsError(t *testing.T) {
	_, err := parseReply("no json here")
	require.Error(t, err)
}

func TestQuickPatternAnalyzer_DetectsDomainAreaAndControl(t *testing.T) {
	qa := NewQuickPatternAnalyzer(nil)
	qc := qa.Analyze(context.Background(), "kapcsold fel a lámpát a konyhában")

	require.Contains(t, qc.DetectedAreas, "konyha")
	require.Contains(t, qc.DetectedDomains, "light")
	require.Equal(t, QueryControl, qc.QueryType)
	require.Equal(t, LanguageHungarian, qc.Language)
}

func TestQuickPatternAnalyzer_UnknownQueryFallsBack(t *testing.T) {
	qa := NewQuickPatternAnalyzer(nil)
	qc := qa.Analyze(context.Background(), "xyz")
	require.Equal(t, QueryUnknown, qc.QueryType)
}
