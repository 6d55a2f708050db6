package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/cluster"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/crossencoder"
	"github.com/lopeti/ha-rag-bridge/internal/diagnostics"
	"github.com/lopeti/ha-rag-bridge/internal/embedding"
	"github.com/lopeti/ha-rag-bridge/internal/enrich"
	"github.com/lopeti/ha-rag-bridge/internal/format"
	"github.com/lopeti/ha-rag-bridge/internal/llm"
	"github.com/lopeti/ha-rag-bridge/internal/patterns"
	"github.com/lopeti/ha-rag-bridge/internal/rerank"
	"github.com/lopeti/ha-rag-bridge/internal/retrieve"
	"github.com/lopeti/ha-rag-bridge/internal/rewriter"
	"github.com/lopeti/ha-rag-bridge/internal/store"
	"github.com/lopeti/ha-rag-bridge/internal/workflow"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Dimension() int { return 4 }
func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}
func (fakeEmbedder) EmbedDocs(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

type noMemberships struct{}

func (noMemberships) MembersOf(ctx context.Context, clusterKeys []string) ([]cluster.Membership, error) {
	return nil, nil
}

type alwaysHalfScore struct{}

func (alwaysHalfScore) Predict(ctx context.Context, pairs []crossencoder.Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	for i := range out {
		out[i] = 0.5
	}
	return out, nil
}

func testServer(t *testing.T) (*Server, embedding.Embedder) {
	t.Helper()
	ctx := context.Background()
	mgr, err := store.NewManager(ctx, config.DBConfig{Backend: "memory"})
	require.NoError(t, err)
	require.NoError(t, mgr.Vector.Upsert(ctx, "light.nappali", []float32{1, 0, 0, 0}, map[string]string{
		retrieve.MetaDomain: "light", retrieve.MetaArea: "nappali", retrieve.MetaFriendlyName: "Nappali lámpa",
	}))

	aliases := patterns.NewAliasTable(nil, config.CacheConfig{})
	an := analyzer.New(aliases)
	rw := rewriter.New(llm.New(config.LLMGatewayConfig{Backend: "none"}), config.LLMGatewayConfig{}, aliases)
	idx := cluster.New(mgr.Vector, noMemberships{})
	retriever := retrieve.New(mgr, idx)
	rr := rerank.New(alwaysHalfScore{}, nil, config.RankingConfig{
		AreaBoostHouse: 1.2, AreaBoostSpecific: 2.0, FollowUpMultiplier: 1.5,
		DomainBoost: 1.5, DeviceClassBoost: 2.0, PreviousMentionBoost: 0.3,
		ControllableBoost: 0.2, ReadableBoost: 0.1, ActiveValueBoost: 2.0,
		UnavailablePenalty: -0.5, MinFinalScore: 0.0,
	})
	fmtr := format.New(nil, mgr.Graph, mgr.Search, mgr.Vector, aliases)
	scopeCfg := config.ScopeConfig{
		Micro:    config.ScopeProfile{Threshold: 0.7, KMin: 4, KMax: 8},
		Macro:    config.ScopeProfile{Threshold: 0.6, KMin: 10, KMax: 25},
		Overview: config.ScopeProfile{Threshold: 0.5, KMin: 20, KMax: 45},
	}
	rec := diagnostics.New(10)
	quick := enrich.NewQuickPatternAnalyzer(aliases)
	eng := workflow.New(an, rw, scopeCfg, fakeEmbedder{}, idx, retriever, rr, fmtr, nil, nil, rec, quick)
	return NewServer(eng, rec, fakeEmbedder{}, 4), fakeEmbedder{}
}

func TestHandleProcessRequest_ReturnsFormattedSystemMessage(t *testing.T) {
	srv, _ := testServer(t)

	body, err := json.Marshal(processRequestBody{UserMessage: "kapcsold fel a nappali lámpát"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/process-request", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp processRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Messages)
	require.Equal(t, "system", resp.Messages[0].Role)
}

func TestHandleProcessRequestWorkflow_PopulatesMetadata(t *testing.T) {
	srv, _ := testServer(t)

	body, err := json.Marshal(processRequestBody{UserMessage: "mi van a nappaliban", SessionID: "s1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/process-request-workflow", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp processRequestWorkflowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, len(resp.RelevantEntities), resp.Metadata.EntityCount)
}

func TestHandleProcessResponse_RejectsMissingToolCalls(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/process-response", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "error", resp.Status)
}

func TestHandleProcessResponse_AcceptsToolCalls(t *testing.T) {
	srv, _ := testServer(t)

	payload := processResponseBody{ToolCalls: []toolCall{{Function: toolCallFunction{Name: "light.turn_on", Arguments: `{"entity_id":"light.nappali"}`}}}}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/process-response", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestHandleProcessConversation_DirectQuery(t *testing.T) {
	srv, _ := testServer(t)

	body, err := json.Marshal("kapcsold fel a lámpát")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/process-conversation?debug=1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp processConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotNil(t, resp.Debug)
	require.NotEmpty(t, resp.Debug.TraceID)
}

func TestHandleProcessConversation_MetaTaskFormat(t *testing.T) {
	srv, _ := testServer(t)

	raw := "### Task:\nclassify\n### Chat History: <chat_history>USER: hello there\nASSISTANT: hi\nUSER: kapcsold fel a lámpát</chat_history>"
	body, err := json.Marshal(raw)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/process-conversation", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp processConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, 3, resp.MessageCount)
}

func TestHandleProcessConversation_InvalidBodyReturnsError(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/process-conversation", bytes.NewReader([]byte(`{"messages":[]}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp processConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotEmpty(t, resp.Error)
}

func TestHandleHealth_OKWhenDimensionsMatch(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealth_FailsOnDimensionMismatch(t *testing.T) {
	srv, _ := testServer(t)
	srv.expectedDim = 99

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
