package embedding

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

func testServer(t *testing.T, check func(r *http.Request, body []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		check(r, body)
		resp := map[string]any{"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}}}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
}

func TestEmbedQuery_UsesQueryPrefix(t *testing.T) {
	var gotBody string
	ts := testServer(t, func(r *http.Request, body []byte) {
		gotBody = string(body)
	})
	defer ts.Close()

	cfg := config.EmbeddingConfig{
		Backend:                "local",
		BaseURL:                ts.URL,
		Dimension:              2,
		Timeout:                2 * time.Second,
		QueryInstructionPrefix: "query: ",
	}
	vec, err := New(cfg).EmbedQuery(context.Background(), "hany fok van a nappaliban")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2}, vec)
	require.Contains(t, gotBody, "query: h")
}

func TestEmbedDocs_SendsOpenAIBearerAuth(t *testing.T) {
	ts := testServer(t, func(r *http.Request, body []byte) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Contains(t, string(body), "passage: nappali")
	})
	defer ts.Close()

	cfg := config.EmbeddingConfig{
		Backend:              "openai",
		BaseURL:              ts.URL,
		Dimension:            2,
		Timeout:              2 * time.Second,
		OpenAIAPIKey:         "secret",
		DocInstructionPrefix: "passage: ",
	}
	vecs, err := New(cfg).EmbedDocs(context.Background(), []string{"nappali homerseklet"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
}

func TestEmbedDocs_CountMismatchErrors(t *testing.T) {
	ts := testServer(t, func(r *http.Request, body []byte) {})
	defer ts.Close()

	cfg := config.EmbeddingConfig{Backend: "local", BaseURL: ts.URL, Dimension: 2, Timeout: 2 * time.Second}
	_, err := New(cfg).EmbedDocs(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestCheckReachability_PropagatesBackendError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	cfg := config.EmbeddingConfig{Backend: "local", BaseURL: ts.URL, Dimension: 2, Timeout: 2 * time.Second}
	err := CheckReachability(context.Background(), cfg)
	require.Error(t, err)
}
