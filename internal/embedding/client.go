// Package embedding implements C3: the pluggable embedder used to turn
// entity descriptions and conversation queries into vectors for the cluster
// index (C8) and the vector leg of hybrid retrieval (C9).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

// Embedder embeds query and document text separately because several
// sentence-transformer models (including the teacher's default,
// paraphrase-multilingual-MiniLM-L12-v2 used asymmetrically here) expect a
// different instruction prefix on each side.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocs(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// New constructs the Embedder selected by cfg.Backend.
func New(cfg config.EmbeddingConfig) Embedder {
	return &httpEmbedder{cfg: cfg}
}

type httpEmbedder struct {
	cfg config.EmbeddingConfig
}

func (e *httpEmbedder) Dimension() int { return e.cfg.Dimension }

func (e *httpEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	out, err := e.embed(ctx, []string{e.cfg.QueryInstructionPrefix + text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *httpEmbedder) EmbedDocs(ctx context.Context, texts []string) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = e.cfg.DocInstructionPrefix + t
	}
	return e.embed(ctx, prefixed)
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// embed calls the configured backend's embeddings endpoint. The three
// backends (local sentence-transformer server, OpenAI, Gemini) all speak an
// OpenAI-compatible `{model, input}` → `{data: [{embedding}]}` shape, so one
// HTTP client serves all three; only the model name, base URL, and auth
// header differ.
func (e *httpEmbedder) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}

	model, apiKey, authHeader := e.backendParams()

	body, err := json.Marshal(embedRequest{Model: model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, e.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		if authHeader == "Authorization" {
			req.Header.Set(authHeader, "Bearer "+apiKey)
		} else {
			req.Header.Set(authHeader, apiKey)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding: backend returned %s: %s", resp.Status, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: parse response: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: got %d vectors, wanted %d", len(parsed.Data), len(inputs))
	}

	out := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		out[i] = parsed.Data[i].Embedding
	}
	return out, nil
}

func (e *httpEmbedder) backendParams() (model, apiKey, authHeader string) {
	switch e.cfg.Backend {
	case "openai":
		return "text-embedding-3-small", e.cfg.OpenAIAPIKey, "Authorization"
	case "gemini":
		return "text-embedding-004", e.cfg.GeminiAPIKey, "x-goog-api-key"
	default:
		return e.cfg.SentenceTransformer, "", ""
	}
}

// CheckReachability verifies the configured embedding backend responds with
// a valid vector. The /health handler does not call it; it only compares
// the embedder's dimension against the configured one.
func CheckReachability(ctx context.Context, cfg config.EmbeddingConfig) error {
	_, err := New(cfg).EmbedQuery(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding reachability check: %w", err)
	}
	return nil
}
