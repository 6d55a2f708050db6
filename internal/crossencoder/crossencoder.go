// Package crossencoder implements C4: the cross-encoder adapter the
// reranker (C12) uses to score a (query, entity description) pair, with
// result caching and a token-overlap fallback, grounded on internal/embedding
// for the HTTP adapter shape and internal/cache for the TTL cache.
package crossencoder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lopeti/ha-rag-bridge/internal/cache"
	"github.com/lopeti/ha-rag-bridge/internal/config"
)

// Pair is one (query, entity description) scoring unit.
type Pair struct {
	Query string
	Doc   string
}

// CrossEncoder scores query/document pairs and normalizes them into [0, 1].
type CrossEncoder interface {
	Predict(ctx context.Context, pairs []Pair) ([]float64, error)
}

type httpCrossEncoder struct {
	cfg   config.CrossEncoderConfig
	cache *cache.TTLCache[float64]
}

// New constructs the configured cross-encoder, optionally wrapped in a TTL
// cache (cfg.EnableCaching) keyed by hash(query + doc).
func New(cfg config.CrossEncoderConfig, redisCache *cache.TTLCache[float64]) CrossEncoder {
	if cfg.ScaleFactor == 0 {
		cfg.ScaleFactor = 2.0
	}
	if cfg.Offset == 0 {
		cfg.Offset = 1.0
	}
	enc := &httpCrossEncoder{cfg: cfg}
	if cfg.EnableCaching {
		enc.cache = redisCache
	}
	return enc
}

func (e *httpCrossEncoder) Predict(ctx context.Context, pairs []Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	var uncached []int

	for i, p := range pairs {
		if e.cache != nil {
			if v, ok := e.cache.Get(ctx, cacheKey(p)); ok {
				out[i] = v
				continue
			}
		}
		uncached = append(uncached, i)
	}

	if len(uncached) == 0 {
		return out, nil
	}

	toScore := make([]Pair, len(uncached))
	for j, idx := range uncached {
		toScore[j] = pairs[idx]
	}

	raw, err := e.callModel(ctx, toScore)
	if err != nil {
		for j, idx := range uncached {
			out[idx] = tokenOverlapScore(toScore[j])
		}
		return out, nil
	}

	for j, idx := range uncached {
		normalized := normalize(raw[j], e.cfg.Offset, e.cfg.ScaleFactor)
		out[idx] = normalized
		if e.cache != nil {
			_ = e.cache.Set(ctx, cacheKey(toScore[j]), normalized)
		}
	}
	return out, nil
}

// normalize maps a raw cross-encoder logit onto [0, 1]: (raw + offset) /
// scale, clamped. Defaults offset=1.0, scale=2.0 (applied in New) assume a
// roughly ±1 raw range, matching the model this adapter was built against.
func normalize(raw, offset, scale float64) float64 {
	v := (raw + offset) / scale
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type predictRequest struct {
	Pairs [][2]string `json:"pairs"`
}

type predictResponse struct {
	Scores []float64 `json:"scores"`
}

func (e *httpCrossEncoder) callModel(ctx context.Context, pairs []Pair) ([]float64, error) {
	if e.cfg.BaseURL == "" {
		return nil, fmt.Errorf("crossencoder: no backend configured")
	}

	reqPairs := make([][2]string, len(pairs))
	for i, p := range pairs {
		reqPairs[i] = [2]string{p.Query, p.Doc}
	}
	body, err := json.Marshal(predictRequest{Pairs: reqPairs})
	if err != nil {
		return nil, fmt.Errorf("crossencoder: marshal request: %w", err)
	}

	timeout := e.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, e.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("crossencoder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crossencoder: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("crossencoder: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("crossencoder: backend returned %s: %s", resp.Status, string(respBody))
	}

	var parsed predictResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("crossencoder: parse response: %w", err)
	}
	if len(parsed.Scores) != len(pairs) {
		return nil, fmt.Errorf("crossencoder: got %d scores, wanted %d", len(parsed.Scores), len(pairs))
	}
	return parsed.Scores, nil
}

// tokenOverlapScore is the §4.7 fallback when the model backend is
// unreachable: |Q ∩ desc| / |Q|, a cheap lexical proxy for relevance.
func tokenOverlapScore(p Pair) float64 {
	queryTokens := tokenize(p.Query)
	if len(queryTokens) == 0 {
		return 0
	}
	docTokens := tokenSet(tokenize(p.Doc))

	hits := 0
	for _, t := range queryTokens {
		if docTokens[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func tokenSet(tokens []string) map[string]bool {
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[t] = true
	}
	return out
}

func cacheKey(p Pair) string {
	sum := sha256.Sum256([]byte(p.Query + "\x00" + p.Doc))
	return hex.EncodeToString(sum[:])
}
