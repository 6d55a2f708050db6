// Package state implements C2: a TTL cache over current entity values read
// from the live datastore, used by the reranker (C12, has_active_value) and
// the prompt formatter (C13, fresh sensor readings), grounded on
// internal/embedding's HTTP adapter shape and internal/cache's TTLCache.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lopeti/ha-rag-bridge/internal/cache"
	"github.com/lopeti/ha-rag-bridge/internal/config"
)

// Value is a live entity reading, cached under entity_id.
type Value struct {
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Cache wraps a live-state HTTP fetch in a TTL cache; a miss or a backend
// error degrades to "no current value" rather than failing the caller, the
// way the reranker's unavailable_penalty factor expects.
type Cache struct {
	cfg    config.LiveStateConfig
	client *http.Client
	ttl    *cache.TTLCache[Value]
}

func New(cfg config.LiveStateConfig, ttl *cache.TTLCache[Value]) *Cache {
	return &Cache{cfg: cfg, client: http.DefaultClient, ttl: ttl}
}

// Get returns entityID's current value, preferring the cache. ok is false
// when the value is unknown (cache miss and backend unreachable/404) —
// callers must treat that as "no current value", not an error.
func (c *Cache) Get(ctx context.Context, entityID string) (Value, bool) {
	if c.ttl != nil {
		if v, ok := c.ttl.Get(ctx, entityID); ok {
			return v, true
		}
	}
	return c.FreshGet(ctx, entityID)
}

// FreshGet always bypasses the cache, used for the formatter's primary
// entities (§4.9: fresh read for primary, cached read for historical
// context).
func (c *Cache) FreshGet(ctx context.Context, entityID string) (Value, bool) {
	v, err := c.fetch(ctx, entityID)
	if err != nil {
		return Value{}, false
	}
	if c.ttl != nil {
		_ = c.ttl.Set(ctx, entityID, v)
	}
	return v, true
}

func (c *Cache) fetch(ctx context.Context, entityID string) (Value, error) {
	if c.cfg.BaseURL == "" {
		return Value{}, fmt.Errorf("state: no live-state backend configured")
	}

	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := c.cfg.BaseURL + "/" + url.PathEscape(entityID)
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Value{}, fmt.Errorf("state: build request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Value{}, fmt.Errorf("state: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Value{}, fmt.Errorf("state: entity %s not found", entityID)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Value{}, fmt.Errorf("state: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return Value{}, fmt.Errorf("state: backend returned %s: %s", resp.Status, string(body))
	}

	var v Value
	if err := json.Unmarshal(body, &v); err != nil {
		return Value{}, fmt.Errorf("state: parse response: %w", err)
	}
	return v, nil
}
