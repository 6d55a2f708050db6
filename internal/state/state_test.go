package state

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
)

func newTestValueCache(t *testing.T) *cache.TTLCache[Value] {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return cache.New[Value](client, "state", time.Minute)
}

func TestGet_FetchesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"state":"21.5","attributes":{"unit":"C"}}`))
	}))
	defer srv.Close()

	c := New(config.LiveStateConfig{BaseURL: srv.URL}, newTestValueCache(t))

	v1, ok := c.Get(context.Background(), "sensor.nappali_homerseklet")
	require.True(t, ok)
	require.Equal(t, "21.5", v1.State)

	v2, ok := c.Get(context.Background(), "sensor.nappali_homerseklet")
	require.True(t, ok)
	require.Equal(t, "21.5", v2.State)
	require.Equal(t, 1, calls) // second Get served from cache
}

func TestGet_NotFoundReturnsNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(config.LiveStateConfig{BaseURL: srv.URL}, newTestValueCache(t))

	_, ok := c.Get(context.Background(), "sensor.missing")
	require.False(t, ok)
}

func TestGet_NoBackendConfiguredReturnsNotOK(t *testing.T) {
	c := New(config.LiveStateConfig{}, newTestValueCache(t))
	_, ok := c.Get(context.Background(), "sensor.x")
	require.False(t, ok)
}

func TestFreshGet_BypassesCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"state":"on"}`))
	}))
	defer srv.Close()

	c := New(config.LiveStateConfig{BaseURL: srv.URL}, newTestValueCache(t))

	_, _ = c.FreshGet(context.Background(), "light.konyha")
	_, _ = c.FreshGet(context.Background(), "light.konyha")
	require.Equal(t, 2, calls)
}
