package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

type scopedState struct {
	EntityIDs []string `json:"entity_ids"`
}

func TestTTLCache_SetGetRoundTrip(t *testing.T) {
	c := New[scopedState](newTestClient(t), "state", time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "sess-1")
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "sess-1", scopedState{EntityIDs: []string{"sensor.nappali_homerseklet"}}))

	got, ok := c.Get(ctx, "sess-1")
	require.True(t, ok)
	require.Equal(t, []string{"sensor.nappali_homerseklet"}, got.EntityIDs)
}

func TestTTLCache_Delete(t *testing.T) {
	c := New[scopedState](newTestClient(t), "state", time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "sess-1", scopedState{EntityIDs: []string{"light.konyha"}}))
	require.NoError(t, c.Delete(ctx, "sess-1"))

	_, ok := c.Get(ctx, "sess-1")
	require.False(t, ok)
}

func TestTTLCache_Keys(t *testing.T) {
	c := New[scopedState](newTestClient(t), "conv", time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "sess-1", scopedState{}))
	require.NoError(t, c.Set(ctx, "sess-2", scopedState{}))

	ids, err := c.Keys(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"sess-1", "sess-2"}, ids)
}

func TestTTLCache_NilSafe(t *testing.T) {
	var c *TTLCache[scopedState]
	ctx := context.Background()

	_, ok := c.Get(ctx, "x")
	require.False(t, ok)
	require.NoError(t, c.Set(ctx, "x", scopedState{}))
	require.NoError(t, c.Delete(ctx, "x"))
}
