package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archestra-ai/gateway/pkg/collab"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func strPtr(s string) *string { return &s }

func TestSessionStore_RoundTrip(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	store := NewSessionStore(rdb, time.Minute)
	ctx := context.Background()

	got, err := store.GetMcpHttpSession(ctx, "conn-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.PutMcpHttpSession(ctx, &collab.McpHttpSession{
		ConnectionKey: "conn-1", SessionID: "sess-1", UpdatedAt: time.Now(),
	}))

	got, err = store.GetMcpHttpSession(ctx, "conn-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess-1", got.SessionID)

	require.NoError(t, store.DeleteMcpHttpSession(ctx, "conn-1"))
	got, err = store.GetMcpHttpSession(ctx, "conn-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_DisassociateSessionsForProcess(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	store := NewSessionStore(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.PutMcpHttpSession(ctx, &collab.McpHttpSession{
		ConnectionKey: "conn-1", SessionID: "sess-1", SessionEndpointPodName: strPtr("instance-a"),
	}))
	require.NoError(t, store.PutMcpHttpSession(ctx, &collab.McpHttpSession{
		ConnectionKey: "conn-2", SessionID: "sess-2", SessionEndpointPodName: strPtr("instance-b"),
	}))

	require.NoError(t, store.DisassociateSessionsForProcess(ctx, "instance-a"))

	s1, err := store.GetMcpHttpSession(ctx, "conn-1")
	require.NoError(t, err)
	assert.Nil(t, s1.SessionEndpointPodName)

	s2, err := store.GetMcpHttpSession(ctx, "conn-2")
	require.NoError(t, err)
	assert.NotNil(t, s2.SessionEndpointPodName)
}

func TestCounterStore_IncrementAndRead(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	store := NewCounterStore(rdb)
	ctx := context.Background()

	require.NoError(t, store.IncrementModelCounter(ctx, "lim-1", "gpt-4o", 100, 200))
	require.NoError(t, store.IncrementModelCounter(ctx, "lim-1", "gpt-4o", 50, 25))

	c, err := store.GetOrCreateModelCounter(ctx, "lim-1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(150), c.CurrentUsageTokensIn)
	assert.Equal(t, int64(225), c.CurrentUsageTokensOut)

	other, err := store.GetOrCreateModelCounter(ctx, "lim-1", "claude-3-5-sonnet")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.CurrentUsageTokensIn)
}

func TestCounterStore_ConcurrentIncrements(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	store := NewCounterStore(rdb)
	ctx := context.Background()

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_ = store.IncrementModelCounter(ctx, "lim-concurrent", "gpt-4o", 1, 2)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	c, err := store.GetOrCreateModelCounter(ctx, "lim-concurrent", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(n), c.CurrentUsageTokensIn)
	assert.Equal(t, int64(2*n), c.CurrentUsageTokensOut)
}

func TestCounterStore_ResetLimitCounters(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	store := NewCounterStore(rdb)
	ctx := context.Background()

	require.NoError(t, store.IncrementModelCounter(ctx, "lim-1", "gpt-4o", 100, 200))
	require.NoError(t, store.ResetLimitCounters(ctx, "lim-1"))

	c, err := store.GetOrCreateModelCounter(ctx, "lim-1", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.CurrentUsageTokensIn)
	assert.Equal(t, int64(0), c.CurrentUsageTokensOut)
}
