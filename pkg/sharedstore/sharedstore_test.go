package sharedstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, nodeID string) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store, err := New(Config{NodeID: nodeID, Client: client})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKeyLayout(t *testing.T) {
	store := newTestStore(t, "node-1")

	require.Equal(t, "dynamq:session:c1", store.SessionKey("c1"))
	require.Equal(t, "dynamq:connection:c1", store.ConnectionKey("c1"))
	require.Equal(t, "dynamq:subscriptions:c1", store.SubscriptionsKey("c1"))
	require.Equal(t, "dynamq:retain:a/b", store.RetainKey("a/b"))
	require.Equal(t, "dynamq:node:node-1", store.NodeKey("node-1"))
	require.Equal(t, "dynamq:node:metrics:node-1", store.NodeMetricsKey("node-1"))
	require.Equal(t, "dynamq:nodes:active", store.NodesActiveKey())
	require.Equal(t, "dynamq:node:node-1", NodeChannel("node-1"))
}

func TestSetGetDel(t *testing.T) {
	store := newTestStore(t, "node-1")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)

	require.NoError(t, store.Del(ctx, "k"))
	_, err = store.Get(ctx, "k")
	require.ErrorIs(t, err, redis.Nil)
}

func TestSetExpires(t *testing.T) {
	store := newTestStore(t, "node-1")
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "k", []byte("v"), 50*time.Millisecond))
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	ttl, err := store.Client().PTTL(ctx, "k").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestSetNXOnlySucceedsOnce(t *testing.T) {
	store := newTestStore(t, "node-1")
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "k", []byte("first"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.SetNX(ctx, "k", []byte("second"))
	require.NoError(t, err)
	require.False(t, ok)

	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), val)
}

func TestSetMembership(t *testing.T) {
	store := newTestStore(t, "node-1")
	ctx := context.Background()

	require.NoError(t, store.SAdd(ctx, "s", "a", "b"))
	members, err := store.SMembers(ctx, "s")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, store.SRem(ctx, "s", "a"))
	members, err = store.SMembers(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, members)
}

func TestMGetSkipsMissingKeys(t *testing.T) {
	store := newTestStore(t, "node-1")
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1")))
	require.NoError(t, store.Set(ctx, "b", []byte("2")))

	got, err := store.MGet(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
}

func TestPublishListen(t *testing.T) {
	store := newTestStore(t, "node-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	store.Listen(ctx, "chan", func(payload []byte) {
		received <- payload
	})

	// Allow the subscription to establish before publishing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Publish(ctx, "chan", []byte("hello")))

	select {
	case got := <-received:
		require.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}
