package retained

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/sharedstore"
)

func newSharedStores(t *testing.T) (*Shared, *Shared) {
	t.Helper()
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mkStore := func(nodeID string) *sharedstore.Store {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		st, err := sharedstore.New(sharedstore.Config{NodeID: nodeID, Client: client})
		require.NoError(t, err)
		return st
	}

	a := NewShared(ctx, mkStore("node-a"))
	b := NewShared(ctx, mkStore("node-b"))
	return a, b
}

func TestLocalStoreAndGet(t *testing.T) {
	store := NewLocal()
	ctx := context.Background()

	require.NoError(t, store.StoreMessage(ctx, "lamp/1", []byte("on"), packet.QoS0, 100))

	msg, err := store.Get(ctx, "lamp/1")
	require.NoError(t, err)
	require.Equal(t, []byte("on"), msg.Payload)
}

func TestLocalEmptyPayloadDeletes(t *testing.T) {
	store := NewLocal()
	ctx := context.Background()

	require.NoError(t, store.StoreMessage(ctx, "lamp/1", []byte("on"), packet.QoS0, 100))
	require.NoError(t, store.StoreMessage(ctx, "lamp/1", nil, packet.QoS0, 101))

	msg, err := store.Get(ctx, "lamp/1")
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestLocalGetMatchingWildcard(t *testing.T) {
	store := NewLocal()
	ctx := context.Background()

	require.NoError(t, store.StoreMessage(ctx, "lamp/1", []byte("on"), packet.QoS0, 1))
	require.NoError(t, store.StoreMessage(ctx, "lamp/2", []byte("off"), packet.QoS0, 2))
	require.NoError(t, store.StoreMessage(ctx, "fan/1", []byte("on"), packet.QoS0, 3))

	matches, err := store.GetMatching(ctx, "lamp/#")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestSharedStoreAndGet(t *testing.T) {
	a, _ := newSharedStores(t)
	ctx := context.Background()

	require.NoError(t, a.StoreMessage(ctx, "lamp/1", []byte("on"), packet.QoS0, 100))

	msg, err := a.Get(ctx, "lamp/1")
	require.NoError(t, err)
	require.Equal(t, []byte("on"), msg.Payload)
}

func TestSharedEmptyPayloadDeletes(t *testing.T) {
	a, _ := newSharedStores(t)
	ctx := context.Background()

	require.NoError(t, a.StoreMessage(ctx, "lamp/1", []byte("on"), packet.QoS0, 1))
	require.NoError(t, a.StoreMessage(ctx, "lamp/1", nil, packet.QoS0, 2))

	msg, err := a.Get(ctx, "lamp/1")
	require.NoError(t, err)
	require.Nil(t, msg)
}

func TestSharedGetMatchingWildcard(t *testing.T) {
	a, _ := newSharedStores(t)
	ctx := context.Background()

	require.NoError(t, a.StoreMessage(ctx, "lamp/1", []byte("on"), packet.QoS0, 1))
	require.NoError(t, a.StoreMessage(ctx, "lamp/2", []byte("off"), packet.QoS0, 2))
	require.NoError(t, a.StoreMessage(ctx, "fan/1", []byte("on"), packet.QoS0, 3))

	matches, err := a.GetMatching(ctx, "lamp/#")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestSharedPeerCacheInvalidation(t *testing.T) {
	a, b := newSharedStores(t)
	ctx := context.Background()

	require.NoError(t, a.StoreMessage(ctx, "lamp/1", []byte("on"), packet.QoS0, 1))

	// b populates its cache by reading through.
	msg, err := b.Get(ctx, "lamp/1")
	require.NoError(t, err)
	require.Equal(t, []byte("on"), msg.Payload)

	// a updates the topic; b's cache must be invalidated via the sync channel.
	require.NoError(t, a.StoreMessage(ctx, "lamp/1", []byte("off"), packet.QoS0, 2))

	require.Eventually(t, func() bool {
		b.cacheMu.RLock()
		_, cached := b.cache["lamp/1"]
		b.cacheMu.RUnlock()
		return !cached
	}, time.Second, 5*time.Millisecond)

	msg, err = b.Get(ctx, "lamp/1")
	require.NoError(t, err)
	require.Equal(t, []byte("off"), msg.Payload)
}
