package membership

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/broker/pkg/sharedstore"
)

func newStore(t *testing.T, nodeID, addr string) *sharedstore.Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	store, err := sharedstore.New(sharedstore.Config{NodeID: nodeID, Client: client})
	require.NoError(t, err)
	return store
}

func TestTrackerBeatRegistersNodeInActiveSet(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newStore(t, "node-a", mr.Addr())
	tracker := New(store, Config{TickInterval: 50 * time.Millisecond, NodeTTL: time.Second})

	require.NoError(t, tracker.beat(context.Background()))

	members, err := store.SMembers(context.Background(), store.NodesActiveKey())
	require.NoError(t, err)
	require.Contains(t, members, "node-a")
}

func TestTrackerDetectsPeerJoinAndLeave(t *testing.T) {
	mr := miniredis.RunT(t)
	storeA := newStore(t, "node-a", mr.Addr())
	storeB := newStore(t, "node-b", mr.Addr())

	var mu sync.Mutex
	joined := make([]string, 0)
	left := make([]string, 0)

	tracker := New(storeA, Config{
		TickInterval: 20 * time.Millisecond,
		NodeTTL:      200 * time.Millisecond,
		OnJoined: func(id string) {
			mu.Lock()
			joined = append(joined, id)
			mu.Unlock()
		},
		OnLeft: func(id string) {
			mu.Lock()
			left = append(left, id)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tracker.Start(ctx))
	require.NoError(t, storeB.SAdd(context.Background(), storeB.NodesActiveKey(), "node-b"))
	require.NoError(t, storeB.SetEx(context.Background(), storeB.NodeKey("node-b"), []byte("1"), 200*time.Millisecond))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joined) == 1 && joined[0] == "node-b"
	}, 2*time.Second, 10*time.Millisecond)

	mr.FastForward(300 * time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(left) == 1 && left[0] == "node-b"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrackerStopRemovesSelfFromActiveSet(t *testing.T) {
	mr := miniredis.RunT(t)
	store := newStore(t, "node-a", mr.Addr())
	tracker := New(store, Config{TickInterval: 20 * time.Millisecond, NodeTTL: time.Second})

	ctx := context.Background()
	require.NoError(t, tracker.Start(ctx))
	tracker.Stop()

	members, err := store.SMembers(context.Background(), store.NodesActiveKey())
	require.NoError(t, err)
	require.NotContains(t, members, "node-a")
}
