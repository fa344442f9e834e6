package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/sharedstore"
)

func newSharedManager(t *testing.T, nodeID string, addr string) *Shared {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	store, err := sharedstore.New(sharedstore.Config{NodeID: nodeID, Client: client})
	require.NoError(t, err)
	return NewShared(store, nil)
}

func TestSharedCreateAndRestoreSession(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr := newSharedManager(t, "node-a", mr.Addr())
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "c1", false)
	require.NoError(t, err)
	sess.AddSubscription("a/b", packet.QoS1)
	sess.SetConnected("node-a", true)
	require.NoError(t, mgr.UpdateSession(ctx, sess))

	restored, err := mgr.GetSession(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, restored)
	require.Equal(t, map[string]packet.QoS{"a/b": packet.QoS1}, restored.Subscriptions())
}

func TestSharedCleanSessionHasNoSubscriptionsAfterRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	mgr1 := newSharedManager(t, "node-a", mr.Addr())
	sess, err := mgr1.CreateSession(ctx, "c1", true)
	require.NoError(t, err)
	sess.AddSubscription("a/b", packet.QoS1)
	require.NoError(t, mgr1.RemoveSession(ctx, "c1", true))

	mgr2 := newSharedManager(t, "node-a", mr.Addr())
	got, err := mgr2.GetSession(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSharedConnectionOwnership(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	mgrA := newSharedManager(t, "node-a", mr.Addr())
	sess, err := mgrA.CreateSession(ctx, "c1", false)
	require.NoError(t, err)
	sess.KeepAliveSeconds = 30
	sess.SetConnected("node-a", true)
	require.NoError(t, mgrA.UpdateSession(ctx, sess))

	node, err := mgrA.GetClientNode(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "node-a", node)

	connected, err := mgrA.IsClientConnected(ctx, "c1")
	require.NoError(t, err)
	require.True(t, connected)
}

func TestSharedForceDisconnectOnlyActsWhenLocalOwner(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	var evictedOnA string
	mgrA := newSharedManager(t, "node-a", mr.Addr())
	mgrA.cache.onEvict = func(id string) { evictedOnA = id }

	sess, err := mgrA.CreateSession(ctx, "c1", false)
	require.NoError(t, err)
	sess.SetConnected("node-b", true)
	require.NoError(t, mgrA.UpdateSession(ctx, sess))

	require.NoError(t, mgrA.ForceDisconnect(ctx, "c1"))
	require.Empty(t, evictedOnA, "node-a must not evict a session owned by node-b")
}

func TestDecodeJacksonTimestampShapes(t *testing.T) {
	millisRaw, _ := json.Marshal(1_700_000_000_000)
	secondsRaw, _ := json.Marshal(1_700_000_000)
	objRaw := json.RawMessage(`{"epochSecond":1700000000,"nano":0}`)
	strRaw, _ := json.Marshal(time.Unix(1_700_000_000, 0).UTC().Format(time.RFC3339))

	millis, err := decodeJacksonTimestamp(millisRaw)
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_000), millis)

	millis, err = decodeJacksonTimestamp(secondsRaw)
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_000), millis)

	millis, err = decodeJacksonTimestamp(objRaw)
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_000), millis)

	millis, err = decodeJacksonTimestamp(strRaw)
	require.NoError(t, err)
	require.Equal(t, int64(1_700_000_000_000), millis)
}
