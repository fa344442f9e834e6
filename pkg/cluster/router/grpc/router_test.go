package grpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/broker/pkg/cluster/types"
)

func startRouter(t *testing.T, nodeID, addr string) *Router {
	t.Helper()
	r := NewRouter(&Config{NodeID: nodeID, ListenAddr: addr})
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { r.Stop() })
	return r
}

func TestSendToNodeDeliversEnvelope(t *testing.T) {
	a := startRouter(t, "node-a", "127.0.0.1:17947")
	b := startRouter(t, "node-b", "127.0.0.1:17948")
	a.UpdateNode(types.NodeInfo{ID: "node-b", Addr: "127.0.0.1:17948"})

	var mu sync.Mutex
	var got *types.Envelope
	b.OnMessage(func(e *types.Envelope) { mu.Lock(); got = e; mu.Unlock() })

	require.NoError(t, a.SendToNode(context.Background(), "node-b", &types.Envelope{Topic: "t", Payload: []byte("x")}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "t", got.Topic)
	require.Equal(t, "node-a", got.SourceNode)
}

func TestEvictInvokesOnEviction(t *testing.T) {
	a := startRouter(t, "node-a", "127.0.0.1:17949")
	b := startRouter(t, "node-b", "127.0.0.1:17950")
	a.UpdateNode(types.NodeInfo{ID: "node-b", Addr: "127.0.0.1:17950"})

	var mu sync.Mutex
	var evicted string
	b.OnEviction(func(clientID, reason string) { mu.Lock(); evicted = clientID; mu.Unlock() })

	require.NoError(t, a.Evict(context.Background(), "client-9", "takeover"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return evicted == "client-9"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRemoveNodeDropsConnection(t *testing.T) {
	a := startRouter(t, "node-a", "127.0.0.1:17951")
	a.UpdateNode(types.NodeInfo{ID: "node-b", Addr: "127.0.0.1:17952"})
	a.RemoveNode("node-b")

	err := a.SendToNode(context.Background(), "node-b", &types.Envelope{Topic: "t"})
	require.Error(t, err)
}
