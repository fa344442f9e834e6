package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalCreateSessionCleanDiscardsPriorState(t *testing.T) {
	mgr := NewLocal(nil)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "c1", false)
	require.NoError(t, err)
	sess.AddSubscription("a/b", 1)

	fresh, err := mgr.CreateSession(ctx, "c1", true)
	require.NoError(t, err)
	require.Empty(t, fresh.Subscriptions())
}

func TestLocalCreateSessionRestoresExisting(t *testing.T) {
	mgr := NewLocal(nil)
	ctx := context.Background()

	sess, err := mgr.CreateSession(ctx, "c1", false)
	require.NoError(t, err)
	sess.AddSubscription("a/b", 1)

	restored, err := mgr.CreateSession(ctx, "c1", false)
	require.NoError(t, err)
	require.Same(t, sess, restored)
	require.Len(t, restored.Subscriptions(), 1)
}

func TestLocalForceDisconnectInvokesCallback(t *testing.T) {
	var evicted string
	mgr := NewLocal(func(clientID string) { evicted = clientID })

	require.NoError(t, mgr.ForceDisconnect(context.Background(), "c1"))
	require.Equal(t, "c1", evicted)
}

func TestLocalSessionCount(t *testing.T) {
	mgr := NewLocal(nil)
	ctx := context.Background()

	mgr.CreateSession(ctx, "c1", true)
	mgr.CreateSession(ctx, "c2", true)

	count, err := mgr.GetSessionCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
