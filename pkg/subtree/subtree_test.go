package subtree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bromq-dev/broker/pkg/packet"
)

func TestSubscribeAndMatchExact(t *testing.T) {
	tree := New()
	tree.Subscribe("c1", "a/b/c", packet.QoS1)

	matches := tree.Match("a/b/c")
	require.Len(t, matches, 1)
	require.Equal(t, "c1", matches[0].ClientID)
	require.Equal(t, packet.QoS1, matches[0].QoS)

	require.Empty(t, tree.Match("a/b/d"))
}

func TestMatchWildcards(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		topic   string
		matches bool
	}{
		{"single level wildcard", "a/+/c", "a/b/c", true},
		{"single level wildcard wrong depth", "a/+/c", "a/b/c/d", false},
		{"multi level wildcard", "a/#", "a/b/c/d", true},
		{"multi level wildcard matches parent", "a/#", "a", true},
		{"root multi wildcard", "#", "anything/at/all", true},
		{"sys topic excluded from root wildcard", "#", "$SYS/broker/uptime", false},
		{"sys topic excluded from plus wildcard", "+/broker/uptime", "$SYS/broker/uptime", false},
		{"sys topic matches explicit filter", "$SYS/broker/uptime", "$SYS/broker/uptime", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := New()
			tree.Subscribe("c1", tt.filter, packet.QoS0)

			matches := tree.Match(tt.topic)
			if tt.matches {
				require.Len(t, matches, 1)
			} else {
				require.Empty(t, matches)
			}
		})
	}
}

func TestMatchReturnsHighestQoSOnOverlappingFilters(t *testing.T) {
	tree := New()
	tree.Subscribe("c1", "a/b", packet.QoS0)
	tree.Subscribe("c1", "a/+", packet.QoS2)

	matches := tree.Match("a/b")
	require.Len(t, matches, 1)
	require.Equal(t, packet.QoS2, matches[0].QoS)
}

func TestMatchDeduplicatesClientAcrossFilters(t *testing.T) {
	tree := New()
	tree.Subscribe("c1", "a/#", packet.QoS1)
	tree.Subscribe("c1", "a/b/c", packet.QoS1)

	matches := tree.Match("a/b/c")
	require.Len(t, matches, 1)
}

func TestUnsubscribeRemovesOnlyNamedFilter(t *testing.T) {
	tree := New()
	tree.Subscribe("c1", "a/b", packet.QoS0)
	tree.Subscribe("c1", "a/c", packet.QoS0)

	require.True(t, tree.Unsubscribe("c1", "a/b"))
	require.Empty(t, tree.Match("a/b"))
	require.Len(t, tree.Match("a/c"), 1)

	require.False(t, tree.Unsubscribe("c1", "a/b"))
	require.False(t, tree.Unsubscribe("c2", "a/c"))
}

func TestUnsubscribeAllRemovesEveryFilterForClient(t *testing.T) {
	tree := New()
	tree.Subscribe("c1", "a/b", packet.QoS0)
	tree.Subscribe("c1", "x/y/#", packet.QoS1)
	tree.Subscribe("c2", "a/b", packet.QoS0)

	tree.UnsubscribeAll("c1")

	require.Len(t, tree.Match("a/b"), 1)
	require.Equal(t, "c2", tree.Match("a/b")[0].ClientID)
	require.Empty(t, tree.Match("x/y/z"))
	require.Nil(t, tree.SubscriptionsOf("c1"))
}

func TestSubscriptionsOfReflectsCurrentState(t *testing.T) {
	tree := New()
	tree.Subscribe("c1", "a/b", packet.QoS0)
	tree.Subscribe("c1", "a/c", packet.QoS2)

	subs := tree.SubscriptionsOf("c1")
	require.Len(t, subs, 2)
	require.Equal(t, packet.QoS0, subs["a/b"])
	require.Equal(t, packet.QoS2, subs["a/c"])

	tree.Unsubscribe("c1", "a/b")
	require.Len(t, tree.SubscriptionsOf("c1"), 1)
}

func TestResubscribeUpdatesGrantedQoS(t *testing.T) {
	tree := New()
	tree.Subscribe("c1", "a/b", packet.QoS0)
	tree.Subscribe("c1", "a/b", packet.QoS2)

	matches := tree.Match("a/b")
	require.Len(t, matches, 1)
	require.Equal(t, packet.QoS2, matches[0].QoS)
	require.Equal(t, 1, tree.Count())
}

func TestCount(t *testing.T) {
	tree := New()
	require.Equal(t, 0, tree.Count())

	tree.Subscribe("c1", "a/b", packet.QoS0)
	tree.Subscribe("c1", "a/c", packet.QoS0)
	tree.Subscribe("c2", "a/b", packet.QoS0)
	require.Equal(t, 3, tree.Count())

	tree.UnsubscribeAll("c1")
	require.Equal(t, 1, tree.Count())
}
