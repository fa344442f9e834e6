// Package types defines the shapes shared by every cluster routing
// backend: the node directory entry and the three message kinds that
// cross the cluster fabric (broadcast publish, per-node publish,
// eviction).
package types

import (
	"context"

	"github.com/bromq-dev/broker/pkg/packet"
)

// NodeInfo identifies a cluster peer.
type NodeInfo struct {
	ID   string
	Addr string
}

// Envelope is a publish forwarded across the cluster fabric. SourceNode
// lets a receiving node recognize and discard its own broadcast.
// ExcludeClientID, set on broadcasts, is the publisher's own clientId so a
// receiving node that happens to also own a same-named local subscriber
// does not echo the message back to its source. ClientID, set on
// per-node unicast sends, names the specific subscriber the receiving
// node should deliver to.
type Envelope struct {
	SourceNode      string
	Topic           string
	Payload         []byte
	QoS             packet.QoS
	Retain          bool
	ClientID        string
	ExcludeClientID string
}

// Eviction is an eviction command published on the cluster kick channel
// when a session's ownership moves to a different node.
type Eviction struct {
	SourceNode string
	ClientID   string
	Reason     string
}

// Router delivers publishes and eviction commands between cluster nodes
// over the three channels described for the routing fabric: a broadcast
// channel every node subscribes to, a per-node unicast channel, and a
// cluster-wide eviction channel.
type Router interface {
	Start(ctx context.Context) error
	Stop() error

	NodeID() string

	// Broadcast delivers env to every other node in the cluster.
	Broadcast(ctx context.Context, env *Envelope) error

	// SendToNode delivers env to exactly one node.
	SendToNode(ctx context.Context, nodeID string, env *Envelope) error

	// Evict publishes a cluster-wide eviction command for clientID.
	Evict(ctx context.Context, clientID, reason string) error

	// OnMessage registers the handler invoked for broadcast and
	// per-node deliveries addressed to this node.
	OnMessage(handler func(*Envelope))

	// OnEviction registers the handler invoked for eviction commands.
	OnEviction(handler func(clientID, reason string))
}
