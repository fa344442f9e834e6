// Package noop provides the same-process shortcut router: a single
// broker node with no cluster fabric at all. Every client lives on this
// one node, so there is never anything to broadcast, unicast, or evict
// remotely.
package noop

import (
	"context"

	"github.com/bromq-dev/broker/pkg/cluster/types"
)

// Router implements types.Router as a no-op.
type Router struct {
	nodeID string
}

// NewRouter creates a single-node router.
func NewRouter(nodeID string) *Router {
	return &Router{nodeID: nodeID}
}

func (r *Router) NodeID() string { return r.nodeID }

func (r *Router) Start(ctx context.Context) error { return nil }
func (r *Router) Stop() error                     { return nil }

func (r *Router) Broadcast(ctx context.Context, env *types.Envelope) error { return nil }

func (r *Router) SendToNode(ctx context.Context, nodeID string, env *types.Envelope) error {
	return nil
}

func (r *Router) Evict(ctx context.Context, clientID, reason string) error { return nil }

func (r *Router) OnMessage(handler func(*types.Envelope))          {}
func (r *Router) OnEviction(handler func(clientID, reason string)) {}

var _ types.Router = (*Router)(nil)
