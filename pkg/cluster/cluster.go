// Package cluster assembles the routing fabric described for the
// broker: a broadcast channel, a per-node unicast channel, and a
// cluster-wide eviction channel. Subscription, retained-message, and
// session state each own their own persistence (pkg/subtree,
// pkg/retained, pkg/session); this package is concerned only with
// getting a packet.Publish or an eviction command from one node to
// the others.
//
// Deployment modes, from simplest to most capable:
//
//	cluster.New(cluster.Config{Mode: cluster.ModeLocal})           // single node
//	cluster.New(cluster.Config{Mode: cluster.ModeSharedKV, ...})   // shared store pub/sub
//	cluster.New(cluster.Config{Mode: cluster.ModeGRPC, ...})       // direct gRPC fan-out
package cluster

import (
	"context"
	"fmt"

	"github.com/bromq-dev/broker/pkg/cluster/discovery"
	"github.com/bromq-dev/broker/pkg/cluster/router/grpc"
	"github.com/bromq-dev/broker/pkg/cluster/router/noop"
	"github.com/bromq-dev/broker/pkg/cluster/router/sharedkv"
	"github.com/bromq-dev/broker/pkg/cluster/types"
	"github.com/bromq-dev/broker/pkg/sharedstore"
)

// Mode selects a routing fabric backend.
type Mode string

const (
	// ModeLocal runs a single node with no cluster fabric.
	ModeLocal Mode = "local"

	// ModeSharedKV routes over the shared KV+pub/sub store.
	ModeSharedKV Mode = "sharedkv"

	// ModeGRPC routes directly node-to-node over gRPC, with peer
	// addresses discovered via gossip.
	ModeGRPC Mode = "grpc"
)

// Re-export the routing types for convenience.
type (
	NodeInfo = types.NodeInfo
	Envelope = types.Envelope
	Router   = types.Router
)

// Config selects and configures a routing fabric.
type Config struct {
	Mode   Mode
	NodeID string

	// SharedKV mode.
	Store *sharedstore.Store

	// gRPC mode.
	GRPCListenAddr  string
	GossipBindPort  int
	GossipJoinAddrs []string
}

// Cluster bundles a Router with the discoverer (if any) that feeds its
// address book.
type Cluster struct {
	Router     types.Router
	discoverer *discovery.Discoverer
}

// New builds the routing fabric named by cfg.Mode.
func New(cfg Config) (*Cluster, error) {
	switch cfg.Mode {
	case "", ModeLocal:
		return &Cluster{Router: noop.NewRouter(cfg.NodeID)}, nil

	case ModeSharedKV:
		if cfg.Store == nil {
			return nil, fmt.Errorf("cluster: sharedkv mode requires a Store")
		}
		return &Cluster{Router: sharedkv.New(sharedkv.Config{Store: cfg.Store})}, nil

	case ModeGRPC:
		listenAddr := cfg.GRPCListenAddr
		if listenAddr == "" {
			listenAddr = ":7947"
		}
		router := grpc.NewRouter(&grpc.Config{NodeID: cfg.NodeID, ListenAddr: listenAddr})

		disc := discovery.New(&discovery.Config{
			NodeID:      cfg.NodeID,
			BindPort:    cfg.GossipBindPort,
			RoutingAddr: listenAddr,
			JoinAddrs:   cfg.GossipJoinAddrs,
		})
		disc.OnJoined(router.UpdateNode)
		disc.OnLeft(router.RemoveNode)

		return &Cluster{Router: router, discoverer: disc}, nil

	default:
		return nil, fmt.Errorf("cluster: unknown mode %q", cfg.Mode)
	}
}

// Start starts the router and, in gRPC mode, the gossip discoverer that
// feeds its address book.
func (c *Cluster) Start(ctx context.Context) error {
	if c.discoverer != nil {
		if err := c.discoverer.Start(ctx); err != nil {
			return err
		}
	}
	return c.Router.Start(ctx)
}

// Stop stops the router and discoverer.
func (c *Cluster) Stop() error {
	if c.discoverer != nil {
		c.discoverer.Stop()
	}
	return c.Router.Stop()
}
