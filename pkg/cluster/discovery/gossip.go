// Package discovery provides gossip-based peer discovery for deployments
// that route via pkg/cluster/router/grpc and therefore need a live
// address book of peers, rather than relying on the shared store for
// that purpose. The subscription- and retained-message-replication half
// dropped here since pkg/subtree and pkg/retained now own that state
// directly; only membership discovery survives.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/bromq-dev/broker/pkg/cluster/types"
)

// Config configures the gossip discoverer.
type Config struct {
	NodeID        string
	BindAddr      string
	BindPort      int
	AdvertiseAddr string
	AdvertisePort int

	// RoutingAddr is the address other nodes should use to reach this
	// node's router (e.g. its gRPC listen address).
	RoutingAddr string

	JoinAddrs []string
	Logger    *slog.Logger
}

// Discoverer runs a memberlist instance purely for membership discovery
// and advertises each node's routing address via gossip node metadata.
type Discoverer struct {
	cfg    *Config
	nodeID string
	ml     *memberlist.Memberlist
	log    *slog.Logger

	onJoined func(types.NodeInfo)
	onLeft   func(nodeID string)
}

// New creates a Discoverer. Start must be called before use.
func New(cfg *Config) *Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.NodeID == "" {
		hostname, _ := os.Hostname()
		cfg.NodeID = hostname
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "0.0.0.0"
	}
	if cfg.BindPort == 0 {
		cfg.BindPort = 7946
	}
	if cfg.AdvertisePort == 0 {
		cfg.AdvertisePort = cfg.BindPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discoverer{cfg: cfg, nodeID: cfg.NodeID, log: cfg.Logger}
}

// OnJoined registers the handler invoked when a peer is first observed.
func (d *Discoverer) OnJoined(handler func(types.NodeInfo)) { d.onJoined = handler }

// OnLeft registers the handler invoked when a peer departs.
func (d *Discoverer) OnLeft(handler func(nodeID string)) { d.onLeft = handler }

// Start joins the gossip ring and begins emitting join/leave events.
func (d *Discoverer) Start(ctx context.Context) error {
	mlCfg := memberlist.DefaultLANConfig()
	mlCfg.Name = d.nodeID
	mlCfg.BindAddr = d.cfg.BindAddr
	mlCfg.BindPort = d.cfg.BindPort
	mlCfg.AdvertisePort = d.cfg.AdvertisePort
	if d.cfg.AdvertiseAddr != "" {
		mlCfg.AdvertiseAddr = d.cfg.AdvertiseAddr
	}
	mlCfg.Delegate = &discoveryDelegate{routingAddr: d.cfg.RoutingAddr}
	mlCfg.Events = &discoveryEvents{d: d}

	ml, err := memberlist.Create(mlCfg)
	if err != nil {
		return fmt.Errorf("discovery: memberlist create: %w", err)
	}
	d.ml = ml

	if len(d.cfg.JoinAddrs) > 0 {
		if _, err := ml.Join(d.cfg.JoinAddrs); err != nil {
			d.log.Warn("discovery: failed to join existing cluster, starting alone", "error", err)
		}
	}

	d.log.Info("gossip discovery started", "node_id", d.nodeID, "bind_port", d.cfg.BindPort)
	return nil
}

// Stop leaves the gossip ring.
func (d *Discoverer) Stop() error {
	if d.ml == nil {
		return nil
	}
	if err := d.ml.Leave(5 * time.Second); err != nil {
		d.log.Warn("discovery: leave failed", "error", err)
	}
	return d.ml.Shutdown()
}

type nodeMeta struct {
	RoutingAddr string `json:"routing_addr"`
}

type discoveryDelegate struct {
	routingAddr string
}

func (g *discoveryDelegate) NodeMeta(limit int) []byte {
	data, _ := json.Marshal(nodeMeta{RoutingAddr: g.routingAddr})
	return data
}

func (g *discoveryDelegate) NotifyMsg(data []byte)                      {}
func (g *discoveryDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (g *discoveryDelegate) LocalState(join bool) []byte                { return nil }
func (g *discoveryDelegate) MergeRemoteState(buf []byte, join bool)     {}

type discoveryEvents struct {
	d *Discoverer
}

func (e *discoveryEvents) NotifyJoin(node *memberlist.Node) {
	var meta nodeMeta
	json.Unmarshal(node.Meta, &meta)

	e.d.log.Info("peer joined", "node", node.Name)
	if e.d.onJoined != nil {
		e.d.onJoined(types.NodeInfo{ID: node.Name, Addr: meta.RoutingAddr})
	}
}

func (e *discoveryEvents) NotifyLeave(node *memberlist.Node) {
	e.d.log.Info("peer left", "node", node.Name)
	if e.d.onLeft != nil {
		e.d.onLeft(node.Name)
	}
}

func (e *discoveryEvents) NotifyUpdate(node *memberlist.Node) {}
