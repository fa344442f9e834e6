// Package sharedkv implements the cluster Router over the same shared
// KV+pub/sub store used for session and retained-message persistence,
// following the broadcast-over-pub/sub idiom applied
// to the three named channels of the routing fabric instead of a single
// ad hoc channel.
package sharedkv

import (
	"context"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bromq-dev/broker/pkg/cluster/types"
	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/sharedstore"
)

func packetQoS(b byte) packet.QoS { return packet.QoS(b) }

type wireEnvelope struct {
	SourceNode      string `msgpack:"node"`
	Topic           string `msgpack:"topic"`
	Payload         []byte `msgpack:"payload"`
	QoS             byte   `msgpack:"qos"`
	Retain          bool   `msgpack:"retain"`
	ClientID        string `msgpack:"client_id,omitempty"`
	ExcludeClientID string `msgpack:"exclude_client_id,omitempty"`
}

type wireEviction struct {
	SourceNode string `msgpack:"node"`
	ClientID   string `msgpack:"client_id"`
	Reason     string `msgpack:"reason"`
}

// Router is a types.Router backed by sharedstore's Redis pub/sub.
type Router struct {
	store  *sharedstore.Store
	nodeID string
	log    *slog.Logger

	onMessage  func(*types.Envelope)
	onEviction func(clientID, reason string)

	cancel context.CancelFunc
}

// Config configures a Router.
type Config struct {
	Store  *sharedstore.Store
	Logger *slog.Logger
}

// New creates a sharedkv Router. Start must be called before use.
func New(cfg Config) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		store:  cfg.Store,
		nodeID: cfg.Store.NodeID(),
		log:    log,
	}
}

func (r *Router) NodeID() string { return r.nodeID }

// Start subscribes to the broadcast channel, this node's unicast
// channel, and the cluster-wide eviction channel.
func (r *Router) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.store.Listen(ctx, sharedstore.ChannelClusterPublish, r.handleEnvelope)
	r.store.Listen(ctx, sharedstore.NodeChannel(r.nodeID), r.handleEnvelope)
	r.store.Listen(ctx, sharedstore.ChannelClusterKick, r.handleEviction)

	r.log.Info("sharedkv router started", "node_id", r.nodeID)
	return nil
}

func (r *Router) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

func (r *Router) Broadcast(ctx context.Context, env *types.Envelope) error {
	data, err := encodeEnvelope(r.nodeID, env)
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, sharedstore.ChannelClusterPublish, data)
}

func (r *Router) SendToNode(ctx context.Context, nodeID string, env *types.Envelope) error {
	data, err := encodeEnvelope(r.nodeID, env)
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, sharedstore.NodeChannel(nodeID), data)
}

func (r *Router) Evict(ctx context.Context, clientID, reason string) error {
	data, err := msgpack.Marshal(wireEviction{SourceNode: r.nodeID, ClientID: clientID, Reason: reason})
	if err != nil {
		return err
	}
	return r.store.Publish(ctx, sharedstore.ChannelClusterKick, data)
}

func (r *Router) OnMessage(handler func(*types.Envelope)) {
	r.onMessage = handler
}

func (r *Router) OnEviction(handler func(clientID, reason string)) {
	r.onEviction = handler
}

func (r *Router) handleEnvelope(data []byte) {
	var wire wireEnvelope
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		r.log.Warn("sharedkv router: malformed envelope", "error", err)
		return
	}
	if wire.SourceNode == r.nodeID {
		return
	}
	if r.onMessage == nil {
		return
	}
	r.onMessage(&types.Envelope{
		SourceNode:      wire.SourceNode,
		Topic:           wire.Topic,
		Payload:         wire.Payload,
		QoS:             packetQoS(wire.QoS),
		Retain:          wire.Retain,
		ClientID:        wire.ClientID,
		ExcludeClientID: wire.ExcludeClientID,
	})
}

func (r *Router) handleEviction(data []byte) {
	var wire wireEviction
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		r.log.Warn("sharedkv router: malformed eviction", "error", err)
		return
	}
	if wire.SourceNode == r.nodeID {
		return
	}
	if r.onEviction == nil {
		return
	}
	r.onEviction(wire.ClientID, wire.Reason)
}

func encodeEnvelope(sourceNode string, env *types.Envelope) ([]byte, error) {
	return msgpack.Marshal(wireEnvelope{
		SourceNode:      sourceNode,
		Topic:           env.Topic,
		Payload:         env.Payload,
		QoS:             byte(env.QoS),
		Retain:          env.Retain,
		ClientID:        env.ClientID,
		ExcludeClientID: env.ExcludeClientID,
	})
}
