// Package grpc provides a direct node-to-node Router over gRPC, for
// deployments that want lower-latency fan-out than a shared store's
// pub/sub round trip. Peer addresses are supplied externally (typically
// by discovery/gossip) via UpdateNode/RemoveNode rather than looked up
// per-send.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bromq-dev/broker/pkg/cluster/types"
	"github.com/bromq-dev/broker/pkg/packet"
)

// Router implements types.Router using gRPC for direct messaging.
type Router struct {
	cfg    *Config
	nodeID string
	server *grpc.Server

	onMessage  func(*types.Envelope)
	onEviction func(clientID, reason string)

	mu    sync.RWMutex
	addrs map[string]string // nodeID -> addr
	conns map[string]*grpc.ClientConn

	log *slog.Logger
}

// Config configures the gRPC router.
type Config struct {
	NodeID      string
	ListenAddr  string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// NewRouter creates a gRPC router. Start must be called before use.
func NewRouter(cfg *Config) *Router {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7947"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		cfg:    cfg,
		nodeID: cfg.NodeID,
		addrs:  make(map[string]string),
		conns:  make(map[string]*grpc.ClientConn),
		log:    cfg.Logger,
	}
}

func (r *Router) NodeID() string { return r.nodeID }

// UpdateNode records or refreshes a peer's routing address.
func (r *Router) UpdateNode(info types.NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs[info.ID] = info.Addr
}

// RemoveNode drops a peer's routing address and closes any open
// connection to it.
func (r *Router) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.addrs, nodeID)
	if conn, ok := r.conns[nodeID]; ok {
		conn.Close()
		delete(r.conns, nodeID)
	}
}

func (r *Router) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("grpc router: listen: %w", err)
	}

	r.server = grpc.NewServer()
	RegisterRouterServiceServer(r.server, &routerServer{router: r})

	go func() {
		if err := r.server.Serve(ln); err != nil {
			r.log.Error("grpc server error", "error", err)
		}
	}()

	r.log.Info("grpc router started", "addr", r.cfg.ListenAddr, "node_id", r.nodeID)
	return nil
}

func (r *Router) Stop() error {
	if r.server != nil {
		r.server.GracefulStop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		conn.Close()
	}
	r.conns = make(map[string]*grpc.ClientConn)
	return nil
}

func (r *Router) Broadcast(ctx context.Context, env *types.Envelope) error {
	r.mu.RLock()
	targets := make([]string, 0, len(r.addrs))
	for id := range r.addrs {
		targets = append(targets, id)
	}
	r.mu.RUnlock()

	var errs []error
	for _, id := range targets {
		if err := r.SendToNode(ctx, id, env); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("grpc router: broadcast failed for %d/%d peers", len(errs), len(targets))
	}
	return nil
}

func (r *Router) SendToNode(ctx context.Context, nodeID string, env *types.Envelope) error {
	conn, err := r.getConn(nodeID)
	if err != nil {
		return err
	}

	req := &RouteRequest{
		Kind:            RouteKindPublish,
		SourceNode:      r.nodeID,
		Topic:           env.Topic,
		Payload:         env.Payload,
		Qos:             uint32(env.QoS),
		Retain:          env.Retain,
		ClientID:        env.ClientID,
		ExcludeClientID: env.ExcludeClientID,
	}
	_, err = NewRouterServiceClient(conn).Route(ctx, req)
	return err
}

func (r *Router) Evict(ctx context.Context, clientID, reason string) error {
	r.mu.RLock()
	targets := make([]string, 0, len(r.addrs))
	for id := range r.addrs {
		targets = append(targets, id)
	}
	r.mu.RUnlock()

	req := &RouteRequest{
		Kind:       RouteKindEvict,
		SourceNode: r.nodeID,
		ClientID:   clientID,
		Reason:     reason,
	}

	var errs []error
	for _, id := range targets {
		conn, err := r.getConn(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := NewRouterServiceClient(conn).Route(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("grpc router: eviction failed for %d/%d peers", len(errs), len(targets))
	}
	return nil
}

func (r *Router) getConn(nodeID string) (*grpc.ClientConn, error) {
	r.mu.RLock()
	if conn, ok := r.conns[nodeID]; ok {
		r.mu.RUnlock()
		return conn, nil
	}
	addr, ok := r.addrs[nodeID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("grpc router: no known address for node %s", nodeID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[nodeID]; ok {
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc router: dial %s: %w", addr, err)
	}

	r.conns[nodeID] = conn
	return conn, nil
}

func (r *Router) OnMessage(handler func(*types.Envelope)) {
	r.onMessage = handler
}

func (r *Router) OnEviction(handler func(clientID, reason string)) {
	r.onEviction = handler
}

func (r *Router) handleRoute(req *RouteRequest) {
	if req.SourceNode == r.nodeID {
		return
	}

	switch req.Kind {
	case RouteKindEvict:
		if r.onEviction != nil {
			r.onEviction(req.ClientID, req.Reason)
		}
	default:
		if r.onMessage != nil {
			r.onMessage(&types.Envelope{
				SourceNode:      req.SourceNode,
				Topic:           req.Topic,
				Payload:         req.Payload,
				QoS:             packet.QoS(req.Qos),
				Retain:          req.Retain,
				ClientID:        req.ClientID,
				ExcludeClientID: req.ExcludeClientID,
			})
		}
	}
}

var _ types.Router = (*Router)(nil)
