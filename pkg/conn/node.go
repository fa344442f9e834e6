package conn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bromq-dev/broker/pkg/admission"
	"github.com/bromq-dev/broker/pkg/cluster"
	"github.com/bromq-dev/broker/pkg/hooks"
	"github.com/bromq-dev/broker/pkg/membership"
	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/retained"
	"github.com/bromq-dev/broker/pkg/session"
	"github.com/bromq-dev/broker/pkg/subtree"
)

// Config configures a Node.
type Config struct {
	// ConnectTimeout is how long a client has to send CONNECT after the
	// transport accepts it. Default 10s.
	ConnectTimeout time.Duration

	// ReadBufferSize sizes the packet reader's internal buffer.
	// Default 8192.
	ReadBufferSize int

	// OutboundQueueSize bounds each connection's async send queue.
	// Default 256.
	OutboundQueueSize int

	// MaxClientIDLength caps the accepted CONNECT client id length.
	// Default 256.
	MaxClientIDLength int

	// RetryInterval and MaxRetries configure the QoS 1/2 retry sweep.
	RetryInterval time.Duration
	MaxRetries    int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 8192
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = defaultOutboundBuffer
	}
	if c.MaxClientIDLength <= 0 {
		c.MaxClientIDLength = 256
	}
	return c
}

// Deps bundles a Node's collaborators. Subtree, Sessions and Cluster
// are required; everything else has a usable default.
type Deps struct {
	Subtree    *subtree.Tree
	Retained   retained.Store
	Sessions   session.Manager
	Cluster    *cluster.Cluster
	Membership *membership.Tracker
	Admission  *admission.Limiter

	Permissions hooks.PermissionProvider
	Sink        hooks.Sink

	Logger *slog.Logger
}

// Node is one broker process: it accepts connections, runs the MQTT
// state machine for each, and fans messages out locally and across the
// cluster routing fabric.
type Node struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	nodeID string

	subtree     *subtree.Tree
	retained    retained.Store
	sessions    session.Manager
	cluster     *cluster.Cluster
	membership  *membership.Tracker
	admission   *admission.Limiter
	permissions hooks.PermissionProvider
	sink        hooks.Sink

	retry *session.RetryScheduler

	clientsMu sync.RWMutex
	clients   map[string]*Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles a Node. Deps.Subtree, Deps.Sessions and Deps.Cluster
// must be set; the remaining dependencies fall back to no-ops.
func New(cfg Config, deps Deps) *Node {
	cfg = cfg.withDefaults()

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	permissions := deps.Permissions
	if permissions == nil {
		permissions = hooks.AllowAll{}
	}
	sink := deps.Sink
	if sink == nil {
		sink = hooks.Noop{}
	}

	n := &Node{
		cfg:         cfg,
		deps:        deps,
		log:         log,
		nodeID:      deps.Cluster.Router.NodeID(),
		subtree:     deps.Subtree,
		retained:    deps.Retained,
		sessions:    deps.Sessions,
		cluster:     deps.Cluster,
		membership:  deps.Membership,
		admission:   deps.Admission,
		permissions: permissions,
		sink:        sink,
		clients:     make(map[string]*Conn),
	}

	n.retry = session.NewRetryScheduler(cfg.RetryInterval, cfg.MaxRetries, n.connectedSessions, n.retransmit, n.discard)
	return n
}

// Start wires up the cluster router's callbacks and starts the
// cluster fabric, membership tracker and retry scheduler.
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.ctx = ctx
	n.cancel = cancel

	n.cluster.Router.OnMessage(n.handleClusterEnvelope)
	n.cluster.Router.OnEviction(n.handleClusterEviction)

	if err := n.cluster.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("conn: starting cluster: %w", err)
	}

	if n.membership != nil {
		if err := n.membership.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("conn: starting membership: %w", err)
		}
	}

	n.retry.Start(ctx)

	n.log.Info("node started", "node_id", n.nodeID)
	return nil
}

// Shutdown closes every local connection, then stops the retry
// scheduler, membership tracker and cluster fabric.
func (n *Node) Shutdown(ctx context.Context) error {
	if n.cancel != nil {
		n.cancel()
	}

	n.clientsMu.Lock()
	for _, c := range n.clients {
		c.Close()
	}
	n.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.retry.Stop()
	if n.membership != nil {
		n.membership.Stop()
	}
	return n.cluster.Stop()
}

// HandleConnection admits a newly accepted transport connection and
// spawns its read/write loops. Transports (TCP, TLS, WebSocket) call
// this from their accept loop.
func (n *Node) HandleConnection(netConn net.Conn) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.handleConnection(netConn)
	}()
}

func (n *Node) handleConnection(netConn net.Conn) {
	addr := netConn.RemoteAddr().String()

	if n.admission != nil {
		if !n.admission.AllowConnect() {
			rejectUnadmitted(netConn)
			return
		}
		if !n.admission.AllowConnection(addr) {
			rejectUnadmitted(netConn)
			return
		}
		defer n.admission.ReleaseConnection(addr)
	}

	c := newConn(netConn, n)

	if n.cfg.ConnectTimeout > 0 {
		netConn.SetReadDeadline(time.Now().Add(n.cfg.ConnectTimeout))
	}

	pkt, err := c.reader.ReadPacket()
	if err != nil {
		netConn.Close()
		return
	}

	connectPkt, ok := pkt.(*packet.Connect)
	if !ok {
		netConn.Close()
		return
	}

	if err := n.handleConnect(c, connectPkt); err != nil {
		netConn.Close()
		return
	}

	netConn.SetReadDeadline(time.Time{})

	go c.writeLoop()
	c.readLoop()
}

func (n *Node) connectedSessions() []*session.Session {
	n.clientsMu.RLock()
	defer n.clientsMu.RUnlock()

	out := make([]*session.Session, 0, len(n.clients))
	for _, c := range n.clients {
		if c.session != nil {
			out = append(out, c.session)
		}
	}
	return out
}

func (n *Node) retransmit(sess *session.Session, msg *session.PendingMessage) {
	n.clientsMu.RLock()
	c, ok := n.clients[sess.ClientID]
	n.clientsMu.RUnlock()
	if !ok {
		return
	}
	c.Send(&packet.Publish{
		Dup:       true,
		TopicName: msg.Topic,
		Payload:   msg.Payload,
		QoS:       msg.QoS,
		PacketID:  msg.MessageID,
	})
}

func (n *Node) discard(sess *session.Session, msg *session.PendingMessage) {
	n.log.Warn("discarding undelivered message after retry exhaustion",
		"client_id", sess.ClientID, "message_id", msg.MessageID, "topic", msg.Topic)
}

func generateClientID() string {
	return fmt.Sprintf("auto-%d", time.Now().UnixNano())
}

// rejectUnadmitted sends a SERVER_UNAVAILABLE CONNACK to a connection
// that was turned away before a Conn was even set up (admission control
// denied it a slot), then closes the socket.
func rejectUnadmitted(netConn net.Conn) {
	ack := packet.NewConnack(false, packet.ConnackServerUnavailable)
	buf := make([]byte, ack.EncodedSize())
	ack.Encode(buf)
	netConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	netConn.Write(buf)
	netConn.Close()
}
