// Package conn implements the per-connection MQTT state machine: the
// CONNECT handshake, PUBLISH/SUBSCRIBE/UNSUBSCRIBE handling, QoS 1/2
// acknowledgement bookkeeping, and the will-on-abnormal-close path. It
// is the orchestration layer that wires pkg/subtree, pkg/retained,
// pkg/session, pkg/cluster, pkg/membership, pkg/admission and pkg/hooks
// together around a single TCP, TLS or WebSocket connection, generalized
// from a single-process client/broker pair into a clustered node.
package conn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/session"
)

// Conn represents one connected MQTT client.
type Conn struct {
	netConn net.Conn
	reader  *packet.Reader

	clientID   string
	username   string
	cleanStart bool
	keepAlive  uint16

	session *session.Session

	connected atomic.Bool
	closed    atomic.Bool

	outbound chan packet.Packet

	inboundMu sync.Mutex
	inbound   map[uint16]*packet.Publish // inbound QoS 2, awaiting PUBREL

	lastActivity   atomic.Int64 // unix nanos
	node           *Node

	ctx    context.Context
	cancel context.CancelFunc
}

const defaultOutboundBuffer = 256

func newConn(netConn net.Conn, node *Node) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	bufSize := node.cfg.OutboundQueueSize
	if bufSize <= 0 {
		bufSize = defaultOutboundBuffer
	}

	c := &Conn{
		netConn:  netConn,
		reader:   packet.NewReader(netConn, node.cfg.ReadBufferSize),
		outbound: make(chan packet.Packet, bufSize),
		inbound:  make(map[uint16]*packet.Publish),
		node:     node,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// ClientID returns the client identifier assigned during CONNECT.
func (c *Conn) ClientID() string { return c.clientID }

// RemoteAddr returns the remote address string, or "" if unavailable.
func (c *Conn) RemoteAddr() string {
	if c.netConn == nil {
		return ""
	}
	return c.netConn.RemoteAddr().String()
}

// Send queues a packet for asynchronous delivery. Returns false if the
// outbound queue is full and the packet was dropped.
func (c *Conn) Send(pkt packet.Packet) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.outbound <- pkt:
		return true
	default:
		return false
	}
}

// SendSync writes pkt directly to the connection, bypassing the
// outbound queue. Used for the CONNACK that precedes the write loop.
func (c *Conn) SendSync(pkt packet.Packet) error {
	if c.closed.Load() {
		return errors.New("conn: closed")
	}

	buf := packet.GetBuffer()
	defer packet.PutBuffer(buf)

	size := pkt.EncodedSize()
	if size > len(buf) {
		buf = make([]byte, size)
	}

	n := pkt.Encode(buf)
	if n == 0 {
		return errors.New("conn: failed to encode packet")
	}

	_, err := c.netConn.Write(buf[:n])
	return err
}

// Close closes the underlying connection and stops both loops. Safe to
// call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	close(c.outbound)
	return c.netConn.Close()
}

func (c *Conn) updateActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
	if c.session != nil {
		c.session.Touch()
	}
}

// trackInboundQoS2 records an inbound QoS 2 PUBLISH awaiting PUBREL.
// Returns false if messageID is already tracked, meaning this PUBLISH
// is a retransmission that must not be routed a second time.
func (c *Conn) trackInboundQoS2(pkt *packet.Publish) bool {
	if c.session != nil && !c.session.MarkInboundQoS2(pkt.PacketID) {
		return false
	}
	c.inboundMu.Lock()
	c.inbound[pkt.PacketID] = pkt
	c.inboundMu.Unlock()
	return true
}

// releaseInboundQoS2 clears inbound QoS 2 tracking on PUBREL, returning
// the original PUBLISH so it can be routed now that the handshake is
// complete. Returns nil if messageID was not tracked.
func (c *Conn) releaseInboundQoS2(messageID uint16) *packet.Publish {
	if c.session != nil {
		c.session.ReleaseInboundQoS2(messageID)
	}
	c.inboundMu.Lock()
	defer c.inboundMu.Unlock()
	pkt, ok := c.inbound[messageID]
	if !ok {
		return nil
	}
	delete(c.inbound, messageID)
	return pkt
}

// readLoop reads and dispatches packets until the connection closes or
// a protocol error occurs.
func (c *Conn) readLoop() {
	defer c.node.handleDisconnect(c, nil)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if c.keepAlive > 0 {
			timeout := time.Duration(c.keepAlive) * time.Second * 2
			c.netConn.SetReadDeadline(time.Now().Add(timeout))
		}

		pkt, err := c.reader.ReadPacket()
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			c.node.handleDisconnect(c, err)
			return
		}

		c.updateActivity()

		if err := c.node.handlePacket(c, pkt); err != nil {
			c.node.handleDisconnect(c, err)
			return
		}
	}
}

// writeLoop drains the outbound queue onto the connection.
func (c *Conn) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in conn write loop",
				"client_id", c.clientID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			c.Close()
		}
	}()

	buf := make([]byte, 65536)

	for pkt := range c.outbound {
		size := pkt.EncodedSize()
		if size > len(buf) {
			buf = make([]byte, size)
		}

		n := pkt.Encode(buf)
		if n == 0 {
			continue
		}

		if _, err := c.netConn.Write(buf[:n]); err != nil {
			return
		}
	}
}
