package conn

import (
	"context"
	"fmt"

	"github.com/bromq-dev/broker/pkg/packet"
)

// handleConnect runs the CONNECT handshake: client id assignment,
// single-owner takeover of any existing session, session
// creation/restore, and the CONNACK reply.
func (n *Node) handleConnect(c *Conn, pkt *packet.Connect) error {
	clientID := pkt.ClientID
	if len(clientID) > n.cfg.MaxClientIDLength {
		return n.rejectConnect(c, packet.ConnackIdentifierRejected)
	}

	if clientID == "" {
		if !pkt.CleanStart {
			// v3.1.1: an empty client id requires a clean session.
			return n.rejectConnect(c, packet.ConnackIdentifierRejected)
		}
		clientID = generateClientID()
	}

	c.clientID = clientID
	c.username = pkt.Username
	c.cleanStart = pkt.CleanStart
	c.keepAlive = pkt.KeepAlive

	ctx := c.ctx

	if !n.permissions.CanConnect(ctx, clientID, pkt.Username, string(pkt.Password)) {
		return n.rejectConnect(c, packet.ConnackBadUsernameOrPassword)
	}

	if err := n.takeOverExisting(ctx, clientID); err != nil {
		n.log.Warn("connect: takeover of existing session failed", "client_id", clientID, "error", err)
	}

	sess, err := n.sessions.CreateSession(ctx, clientID, pkt.CleanStart)
	if err != nil {
		return n.rejectConnect(c, packet.ConnackServerUnavailable)
	}

	restoredSubs := sess.Subscriptions()
	sessionPresent := !pkt.CleanStart && len(restoredSubs) > 0

	sess.KeepAliveSeconds = pkt.KeepAlive
	sess.Username = pkt.Username
	if pkt.WillFlag {
		sess.Will = &packet.Will{
			Topic:   pkt.WillTopic,
			Payload: pkt.WillPayload,
			QoS:     pkt.WillQoS,
			Retain:  pkt.WillRetain,
		}
	}
	sess.SetConnected(n.nodeID, true)
	c.session = sess

	if err := n.sessions.UpdateSession(ctx, sess); err != nil {
		n.log.Warn("connect: failed to persist session", "client_id", clientID, "error", err)
	}

	n.clientsMu.Lock()
	n.clients[clientID] = c
	n.clientsMu.Unlock()

	for filter, qos := range restoredSubs {
		n.subtree.Subscribe(clientID, filter, qos)
	}

	if err := c.SendSync(packet.NewConnack(sessionPresent, packet.ConnackAccepted)); err != nil {
		n.clientsMu.Lock()
		delete(n.clients, clientID)
		n.clientsMu.Unlock()
		return err
	}

	c.connected.Store(true)
	n.log.Info("client connected", "client_id", clientID, "clean_start", pkt.CleanStart, "session_present", sessionPresent)
	return nil
}

// takeOverExisting enforces single-owner session ownership: if
// clientID is already connected on this node, its connection is
// closed directly; if owned by a peer node, an eviction command is
// published so that node closes it.
func (n *Node) takeOverExisting(ctx context.Context, clientID string) error {
	n.clientsMu.RLock()
	existing, localOK := n.clients[clientID]
	n.clientsMu.RUnlock()
	if localOK {
		existing.Close()
		return nil
	}

	owner, err := n.sessions.GetClientNode(ctx, clientID)
	if err != nil || owner == "" || owner == n.nodeID {
		return err
	}
	return n.cluster.Router.Evict(ctx, clientID, "duplicate-connect")
}

func (n *Node) rejectConnect(c *Conn, code packet.ConnackReturnCode) error {
	c.SendSync(packet.NewConnack(false, code))
	return fmt.Errorf("conn: connect rejected: %s", code.String())
}
