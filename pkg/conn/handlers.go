package conn

import (
	"context"
	"errors"

	"github.com/bromq-dev/broker/pkg/packet"
)

var errClientDisconnected = errors.New("conn: client sent disconnect")

// handlePacket dispatches one decoded packet to its handler.
func (n *Node) handlePacket(c *Conn, pkt packet.Packet) error {
	switch p := pkt.(type) {
	case *packet.Publish:
		return n.handlePublish(c, p)
	case *packet.Puback:
		return n.handlePuback(c, p)
	case *packet.Pubrec:
		return n.handlePubrec(c, p)
	case *packet.Pubrel:
		return n.handlePubrel(c, p)
	case *packet.Pubcomp:
		return n.handlePubcomp(c, p)
	case *packet.Subscribe:
		return n.handleSubscribe(c, p)
	case *packet.Unsubscribe:
		return n.handleUnsubscribe(c, p)
	case *packet.Pingreq:
		return n.handlePingreq(c)
	case *packet.Disconnect:
		return n.handleDisconnectPacket(c)
	default:
		return errors.New("conn: unexpected packet type")
	}
}

func (n *Node) handlePingreq(c *Conn) error {
	c.Send(&packet.Pingresp{})
	return nil
}

func (n *Node) handleDisconnectPacket(c *Conn) error {
	if c.session != nil {
		c.session.Will = nil
	}
	return errClientDisconnected
}

// handleDisconnect is the single cleanup path reached whenever a
// connection stops, whether by a clean DISCONNECT, a read error, or
// local/remote eviction. err is errClientDisconnected for a clean
// DISCONNECT and nil when the read loop stops on io.EOF or net.ErrClosed;
// both count as a normal close. Any other error is treated as an
// abnormal close for will purposes.
func (n *Node) handleDisconnect(c *Conn, err error) {
	if !c.connected.Swap(false) {
		return
	}

	n.clientsMu.Lock()
	if cur, ok := n.clients[c.clientID]; ok && cur == c {
		delete(n.clients, c.clientID)
	}
	n.clientsMu.Unlock()

	ctx := context.Background()
	abnormal := err != nil && !errors.Is(err, errClientDisconnected)

	if abnormal && c.session != nil && c.session.Will != nil {
		will := c.session.Will
		n.deliverAndRoute(ctx, "", &packet.Publish{
			TopicName: will.Topic,
			Payload:   will.Payload,
			QoS:       will.QoS,
			Retain:    will.Retain,
		})
	}

	if c.session != nil {
		c.session.SetConnected(n.nodeID, false)
		if c.cleanStart {
			n.subtree.UnsubscribeAll(c.clientID)
			if err := n.sessions.RemoveSession(ctx, c.clientID, true); err != nil {
				n.log.Warn("failed to remove clean session", "client_id", c.clientID, "error", err)
			}
		} else if err := n.sessions.UpdateSession(ctx, c.session); err != nil {
			n.log.Warn("failed to persist session on disconnect", "client_id", c.clientID, "error", err)
		}
	}

	if n.admission != nil {
		n.admission.Forget(c.clientID)
	}

	n.log.Info("client disconnected", "client_id", c.clientID, "abnormal", abnormal)
	c.Close()
}
