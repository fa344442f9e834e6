package conn

import (
	"context"
	"time"

	"github.com/bromq-dev/broker/pkg/cluster/types"
	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/session"
	"github.com/bromq-dev/broker/pkg/subtree"
	"github.com/bromq-dev/broker/pkg/topic"
)

func (n *Node) handlePublish(c *Conn, pkt *packet.Publish) error {
	if err := topic.ValidateName(pkt.TopicName); err != nil {
		return err
	}

	if n.admission != nil && !n.admission.AllowPublish(c.clientID) {
		return nil
	}

	switch pkt.QoS {
	case packet.QoS1:
		c.Send(&packet.Puback{PacketID: pkt.PacketID})
	case packet.QoS2:
		if !c.trackInboundQoS2(pkt) {
			c.Send(&packet.Pubrec{PacketID: pkt.PacketID})
			return nil
		}
		c.Send(&packet.Pubrec{PacketID: pkt.PacketID})
		return nil // fan-out deferred until PUBREL
	}

	n.deliverAndRoute(c.ctx, c.clientID, pkt)
	return nil
}

func (n *Node) handlePuback(c *Conn, pkt *packet.Puback) error {
	if c.session != nil {
		c.session.AckQoS1(pkt.PacketID)
	}
	return nil
}

func (n *Node) handlePubrec(c *Conn, pkt *packet.Pubrec) error {
	c.Send(&packet.Pubrel{PacketID: pkt.PacketID})
	return nil
}

func (n *Node) handlePubrel(c *Conn, pkt *packet.Pubrel) error {
	pub := c.releaseInboundQoS2(pkt.PacketID)
	c.Send(&packet.Pubcomp{PacketID: pkt.PacketID})
	if pub == nil {
		return nil
	}

	n.deliverAndRoute(c.ctx, c.clientID, pub)
	return nil
}

func (n *Node) handlePubcomp(c *Conn, pkt *packet.Pubcomp) error {
	if c.session != nil {
		c.session.AckQoS2(pkt.PacketID)
	}
	return nil
}

// deliverAndRoute stores a retained copy if requested, fans the
// message out to this node's matching local subscribers, forwards it
// to every peer node for their own local fan-out, and hands it to the
// delivery sink. senderClientID is excluded from peer nodes' fan-out
// so a client is never echoed its own publish by a node other than
// the one it is directly connected to.
func (n *Node) deliverAndRoute(ctx context.Context, senderClientID string, pub *packet.Publish) {
	if !n.permissions.CanPublish(ctx, senderClientID, n.senderUsername(senderClientID), pub.TopicName) {
		return
	}

	if pub.Retain && n.retained != nil {
		if err := n.retained.StoreMessage(ctx, pub.TopicName, pub.Payload, pub.QoS, time.Now().UnixMilli()); err != nil {
			n.log.Warn("failed to store retained message", "topic", pub.TopicName, "error", err)
		}
	}

	n.localFanout(ctx, pub, "")

	if err := n.cluster.Router.Broadcast(ctx, &types.Envelope{
		SourceNode:      n.nodeID,
		Topic:           pub.TopicName,
		Payload:         pub.Payload,
		QoS:             pub.QoS,
		Retain:          pub.Retain,
		ExcludeClientID: senderClientID,
	}); err != nil {
		n.log.Warn("failed to broadcast publish across cluster", "topic", pub.TopicName, "error", err)
	}

	n.sink.Deliver(ctx, pub.TopicName, pub.Payload, pub.QoS, pub.Retain)
}

func (n *Node) senderUsername(clientID string) string {
	n.clientsMu.RLock()
	defer n.clientsMu.RUnlock()
	if c, ok := n.clients[clientID]; ok {
		return c.username
	}
	return ""
}

// localFanout delivers pub to every subscriber matched by this node's
// subtree, skipping excludeClientID.
func (n *Node) localFanout(ctx context.Context, pub *packet.Publish, excludeClientID string) {
	for _, sub := range n.subtree.Match(pub.TopicName) {
		if sub.ClientID == excludeClientID {
			continue
		}
		n.deliverToSubscriber(ctx, sub, pub)
	}
}

func (n *Node) deliverToSubscriber(ctx context.Context, sub *subtree.Subscriber, pub *packet.Publish) {
	deliverQoS := pub.QoS
	if sub.QoS < deliverQoS {
		deliverQoS = sub.QoS
	}
	out := &packet.Publish{
		TopicName: pub.TopicName,
		Payload:   pub.Payload,
		QoS:       deliverQoS,
		Retain:    pub.Retain,
	}

	n.clientsMu.RLock()
	c, local := n.clients[sub.ClientID]
	n.clientsMu.RUnlock()

	if local {
		n.sendLocal(c, out)
		return
	}

	nodeID, err := n.sessions.GetClientNode(ctx, sub.ClientID)
	if err != nil || nodeID == "" || nodeID == n.nodeID {
		return // offline: no durable offline queue, message is dropped
	}

	if err := n.cluster.Router.SendToNode(ctx, nodeID, &types.Envelope{
		SourceNode: n.nodeID,
		Topic:      out.TopicName,
		Payload:    out.Payload,
		QoS:        out.QoS,
		Retain:     out.Retain,
		ClientID:   sub.ClientID,
	}); err != nil {
		n.log.Warn("failed to forward publish to owning node", "client_id", sub.ClientID, "node_id", nodeID, "error", err)
	}
}

// sendLocal delivers out to a locally connected client, allocating and
// tracking a packet id for QoS > 0.
func (n *Node) sendLocal(c *Conn, out *packet.Publish) {
	if out.QoS > packet.QoS0 && c.session != nil {
		out.PacketID = c.session.NextMessageID()
		msg := &session.PendingMessage{
			MessageID: out.PacketID,
			Topic:     out.TopicName,
			Payload:   out.Payload,
			QoS:       out.QoS,
			SentAt:    time.Now(),
		}
		if out.QoS == packet.QoS2 {
			c.session.TrackQoS2(msg)
		} else {
			c.session.TrackQoS1(msg)
		}
	}
	c.Send(out)
}

// handleClusterEnvelope is registered with the cluster router's
// OnMessage callback. A unicast envelope (ClientID set) is delivered
// to exactly that local client; a broadcast envelope is re-matched
// against this node's own subtree, exactly as if it had been published
// locally, excluding whatever clientId the source node marked.
func (n *Node) handleClusterEnvelope(env *types.Envelope) {
	pub := &packet.Publish{TopicName: env.Topic, Payload: env.Payload, QoS: env.QoS, Retain: env.Retain}
	ctx := context.Background()

	if env.ClientID != "" {
		n.clientsMu.RLock()
		c, ok := n.clients[env.ClientID]
		n.clientsMu.RUnlock()
		if ok {
			n.sendLocal(c, pub)
		}
		return
	}

	n.localFanout(ctx, pub, env.ExcludeClientID)
}

// handleClusterEviction is registered with the cluster router's
// OnEviction callback: if clientID is connected to this node, its
// connection is closed so the new owner's takeover can proceed.
func (n *Node) handleClusterEviction(clientID, reason string) {
	n.DisconnectClient(clientID, reason)
}

// DisconnectClient closes clientID's connection if it is local to this
// node. Used both by cluster eviction commands and by a session store's
// administrative ForceDisconnect.
func (n *Node) DisconnectClient(clientID, reason string) {
	n.clientsMu.RLock()
	c, ok := n.clients[clientID]
	n.clientsMu.RUnlock()
	if ok {
		n.log.Info("disconnecting local connection", "client_id", clientID, "reason", reason)
		c.Close()
	}
}
