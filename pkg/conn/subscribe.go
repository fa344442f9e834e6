package conn

import (
	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/topic"
)

const subackFailure = 0x80

func (n *Node) handleSubscribe(c *Conn, pkt *packet.Subscribe) error {
	codes := make([]byte, len(pkt.Subscriptions))
	granted := make([]packet.Subscription, 0, len(pkt.Subscriptions))

	for i, sub := range pkt.Subscriptions {
		if err := topic.ValidateFilter(sub.TopicFilter); err != nil {
			codes[i] = subackFailure
			continue
		}
		if !n.permissions.CanSubscribe(c.ctx, c.clientID, c.username, sub.TopicFilter) {
			codes[i] = subackFailure
			continue
		}

		n.subtree.Subscribe(c.clientID, sub.TopicFilter, sub.QoS)
		if c.session != nil {
			c.session.AddSubscription(sub.TopicFilter, sub.QoS)
		}
		codes[i] = byte(sub.QoS)
		granted = append(granted, packet.Subscription{TopicFilter: sub.TopicFilter, QoS: sub.QoS})
	}

	if c.session != nil {
		if err := n.sessions.UpdateSession(c.ctx, c.session); err != nil {
			n.log.Warn("failed to persist subscriptions", "client_id", c.clientID, "error", err)
		}
	}

	c.Send(packet.NewSuback(pkt.PacketID, codes))

	for _, sub := range granted {
		n.sendRetained(c, sub.TopicFilter, sub.QoS)
	}

	return nil
}

func (n *Node) handleUnsubscribe(c *Conn, pkt *packet.Unsubscribe) error {
	for _, filter := range pkt.TopicFilters {
		n.subtree.Unsubscribe(c.clientID, filter)
		if c.session != nil {
			c.session.RemoveSubscription(filter)
		}
	}

	if c.session != nil {
		if err := n.sessions.UpdateSession(c.ctx, c.session); err != nil {
			n.log.Warn("failed to persist unsubscribe", "client_id", c.clientID, "error", err)
		}
	}

	c.Send(packet.NewUnsuback(pkt.PacketID))
	return nil
}

// sendRetained replays every stored retained message matching filter
// to c, at no more than the just-granted QoS.
func (n *Node) sendRetained(c *Conn, filter string, grantedQoS packet.QoS) {
	if n.retained == nil {
		return
	}

	messages, err := n.retained.GetMatching(c.ctx, filter)
	if err != nil {
		n.log.Warn("failed to load retained messages", "filter", filter, "error", err)
		return
	}

	for _, msg := range messages {
		deliverQoS := msg.QoS
		if grantedQoS < deliverQoS {
			deliverQoS = grantedQoS
		}
		n.sendLocal(c, &packet.Publish{
			TopicName: msg.Topic,
			Payload:   msg.Payload,
			QoS:       deliverQoS,
			Retain:    true,
		})
	}
}
