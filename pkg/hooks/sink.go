package hooks

import (
	"context"

	"github.com/bromq-dev/broker/pkg/packet"
)

// Sink receives every message the broker delivers, for forwarding to an
// external event stream. The sink itself (e.g. Kafka, webhooks) is out
// of scope; Noop is the default.
type Sink interface {
	Deliver(ctx context.Context, topicName string, payload []byte, qos packet.QoS, retain bool)
}

// Noop discards everything.
type Noop struct{}

func (Noop) Deliver(ctx context.Context, topicName string, payload []byte, qos packet.QoS, retain bool) {
}

var _ Sink = Noop{}
