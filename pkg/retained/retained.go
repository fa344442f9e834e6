// Package retained implements the retained-message store: per-topic
// last-publication persistence with new-subscriber replay. Two
// implementations share one contract - an in-memory Local store for
// single-node deployments, and a Shared store backed by the cluster's
// shared key-value service with cache coherence across nodes.
package retained

import (
	"context"

	"github.com/bromq-dev/broker/pkg/packet"
)

// Message is a stored retained publication.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       packet.QoS
	Timestamp int64
}

// Store is the contract shared by Local and Shared.
type Store interface {
	// StoreMessage upserts a retained message, or deletes it if payload is
	// empty.
	StoreMessage(ctx context.Context, topicName string, payload []byte, qos packet.QoS, timestamp int64) error

	// Get returns the retained message for an exact topic, or nil if none.
	Get(ctx context.Context, topicName string) (*Message, error)

	// Remove deletes the retained message for an exact topic, if any.
	Remove(ctx context.Context, topicName string) error

	// GetMatching returns every stored message whose topic matches filter.
	GetMatching(ctx context.Context, filter string) ([]*Message, error)
}
