package retained

import (
	"context"
	"sync"

	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/topic"
)

// Local is an in-memory retained-message store backed by a map and a
// mutex. It is the single-node default.
type Local struct {
	mu       sync.RWMutex
	messages map[string]*Message
}

// NewLocal creates an empty Local store.
func NewLocal() *Local {
	return &Local{messages: make(map[string]*Message)}
}

// StoreMessage implements Store.
func (l *Local) StoreMessage(_ context.Context, topicName string, payload []byte, qos packet.QoS, timestamp int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(payload) == 0 {
		delete(l.messages, topicName)
		return nil
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)
	l.messages[topicName] = &Message{
		Topic:     topicName,
		Payload:   stored,
		QoS:       qos,
		Timestamp: timestamp,
	}
	return nil
}

// Get implements Store.
func (l *Local) Get(_ context.Context, topicName string) (*Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.messages[topicName], nil
}

// Remove implements Store.
func (l *Local) Remove(_ context.Context, topicName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.messages, topicName)
	return nil
}

// GetMatching implements Store.
func (l *Local) GetMatching(_ context.Context, filter string) ([]*Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*Message
	for topicName, msg := range l.messages {
		if topic.Match(filter, topicName) {
			result = append(result, msg)
		}
	}
	return result, nil
}
