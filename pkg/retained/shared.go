package retained

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/sharedstore"
	"github.com/bromq-dev/broker/pkg/topic"
)

// wireMessage is the msgpack-encoded record stored under dynamq:retain:{topic}.
type wireMessage struct {
	Payload   []byte `msgpack:"p"`
	QoS       byte   `msgpack:"q"`
	Timestamp int64  `msgpack:"t"`
}

// syncEvent is broadcast on ChannelRetainSync whenever a node stores or
// removes a retained message, so peers can invalidate their local cache.
type syncEvent struct {
	Action     string `msgpack:"a"` // "store" or "remove"
	Topic      string `msgpack:"topic"`
	SourceNode string `msgpack:"node"`
}

// Shared is a shared-store-backed retained-message store with a
// per-process read-through cache. Every store/remove broadcasts an
// invalidation so peer nodes drop their stale cache entry instead of
// serving it; the originating node updates its own cache directly and
// ignores its own broadcast.
type Shared struct {
	store  *sharedstore.Store
	nodeID string

	cacheMu sync.RWMutex
	cache   map[string]*Message
}

// NewShared creates a Shared retained store and starts listening for
// cache-invalidation events from peer nodes. ctx governs the listener's
// lifetime.
func NewShared(ctx context.Context, store *sharedstore.Store) *Shared {
	s := &Shared{
		store:  store,
		nodeID: store.NodeID(),
		cache:  make(map[string]*Message),
	}
	store.Listen(ctx, sharedstore.ChannelRetainSync, s.handleSync)
	return s
}

func (s *Shared) handleSync(payload []byte) {
	var ev syncEvent
	if err := msgpack.Unmarshal(payload, &ev); err != nil {
		return
	}
	if ev.SourceNode == s.nodeID {
		return
	}
	s.cacheMu.Lock()
	delete(s.cache, ev.Topic)
	s.cacheMu.Unlock()
}

// StoreMessage implements Store.
func (s *Shared) StoreMessage(ctx context.Context, topicName string, payload []byte, qos packet.QoS, timestamp int64) error {
	key := s.store.RetainKey(topicName)

	if len(payload) == 0 {
		if err := s.store.Del(ctx, key); err != nil {
			return err
		}
		s.cacheMu.Lock()
		delete(s.cache, topicName)
		s.cacheMu.Unlock()
		return s.broadcast(ctx, "remove", topicName)
	}

	wire := wireMessage{Payload: payload, QoS: byte(qos), Timestamp: timestamp}
	data, err := msgpack.Marshal(wire)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, key, data); err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[topicName] = &Message{Topic: topicName, Payload: payload, QoS: qos, Timestamp: timestamp}
	s.cacheMu.Unlock()

	return s.broadcast(ctx, "store", topicName)
}

func (s *Shared) broadcast(ctx context.Context, action, topicName string) error {
	ev := syncEvent{Action: action, Topic: topicName, SourceNode: s.nodeID}
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return err
	}
	return s.store.Publish(ctx, sharedstore.ChannelRetainSync, data)
}

// Get implements Store.
func (s *Shared) Get(ctx context.Context, topicName string) (*Message, error) {
	s.cacheMu.RLock()
	if msg, ok := s.cache[topicName]; ok {
		s.cacheMu.RUnlock()
		return msg, nil
	}
	s.cacheMu.RUnlock()

	data, err := s.store.Get(ctx, s.store.RetainKey(topicName))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msg, err := decodeWire(topicName, data)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[topicName] = msg
	s.cacheMu.Unlock()

	return msg, nil
}

// Remove implements Store.
func (s *Shared) Remove(ctx context.Context, topicName string) error {
	return s.StoreMessage(ctx, topicName, nil, 0, 0)
}

// GetMatching implements Store. It enumerates every retained key in the
// shared store and filters in memory - the accepted cost of
// wildcard-filter subscription replay.
func (s *Shared) GetMatching(ctx context.Context, filter string) ([]*Message, error) {
	keys, err := s.store.Keys(ctx, s.store.RetainKey("*"))
	if err != nil {
		return nil, err
	}

	prefix := s.store.RetainKey("")
	var matchingKeys []string
	var matchingTopics []string
	for _, key := range keys {
		topicName := strings.TrimPrefix(key, prefix)
		if topic.Match(filter, topicName) {
			matchingKeys = append(matchingKeys, key)
			matchingTopics = append(matchingTopics, topicName)
		}
	}
	if len(matchingKeys) == 0 {
		return nil, nil
	}

	values, err := s.store.MGet(ctx, matchingKeys)
	if err != nil {
		return nil, err
	}

	result := make([]*Message, 0, len(matchingTopics))
	for i, key := range matchingKeys {
		data, ok := values[key]
		if !ok {
			continue
		}
		msg, err := decodeWire(matchingTopics[i], data)
		if err != nil {
			continue
		}
		s.cacheMu.Lock()
		s.cache[matchingTopics[i]] = msg
		s.cacheMu.Unlock()
		result = append(result, msg)
	}
	return result, nil
}

func decodeWire(topicName string, data []byte) (*Message, error) {
	var wire wireMessage
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	return &Message{
		Topic:     topicName,
		Payload:   wire.Payload,
		QoS:       packet.QoS(wire.QoS),
		Timestamp: wire.Timestamp,
	}, nil
}
