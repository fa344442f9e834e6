// Package session implements the client session: per-client subscription
// state, QoS 1/2 pending-message bookkeeping, and the local/shared session
// stores that back single-owner session ownership across a cluster.
package session

import (
	"sync"
	"time"

	"github.com/bromq-dev/broker/pkg/packet"
)

// PendingMessage is an outbound QoS 1 or QoS 2 message awaiting its
// terminal acknowledgement.
type PendingMessage struct {
	MessageID  uint16
	Topic      string
	Payload    []byte
	QoS        packet.QoS
	SentAt     time.Time
	RetryCount int
}

// Session is a client's MQTT session: subscriptions, will, and the two
// pending tables for in-flight QoS 1/2 outbound messages. It carries no
// transport reference; the owning connection handler records its node and
// connected state via SetConnected as it comes and goes.
type Session struct {
	mu sync.RWMutex

	ClientID         string
	CleanSession     bool
	KeepAliveSeconds uint16
	Username         string
	Will             *packet.Will

	connectedAt    int64 // epoch millis
	lastActivityAt int64 // epoch millis
	nodeID         string
	connected      bool

	subscriptions map[string]packet.QoS
	pendingQoS1   map[uint16]*PendingMessage
	pendingQoS2   map[uint16]*PendingMessage
	inboundQoS2   map[uint16]struct{}

	nextMessageID uint16
}

// New creates a fresh session for clientID.
func New(clientID string, cleanSession bool) *Session {
	return &Session{
		ClientID:      clientID,
		CleanSession:  cleanSession,
		subscriptions: make(map[string]packet.QoS),
		pendingQoS1:   make(map[uint16]*PendingMessage),
		pendingQoS2:   make(map[uint16]*PendingMessage),
		inboundQoS2:   make(map[uint16]struct{}),
		nextMessageID: 1,
	}
}

// NextMessageID allocates the next packet id, wrapping through 1..65535
// and never returning 0.
func (s *Session) NextMessageID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextMessageID
	s.nextMessageID++
	if s.nextMessageID == 0 {
		s.nextMessageID = 1
	}
	return id
}

// SetConnected records this session's owning node and connected state,
// updating connectedAt when transitioning into the connected state.
func (s *Session) SetConnected(nodeID string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodeID = nodeID
	s.connected = connected
	if connected {
		s.connectedAt = nowMillis()
	}
}

// Connected reports whether the session currently has a live connection.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// NodeID returns the node currently (or most recently) owning this session.
func (s *Session) NodeID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeID
}

// ConnectedAt returns the connect time in epoch milliseconds.
func (s *Session) ConnectedAt() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedAt
}

// Touch updates lastActivityAt to now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivityAt = nowMillis()
	s.mu.Unlock()
}

// LastActivityAt returns the last-activity time in epoch milliseconds.
func (s *Session) LastActivityAt() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}

// AddSubscription grants qos for filter, replacing any prior grant.
func (s *Session) AddSubscription(filter string, qos packet.QoS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[filter] = qos
}

// RemoveSubscription removes filter. No-op if absent.
func (s *Session) RemoveSubscription(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, filter)
}

// Subscriptions returns a copy of the current filter->qos map.
func (s *Session) Subscriptions() map[string]packet.QoS {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]packet.QoS, len(s.subscriptions))
	for f, q := range s.subscriptions {
		out[f] = q
	}
	return out
}

// ReplaceSubscriptions overwrites the subscription map wholesale, used to
// re-seed a restored session's state.
func (s *Session) ReplaceSubscriptions(subs map[string]packet.QoS) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions = make(map[string]packet.QoS, len(subs))
	for f, q := range subs {
		s.subscriptions[f] = q
	}
}

// TrackQoS1 inserts a pending outbound QoS 1 message.
func (s *Session) TrackQoS1(msg *PendingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingQoS1[msg.MessageID] = msg
}

// AckQoS1 removes the pending QoS 1 entry for messageID, on PUBACK.
func (s *Session) AckQoS1(messageID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingQoS1, messageID)
}

// TrackQoS2 inserts a pending outbound QoS 2 message.
func (s *Session) TrackQoS2(msg *PendingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingQoS2[msg.MessageID] = msg
}

// AckQoS2 removes the pending QoS 2 entry for messageID, on PUBCOMP.
func (s *Session) AckQoS2(messageID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pendingQoS2, messageID)
}

// PendingQoS1 returns a snapshot of outbound QoS 1 entries, for the retry
// scheduler's sweep.
func (s *Session) PendingQoS1() []*PendingMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PendingMessage, 0, len(s.pendingQoS1))
	for _, m := range s.pendingQoS1 {
		out = append(out, m)
	}
	return out
}

// PendingQoS2 returns a snapshot of outbound QoS 2 entries.
func (s *Session) PendingQoS2() []*PendingMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PendingMessage, 0, len(s.pendingQoS2))
	for _, m := range s.pendingQoS2 {
		out = append(out, m)
	}
	return out
}

// BumpRetry increments retryCount and refreshes sentAt for a pending entry
// in the given table (1 or 2).
func (s *Session) BumpRetry(qos packet.QoS, messageID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.pendingQoS1
	if qos == packet.QoS2 {
		table = s.pendingQoS2
	}
	if msg, ok := table[messageID]; ok {
		msg.RetryCount++
		msg.SentAt = time.Now()
	}
}

// DiscardQoS1 removes a pending QoS 1 entry after retry exhaustion.
func (s *Session) DiscardQoS1(messageID uint16) { s.AckQoS1(messageID) }

// DiscardQoS2 removes a pending QoS 2 entry after retry exhaustion.
func (s *Session) DiscardQoS2(messageID uint16) { s.AckQoS2(messageID) }

// MarkInboundQoS2 records that an inbound QoS 2 PUBLISH with messageID is
// awaiting PUBREL. Returns false if messageID was already tracked, meaning
// this PUBLISH is a duplicate that must not be fanned out again.
func (s *Session) MarkInboundQoS2(messageID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.inboundQoS2[messageID]; dup {
		return false
	}
	s.inboundQoS2[messageID] = struct{}{}
	return true
}

// ReleaseInboundQoS2 clears inbound QoS 2 tracking on PUBREL.
func (s *Session) ReleaseInboundQoS2(messageID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inboundQoS2, messageID)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
