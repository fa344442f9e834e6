package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/sharedstore"
)

// connectionTTLMultiple is the multiplier applied to a session's keep-alive
// to derive the connection-ownership record's TTL.
const connectionTTLMultiple = 2

// defaultConnectionTTL is used when a session has no keep-alive configured.
const defaultConnectionTTL = 60 * time.Second

// wireSession is the JSON shape persisted under dynamq:session:{clientId}.
type wireSession struct {
	ClientID         string          `json:"client_id"`
	CleanSession     bool            `json:"clean_session"`
	KeepAliveSeconds uint16          `json:"keep_alive"`
	ConnectedAt      json.RawMessage `json:"connected_at"`
	LastActivityAt   int64           `json:"last_activity_at"`
	Username         string          `json:"username,omitempty"`
	WillTopic        string          `json:"will_topic,omitempty"`
	WillPayload      []byte          `json:"will_payload,omitempty"`
	WillQoS          byte            `json:"will_qos,omitempty"`
	WillRetain       bool            `json:"will_retain,omitempty"`
}

// Shared is a shared-store-backed session Manager. It persists a session
// record and a separate, short-TTL connection-ownership record, and
// keeps a per-node read-through cache (embedded Local) to
// accelerate GetSession.
type Shared struct {
	store  *sharedstore.Store
	nodeID string
	cache  *Local

	mu sync.RWMutex
}

// NewShared creates a Shared session manager. onEvict is invoked by
// ForceDisconnect when the connection-ownership record names this node.
func NewShared(store *sharedstore.Store, onEvict func(clientID string)) *Shared {
	return &Shared{
		store:  store,
		nodeID: store.NodeID(),
		cache:  NewLocal(onEvict),
	}
}

// CreateSession implements Manager.
func (s *Shared) CreateSession(ctx context.Context, clientID string, cleanSession bool) (*Session, error) {
	if cleanSession {
		if err := s.RemoveSession(ctx, clientID, true); err != nil {
			return nil, err
		}
		sess := New(clientID, true)
		return sess, s.persist(ctx, sess)
	}

	existing, err := s.GetSession(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	sess := New(clientID, false)
	return sess, s.persist(ctx, sess)
}

// GetSession implements Manager.
func (s *Shared) GetSession(ctx context.Context, clientID string) (*Session, error) {
	if cached, _ := s.cache.GetSession(ctx, clientID); cached != nil {
		return cached, nil
	}

	data, err := s.store.Get(ctx, s.store.SessionKey(clientID))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sess, err := decodeSession(data)
	if err != nil {
		return nil, err
	}

	if subs, err := s.loadSubscriptions(ctx, clientID); err == nil {
		sess.ReplaceSubscriptions(subs)
	}

	s.cache.UpdateSession(ctx, sess)
	return sess, nil
}

// UpdateSession implements Manager.
func (s *Shared) UpdateSession(ctx context.Context, sess *Session) error {
	if err := s.persist(ctx, sess); err != nil {
		return err
	}
	return s.refreshConnection(ctx, sess)
}

func (s *Shared) persist(ctx context.Context, sess *Session) error {
	data, err := encodeSession(sess)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.store.SessionKey(sess.ClientID), data); err != nil {
		return err
	}

	subsData, err := json.Marshal(sess.Subscriptions())
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, s.store.SubscriptionsKey(sess.ClientID), subsData); err != nil {
		return err
	}

	s.cache.UpdateSession(ctx, sess)
	return nil
}

func (s *Shared) refreshConnection(ctx context.Context, sess *Session) error {
	if !sess.Connected() {
		return nil
	}
	ttl := defaultConnectionTTL
	if sess.KeepAliveSeconds > 0 {
		ttl = time.Duration(sess.KeepAliveSeconds) * connectionTTLMultiple * time.Second
	}
	return s.store.SetEx(ctx, s.store.ConnectionKey(sess.ClientID), []byte(s.nodeID), ttl)
}

func (s *Shared) loadSubscriptions(ctx context.Context, clientID string) (map[string]packet.QoS, error) {
	data, err := s.store.Get(ctx, s.store.SubscriptionsKey(clientID))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var raw map[string]byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]packet.QoS, len(raw))
	for f, q := range raw {
		out[f] = packet.QoS(q)
	}
	return out, nil
}

// RemoveSession implements Manager.
func (s *Shared) RemoveSession(ctx context.Context, clientID string, permanent bool) error {
	s.cache.RemoveSession(ctx, clientID, permanent)

	keys := []string{s.store.SessionKey(clientID), s.store.SubscriptionsKey(clientID)}
	if permanent {
		keys = append(keys, s.store.ConnectionKey(clientID))
	}
	return s.store.Del(ctx, keys...)
}

// IsClientConnected implements Manager.
func (s *Shared) IsClientConnected(ctx context.Context, clientID string) (bool, error) {
	node, err := s.GetClientNode(ctx, clientID)
	if err != nil {
		return false, err
	}
	return node != "", nil
}

// GetClientNode implements Manager.
func (s *Shared) GetClientNode(ctx context.Context, clientID string) (string, error) {
	data, err := s.store.Get(ctx, s.store.ConnectionKey(clientID))
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ForceDisconnect implements Manager.
func (s *Shared) ForceDisconnect(ctx context.Context, clientID string) error {
	node, err := s.GetClientNode(ctx, clientID)
	if err != nil {
		return err
	}
	if node != s.nodeID {
		return nil
	}
	return s.cache.ForceDisconnect(ctx, clientID)
}

// GetSessionCount implements Manager. It scans the session-key namespace,
// the same bounded-cost wildcard enumeration the shared retained store
// uses for getMatching.
func (s *Shared) GetSessionCount(ctx context.Context) (int, error) {
	keys, err := s.store.Keys(ctx, s.store.SessionKey("*"))
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func encodeSession(sess *Session) ([]byte, error) {
	wire := wireSession{
		ClientID:         sess.ClientID,
		CleanSession:     sess.CleanSession,
		KeepAliveSeconds: sess.KeepAliveSeconds,
		ConnectedAt:      json.RawMessage(fmt.Sprintf("%d", sess.ConnectedAt())),
		LastActivityAt:   sess.LastActivityAt(),
		Username:         sess.Username,
	}
	if sess.Will != nil {
		wire.WillTopic = sess.Will.Topic
		wire.WillPayload = sess.Will.Payload
		wire.WillQoS = byte(sess.Will.QoS)
		wire.WillRetain = sess.Will.Retain
	}
	return json.Marshal(wire)
}

func decodeSession(data []byte) (*Session, error) {
	var wire wireSession
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}

	sess := New(wire.ClientID, wire.CleanSession)
	sess.KeepAliveSeconds = wire.KeepAliveSeconds
	sess.Username = wire.Username
	sess.lastActivityAt = wire.LastActivityAt

	if millis, err := decodeJacksonTimestamp(wire.ConnectedAt); err == nil {
		sess.connectedAt = millis
	}

	if wire.WillTopic != "" {
		sess.Will = &packet.Will{
			Topic:   wire.WillTopic,
			Payload: wire.WillPayload,
			QoS:     packet.QoS(wire.WillQoS),
			Retain:  wire.WillRetain,
		}
	}

	return sess, nil
}

// decodeJacksonTimestamp accepts the three shapes a connectedAt field
// has historically been written in: an epoch-seconds
// object `{"epochSecond":N,...}`, a bare number (treated as epoch millis,
// or as epoch seconds if it is small enough to only make sense that way),
// or an RFC3339 string. It always returns epoch milliseconds.
func decodeJacksonTimestamp(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("session: empty timestamp")
	}

	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var obj struct {
			EpochSecond int64 `json:"epochSecond"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return 0, err
		}
		return obj.EpochSecond * 1000, nil

	case strings.HasPrefix(trimmed, `"`):
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		t, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil

	default:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
		// Epoch seconds fit in ~10 digits through the mid-23rd century;
		// epoch millis carry 3 more. Treat the shorter form as seconds.
		if n != 0 && n < 1_000_000_000_000 {
			return n * 1000, nil
		}
		return n, nil
	}
}
