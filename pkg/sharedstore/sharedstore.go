// Package sharedstore wraps the shared key-value and publish/subscribe
// service used to coordinate a cluster of broker nodes: session ownership,
// subscription rehydration, retained-message cache coherence, cluster
// routing, and node membership all read and write through this package.
//
// Every key lives under the "dynamq:" prefix; the key-building and
// channel-naming methods here are the single place that layout is defined.
package sharedstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is prepended to every key this package builds.
const KeyPrefix = "dynamq:"

// Channel names for the cluster's publish/subscribe traffic.
const (
	ChannelClusterPublish    = KeyPrefix + "cluster:publish"
	ChannelClusterKick       = KeyPrefix + "cluster:kick"
	ChannelRetainSync        = KeyPrefix + "retain:sync"
	ChannelSubscriptionsSync = KeyPrefix + "subscriptions:channel"
	ChannelRoutesSync        = KeyPrefix + "routes:sync"
)

// Store wraps a Redis-compatible client with the broker's key layout and
// TTL conventions. It is safe for concurrent use.
type Store struct {
	client redis.UniversalClient
	nodeID string
}

// Config configures a Store.
type Config struct {
	// Addr is the shared-store server address (default "localhost:6379").
	Addr string

	// Addrs lists addresses for cluster mode.
	Addrs []string

	// Password authenticates against the shared store, if required.
	Password string

	// DB selects the database number. Ignored in cluster mode.
	DB int

	// NodeID identifies this broker node; required for any per-node key
	// or channel (NodeKey, NodeChannel, eviction).
	NodeID string

	// Client allows supplying a pre-configured client (e.g. one backed by
	// miniredis in tests). If set, Addr/Addrs/Password/DB are ignored.
	Client redis.UniversalClient
}

// New connects to the shared store described by cfg.
func New(cfg Config) (*Store, error) {
	client := cfg.Client
	if client == nil {
		switch {
		case len(cfg.Addrs) > 0:
			client = redis.NewClusterClient(&redis.ClusterOptions{
				Addrs:    cfg.Addrs,
				Password: cfg.Password,
			})
		default:
			addr := cfg.Addr
			if addr == "" {
				addr = "localhost:6379"
			}
			client = redis.NewClient(&redis.Options{
				Addr:     addr,
				Password: cfg.Password,
				DB:       cfg.DB,
			})
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sharedstore: connect: %w", err)
	}

	return &Store{client: client, nodeID: cfg.NodeID}, nil
}

// NodeID returns the node identifier this Store was configured with.
func (s *Store) NodeID() string { return s.nodeID }

// Client exposes the underlying Redis-compatible client for callers that
// need pipelining or commands this wrapper does not expose directly.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Close releases the underlying client's connections.
func (s *Store) Close() error { return s.client.Close() }

// ----------------------------------------------------------------------
// Key layout
// ----------------------------------------------------------------------

// SessionKey is where a serialized ClientSession lives.
func (s *Store) SessionKey(clientID string) string {
	return KeyPrefix + "session:" + clientID
}

// ConnectionKey maps a clientId to its owning node id.
func (s *Store) ConnectionKey(clientID string) string {
	return KeyPrefix + "connection:" + clientID
}

// SubscriptionsKey holds a client's serialized filter->qos map.
func (s *Store) SubscriptionsKey(clientID string) string {
	return KeyPrefix + "subscriptions:" + clientID
}

// RetainKey holds a serialized RetainedMessage for an exact topic.
func (s *Store) RetainKey(topic string) string {
	return KeyPrefix + "retain:" + topic
}

// NodeKey holds a node's last heartbeat timestamp.
func (s *Store) NodeKey(nodeID string) string {
	return KeyPrefix + "node:" + nodeID
}

// NodeMetricsKey holds a node's memory snapshot.
func (s *Store) NodeMetricsKey(nodeID string) string {
	return KeyPrefix + "node:metrics:" + nodeID
}

// NodesActiveKey is the set of currently active node ids.
func (s *Store) NodesActiveKey() string {
	return KeyPrefix + "nodes:active"
}

// ACLRulesKey names the key for the serialized permission rule list.
// Nothing in this module reads or writes it.
func (s *Store) ACLRulesKey() string {
	return KeyPrefix + "acl:rules"
}

// RoutesKey holds the data-routing config hash (consumed by the optional
// external sink, not interpreted by the core).
func (s *Store) RoutesKey() string {
	return KeyPrefix + "routes"
}

// MetricKey holds an integer counter for the named metric.
func (s *Store) MetricKey(name string) string {
	return KeyPrefix + "metrics:" + name
}

// ClusterStartTimeKey holds the epoch-millis time the cluster first came
// up, set with SETNX so only the first node to start writes it.
func (s *Store) ClusterStartTimeKey() string {
	return KeyPrefix + "cluster:start-time"
}

// NodeChannel is the per-node unicast pub/sub channel a node subscribes to
// for targeted deliveries addressed to clients it owns.
func NodeChannel(nodeID string) string {
	return KeyPrefix + "node:" + nodeID
}

// ----------------------------------------------------------------------
// Generic KV helpers
// ----------------------------------------------------------------------

// Get returns the raw value for key, or redis.Nil if absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.client.Get(ctx, key).Bytes()
}

// Set stores value for key with no expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

// SetEx stores value for key with the given TTL. ttl <= 0 means no expiry.
func (s *Store) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// SetNX stores value for key only if it does not already exist.
func (s *Store) SetNX(ctx context.Context, key string, value []byte) (bool, error) {
	return s.client.SetNX(ctx, key, value, 0).Result()
}

// Expire refreshes a key's TTL.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

// Del removes one or more keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// SAdd adds members to a set key.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return s.client.SAdd(ctx, key, members).Err()
}

// SRem removes members from a set key.
func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	return s.client.SRem(ctx, key, members).Err()
}

// SMembers returns every member of a set key.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

// Keys returns every key matching pattern. Intended for the bounded,
// infrequent wildcard scans behind shared-store retained-filter lookups;
// not for hot-path use.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.client.Keys(ctx, pattern).Result()
}

// MGet fetches several keys at once, skipping any that are missing.
func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err == nil {
			out[keys[i]] = data
		}
	}
	return out, nil
}

// Publish emits a message on a pub/sub channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Listen subscribes to channel and invokes handler for every message
// received until ctx is cancelled. It waits for the server to confirm the
// subscription, then runs the receive loop in its own goroutine and
// returns.
func (s *Store) Listen(ctx context.Context, channel string, handler func(payload []byte)) {
	pubsub := s.client.Subscribe(ctx, channel)
	_, _ = pubsub.Receive(ctx)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
}
