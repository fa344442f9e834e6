// Package membership tracks which broker nodes are alive: heartbeat
// publication, liveness detection, and join/leave events.
//
// The teacher has no standalone membership package - this logic is pulled
// out of hooks/cluster.go's registerNode/startHeartbeat/GetActiveNodes
// into its own package and generalized to emit NodeJoined/NodeLeft events
// instead of only maintaining the active-nodes set silently.
package membership

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bromq-dev/broker/pkg/sharedstore"
)

// DefaultTickInterval is the heartbeat/liveness sweep period.
const DefaultTickInterval = 5 * time.Second

// DefaultNodeTTL is the TTL on a node's heartbeat and metrics keys, chosen
// so a missed heartbeat or two is tolerated before the node is declared
// failed (roughly three missed heartbeats).
const DefaultNodeTTL = 15 * time.Second

// Snapshot is the memory snapshot written alongside a node's heartbeat.
type Snapshot struct {
	AllocBytes uint64 `json:"alloc_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// Tracker runs the periodic heartbeat-and-liveness ticker for one
// broker node.
type Tracker struct {
	store        *sharedstore.Store
	nodeID       string
	tickInterval time.Duration
	nodeTTL      time.Duration

	onJoined func(nodeID string)
	onLeft   func(nodeID string)

	mu     sync.Mutex
	known  map[string]bool
	cancel context.CancelFunc
}

// Config configures a Tracker.
type Config struct {
	TickInterval time.Duration
	NodeTTL      time.Duration

	// OnJoined is called the first time a node id other than self is
	// observed present in the active set.
	OnJoined func(nodeID string)

	// OnLeft is called when a previously-known node's heartbeat goes
	// missing.
	OnLeft func(nodeID string)
}

// New creates a Tracker for store's node.
func New(store *sharedstore.Store, cfg Config) *Tracker {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.NodeTTL <= 0 {
		cfg.NodeTTL = DefaultNodeTTL
	}
	return &Tracker{
		store:        store,
		nodeID:       store.NodeID(),
		tickInterval: cfg.TickInterval,
		nodeTTL:      cfg.NodeTTL,
		onJoined:     cfg.OnJoined,
		onLeft:       cfg.OnLeft,
		known:        make(map[string]bool),
	}
}

// Start registers this node and begins the heartbeat/liveness ticker.
func (t *Tracker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	if err := t.beat(ctx); err != nil {
		cancel()
		return err
	}

	go func() {
		ticker := time.NewTicker(t.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.beat(ctx)
				t.checkLiveness(ctx)
			}
		}
	}()

	return nil
}

// Stop cancels the ticker and removes this node's heartbeat and active-set
// membership.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.store.Del(ctx, t.store.NodeKey(t.nodeID), t.store.NodeMetricsKey(t.nodeID))
	t.store.SRem(ctx, t.store.NodesActiveKey(), t.nodeID)
}

func (t *Tracker) beat(ctx context.Context) error {
	now := time.Now().UnixMilli()
	nowBytes, err := json.Marshal(now)
	if err != nil {
		return err
	}
	if err := t.store.SetEx(ctx, t.store.NodeKey(t.nodeID), nowBytes, t.nodeTTL); err != nil {
		return err
	}

	snapshot := currentSnapshot()
	snapData, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := t.store.SetEx(ctx, t.store.NodeMetricsKey(t.nodeID), snapData, t.nodeTTL); err != nil {
		return err
	}

	return t.store.SAdd(ctx, t.store.NodesActiveKey(), t.nodeID)
}

// checkLiveness enumerates the active-nodes set and fires NodeJoined/
// NodeLeft events for ids other than self.
func (t *Tracker) checkLiveness(ctx context.Context) {
	active, err := t.store.SMembers(ctx, t.store.NodesActiveKey())
	if err != nil {
		return
	}

	present := make(map[string]bool, len(active))
	for _, id := range active {
		if id == t.nodeID {
			continue
		}
		present[id] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range present {
		if _, err := t.store.Get(ctx, t.store.NodeKey(id)); err == redis.Nil {
			// Heartbeat expired but the active-set entry is stale; the
			// !alive case of the switch below treats it as failed.
			present[id] = false
		} else if err != nil {
			// Transient read failure: leave the node's known state as-is
			// this tick rather than guessing.
			present[id] = t.known[id]
		}
	}

	for id, alive := range present {
		switch {
		case alive && !t.known[id]:
			t.known[id] = true
			if t.onJoined != nil {
				t.onJoined(id)
			}
		case !alive && t.known[id]:
			delete(t.known, id)
			t.store.SRem(ctx, t.store.NodesActiveKey(), id)
			if t.onLeft != nil {
				t.onLeft(id)
			}
		}
	}

	for id := range t.known {
		if _, stillActive := present[id]; !stillActive {
			delete(t.known, id)
			t.store.SRem(ctx, t.store.NodesActiveKey(), id)
			if t.onLeft != nil {
				t.onLeft(id)
			}
		}
	}
}

func currentSnapshot() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Snapshot{
		AllocBytes: m.Alloc,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}
