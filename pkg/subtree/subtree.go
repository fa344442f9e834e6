// Package subtree provides the subscription index: a trie-based structure
// for matching published topics against subscribed topic filters.
//
// Unlike a single-process broker, subscribers are keyed by clientId string
// rather than by in-memory connection pointer, so a node can rehydrate its
// index purely from strings read back out of a session store after a
// restart or failover, without needing the original connection object.
package subtree

import (
	"sync"

	"github.com/bromq-dev/broker/pkg/packet"
	"github.com/bromq-dev/broker/pkg/topic"
)

// Subscriber is one entry in the index: a client subscribed to a filter
// at a granted QoS.
type Subscriber struct {
	ClientID string
	QoS      packet.QoS
}

// Tree is a trie-based subscription index supporting MQTT wildcard
// matching (+ and #).
type Tree struct {
	mu   sync.RWMutex
	root *node

	// byClient mirrors the trie for the SubscriptionsOf lookup, keyed by
	// clientId -> topicFilter -> QoS. Kept in lockstep with the trie under
	// the same mutex rather than recomputed by walking the whole tree.
	byClient map[string]map[string]packet.QoS
}

type node struct {
	children    map[string]*node
	subscribers map[string]*Subscriber // keyed by clientId
}

func newNode() *node {
	return &node{
		children:    make(map[string]*node),
		subscribers: make(map[string]*Subscriber),
	}
}

// New creates an empty subscription index.
func New() *Tree {
	return &Tree{
		root:     newNode(),
		byClient: make(map[string]map[string]packet.QoS),
	}
}

// Subscribe adds or updates a subscription. filter must already be a
// validated topic filter (see topic.ValidateFilter); Subscribe does not
// re-validate it.
func (t *Tree) Subscribe(clientID, filter string, qos packet.QoS) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for _, level := range topic.Levels(filter) {
		child, ok := n.children[level]
		if !ok {
			child = newNode()
			n.children[level] = child
		}
		n = child
	}
	n.subscribers[clientID] = &Subscriber{ClientID: clientID, QoS: qos}

	filters, ok := t.byClient[clientID]
	if !ok {
		filters = make(map[string]packet.QoS)
		t.byClient[clientID] = filters
	}
	filters[filter] = qos
}

// Unsubscribe removes a single subscription. Returns true if a
// subscription was present and removed.
func (t *Tree) Unsubscribe(clientID, filter string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for _, level := range topic.Levels(filter) {
		child, ok := n.children[level]
		if !ok {
			return false
		}
		n = child
	}

	if _, ok := n.subscribers[clientID]; !ok {
		return false
	}
	delete(n.subscribers, clientID)

	if filters, ok := t.byClient[clientID]; ok {
		delete(filters, filter)
		if len(filters) == 0 {
			delete(t.byClient, clientID)
		}
	}
	return true
}

// UnsubscribeAll removes every subscription belonging to a client, e.g. on
// disconnect of a clean session. Unused filter branches are left in place;
// the trie only grows, it is never pruned of empty nodes, mirroring the
// teacher's trie which carries the same tradeoff.
func (t *Tree) UnsubscribeAll(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	filters, ok := t.byClient[clientID]
	if !ok {
		return
	}
	for filter := range filters {
		n := t.root
		for _, level := range topic.Levels(filter) {
			child, ok := n.children[level]
			if !ok {
				n = nil
				break
			}
			n = child
		}
		if n != nil {
			delete(n.subscribers, clientID)
		}
	}
	delete(t.byClient, clientID)
}

// Match returns every subscriber whose filter matches topicName, with each
// clientId appearing at most once even if multiple filters match (the
// highest granted QoS among matching filters wins, per MQTT 3.1.1 §3.3.5).
func (t *Tree) Match(topicName string) []*Subscriber {
	t.mu.RLock()
	defer t.mu.RUnlock()

	levels := topic.Levels(topicName)
	isSysTopic := topic.IsSysTopic(topicName)

	best := make(map[string]*Subscriber)
	t.matchRecursive(t.root, levels, 0, isSysTopic, best)

	result := make([]*Subscriber, 0, len(best))
	for _, sub := range best {
		result = append(result, sub)
	}
	return result
}

const (
	multiWildcardLevel  = string(topic.MultiWildcard)
	singleWildcardLevel = string(topic.SingleWildcard)
)

func (t *Tree) matchRecursive(n *node, levels []string, idx int, isSysTopic bool, best map[string]*Subscriber) {
	if idx == len(levels) {
		t.collect(n.subscribers, best)
		if hashNode, ok := n.children[multiWildcardLevel]; ok {
			t.collect(hashNode.subscribers, best)
		}
		return
	}

	level := levels[idx]

	if child, ok := n.children[level]; ok {
		t.matchRecursive(child, levels, idx+1, isSysTopic, best)
	}

	// System topics never match a wildcard at the first level.
	if isSysTopic && idx == 0 {
		return
	}

	if plusNode, ok := n.children[singleWildcardLevel]; ok {
		t.matchRecursive(plusNode, levels, idx+1, isSysTopic, best)
	}

	if hashNode, ok := n.children[multiWildcardLevel]; ok {
		t.collect(hashNode.subscribers, best)
	}
}

func (t *Tree) collect(subs map[string]*Subscriber, best map[string]*Subscriber) {
	for clientID, sub := range subs {
		if existing, ok := best[clientID]; !ok || sub.QoS > existing.QoS {
			best[clientID] = sub
		}
	}
}

// SubscriptionsOf returns a client's current subscriptions as
// topicFilter -> grantedQoS, suitable for re-seeding a trie on another
// node from a session restore without any live connection present.
func (t *Tree) SubscriptionsOf(clientID string) map[string]packet.QoS {
	t.mu.RLock()
	defer t.mu.RUnlock()

	filters, ok := t.byClient[clientID]
	if !ok {
		return nil
	}
	out := make(map[string]packet.QoS, len(filters))
	for f, q := range filters {
		out[f] = q
	}
	return out
}

// Count returns the total number of subscriptions held in the index.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, filters := range t.byClient {
		count += len(filters)
	}
	return count
}
