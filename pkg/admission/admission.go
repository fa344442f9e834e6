// Package admission enforces the per-source-address connection cap and
// the per-client/global publish rate limits described for listener
// ingress. Built around a per-client bucket map and cleanup-ticker
// idiom, using golang.org/x/time/rate
// instead of the hand-rolled token bucket (whose refill logic never
// actually replenished tokens between ticks).
package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Limiter.
type Config struct {
	// PublishRate is the sustained publishes/sec allowed per client.
	// Zero disables per-client publish limiting.
	PublishRate float64

	// PublishBurst is the burst allowance on top of PublishRate.
	// Defaults to 2x PublishRate if zero.
	PublishBurst int

	// GlobalPublishRate is the sustained publishes/sec allowed across
	// all clients combined on this node. Zero disables it.
	GlobalPublishRate  float64
	GlobalPublishBurst int

	// MaxConnectionsPerAddr caps concurrent connections from a single
	// source address. Zero disables the cap.
	MaxConnectionsPerAddr int

	// ConnectRate is the process-wide accepted-CONNECT rate per second,
	// enforced as a token bucket. Zero disables it. DefaultConfig sets 50/s.
	ConnectRate  float64
	ConnectBurst int

	// IdleBucketTTL controls how long an idle per-client bucket is kept
	// before the sweep reclaims it. Default 5 minutes.
	IdleBucketTTL time.Duration
}

// DefaultConfig returns the admission quotas named in the connection
// admission control section: a 100-connection per-address cap and a
// 50/s process-wide connect rate.
func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerAddr: 100,
		ConnectRate:           50,
		ConnectBurst:          50,
	}
}

// Limiter enforces admission control for one broker node.
type Limiter struct {
	cfg Config

	global        *rate.Limiter
	connectGlobal *rate.Limiter

	mu       sync.Mutex
	clients  map[string]*clientBucket
	addrConn map[string]int
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a Limiter. A zero Config disables every check.
func New(cfg Config) *Limiter {
	if cfg.PublishBurst == 0 && cfg.PublishRate > 0 {
		cfg.PublishBurst = int(cfg.PublishRate * 2)
	}
	if cfg.GlobalPublishBurst == 0 && cfg.GlobalPublishRate > 0 {
		cfg.GlobalPublishBurst = int(cfg.GlobalPublishRate * 2)
	}
	if cfg.ConnectBurst == 0 && cfg.ConnectRate > 0 {
		cfg.ConnectBurst = int(cfg.ConnectRate)
	}
	if cfg.IdleBucketTTL <= 0 {
		cfg.IdleBucketTTL = 5 * time.Minute
	}

	l := &Limiter{
		cfg:      cfg,
		clients:  make(map[string]*clientBucket),
		addrConn: make(map[string]int),
	}
	if cfg.GlobalPublishRate > 0 {
		l.global = rate.NewLimiter(rate.Limit(cfg.GlobalPublishRate), cfg.GlobalPublishBurst)
	}
	if cfg.ConnectRate > 0 {
		l.connectGlobal = rate.NewLimiter(rate.Limit(cfg.ConnectRate), cfg.ConnectBurst)
	}
	return l
}

// AllowConnect reports whether a new CONNECT may be accepted under the
// process-wide connect-rate quota. Unlike AllowConnection, this has no
// paired release: the quota is a rate, not a concurrency cap.
func (l *Limiter) AllowConnect() bool {
	if l.connectGlobal == nil {
		return true
	}
	return l.connectGlobal.Allow()
}

// AllowConnection reports whether a new connection from addr is
// permitted under the per-address connection cap. Callers must pair a
// true result with a later ReleaseConnection.
func (l *Limiter) AllowConnection(addr string) bool {
	if l.cfg.MaxConnectionsPerAddr <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.addrConn[addr] >= l.cfg.MaxConnectionsPerAddr {
		return false
	}
	l.addrConn[addr]++
	return true
}

// ReleaseConnection returns a connection slot counted by a prior
// successful AllowConnection.
func (l *Limiter) ReleaseConnection(addr string) {
	if l.cfg.MaxConnectionsPerAddr <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := l.addrConn[addr]; n <= 1 {
		delete(l.addrConn, addr)
	} else {
		l.addrConn[addr] = n - 1
	}
}

// AllowPublish reports whether clientID may publish now, checking both
// its own bucket and the node-wide bucket.
func (l *Limiter) AllowPublish(clientID string) bool {
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.cfg.PublishRate <= 0 {
		return true
	}
	return l.bucketFor(clientID).Allow()
}

// Forget releases a client's per-client bucket, called on disconnect.
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
}

func (l *Limiter) bucketFor(clientID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[clientID]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.PublishRate), l.cfg.PublishBurst)}
		l.clients[clientID] = b
	}
	b.lastUsed = time.Now()
	return b.limiter
}

// Sweep reclaims buckets idle longer than IdleBucketTTL. Intended to be
// called from a periodic ticker alongside the retry/heartbeat sweeps.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for id, b := range l.clients {
		if now.Sub(b.lastUsed) > l.cfg.IdleBucketTTL {
			delete(l.clients, id)
		}
	}
}
