package session

import (
	"context"
	"time"
)

// DefaultRetryInterval is the default sweep period.
const DefaultRetryInterval = 10 * time.Second

// DefaultMaxRetries is the default retransmit cap before a pending message
// is discarded.
const DefaultMaxRetries = 3

// RetryScheduler periodically sweeps every Connected session's pending QoS
// 1/2 tables and retransmits anything that has sat unacknowledged past the
// retry interval, built on the same periodic-ticker idiom used
// elsewhere for heartbeats, applied to its per-connection inflight
// bookkeeping (client.go's inflightMsg) instead of being left unwired.
type RetryScheduler struct {
	interval   time.Duration
	maxRetries int

	sessions   func() []*Session
	retransmit func(sess *Session, msg *PendingMessage)
	discard    func(sess *Session, msg *PendingMessage)

	cancel context.CancelFunc
}

// NewRetryScheduler creates a scheduler. sessions enumerates the sessions
// to sweep (typically every locally Connected session); retransmit is
// called to resend a PendingMessage with its DUP flag set; discard is
// called once retryCount reaches maxRetries, just before the entry is
// dropped from its pending table.
func NewRetryScheduler(interval time.Duration, maxRetries int, sessions func() []*Session, retransmit, discard func(*Session, *PendingMessage)) *RetryScheduler {
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryScheduler{
		interval:   interval,
		maxRetries: maxRetries,
		sessions:   sessions,
		retransmit: retransmit,
		discard:    discard,
	}
}

// Start begins the sweep ticker. Stop (or cancelling ctx) ends it.
func (r *RetryScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// Stop cancels the sweep ticker.
func (r *RetryScheduler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *RetryScheduler) sweep() {
	for _, sess := range r.sessions() {
		r.sweepTable(sess, sess.PendingQoS1())
		r.sweepTable(sess, sess.PendingQoS2())
	}
}

func (r *RetryScheduler) sweepTable(sess *Session, pending []*PendingMessage) {
	now := time.Now()
	for _, msg := range pending {
		if now.Sub(msg.SentAt) < r.interval {
			continue
		}

		if msg.RetryCount >= r.maxRetries {
			if r.discard != nil {
				r.discard(sess, msg)
			}
			if msg.QoS >= 2 {
				sess.DiscardQoS2(msg.MessageID)
			} else {
				sess.DiscardQoS1(msg.MessageID)
			}
			continue
		}

		if r.retransmit != nil {
			r.retransmit(sess, msg)
		}
		sess.BumpRetry(msg.QoS, msg.MessageID)
	}
}
