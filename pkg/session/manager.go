package session

import "context"

// Manager is the session-store contract shared by the Local and Shared
// implementations.
type Manager interface {
	// CreateSession creates a session for clientID. If cleanSession is
	// true any previously stored state is discarded and a fresh session
	// is returned; otherwise prior state is restored when present.
	CreateSession(ctx context.Context, clientID string, cleanSession bool) (*Session, error)

	// GetSession returns the stored session for clientID, or nil if none.
	GetSession(ctx context.Context, clientID string) (*Session, error)

	// UpdateSession persists the current state of sess.
	UpdateSession(ctx context.Context, sess *Session) error

	// RemoveSession deletes a session's stored state, including its
	// subscriptions. permanent also drops the connection-ownership record
	// where the implementation keeps one; a non-permanent removal leaves
	// that record to expire on its own TTL.
	RemoveSession(ctx context.Context, clientID string, permanent bool) error

	// IsClientConnected reports whether clientID currently has a live
	// owning connection anywhere in the cluster.
	IsClientConnected(ctx context.Context, clientID string) (bool, error)

	// GetClientNode returns the node id that owns clientID's connection,
	// or "" if none.
	GetClientNode(ctx context.Context, clientID string) (string, error)

	// ForceDisconnect evicts clientID's connection if it is owned by this
	// node. It is a no-op (and returns nil) if the client is owned by a
	// peer node; forwarding the eviction to that peer is the caller's
	// responsibility (see pkg/cluster's eviction channel).
	ForceDisconnect(ctx context.Context, clientID string) error

	// GetSessionCount returns the number of known sessions.
	GetSessionCount(ctx context.Context) (int, error)
}
