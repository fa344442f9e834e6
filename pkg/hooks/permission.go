// Package hooks defines the extension points a Conn consults around
// connect, publish, and subscribe: client authentication, topic
// permissions, and a delivery sink that receives each message published
// through this node. Modeled on a Read/Write ACL rule shape, generalized into a
// provider interface since rule storage and evaluation (auth/ACL
// provider internals) are out of scope here.
package hooks

import "context"

// PermissionProvider decides whether a client may connect, subscribe to
// a filter, or publish to a topic. The zero-value AllowAll implementation
// permits everything.
type PermissionProvider interface {
	CanConnect(ctx context.Context, clientID, username, password string) bool
	CanSubscribe(ctx context.Context, clientID, username, filter string) bool
	CanPublish(ctx context.Context, clientID, username, topicName string) bool
}

// AllowAll is a PermissionProvider that imposes no restrictions.
type AllowAll struct{}

func (AllowAll) CanConnect(ctx context.Context, clientID, username, password string) bool {
	return true
}

func (AllowAll) CanSubscribe(ctx context.Context, clientID, username, filter string) bool {
	return true
}

func (AllowAll) CanPublish(ctx context.Context, clientID, username, topicName string) bool {
	return true
}

var _ PermissionProvider = AllowAll{}
