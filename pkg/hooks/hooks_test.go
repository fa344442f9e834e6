package hooks

import (
	"context"
	"testing"

	"github.com/bromq-dev/broker/pkg/packet"
)

func TestAllowAllPermitsEverything(t *testing.T) {
	var p PermissionProvider = AllowAll{}
	ctx := context.Background()

	if !p.CanConnect(ctx, "c1", "u1", "pw") {
		t.Error("expected connect to be allowed")
	}
	if !p.CanSubscribe(ctx, "c1", "u1", "a/b") {
		t.Error("expected subscribe to be allowed")
	}
	if !p.CanPublish(ctx, "c1", "u1", "a/b") {
		t.Error("expected publish to be allowed")
	}
}

func TestNoopDiscardsWithoutPanicking(t *testing.T) {
	var s Sink = Noop{}
	s.Deliver(context.Background(), "a/b", []byte("x"), packet.QoS1, false)
}
