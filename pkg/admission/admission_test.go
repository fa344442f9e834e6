package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowConnectionEnforcesPerAddrCap(t *testing.T) {
	l := New(Config{MaxConnectionsPerAddr: 2})

	require.True(t, l.AllowConnection("1.2.3.4"))
	require.True(t, l.AllowConnection("1.2.3.4"))
	require.False(t, l.AllowConnection("1.2.3.4"))

	l.ReleaseConnection("1.2.3.4")
	require.True(t, l.AllowConnection("1.2.3.4"))
}

func TestAllowConnectionUnlimitedWhenCapZero(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.True(t, l.AllowConnection("1.2.3.4"))
	}
}

func TestAllowPublishEnforcesPerClientBurst(t *testing.T) {
	l := New(Config{PublishRate: 1, PublishBurst: 2})

	require.True(t, l.AllowPublish("c1"))
	require.True(t, l.AllowPublish("c1"))
	require.False(t, l.AllowPublish("c1"))
}

func TestAllowPublishUnlimitedWhenRateZero(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 1000; i++ {
		require.True(t, l.AllowPublish("c1"))
	}
}

func TestAllowPublishEnforcesGlobalCapAcrossClients(t *testing.T) {
	l := New(Config{GlobalPublishRate: 1, GlobalPublishBurst: 2})

	require.True(t, l.AllowPublish("a"))
	require.True(t, l.AllowPublish("b"))
	require.False(t, l.AllowPublish("c"))
}

func TestSweepReclaimsIdleBuckets(t *testing.T) {
	l := New(Config{PublishRate: 1, PublishBurst: 1, IdleBucketTTL: 10 * time.Millisecond})
	l.AllowPublish("c1")

	time.Sleep(20 * time.Millisecond)
	l.Sweep()

	l.mu.Lock()
	_, exists := l.clients["c1"]
	l.mu.Unlock()
	require.False(t, exists)
}

func TestForgetRemovesClientBucket(t *testing.T) {
	l := New(Config{PublishRate: 1, PublishBurst: 1})
	l.AllowPublish("c1")
	l.Forget("c1")

	l.mu.Lock()
	_, exists := l.clients["c1"]
	l.mu.Unlock()
	require.False(t, exists)
}

func TestAllowConnectEnforcesProcessWideRate(t *testing.T) {
	l := New(Config{ConnectRate: 1, ConnectBurst: 2})

	require.True(t, l.AllowConnect())
	require.True(t, l.AllowConnect())
	require.False(t, l.AllowConnect())
}

func TestAllowConnectUnlimitedWhenRateZero(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 1000; i++ {
		require.True(t, l.AllowConnect())
	}
}

func TestDefaultConfigMatchesAdmissionDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 100, cfg.MaxConnectionsPerAddr)
	require.Equal(t, 50.0, cfg.ConnectRate)
	require.Equal(t, 50, cfg.ConnectBurst)

	l := New(cfg)
	require.True(t, l.AllowConnection("1.2.3.4"))
	require.True(t, l.AllowConnect())
}
