package rpc

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := newRateLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.allow("10.0.0.1"))
	require.False(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.2"))

	now = now.Add(visitorTTL + time.Second)
	limiter.sweep()
	require.Empty(t, limiter.visitors)
}

func TestRateLimiterUnlimitedWhenRateUnset(t *testing.T) {
	limiter := newRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, limiter.allow("client"))
	}
}

func TestClientSourceIgnoresForwardingHeaders(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.RemoteAddr = "192.0.2.10:4242"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	r.Header.Set("X-Real-IP", "203.0.113.9")
	require.Equal(t, "192.0.2.10", clientSource(r))
}
