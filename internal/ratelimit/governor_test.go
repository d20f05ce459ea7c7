package ratelimit

import (
	"context"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestGovernor() (*Governor, *fakeClock, *MemoryStore) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	return NewGovernor(store, WithClock(clock.Now)), clock, store
}

func TestGovernor_FixedWindow(t *testing.T) {
	g, clock, _ := newTestGovernor()
	cfg := Config{Window: 60 * time.Second, MaxRequests: 2}

	first := g.Check("ip1", cfg)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, clock.Now().Add(60*time.Second), first.ResetAt)

	second := g.Check("ip1", cfg)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	clock.Advance(15 * time.Second)
	third := g.Check("ip1", cfg)
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.Equal(t, first.ResetAt, third.ResetAt)
	assert.Equal(t, 45*time.Second, third.RetryAfter)
	assert.Equal(t, "Rate limit exceeded. Try again in 45 seconds.", third.Error)

	clock.Advance(45 * time.Second)
	fourth := g.Check("ip1", cfg)
	assert.True(t, fourth.Allowed)
	assert.Equal(t, 1, fourth.Remaining)
}

func TestGovernor_RejectionDoesNotExtendWindow(t *testing.T) {
	g, clock, _ := newTestGovernor()
	cfg := Config{Window: 10 * time.Second, MaxRequests: 1}

	first := g.Check("ip1", cfg)
	require.True(t, first.Allowed)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		res := g.Check("ip1", cfg)
		assert.False(t, res.Allowed)
		assert.Equal(t, first.ResetAt, res.ResetAt)
	}
}

func TestGovernor_IdentifiersAreIndependent(t *testing.T) {
	g, _, _ := newTestGovernor()
	cfg := Config{Window: time.Minute, MaxRequests: 1}

	assert.True(t, g.Check("ip1", cfg).Allowed)
	assert.False(t, g.Check("ip1", cfg).Allowed)
	assert.True(t, g.Check("ip2", cfg).Allowed)
}

func TestGovernor_ZeroMaxRejectsEverything(t *testing.T) {
	g, _, _ := newTestGovernor()

	res := g.Check("ip1", Config{Window: time.Minute, MaxRequests: 0})
	assert.False(t, res.Allowed)
	assert.NotEmpty(t, res.Error)
}

func TestGovernor_InvalidConfig(t *testing.T) {
	g, _, _ := newTestGovernor()

	res := g.Check("ip1", Config{Window: 0, MaxRequests: 5})
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Error, "window")

	res = g.Check("ip1", Config{Window: time.Second, MaxRequests: -1})
	assert.False(t, res.Allowed)
}

func TestGovernor_SweepsExpiredEntries(t *testing.T) {
	g, clock, store := newTestGovernor()
	cfg := Config{Window: 10 * time.Second, MaxRequests: 5}

	g.Check("ip1", cfg)
	g.Check("ip2", cfg)
	require.Equal(t, 2, store.Len())

	clock.Advance(10 * time.Second)
	g.Check("ip3", cfg)
	assert.Equal(t, 1, store.Len())

	clock.Advance(10 * time.Second)
	require.NoError(t, g.ProcessJobs(context.Background()))
	assert.Equal(t, 0, store.Len())
}

func TestGovernor_ConcurrentChecksNeverExceedMax(t *testing.T) {
	g, _, _ := newTestGovernor()
	cfg := Config{Window: time.Minute, MaxRequests: 25}

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Check("shared", cfg).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), allowed.Load())
}

func TestChatPreset(t *testing.T) {
	assert.Equal(t, ChatDevelopment, ChatPreset(true, 0, 0))
	assert.Equal(t, ChatProduction, ChatPreset(false, 0, 0))

	custom := ChatPreset(false, 30*time.Second, 9)
	assert.Equal(t, 30*time.Second, custom.Window)
	assert.Equal(t, 9, custom.MaxRequests)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, RetryAfterSeconds(1100*time.Millisecond))
	assert.Equal(t, 60, RetryAfterSeconds(60*time.Second))
}

func TestClientIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:1234", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"unknown", nil, "", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/chat", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIdentifier(req))
		})
	}
}

func TestGovernor_SweepReportsTrackedGauge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_tracked"})
	g := NewGovernor(NewMemoryStore(), WithClock(clock.Now), WithTrackedGauge(gauge))
	cfg := Config{Window: time.Minute, MaxRequests: 3}

	g.Check("a", cfg)
	g.Check("b", cfg)
	require.NoError(t, g.Sweep(context.Background()))
	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))

	clock.Advance(time.Minute)
	require.NoError(t, g.Sweep(context.Background()))
	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))
}
