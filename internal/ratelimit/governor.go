// Package ratelimit implements a fixed-window request throttle keyed by
// client identifier.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config is a fixed window: at most MaxRequests per Window.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// Presets used by the chat endpoint.
var (
	ChatProduction  = Config{Window: 60 * time.Second, MaxRequests: 2}
	ChatDevelopment = Config{Window: 60 * time.Second, MaxRequests: 20}
)

// ChatPreset picks the chat preset for the environment. A positive override
// replaces the request count.
func ChatPreset(development bool, window time.Duration, override int) Config {
	cfg := ChatProduction
	if development {
		cfg = ChatDevelopment
	}
	if window > 0 {
		cfg.Window = window
	}
	if override > 0 {
		cfg.MaxRequests = override
	}
	return cfg
}

func (c Config) validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.MaxRequests < 0 {
		return fmt.Errorf("rate limit max requests cannot be negative")
	}
	return nil
}

// Entry is the window state for one identifier.
type Entry struct {
	Identifier    string
	Count         int
	WindowResetAt time.Time
}

// Result is the outcome of a Check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Error      string
}

// Store holds rate-limit windows keyed by identifier.
type Store interface {
	// Update gives fn exclusive access to the identifier's entry. fn receives
	// nil when no entry exists and returns the entry to keep, or nil to remove it.
	Update(identifier string, fn func(*Entry) *Entry)
	// DeleteExpired removes every entry whose window has reset by now.
	DeleteExpired(now time.Time) int
	// Len returns the number of tracked identifiers.
	Len() int
}

// MemoryStore is a process-local Store guarded by a mutex. State is lost on
// restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Update(identifier string, fn func(*Entry) *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Entry
	if e, ok := s.entries[identifier]; ok {
		copied := *e
		current = &copied
	}

	next := fn(current)
	if next == nil {
		delete(s.entries, identifier)
		return
	}
	s.entries[identifier] = next
}

func (s *MemoryStore) DeleteExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if !now.Before(e.WindowResetAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Governor applies fixed-window limits on top of a Store.
type Governor struct {
	store   Store
	now     func() time.Time
	logger  *zap.Logger
	tracked prometheus.Gauge
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLogger sets the logger used for sweep reporting.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// WithTrackedGauge reports the number of tracked windows after each sweep.
func WithTrackedGauge(gauge prometheus.Gauge) Option {
	return func(g *Governor) { g.tracked = gauge }
}

// NewGovernor creates a Governor over store.
func NewGovernor(store Store, opts ...Option) *Governor {
	g := &Governor{
		store:  store,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check counts one request for identifier against cfg. Expired windows are
// swept first; the count and decision are made atomically in the store.
func (g *Governor) Check(identifier string, cfg Config) Result {
	if err := cfg.validate(); err != nil {
		return Result{Allowed: false, Error: err.Error()}
	}

	now := g.now()
	g.store.DeleteExpired(now)

	var res Result
	g.store.Update(identifier, func(e *Entry) *Entry {
		if e == nil || !now.Before(e.WindowResetAt) {
			e = &Entry{
				Identifier:    identifier,
				WindowResetAt: now.Add(cfg.Window),
			}
		}

		if e.Count >= cfg.MaxRequests {
			retryAfter := e.WindowResetAt.Sub(now)
			res = Result{
				Allowed:    false,
				Remaining:  0,
				ResetAt:    e.WindowResetAt,
				RetryAfter: retryAfter,
				Error:      fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", RetryAfterSeconds(retryAfter)),
			}
			return e
		}

		e.Count++
		res = Result{
			Allowed:   true,
			Remaining: cfg.MaxRequests - e.Count,
			ResetAt:   e.WindowResetAt,
		}
		return e
	})
	return res
}

// Sweep removes expired windows. It satisfies jobs.JobProcessor so it can run
// on a background worker.
func (g *Governor) Sweep(ctx context.Context) error {
	removed := g.store.DeleteExpired(g.now())
	remaining := g.store.Len()
	if g.tracked != nil {
		g.tracked.Set(float64(remaining))
	}
	if removed > 0 {
		g.logger.Debug("rate limit sweep", zap.Int("removed", removed), zap.Int("remaining", remaining))
	}
	return nil
}

// ProcessJobs runs Sweep.
func (g *Governor) ProcessJobs(ctx context.Context) error {
	return g.Sweep(ctx)
}

// RetryAfterSeconds rounds d up to whole seconds, with a minimum of one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ClientIdentifier derives the throttle key for a request: the first
// X-Forwarded-For hop, then X-Real-IP, then the peer address.
func ClientIdentifier(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
