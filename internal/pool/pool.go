// Package pool implements the Pool Router from spec §4.9: health-scored
// selection across a set of Connection handles, round-robin tie-breaking,
// error decay, and failover sends. It is grounded on the circuit-breaker
// accounting and atomic-counter metrics shape of
// other_examples/.../connection-pool-final and
// other_examples/.../cryptorun async-pool.go, generalized from an HTTP
// client pool into a health-scored selector over WebSocket Connections.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftmark/wsclient/internal/telemetry"
)

// Handle identifies one Connection within a pool. Callers supply their own
// identifiers (e.g. a Connection's instance id).
type Handle string

// ErrNoConnections is returned when the candidate set is empty.
var ErrNoConnections = errors.New("pool: no connections")

// Pressure mirrors ratelimit.Pressure without importing it, keeping Pool
// Router decoupled from the rate limiter package; callers translate their
// own pressure classification into this type.
type Pressure int

const (
	PressureNone Pressure = iota
	PressureLow
	PressureMedium
	PressureHigh
)

// Metrics is what MetricsSource reports for a single handle.
type Metrics struct {
	PendingRequests int
	P99Ms           int64
	Pressure        Pressure
}

// MetricsSource gathers live metrics for a handle. Implementations should
// respect ctx's deadline; Gather is called with a short bounded timeout
// (Config.GatherTimeout, default 100ms per spec §4.9).
type MetricsSource interface {
	Gather(ctx context.Context, h Handle) (Metrics, error)
}

// ErrorStore records and decays per-handle error counts. The in-process
// implementation below satisfies this; RedisErrorStore (redis.go) is the
// optional cross-process variant.
type ErrorStore interface {
	RecordError(h Handle)
	ClearErrors(h Handle)
	RecentErrorCount(h Handle, decay time.Duration) int
}

// memoryErrorStore is the default in-process ErrorStore: a map of
// monotonic timestamps per handle, pruned on read.
type memoryErrorStore struct {
	mu     sync.Mutex
	errors map[Handle][]time.Time
}

// NewMemoryErrorStore builds the default in-process ErrorStore.
func NewMemoryErrorStore() ErrorStore {
	return &memoryErrorStore{errors: make(map[Handle][]time.Time)}
}

func (s *memoryErrorStore) RecordError(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[h] = append(s.errors[h], time.Now())
}

func (s *memoryErrorStore) ClearErrors(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errors, h)
}

func (s *memoryErrorStore) RecentErrorCount(h Handle, decay time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-decay)
	kept := s.errors[h][:0]
	for _, t := range s.errors[h] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(s.errors, h)
		return 0
	}
	s.errors[h] = kept
	return len(kept)
}

// Config tunes the Router's health formula and selection behavior.
type Config struct {
	GatherTimeout time.Duration // default 100ms
	ErrorDecay    time.Duration // default 60s
	MaxAttempts   int           // default 3, for SendBalanced
	Errors        ErrorStore    // default NewMemoryErrorStore()
	Emitter       telemetry.Emitter
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		GatherTimeout: 100 * time.Millisecond,
		ErrorDecay:    60 * time.Second,
		MaxAttempts:   3,
	}
}

// Router selects a Connection handle by health score across a candidate
// pool. It holds no reference to the handles themselves — callers pass the
// current membership on every call, matching spec §4.9's pids-as-argument
// contract.
type Router struct {
	cfg     Config
	source  MetricsSource
	rrIndex uint64 // process-wide round-robin tie-break index
}

// NewRouter builds a Router. A nil Config.Errors defaults to an in-process
// memoryErrorStore; a nil Emitter defaults to telemetry.Noop.
func NewRouter(source MetricsSource, cfg Config) *Router {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = 100 * time.Millisecond
	}
	if cfg.ErrorDecay <= 0 {
		cfg.ErrorDecay = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Errors == nil {
		cfg.Errors = NewMemoryErrorStore()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = telemetry.Noop
	}
	return &Router{cfg: cfg, source: source}
}

// RecordError stamps a failure against h.
func (r *Router) RecordError(h Handle) { r.cfg.Errors.RecordError(h) }

// ClearErrors clears h's error history.
func (r *Router) ClearErrors(h Handle) { r.cfg.Errors.ClearErrors(h) }

func pressurePenalty(p Pressure) int {
	switch p {
	case PressureLow:
		return 3
	case PressureMedium:
		return 6
	case PressureHigh:
		return 10
	default:
		return 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Health computes h's health score in [0, 100] per spec §4.9's formula. A
// gather failure (timeout or error) yields an optimistic 100, as does a
// dead handle — the caller's membership check is responsible for excluding
// handles that no longer exist.
func (r *Router) Health(h Handle) int {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.GatherTimeout)
	defer cancel()

	m, err := r.source.Gather(ctx, h)
	if err != nil {
		return 100
	}

	pendingPenalty := clamp(m.PendingRequests*10, 0, 40)
	latencyPenalty := clamp(int(m.P99Ms/25), 0, 30)
	errorPenalty := clamp(r.cfg.Errors.RecentErrorCount(h, r.cfg.ErrorDecay)*15, 0, 20)
	pressurePenaltyV := clamp(pressurePenalty(m.Pressure), 0, 10)

	score := 100 - pendingPenalty - latencyPenalty - errorPenalty - pressurePenaltyV
	return clamp(score, 0, 100)
}

// ScoredHandle pairs a handle with its computed health.
type ScoredHandle struct {
	Handle Handle
	Health int
}

// PoolHealth returns each candidate's health score (spec §4.9
// "pool_health").
func (r *Router) PoolHealth(handles []Handle) []ScoredHandle {
	out := make([]ScoredHandle, len(handles))
	for i, h := range handles {
		out[i] = ScoredHandle{Handle: h, Health: r.Health(h)}
	}
	return out
}

// Select scores every candidate and returns the maximum, breaking ties with
// a process-wide round-robin index modulo the tie count (spec §4.9).
func (r *Router) Select(handles []Handle) (Handle, error) {
	if len(handles) == 0 {
		return "", ErrNoConnections
	}

	scored := r.PoolHealth(handles)
	best := scored[0].Health
	for _, s := range scored[1:] {
		if s.Health > best {
			best = s.Health
		}
	}

	var tied []Handle
	for _, s := range scored {
		if s.Health == best {
			tied = append(tied, s.Handle)
		}
	}

	idx := atomic.AddUint64(&r.rrIndex, 1) - 1
	selected := tied[idx%uint64(len(tied))]

	r.cfg.Emitter.Emit(telemetry.Event{
		Name:         "pool.route",
		Measurements: map[string]float64{"health": float64(best), "pool_size": float64(len(handles))},
		Metadata:     map[string]string{"selected": string(selected)},
		At:           time.Now(),
	})
	avg := 0.0
	for _, s := range scored {
		avg += float64(s.Health)
	}
	avg /= float64(len(scored))
	r.cfg.Emitter.Emit(telemetry.Event{
		Name:         "pool.health",
		Measurements: map[string]float64{"pool_size": float64(len(handles)), "avg_health": avg},
		At:           time.Now(),
	})

	return selected, nil
}

// SendFunc performs the actual send against a selected handle.
type SendFunc func(h Handle) error

// DiscoveryFunc returns the current pool membership. If supplied, it
// replaces the default enumeration of pool members for SendBalanced (spec
// §4.9's extensibility hook for external registries).
type DiscoveryFunc func() []Handle

// SendBalanced selects a handle and sends, retrying on failure against up
// to Config.MaxAttempts distinct handles. Each failure records an error
// against that handle before retrying. discover, if non-nil, replaces the
// static handles slice for every attempt's membership (it may shrink over
// time as a registry observes departures).
func (r *Router) SendBalanced(handles []Handle, discover DiscoveryFunc, send SendFunc) error {
	attempted := make(map[Handle]bool)
	var lastErr error

	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		pool := handles
		if discover != nil {
			pool = discover()
		}
		var candidates []Handle
		for _, h := range pool {
			if !attempted[h] {
				candidates = append(candidates, h)
			}
		}
		if len(candidates) == 0 {
			break
		}

		selected, err := r.Select(candidates)
		if err != nil {
			return err
		}
		attempted[selected] = true

		if err := send(selected); err != nil {
			r.RecordError(selected)
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr == nil {
		return ErrNoConnections
	}
	return fmt.Errorf("pool: send_balanced exhausted attempts: %w", lastErr)
}
