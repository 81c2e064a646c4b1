// Package ratelimit implements the token-bucket rate limiter from spec
// §4.6: a named, process-wide table of buckets, each with a bounded FIFO
// overflow queue and a four-level pressure classification. The package doc
// style and the "name -> handle" table follow the teacher's Redis-backed
// rate limiter; the algorithm itself is redesigned to be entirely
// in-process per the spec (the core's rate limiting decision must not
// depend on a network round trip to take effect).
package ratelimit

import (
	"log"
	"sync"
	"time"

	"github.com/driftmark/wsclient/internal/telemetry"
)

// Pressure is the discrete queue-fill classification from spec §4.6.
type Pressure int

const (
	PressureNone Pressure = iota
	PressureLow
	PressureMedium
	PressureHigh
)

// String renders the pressure level the way it appears in telemetry
// metadata.
func (p Pressure) String() string {
	switch p {
	case PressureNone:
		return "none"
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	default:
		return "unknown"
	}
}

// CostFunc computes the token cost of a request tag. Callers supply this to
// support credit-based, weight-based, or uniform cost tables per venue.
type CostFunc func(tag string) int

// Config configures a single named bucket.
type Config struct {
	Capacity       int
	RefillAmount   int
	RefillInterval time.Duration
	MaxQueueSize   int
	Cost           CostFunc
	Emitter        telemetry.Emitter
}

// Result is the outcome of a Consume call.
type Result int

const (
	ResultOk Result = iota
	ResultRateLimited
	ResultQueueFull
)

type queuedRequest struct {
	tag  string
	cost int
}

// Limiter is a single named token bucket with its overflow queue.
type Limiter struct {
	name string
	cfg  Config

	mu               sync.Mutex
	tokens           int
	queue            []queuedRequest
	previousPressure Pressure

	stopRefill chan struct{}
	refillOnce sync.Once
}

var (
	tableMu sync.Mutex
	table   = map[string]*Limiter{}
)

// Init creates (or returns, if already present) the named bucket and starts
// its background refill ticker. Double-Init under the same name returns the
// existing handle rather than resetting its state — the table is
// process-wide and intentionally long-lived (spec §4.6 "Resource
// discipline").
func Init(name string, cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.Cost == nil {
		cfg.Cost = func(string) int { return 1 }
	}
	if cfg.Emitter == nil {
		cfg.Emitter = telemetry.Noop
	}

	tableMu.Lock()
	defer tableMu.Unlock()

	if existing, ok := table[name]; ok {
		return existing
	}

	l := &Limiter{
		name:       name,
		cfg:        cfg,
		tokens:     cfg.Capacity,
		stopRefill: make(chan struct{}),
	}
	table[name] = l

	if cfg.RefillInterval > 0 {
		go l.refillLoop()
	}
	return l
}

// Lookup returns the named bucket if it exists.
func Lookup(name string) (*Limiter, bool) {
	tableMu.Lock()
	defer tableMu.Unlock()
	l, ok := table[name]
	return l, ok
}

func (l *Limiter) refillLoop() {
	ticker := time.NewTicker(l.cfg.RefillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopRefill:
			return
		case <-ticker.C:
			l.Refill()
		}
	}
}

// Consume attempts to subtract the request's cost from the bucket. If the
// result would be negative, the cost is not charged and the request is
// enqueued on the bounded FIFO queue instead; if the queue is full, Consume
// returns ResultQueueFull and the request is dropped.
func (l *Limiter) Consume(tag string) Result {
	cost := l.cfg.Cost(tag)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tokens-cost >= 0 {
		l.tokens -= cost
		l.cfg.Emitter.Emit(telemetry.Event{
			Name:     "rate_limiter.consume",
			Metadata: map[string]string{"name": l.name},
			At:       time.Now(),
		})
		return ResultOk
	}

	if len(l.queue) >= l.cfg.MaxQueueSize {
		l.cfg.Emitter.Emit(telemetry.Event{
			Name:     "rate_limiter.queue_full",
			Metadata: map[string]string{"name": l.name},
			At:       time.Now(),
		})
		return ResultQueueFull
	}

	l.queue = append(l.queue, queuedRequest{tag: tag, cost: cost})
	l.cfg.Emitter.Emit(telemetry.Event{
		Name:     "rate_limiter.queue",
		Metadata: map[string]string{"name": l.name},
		At:       time.Now(),
	})
	l.updatePressureLocked()
	return ResultRateLimited
}

// Refill adds refill_amount tokens, clamped at capacity, then drains as much
// of the queue as current tokens allow. Per spec §9's resolved Open
// Question, refill NEVER raises tokens above capacity.
func (l *Limiter) Refill() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens += l.cfg.RefillAmount
	if l.tokens > l.cfg.Capacity {
		l.tokens = l.cfg.Capacity
	}

	for len(l.queue) > 0 && l.queue[0].cost <= l.tokens {
		head := l.queue[0]
		l.queue = l.queue[1:]
		l.tokens -= head.cost
	}

	l.cfg.Emitter.Emit(telemetry.Event{
		Name:     "rate_limiter.refill",
		Metadata: map[string]string{"name": l.name},
		At:       time.Now(),
	})
	l.updatePressureLocked()
}

// pressureFor maps queue-fill ratio to a Pressure level per spec §4.6:
// none/low/medium/high at 0/0.25/0.50/0.75.
func pressureFor(ratio float64) Pressure {
	switch {
	case ratio >= 0.75:
		return PressureHigh
	case ratio >= 0.50:
		return PressureMedium
	case ratio >= 0.25:
		return PressureLow
	default:
		return PressureNone
	}
}

// updatePressureLocked recomputes the pressure level and emits
// rate_limiter.pressure exactly once per threshold crossing. Caller must
// hold l.mu.
func (l *Limiter) updatePressureLocked() {
	if l.cfg.MaxQueueSize <= 0 {
		return
	}
	ratio := float64(len(l.queue)) / float64(l.cfg.MaxQueueSize)
	level := pressureFor(ratio)
	if level == l.previousPressure {
		return
	}
	previous := l.previousPressure
	l.previousPressure = level
	l.cfg.Emitter.Emit(telemetry.Event{
		Name:         "rate_limiter.pressure",
		Measurements: map[string]float64{"queue_size": float64(len(l.queue)), "ratio": ratio},
		Metadata: map[string]string{
			"name":           l.name,
			"level":          level.String(),
			"previous_level": previous.String(),
		},
		At: time.Now(),
	})
}

// Status is the snapshot returned by Status().
type Status struct {
	Tokens           int
	QueueSize        int
	PressureLevel    Pressure
	SuggestedDelayMs int
}

// Status returns the current bucket state and a suggested client-side
// backoff delay derived from the pressure level (spec §4.6).
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	intervalMs := int(l.cfg.RefillInterval / time.Millisecond)
	var delay int
	switch l.previousPressure {
	case PressureNone:
		delay = 0
	case PressureLow:
		delay = intervalMs
	case PressureMedium:
		delay = 2 * intervalMs
	case PressureHigh:
		delay = 4 * intervalMs
	}

	return Status{
		Tokens:           l.tokens,
		QueueSize:        len(l.queue),
		PressureLevel:    l.previousPressure,
		SuggestedDelayMs: delay,
	}
}

// Shutdown stops the refill loop and removes the bucket from the
// process-wide table. It is idempotent: a second Shutdown on an
// already-removed name is a no-op.
func Shutdown(name string) {
	tableMu.Lock()
	l, ok := table[name]
	if ok {
		delete(table, name)
	}
	tableMu.Unlock()

	if !ok {
		return
	}
	l.refillOnce.Do(func() {
		close(l.stopRefill)
	})
	log.Printf("ratelimit: shutdown %q", l.name)
}
