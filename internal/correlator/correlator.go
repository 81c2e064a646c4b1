// Package correlator implements the Request Correlator from spec §4.3: it
// tracks in-flight JSON-RPC requests by id, arms a per-request timeout, and
// resolves or fails the caller's waiter exactly once. It follows the
// teacher's protocol.Envelope approach to peeling a discriminator (here, the
// "id" field) off a raw JSON frame before committing to further decoding.
//
// A Correlator is not safe for concurrent use: per spec §4.1 the supervisor's
// event loop is single-threaded-cooperative, so all of Track/Resolve/Timeout/
// Teardown are expected to run on that same goroutine.
package correlator

import (
	"errors"
	"fmt"
	"time"

	"github.com/driftmark/wsclient/internal/telemetry"
	"github.com/driftmark/wsclient/internal/wireproto"
)

// ErrTimeout signals a waiter when its request's timeout timer fires before
// a matching response arrives.
var ErrTimeout = errors.New("correlator: request timed out")

// ErrTeardown signals every outstanding waiter when the owning Connection
// tears down.
var ErrTeardown = errors.New("correlator: connection closed")

// Outcome is delivered on a request's waiter channel exactly once.
type Outcome struct {
	Data []byte
	Err  error
	RTT  time.Duration
}

type entry struct {
	id        wireproto.ID
	waiter    chan Outcome
	timer     *time.Timer
	startedAt time.Time
}

// Correlator is the in-flight request table for a single Connection.
type Correlator struct {
	emitter telemetry.Emitter
	entries map[string]*entry
}

// New builds an empty Correlator. A nil emitter is replaced with
// telemetry.Noop.
func New(emitter telemetry.Emitter) *Correlator {
	if emitter == nil {
		emitter = telemetry.Noop
	}
	return &Correlator{
		emitter: emitter,
		entries: make(map[string]*entry),
	}
}

// Track registers id as in-flight, arms a one-shot timer for timeout, and
// returns a channel the caller can block on for the eventual Outcome. onFire
// is invoked from the timer's own goroutine when the timeout elapses; per
// spec §4.3 it must post a correlation_timeout event back onto the
// supervisor's loop rather than calling Timeout directly, since Timeout
// itself is not safe for concurrent use.
//
// Track returns an error if id is already tracked. Per spec §4.3 this is a
// programming-error invariant: ids are minted by an internal monotonic
// counter, so a collision should never occur in practice.
func (c *Correlator) Track(id wireproto.ID, timeout time.Duration, onFire func(wireproto.ID)) (<-chan Outcome, error) {
	key := id.String()
	if _, exists := c.entries[key]; exists {
		return nil, fmt.Errorf("correlator: duplicate id %q: invariant violation", key)
	}

	e := &entry{
		id:        id,
		waiter:    make(chan Outcome, 1),
		startedAt: time.Now(),
	}
	e.timer = time.AfterFunc(timeout, func() {
		onFire(id)
	})
	c.entries[key] = e

	c.emitter.Emit(telemetry.Event{
		Name:         "request_correlator.track",
		Measurements: map[string]float64{"count": 1},
		Metadata:     map[string]string{"id": key, "timeout_ms": msString(timeout)},
		At:           time.Now(),
	})
	return e.waiter, nil
}

// Resolve matches an inbound response to its tracked id. It cancels the
// timeout timer, removes the entry, and signals the waiter with data. It
// returns ok=false if no entry is tracked under id (a late or unexpected
// response, forwarded by the caller to the generic handler instead); rtt
// is only meaningful when ok is true, letting callers append it to the
// Latency Statistics buffer (spec §4.1 step 3).
func (c *Correlator) Resolve(id wireproto.ID, data []byte) (ok bool, rtt time.Duration) {
	key := id.String()
	e, exists := c.entries[key]
	if !exists {
		return false, 0
	}
	delete(c.entries, key)
	e.timer.Stop()

	rtt = time.Since(e.startedAt)
	c.emitter.Emit(telemetry.Event{
		Name:         "request_correlator.resolve",
		Measurements: map[string]float64{"count": 1, "round_trip_ms": float64(rtt.Milliseconds())},
		Metadata:     map[string]string{"id": key},
		At:           time.Now(),
	})

	e.waiter <- Outcome{Data: data, RTT: rtt}
	close(e.waiter)
	return true, rtt
}

// Timeout fires when id's timer elapses without a matching response. It
// removes the entry and signals the waiter with ErrTimeout. It returns false
// if the entry was already resolved or torn down before this call ran (the
// timer and the resolution race; the loser is a no-op).
func (c *Correlator) Timeout(id wireproto.ID) bool {
	key := id.String()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)

	c.emitter.Emit(telemetry.Event{
		Name:         "request_correlator.timeout",
		Measurements: map[string]float64{"count": 1},
		Metadata:     map[string]string{"id": key},
		At:           time.Now(),
	})

	e.waiter <- Outcome{Err: ErrTimeout}
	close(e.waiter)
	return true
}

// Teardown drains every tracked entry, cancels its timer, and signals its
// waiter with reason (or ErrTeardown if reason is nil). The owning
// Connection calls it on every transport fault and again when it stops.
func (c *Correlator) Teardown(reason error) {
	if reason == nil {
		reason = ErrTeardown
	}
	for key, e := range c.entries {
		e.timer.Stop()
		e.waiter <- Outcome{Err: reason}
		close(e.waiter)
		delete(c.entries, key)
	}
}

// PendingCount returns the number of tracked requests still awaiting a
// response, a timeout, or teardown.
func (c *Correlator) PendingCount() int {
	return len(c.entries)
}

func msString(d time.Duration) string {
	return fmt.Sprintf("%d", d.Milliseconds())
}
