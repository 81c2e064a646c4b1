// Package telemetry defines the (name, measurements, metadata) event shape
// fixed by spec §6 and two sinks for it: a Prometheus registry mirroring the
// teacher's internal/metrics package, and an optional NATS republisher
// mirroring the teacher's internal/messaging pub/sub wrapper.
package telemetry

import "time"

// Event is a single telemetry emission. Measurements hold numeric samples
// (e.g. rtt_ms, connect_time_ms); Metadata holds string labels (e.g. url,
// id). Both maps are read-only by convention once an Event is published.
type Event struct {
	Name         string
	Measurements map[string]float64
	Metadata     map[string]string
	At           time.Time
}

// Emitter receives telemetry events. Connection, heartbeat, correlator,
// subscription, rate limiter, and pool components all emit through an
// Emitter supplied at construction time; a nil Emitter is valid and simply
// drops events.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(e Event) {
	if f != nil {
		f(e)
	}
}

// Multi fans a single Emit call out to every non-nil emitter given. It is
// used to feed both a Prometheus sink and a caller-supplied callback (and
// optionally a NATS sink) from the same emission point.
func Multi(emitters ...Emitter) Emitter {
	filtered := make([]Emitter, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			filtered = append(filtered, e)
		}
	}
	return EmitterFunc(func(ev Event) {
		for _, e := range filtered {
			e.Emit(ev)
		}
	})
}

// Noop discards every event. Used as the default Emitter when the caller
// configures neither a callback nor Prometheus nor NATS.
var Noop Emitter = EmitterFunc(func(Event) {})
