// Package subscription implements the Subscription Registry from spec §4.4:
// the set of channels a Connection believes itself subscribed to, and the
// bit-exact restore message replayed after a reconnect. It is grounded on
// the teacher's internal/protocol envelope-then-concrete-struct pattern —
// handle_confirmation peels the method/channel off an inbound frame the
// same way protocol.Envelope peels off a type discriminator.
package subscription

import (
	"encoding/json"
	"time"

	"github.com/driftmark/wsclient/internal/telemetry"
	"github.com/driftmark/wsclient/internal/wireproto"
)

// Registry tracks the subscribed channel set for one Connection. Like the
// other supervisor components it is only ever touched from the Connection's
// event loop goroutine.
type Registry struct {
	restoreOnReconnect bool
	emitter            telemetry.Emitter
	channels           map[string]struct{}
	order              []string // preserves first-seen order for stable restore text
}

// New builds an empty Registry. restoreOnReconnect corresponds to the
// Connection's restore_subscriptions config flag. A nil emitter is replaced
// with telemetry.Noop.
func New(restoreOnReconnect bool, emitter telemetry.Emitter) *Registry {
	if emitter == nil {
		emitter = telemetry.Noop
	}
	return &Registry{
		restoreOnReconnect: restoreOnReconnect,
		emitter:            emitter,
		channels:           make(map[string]struct{}),
	}
}

// Add registers channel as subscribed. Per spec §4.4 this is meant to be
// called on receipt of a subscription confirmation, not on the user's
// initiating request — the registry reflects confirmed server state.
func (r *Registry) Add(channel string) {
	if _, exists := r.channels[channel]; exists {
		return
	}
	r.channels[channel] = struct{}{}
	r.order = append(r.order, channel)
	r.emitter.Emit(telemetry.Event{
		Name:         "subscription_manager.add",
		Measurements: map[string]float64{"count": 1},
		Metadata:     map[string]string{"channel": channel},
		At:           time.Now(),
	})
}

// Remove drops channel from the tracked set. Per spec §4.4, removal only
// ever happens on explicit user action (never implicitly from inbound
// traffic).
func (r *Registry) Remove(channel string) {
	if _, exists := r.channels[channel]; !exists {
		return
	}
	delete(r.channels, channel)
	for i, c := range r.order {
		if c == channel {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.emitter.Emit(telemetry.Event{
		Name:         "subscription_manager.remove",
		Measurements: map[string]float64{"count": 1},
		Metadata:     map[string]string{"channel": channel},
		At:           time.Now(),
	})
}

// List returns the subscribed channels in first-added order.
func (r *Registry) List() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// restoreMessage mirrors the bit-exact wire shape from spec §6: an object
// with exactly the two keys "method" and "params.channels".
type restoreMessage struct {
	Method string `json:"method"`
	Params struct {
		Channels []string `json:"channels"`
	} `json:"params"`
}

// BuildRestoreMessage returns the JSON text to resend after a reconnect, or
// nil if the set is empty or restore is disabled (spec §4.4).
func (r *Registry) BuildRestoreMessage() []byte {
	if !r.restoreOnReconnect || len(r.order) == 0 {
		return nil
	}
	msg := restoreMessage{Method: "public/subscribe"}
	msg.Params.Channels = r.List()
	data, err := json.Marshal(msg)
	if err != nil {
		// restoreMessage only contains strings; marshaling cannot fail.
		return nil
	}
	r.emitter.Emit(telemetry.Event{
		Name:         "subscription_manager.restore",
		Measurements: map[string]float64{"channel_count": float64(len(msg.Params.Channels))},
		Metadata:     map[string]string{"channels": string(must(json.Marshal(msg.Params.Channels)))},
		At:           time.Now(),
	})
	return data
}

func must(b []byte, err error) []byte {
	if err != nil {
		return nil
	}
	return b
}

// HandleConfirmation inspects a decoded inbound envelope and, if it is a
// subscription confirmation (method == "subscription" carrying a channel),
// adds that channel to the registry. Any other envelope is a no-op; callers
// route it onward to their generic handler.
func (r *Registry) HandleConfirmation(env wireproto.Envelope) {
	if env.Method != "subscription" {
		return
	}
	if channel := env.Channel(); channel != "" {
		r.Add(channel)
	}
}
