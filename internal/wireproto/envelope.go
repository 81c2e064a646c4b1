// Package wireproto implements the minimal JSON boundary the connection
// supervisor needs: pulling a method name and a correlation id out of an
// inbound frame without committing to a full schema for the payload. The
// module never re-implements a JSON codec; it leans on encoding/json and a
// raw-message envelope, the same way the teacher's protocol package peels a
// type discriminator off a message before deciding how to decode the rest.
package wireproto

import (
	"encoding/json"
)

// ID is the JSON-RPC style correlation id: either a JSON number or a JSON
// string. The zero value (nil Value) means "no id present".
type ID struct {
	Value interface{} // string or float64, or nil
}

// IsZero reports whether the id is absent.
func (i ID) IsZero() bool {
	return i.Value == nil
}

// String renders the id for logs and map keys. Numeric ids are formatted
// without a trailing ".0" when they are integral.
func (i ID) String() string {
	switch v := i.Value.(type) {
	case string:
		return v
	case float64:
		return formatFloatID(v)
	default:
		return ""
	}
}

// Equal reports whether two ids refer to the same logical value.
func (i ID) Equal(other ID) bool {
	return i.Value == other.Value
}

func formatFloatID(v float64) string {
	if v == float64(int64(v)) {
		return intToString(int64(v))
	}
	// Fractional numeric ids are unusual but not forbidden by JSON-RPC;
	// fall back to the default float formatting.
	buf, _ := json.Marshal(v)
	return string(buf)
}

func intToString(v int64) string {
	buf, _ := json.Marshal(v)
	return string(buf)
}

// Envelope is the partially-decoded shape of an inbound JSON object: enough
// to route the frame without committing to a concrete payload type.
type Envelope struct {
	Method string
	ID     ID
	Raw    json.RawMessage
}

// envelopeWire mirrors the wire shape for a single json.Unmarshal pass.
type envelopeWire struct {
	Method string          `json:"method"`
	ID     interface{}     `json:"id"`
	Params json.RawMessage `json:"params"`
}

// Decode attempts to parse data as a JSON object and extract its method and
// id fields. It returns ok=false for anything that isn't a JSON object
// (including arrays, scalars, and malformed text) — callers forward those
// frames to the user handler verbatim, exactly as spec §4.1 requires.
func Decode(data []byte) (env Envelope, ok bool) {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, false
	}
	env.Method = w.Method
	env.Raw = append(json.RawMessage(nil), data...)
	if w.ID != nil {
		env.ID = ID{Value: w.ID}
	}
	// params.channel is looked up lazily by callers that care (subscription
	// confirmations); we keep Params on Envelope via Raw + a helper below
	// instead of a dedicated field, since most routing decisions only need
	// Method and ID.
	return env, true
}

// Channel extracts params.channel from a decoded envelope's raw bytes, for
// the "method == subscription" routing branch in spec §4.1. Returns ""
// if absent.
func (e Envelope) Channel() string {
	var shallow struct {
		Params struct {
			Channel string `json:"channel"`
		} `json:"params"`
	}
	if err := json.Unmarshal(e.Raw, &shallow); err != nil {
		return ""
	}
	return shallow.Params.Channel
}

// ExtractID performs a bounded JSON parse of text and returns the non-null
// "id" field if present, per spec §4.3 "Id extraction". Non-JSON or
// malformed input returns ok=false without raising.
func ExtractID(text []byte) (id ID, ok bool) {
	env, decoded := Decode(text)
	if !decoded || env.ID.IsZero() {
		return ID{}, false
	}
	return env.ID, true
}
