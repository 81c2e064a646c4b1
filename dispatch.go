package wsclient

import (
	"log"

	"github.com/gobwas/ws"

	"github.com/driftmark/wsclient/internal/recorder"
	"github.com/driftmark/wsclient/internal/wireproto"
)

// handleInboundFrame is the single inbound-frame routing decision point
// from spec §4.1. It runs on the event loop, after the read-loop goroutine
// has decoded one WebSocket frame.
func (c *Connection) handleInboundFrame(f inboundFrame) {
	switch f.opCode {
	case ws.OpPong:
		c.hb.HandleInbound()
		return
	case ws.OpClose:
		if c.rec != nil {
			code, reason := decodeCloseFrame(f.data)
			c.rec.Enqueue(recorder.NewCloseEntry(recorder.DirIn, code, reason))
		}
		return
	}

	if c.rec != nil {
		if f.opCode == ws.OpBinary {
			c.rec.Enqueue(recorder.NewBinaryEntry(recorder.DirIn, f.data))
		} else {
			c.rec.Enqueue(recorder.NewTextEntry(recorder.DirIn, string(f.data)))
		}
	}

	if f.opCode == ws.OpBinary {
		c.deliverToUser(f.data, true)
		return
	}

	env, ok := wireproto.Decode(f.data)
	if !ok {
		c.deliverToUser(f.data, false)
		return
	}

	switch {
	case env.Method == "heartbeat":
		c.hb.HandleInbound()
	case env.Method == "subscription" && env.Channel() != "":
		c.subs.HandleConfirmation(env)
	case !env.ID.IsZero():
		c.handleCorrelatedResponse(env)
	default:
		c.deliverToUser(f.data, false)
	}
}

// handleCorrelatedResponse matches an inbound response against the Request
// Correlator and, on a hit, appends its RTT to the Latency Statistics
// buffer (spec §4.1 step 3). A miss (no tracked entry — a late or
// duplicate response) falls through to the user handler instead of being
// silently dropped.
func (c *Connection) handleCorrelatedResponse(env wireproto.Envelope) {
	ok, rtt := c.correlator.Resolve(env.ID, env.Raw)
	if !ok {
		c.deliverToUser(env.Raw, false)
		return
	}
	c.latencyBuf.Add(rtt.Milliseconds())
}

// deliverToUser invokes the caller's OnMessage handler, catching and
// logging any panic so a misbehaving callback can never take down the
// event loop (spec §7's "callback errors are caught and logged" policy,
// extended here to cover panics since OnMessage has no error return).
func (c *Connection) deliverToUser(data []byte, binary bool) {
	if c.cfg.OnMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("wsclient: on_message callback panicked: %v", r)
		}
	}()
	c.cfg.OnMessage(data, binary)
}

// decodeCloseFrame extracts the close code and reason from a raw close
// frame payload per RFC 6455 §5.5.1: a two-byte big-endian code followed
// by an optional UTF-8 reason string.
func decodeCloseFrame(payload []byte) (code int, reason string) {
	if len(payload) < 2 {
		return 0, ""
	}
	code = int(payload[0])<<8 | int(payload[1])
	if len(payload) > 2 {
		reason = string(payload[2:])
	}
	return code, reason
}
