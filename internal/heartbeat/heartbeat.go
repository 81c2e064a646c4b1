// Package heartbeat implements the Heartbeat Manager from spec §4.2: it
// arms a liveness timer on the Connection Supervisor's single event loop,
// asks the transport to emit a ping (or a configured application-level
// request) at each interval, and raises a fault when the connection has
// gone quiet for too long. It is grounded on the teacher's
// internal/ws/heartbeat.go ping/timeout sweep, generalized from a
// server-side fan-out over every connection into a per-Connection state
// machine with three modes instead of one fixed ping loop.
package heartbeat

import (
	"time"

	"github.com/driftmark/wsclient/internal/latency"
	"github.com/driftmark/wsclient/internal/telemetry"
)

// Mode selects how send_heartbeat and handle_inbound behave.
type Mode int

const (
	ModePingPong Mode = iota
	ModeApplicationRequest
	ModeDisabled
)

func (m Mode) String() string {
	switch m {
	case ModePingPong:
		return "ping_pong"
	case ModeApplicationRequest:
		return "application_request"
	case ModeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// defaultFailureMultiplier is K in spec §4.2's failure rule: the timer fires
// every Interval, but a fault is only raised once last_seen_at is older than
// interval_ms * K. K must be >= 2 so a single missed beat does not fault the
// connection on transient scheduling jitter.
const defaultFailureMultiplier = 2

// Config wires a Manager to its transport and telemetry.
type Config struct {
	Mode              Mode
	Interval          time.Duration
	FailureMultiplier int // K >= 2; defaults to defaultFailureMultiplier.

	// Latency receives the RTT of every matched ping/pong (or
	// application-request/reply) pair.
	Latency *latency.Buffer
	Emitter telemetry.Emitter

	// SendPing is invoked in ModePingPong to ask the transport to emit a
	// protocol-level ping frame.
	SendPing func() error
	// SendAppRequest is invoked in ModeApplicationRequest to emit the
	// configured JSON heartbeat request.
	SendAppRequest func() error
	// OnFault is called when the failure rule trips. The supervisor treats
	// this as a recoverable transport error (spec §4.2).
	OnFault func()

	// Schedule arms fn to run after d. It defaults to time.AfterFunc,
	// which runs fn on a new goroutine; a Connection wires this to post fn
	// onto its own event loop instead, so fire() never touches Manager
	// state from any goroutine but the loop's (spec §4.1's single-writer
	// rule — HandleInbound is already called from that same loop).
	Schedule func(d time.Duration, fn func()) *time.Timer
}

// Health is the snapshot returned by Health().
type Health struct {
	ActiveTypes         []string
	LastSeenAt          time.Time
	ConsecutiveFailures int
	Mode                Mode
	TimerArmed          bool
}

// Manager is the per-Connection heartbeat state machine. Like the rest of
// the supervisor's components it is only ever touched from the Connection's
// event loop goroutine and needs no internal locking.
type Manager struct {
	cfg Config

	lastSentAt time.Time
	lastSeenAt time.Time

	consecutiveFailures int
	timer               *time.Timer
	timerArmed          bool
}

// NewManager builds a Manager. A nil Emitter is replaced with
// telemetry.Noop; a FailureMultiplier below 2 is raised to
// defaultFailureMultiplier.
func NewManager(cfg Config) *Manager {
	if cfg.FailureMultiplier < 2 {
		cfg.FailureMultiplier = defaultFailureMultiplier
	}
	if cfg.Emitter == nil {
		cfg.Emitter = telemetry.Noop
	}
	if cfg.Schedule == nil {
		cfg.Schedule = func(d time.Duration, fn func()) *time.Timer { return time.AfterFunc(d, fn) }
	}
	return &Manager{cfg: cfg}
}

// StartTimer arms the recurring heartbeat timer. A no-op in ModeDisabled.
func (m *Manager) StartTimer() {
	if m.cfg.Mode == ModeDisabled || m.cfg.Interval <= 0 {
		return
	}
	m.timerArmed = true
	m.timer = m.cfg.Schedule(m.cfg.Interval, m.fire)
}

// CancelTimer disarms the heartbeat timer. Idempotent.
func (m *Manager) CancelTimer() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerArmed = false
}

// fire runs wherever cfg.Schedule decides to run it — by default a fresh
// goroutine per time.AfterFunc, or the owning Connection's event loop when
// Schedule is wired to post there. It checks the failure rule, then sends
// the next heartbeat and re-arms.
func (m *Manager) fire() {
	if m.cfg.Mode == ModeDisabled {
		return
	}

	deadline := time.Duration(m.cfg.FailureMultiplier) * m.cfg.Interval
	if !m.lastSeenAt.IsZero() && time.Since(m.lastSeenAt) > deadline {
		m.consecutiveFailures++
		if m.cfg.OnFault != nil {
			m.cfg.OnFault()
		}
	}

	_ = m.SendHeartbeat()

	if m.timerArmed {
		m.timer = m.cfg.Schedule(m.cfg.Interval, m.fire)
	}
}

// SendHeartbeat asks the transport to emit the next heartbeat per the
// configured mode and records last_sent_at. It is a no-op in ModeDisabled.
func (m *Manager) SendHeartbeat() error {
	switch m.cfg.Mode {
	case ModePingPong:
		if m.cfg.SendPing == nil {
			return nil
		}
		if err := m.cfg.SendPing(); err != nil {
			return err
		}
		m.lastSentAt = time.Now()
	case ModeApplicationRequest:
		if m.cfg.SendAppRequest == nil {
			return nil
		}
		if err := m.cfg.SendAppRequest(); err != nil {
			return err
		}
		m.lastSentAt = time.Now()
	case ModeDisabled:
		return nil
	}
	return nil
}

// HandleInbound records a matched heartbeat reply (a transport pong in
// ModePingPong, or the routed application reply in ModeApplicationRequest).
// It is a no-op in ModeDisabled, and — per the resolved Open Question in
// DESIGN.md — a no-op if no ping/request is outstanding: heartbeat.pong
// telemetry must reflect a true send/receive pairing, never a bare liveness
// counter driven by unrelated inbound traffic.
func (m *Manager) HandleInbound() {
	if m.cfg.Mode == ModeDisabled || m.lastSentAt.IsZero() {
		return
	}

	now := time.Now()
	rtt := now.Sub(m.lastSentAt)
	m.lastSeenAt = now
	m.lastSentAt = time.Time{}
	m.consecutiveFailures = 0

	if m.cfg.Latency != nil {
		m.cfg.Latency.Add(rtt.Milliseconds())
	}
	m.cfg.Emitter.Emit(telemetry.Event{
		Name:         "heartbeat.pong",
		Measurements: map[string]float64{"rtt_ms": float64(rtt.Milliseconds())},
		Metadata:     map[string]string{"type": m.cfg.Mode.String()},
		At:           now,
	})
}

// Health returns the current health record (spec §4.2).
func (m *Manager) Health() Health {
	var active []string
	if m.cfg.Mode != ModeDisabled {
		active = []string{m.cfg.Mode.String()}
	}
	return Health{
		ActiveTypes:         active,
		LastSeenAt:          m.lastSeenAt,
		ConsecutiveFailures: m.consecutiveFailures,
		Mode:                m.cfg.Mode,
		TimerArmed:          m.timerArmed,
	}
}
