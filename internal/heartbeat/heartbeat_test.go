package heartbeat

import (
	"errors"
	"testing"
	"time"

	"github.com/driftmark/wsclient/internal/latency"
	"github.com/driftmark/wsclient/internal/telemetry"
)

func TestSendHeartbeat_PingPong_RecordsLastSentAt(t *testing.T) {
	var pings int
	m := NewManager(Config{
		Mode:     ModePingPong,
		Interval: time.Hour,
		SendPing: func() error { pings++; return nil },
	})

	if err := m.SendHeartbeat(); err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}
	if pings != 1 {
		t.Fatalf("expected SendPing called once, got %d", pings)
	}
}

func TestSendHeartbeat_Disabled_NeverCallsHooks(t *testing.T) {
	m := NewManager(Config{
		Mode: ModeDisabled,
		SendPing: func() error {
			t.Fatal("SendPing must not be called in ModeDisabled")
			return nil
		},
	})
	if err := m.SendHeartbeat(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHandleInbound_AppendsRTTAndEmitsTelemetry(t *testing.T) {
	buf := latency.New(8)
	var events []telemetry.Event
	emitter := telemetry.EmitterFunc(func(e telemetry.Event) { events = append(events, e) })

	m := NewManager(Config{
		Mode:     ModePingPong,
		Interval: time.Hour,
		Latency:  buf,
		Emitter:  emitter,
		SendPing: func() error { return nil },
	})

	m.SendHeartbeat()
	time.Sleep(2 * time.Millisecond)
	m.HandleInbound()

	if buf.Count() != 1 {
		t.Fatalf("expected one latency sample, got %d", buf.Count())
	}
	var pongEvents int
	for _, e := range events {
		if e.Name == "heartbeat.pong" {
			pongEvents++
			if e.Measurements["rtt_ms"] < 0 {
				t.Fatalf("expected non-negative rtt_ms, got %v", e.Measurements["rtt_ms"])
			}
		}
	}
	if pongEvents != 1 {
		t.Fatalf("expected exactly one heartbeat.pong event, got %d", pongEvents)
	}
}

func TestHandleInbound_WithoutOutstandingPing_NeverEmits(t *testing.T) {
	var events []telemetry.Event
	emitter := telemetry.EmitterFunc(func(e telemetry.Event) { events = append(events, e) })
	m := NewManager(Config{Mode: ModePingPong, Interval: time.Hour, Emitter: emitter})

	// No SendHeartbeat has run, so there is no send/receive pairing; an
	// unrelated inbound frame must not be counted as a heartbeat reply.
	m.HandleInbound()

	for _, e := range events {
		if e.Name == "heartbeat.pong" {
			t.Fatal("expected no heartbeat.pong event without an outstanding ping")
		}
	}
}

func TestFailureRule_TripsAfterKIntervalsOfSilence(t *testing.T) {
	faulted := make(chan struct{}, 1)
	m := NewManager(Config{
		Mode:              ModePingPong,
		Interval:          10 * time.Millisecond,
		FailureMultiplier: 2,
		SendPing:          func() error { return nil },
		OnFault:           func() { faulted <- struct{}{} },
	})
	// Pretend we saw something long ago, well past interval*K.
	m.lastSeenAt = time.Now().Add(-time.Second)

	m.fire()

	select {
	case <-faulted:
	case <-time.After(time.Second):
		t.Fatal("expected OnFault to be called once the failure rule trips")
	}
	if got := m.Health().ConsecutiveFailures; got != 1 {
		t.Fatalf("expected consecutive_failures 1, got %d", got)
	}
}

func TestFailureRule_DoesNotTripWithRecentActivity(t *testing.T) {
	m := NewManager(Config{
		Mode:              ModePingPong,
		Interval:          time.Hour,
		FailureMultiplier: 2,
		SendPing:          func() error { return nil },
		OnFault:           func() { t.Fatal("OnFault must not fire with recent activity") },
	})
	m.lastSeenAt = time.Now()
	m.fire()
	if got := m.Health().ConsecutiveFailures; got != 0 {
		t.Fatalf("expected consecutive_failures 0, got %d", got)
	}
}

func TestStartTimerCancelTimer_ArmsAndDisarms(t *testing.T) {
	m := NewManager(Config{Mode: ModePingPong, Interval: time.Hour, SendPing: func() error { return nil }})
	m.StartTimer()
	if !m.Health().TimerArmed {
		t.Fatal("expected timer_armed true after StartTimer")
	}
	m.CancelTimer()
	if m.Health().TimerArmed {
		t.Fatal("expected timer_armed false after CancelTimer")
	}
}

func TestSendHeartbeat_PropagatesTransportError(t *testing.T) {
	wantErr := errors.New("write failed")
	m := NewManager(Config{Mode: ModePingPong, Interval: time.Hour, SendPing: func() error { return wantErr }})
	if err := m.SendHeartbeat(); err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestHealth_ActiveTypesReflectsMode(t *testing.T) {
	m := NewManager(Config{Mode: ModeApplicationRequest, Interval: time.Hour})
	h := m.Health()
	if len(h.ActiveTypes) != 1 || h.ActiveTypes[0] != "application_request" {
		t.Fatalf("expected active_types [application_request], got %v", h.ActiveTypes)
	}

	d := NewManager(Config{Mode: ModeDisabled})
	if len(d.Health().ActiveTypes) != 0 {
		t.Fatalf("expected no active types when disabled, got %v", d.Health().ActiveTypes)
	}
}
