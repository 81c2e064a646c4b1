package backoff

import (
	"testing"
	"time"
)

func TestDelay_Saturation(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 8 * time.Second},
		{9, 8 * time.Second},
	}
	for _, c := range cases {
		got := Delay(c.attempt, base, max)
		if got != c.want {
			t.Errorf("attempt=%d: expected %v, got %v", c.attempt, c.want, got)
		}
	}
}

func TestDelay_MonotoneUntilSaturation(t *testing.T) {
	base := 10 * time.Millisecond
	max := time.Second

	prev := Delay(0, base, max)
	for attempt := 1; attempt <= 20; attempt++ {
		d := Delay(attempt, base, max)
		if d < prev {
			t.Fatalf("attempt=%d: backoff decreased: %v -> %v", attempt, prev, d)
		}
		if d < base || d > max {
			t.Fatalf("attempt=%d: backoff %v out of bounds [%v,%v]", attempt, d, base, max)
		}
		prev = d
	}
}

func TestDelay_MaxClampedToAtLeastBase(t *testing.T) {
	// If max < base (a misconfiguration the caller should reject at the
	// Config layer), Delay still never returns less than base.
	got := Delay(0, 5*time.Second, 1*time.Second)
	if got != 5*time.Second {
		t.Errorf("expected base duration when max < base, got %v", got)
	}
}

func TestMaxRetriesExceeded(t *testing.T) {
	if MaxRetriesExceeded(2, 3) {
		t.Error("attempt 2 with limit 3 should not be exceeded")
	}
	if !MaxRetriesExceeded(3, 3) {
		t.Error("attempt 3 with limit 3 should be exceeded")
	}
	if !MaxRetriesExceeded(10, 3) {
		t.Error("attempt 10 with limit 3 should be exceeded")
	}
}

func TestShouldReconnect(t *testing.T) {
	if !ShouldReconnect(Recoverable) {
		t.Error("expected Recoverable to warrant reconnect")
	}
	if ShouldReconnect(Fatal) {
		t.Error("expected Fatal to not warrant reconnect")
	}
}

func TestTLSConfig_PinsALPN(t *testing.T) {
	cfg := TLSConfig("api.example.com")
	if len(cfg.NextProtos) != 1 || cfg.NextProtos[0] != "http/1.1" {
		t.Fatalf("expected ALPN pinned to http/1.1 only, got %v", cfg.NextProtos)
	}
	if cfg.ServerName != "api.example.com" {
		t.Errorf("expected ServerName set, got %q", cfg.ServerName)
	}
}
