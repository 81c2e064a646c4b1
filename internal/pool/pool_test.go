package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	metrics map[Handle]Metrics
	errs    map[Handle]error
}

func (f *fakeSource) Gather(ctx context.Context, h Handle) (Metrics, error) {
	if err, ok := f.errs[h]; ok {
		return Metrics{}, err
	}
	return f.metrics[h], nil
}

func TestHealth_FormulaAndCaps(t *testing.T) {
	src := &fakeSource{metrics: map[Handle]Metrics{
		"a": {PendingRequests: 0, P99Ms: 0, Pressure: PressureNone},
		"b": {PendingRequests: 10, P99Ms: 1000, Pressure: PressureHigh}, // all penalties saturate
		"c": {PendingRequests: 2, P99Ms: 50, Pressure: PressureLow},
	}}
	r := NewRouter(src, DefaultConfig())

	if got := r.Health("a"); got != 100 {
		t.Fatalf("expected perfect health 100, got %d", got)
	}
	// pending 40 cap + latency 30 cap + pressure 10 cap = 80, no errors -> 20.
	if got, want := r.Health("b"), 100-40-30-0-10; got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
	if got := r.Health("c"); got != 100-20-2-0-3 {
		t.Fatalf("unexpected health for c: %d", got)
	}
}

func TestHealth_GatherFailureIsOptimistic(t *testing.T) {
	src := &fakeSource{errs: map[Handle]error{"x": errors.New("boom")}}
	r := NewRouter(src, DefaultConfig())
	if got := r.Health("x"); got != 100 {
		t.Fatalf("expected optimistic 100 on gather failure, got %d", got)
	}
}

func TestSelect_NoConnections(t *testing.T) {
	r := NewRouter(&fakeSource{}, DefaultConfig())
	if _, err := r.Select(nil); err != ErrNoConnections {
		t.Fatalf("expected ErrNoConnections, got %v", err)
	}
}

func TestSelect_PicksMaxHealth(t *testing.T) {
	src := &fakeSource{metrics: map[Handle]Metrics{
		"a": {PendingRequests: 5},
		"b": {PendingRequests: 0},
	}}
	r := NewRouter(src, DefaultConfig())
	selected, err := r.Select([]Handle{"a", "b"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selected != "b" {
		t.Fatalf("expected healthiest handle b, got %s", selected)
	}
}

func TestSelect_TiesRoundRobin(t *testing.T) {
	src := &fakeSource{metrics: map[Handle]Metrics{
		"a": {}, "b": {}, "c": {},
	}}
	r := NewRouter(src, DefaultConfig())

	seen := map[Handle]int{}
	for i := 0; i < 9; i++ {
		h, err := r.Select([]Handle{"a", "b", "c"})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		seen[h]++
	}
	for _, h := range []Handle{"a", "b", "c"} {
		if seen[h] != 3 {
			t.Fatalf("expected even round-robin distribution, got %v", seen)
		}
	}
}

func TestRecordError_IncreasesErrorPenalty(t *testing.T) {
	src := &fakeSource{metrics: map[Handle]Metrics{"a": {}}}
	r := NewRouter(src, DefaultConfig())

	before := r.Health("a")
	r.RecordError("a")
	after := r.Health("a")
	if after != before-15 {
		t.Fatalf("expected health to drop by 15 after one error, got before=%d after=%d", before, after)
	}

	r.ClearErrors("a")
	if got := r.Health("a"); got != before {
		t.Fatalf("expected health restored after ClearErrors, got %d want %d", got, before)
	}
}

func TestErrorDecay_EvictsOldEntries(t *testing.T) {
	store := NewMemoryErrorStore()
	store.RecordError("a")
	if got := store.RecentErrorCount("a", time.Millisecond); got != 1 {
		t.Fatalf("expected 1 immediately after recording, got %d", got)
	}
	time.Sleep(5 * time.Millisecond)
	if got := store.RecentErrorCount("a", time.Millisecond); got != 0 {
		t.Fatalf("expected decay to evict the entry, got %d", got)
	}
}

func TestSendBalanced_FailsOverToNextHandle(t *testing.T) {
	src := &fakeSource{metrics: map[Handle]Metrics{"a": {}, "b": {}}}
	r := NewRouter(src, DefaultConfig())

	var attempts []Handle
	err := r.SendBalanced([]Handle{"a", "b"}, nil, func(h Handle) error {
		attempts = append(attempts, h)
		if h == "a" {
			return errors.New("send failed")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %v", attempts)
	}
}

func TestSendBalanced_ExhaustsAttempts(t *testing.T) {
	src := &fakeSource{metrics: map[Handle]Metrics{"a": {}}}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	r := NewRouter(src, cfg)

	err := r.SendBalanced([]Handle{"a"}, nil, func(Handle) error {
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected an error once attempts are exhausted")
	}
}
