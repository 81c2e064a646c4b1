package wireproto

import "testing"

func TestDecode_MethodAndID(t *testing.T) {
	env, ok := Decode([]byte(`{"method":"heartbeat","id":7}`))
	if !ok {
		t.Fatal("expected ok=true for a JSON object")
	}
	if env.Method != "heartbeat" {
		t.Errorf("expected method %q, got %q", "heartbeat", env.Method)
	}
	if env.ID.IsZero() {
		t.Fatal("expected a non-zero id")
	}
	if env.ID.String() != "7" {
		t.Errorf("expected id %q, got %q", "7", env.ID.String())
	}
}

func TestDecode_NonObject(t *testing.T) {
	cases := [][]byte{
		[]byte(`[1,2,3]`),
		[]byte(`not json`),
		[]byte(`"just a string"`),
		{},
	}
	for _, c := range cases {
		if _, ok := Decode(c); ok {
			t.Errorf("expected ok=false for %q", c)
		}
	}
}

func TestExtractID_Absent(t *testing.T) {
	if _, ok := ExtractID([]byte(`{"method":"subscription"}`)); ok {
		t.Fatal("expected ok=false when id is absent")
	}
	if _, ok := ExtractID([]byte(`{"id":null}`)); ok {
		t.Fatal("expected ok=false when id is explicitly null")
	}
}

func TestExtractID_StringAndNumeric(t *testing.T) {
	id, ok := ExtractID([]byte(`{"id":"abc-123"}`))
	if !ok || id.String() != "abc-123" {
		t.Fatalf("expected string id %q, got %q (ok=%v)", "abc-123", id.String(), ok)
	}

	id, ok = ExtractID([]byte(`{"id":42}`))
	if !ok || id.String() != "42" {
		t.Fatalf("expected numeric id %q, got %q (ok=%v)", "42", id.String(), ok)
	}
}

func TestEnvelope_Channel(t *testing.T) {
	env, ok := Decode([]byte(`{"method":"subscription","params":{"channel":"trades.BTC"}}`))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ch := env.Channel(); ch != "trades.BTC" {
		t.Errorf("expected channel %q, got %q", "trades.BTC", ch)
	}
}

func TestID_Equal(t *testing.T) {
	a := ID{Value: float64(1)}
	b := ID{Value: float64(1)}
	c := ID{Value: "1"}
	if !a.Equal(b) {
		t.Error("expected equal numeric ids to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected numeric id 1 and string id \"1\" to compare unequal")
	}
}
