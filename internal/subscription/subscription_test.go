package subscription

import (
	"encoding/json"
	"testing"

	"github.com/driftmark/wsclient/internal/wireproto"
)

func TestAddListRemove(t *testing.T) {
	r := New(true, nil)
	r.Add("book.BTC-PERP")
	r.Add("trades.BTC-PERP")
	r.Add("book.BTC-PERP") // duplicate, no-op

	if got := r.List(); len(got) != 2 {
		t.Fatalf("expected 2 channels, got %v", got)
	}

	r.Remove("book.BTC-PERP")
	got := r.List()
	if len(got) != 1 || got[0] != "trades.BTC-PERP" {
		t.Fatalf("expected [trades.BTC-PERP], got %v", got)
	}
}

func TestBuildRestoreMessage_EmptySetIsNil(t *testing.T) {
	r := New(true, nil)
	if msg := r.BuildRestoreMessage(); msg != nil {
		t.Fatalf("expected nil restore message for empty set, got %s", msg)
	}
}

func TestBuildRestoreMessage_DisabledIsNil(t *testing.T) {
	r := New(false, nil)
	r.Add("book.BTC-PERP")
	if msg := r.BuildRestoreMessage(); msg != nil {
		t.Fatalf("expected nil restore message when disabled, got %s", msg)
	}
}

func TestBuildRestoreMessage_BitExactShape(t *testing.T) {
	r := New(true, nil)
	r.Add("book.BTC-PERP")
	r.Add("trades.BTC-PERP")

	msg := r.BuildRestoreMessage()
	if msg == nil {
		t.Fatal("expected a non-nil restore message")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(msg, &decoded); err != nil {
		t.Fatalf("restore message is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected exactly 2 top-level keys, got %v", decoded)
	}
	if decoded["method"] != "public/subscribe" {
		t.Fatalf("expected method public/subscribe, got %v", decoded["method"])
	}
	params, ok := decoded["params"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected params object, got %T", decoded["params"])
	}
	channels, ok := params["channels"].([]interface{})
	if !ok || len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %v", params["channels"])
	}
}

func TestHandleConfirmation_AddsOnSubscriptionMethod(t *testing.T) {
	r := New(true, nil)
	env, ok := wireproto.Decode([]byte(`{"method":"subscription","params":{"channel":"book.BTC-PERP"}}`))
	if !ok {
		t.Fatal("expected envelope to decode")
	}
	r.HandleConfirmation(env)

	if got := r.List(); len(got) != 1 || got[0] != "book.BTC-PERP" {
		t.Fatalf("expected [book.BTC-PERP], got %v", got)
	}
}

func TestHandleConfirmation_IgnoresOtherMethods(t *testing.T) {
	r := New(true, nil)
	env, ok := wireproto.Decode([]byte(`{"method":"heartbeat","params":{"channel":"book.BTC-PERP"}}`))
	if !ok {
		t.Fatal("expected envelope to decode")
	}
	r.HandleConfirmation(env)

	if got := r.List(); len(got) != 0 {
		t.Fatalf("expected no channels added, got %v", got)
	}
}
