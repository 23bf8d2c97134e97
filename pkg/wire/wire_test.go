package wire

import "testing"

func TestDecodeClientMessageConnect(t *testing.T) {
	raw := []byte(`{"type":"connect","lastSeen":"2026-01-01T00:00:00Z","clientId":"abc"}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage: %v", err)
	}
	connect, ok := msg.(*ConnectMessage)
	if !ok {
		t.Fatalf("expected *ConnectMessage, got %T", msg)
	}
	if connect.ClientID != "abc" {
		t.Fatalf("ClientID = %q, want %q", connect.ClientID, "abc")
	}
}

func TestDecodeClientMessageAction(t *testing.T) {
	raw := []byte(`{"type":"action","actionId":"018f0000-0000-7000-8000-000000000001","actionData":{"type":"increment","amount":2}}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage: %v", err)
	}
	action, ok := msg.(*ActionMessage)
	if !ok {
		t.Fatalf("expected *ActionMessage, got %T", msg)
	}
	if action.ActionData.Type() != "increment" {
		t.Fatalf("ActionData.Type() = %q, want %q", action.ActionData.Type(), "increment")
	}
}

func TestDecodeClientMessageUnknownType(t *testing.T) {
	raw := []byte(`{"type":"bogus"}`)
	if _, err := DecodeClientMessage(raw); err == nil {
		t.Fatalf("expected error for unknown message type")
	}
}

func TestDecodeClientMessageMalformedJSON(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}
