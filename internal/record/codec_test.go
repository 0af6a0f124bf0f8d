package record

import "testing"

func strptr(s string) *string { return &s }

func TestRoundTripPreservesFields(t *testing.T) {
	to := "bravo"
	r := Record{
		ID:        "a1",
		Kind:      Direct,
		From:      "alpha",
		To:        &to,
		CreatedAt: 1700000000000,
		Body:      `hold for you with a "quote" and a \backslash and ünïcödé`,
		Priority:  PriorityHigh,
	}

	wire, err := r.ToWire()
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}

	got, ok := FromWire(wire)
	if !ok {
		t.Fatalf("FromWire rejected a well-formed record: %s", wire)
	}
	if got.ID != r.ID || got.Kind != r.Kind || got.From != r.From ||
		got.CreatedAt != r.CreatedAt || got.Body != r.Body || got.Priority != r.Priority {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
	if got.To == nil || *got.To != *r.To {
		t.Fatalf("round trip lost recipient: got %v", got.To)
	}
}

func TestRoundTripAbsentRecipient(t *testing.T) {
	r := New(Broadcast, "alpha", nil, "all hear", PriorityNormal)
	wire, err := r.ToWire()
	if err != nil {
		t.Fatalf("ToWire: %v", err)
	}
	got, ok := FromWire(wire)
	if !ok {
		t.Fatalf("FromWire rejected: %s", wire)
	}
	if got.To != nil {
		t.Fatalf("expected absent recipient, got %v", *got.To)
	}
}

func TestTolerantParsingFillsDefaults(t *testing.T) {
	line := []byte(`{"type":"DIRECT","from":"alpha","to":"bravo","body":"hi"}`)
	got, ok := FromWire(line)
	if !ok {
		t.Fatalf("expected a parseable record")
	}
	if got.ID == "" {
		t.Error("expected a fresh id to be assigned")
	}
	if got.CreatedAt == 0 {
		t.Error("expected a fresh created_at to be assigned")
	}
	if got.Priority != PriorityNormal {
		t.Errorf("expected default priority NORMAL, got %v", got.Priority)
	}
	if got.To == nil || *got.To != "bravo" {
		t.Errorf("expected recipient bravo, got %v", got.To)
	}
}

func TestMissingRequiredFieldsRejected(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"from":"alpha","body":"hi"}`),          // missing type
		[]byte(`{"type":"DIRECT","body":"hi"}`),         // missing from
		[]byte(`not json at all`),                       // malformed
	}
	for _, c := range cases {
		if _, ok := FromWire(c); ok {
			t.Errorf("expected rejection for %s", c)
		}
	}
}

func TestNullRecipientBecomesAbsent(t *testing.T) {
	line := []byte(`{"type":"BROADCAST","from":"alpha","to":null,"body":"all","timestamp":1,"priority":1}`)
	got, ok := FromWire(line)
	if !ok {
		t.Fatalf("expected a parseable record")
	}
	if got.To != nil {
		t.Fatalf("expected absent recipient, got %v", *got.To)
	}
}

func TestFactories(t *testing.T) {
	ack := NewAck("bravo", "msg-123")
	if ack.Kind != Ack || ack.Body != "msg-123" || ack.From != "bravo" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	hb := NewHeartbeat("alpha")
	if hb.Kind != Heartbeat || hb.From != "alpha" {
		t.Fatalf("unexpected heartbeat: %+v", hb)
	}

	if !New(Direct, "a", strptr("b"), "x", PriorityNormal).Routable() {
		t.Error("DIRECT should be routable")
	}
	if ack.Routable() {
		t.Error("ACK should not be routable")
	}
}
