package router

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/helphub/relay/internal/queue"
	"github.com/helphub/relay/internal/record"
)

type fakeSink struct {
	received []record.Record
	closed   bool
}

func (f *fakeSink) Send(r record.Record) error {
	f.received = append(f.received, r)
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func newTestRouter(t *testing.T) (*Router, *queue.Queue) {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "emergency.db"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return New(q, zerolog.Nop()), q
}

func strptr(s string) *string { return &s }

func TestRegisterRejectsEmptyIdentity(t *testing.T) {
	r, _ := newTestRouter(t)
	sink := &fakeSink{}
	if got := r.Register("   ", NewSession("   ", Framed, sink)); got != RejectedEmpty {
		t.Fatalf("expected RejectedEmpty, got %v", got)
	}
}

func TestRegisterRejectsDuplicateAcrossTransports(t *testing.T) {
	r, _ := newTestRouter(t)
	framedSink := &fakeSink{}
	framedSession := NewSession("alpha", Framed, framedSink)
	if got := r.Register("alpha", framedSession); got != Accepted {
		t.Fatalf("expected Accepted, got %v", got)
	}

	pushSink := &fakeSink{}
	pushSession := NewSession("alpha", Push, pushSink)
	if got := r.Register("alpha", pushSession); got != RejectedDuplicate {
		t.Fatalf("expected RejectedDuplicate, got %v", got)
	}

	if !r.IsTaken("alpha") {
		t.Fatal("alpha should remain taken by the incumbent framed session")
	}
}

func TestUnregisterGuardsAgainstLateRemoval(t *testing.T) {
	r, _ := newTestRouter(t)
	first := NewSession("alpha", Framed, &fakeSink{})
	r.Register("alpha", first)

	// A late unregister for a stale session handle must not evict a
	// session that has since re-registered.
	r.Unregister("alpha", &Session{Identity: "alpha", Transport: Framed})
	if !r.IsTaken("alpha") {
		t.Fatal("unregister with a stale session handle must not remove the live session")
	}

	r.Unregister("alpha", first)
	if r.IsTaken("alpha") {
		t.Fatal("unregister with the current session handle should remove it")
	}
}

func TestBroadcastExcludesOriginator(t *testing.T) {
	r, _ := newTestRouter(t)
	alphaSink := &fakeSink{}
	bravoSink := &fakeSink{}
	charlieSink := &fakeSink{}
	r.Register("alpha", NewSession("alpha", Framed, alphaSink))
	r.Register("bravo", NewSession("bravo", Framed, bravoSink))
	r.Register("charlie", NewSession("charlie", Push, charlieSink))

	b := record.New(record.Broadcast, "alpha", nil, "all hear", record.PriorityNormal)
	if err := r.Route(b); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if len(alphaSink.received) != 0 {
		t.Error("broadcast originator must not receive its own broadcast")
	}
	if len(bravoSink.received) != 1 || len(charlieSink.received) != 1 {
		t.Error("every other live session should receive the broadcast")
	}

	if err := r.FlushPending("alpha"); err != nil {
		t.Fatalf("FlushPending: %v", err)
	}
	if len(alphaSink.received) != 0 {
		t.Error("replay must not include the originator's own broadcast")
	}
}

func TestOfflineDirectReplay(t *testing.T) {
	r, q := newTestRouter(t)
	r.Register("alpha", NewSession("alpha", Framed, &fakeSink{}))

	d := record.New(record.Direct, "alpha", strptr("bravo"), "hold for you", record.PriorityNormal)
	if err := r.Route(d); err != nil {
		t.Fatalf("Route: %v", err)
	}

	pending, err := q.PendingFor("bravo")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending row for bravo, got %d (err=%v)", len(pending), err)
	}

	bravoSink := &fakeSink{}
	if got := r.Register("bravo", NewSession("bravo", Push, bravoSink)); got != Accepted {
		t.Fatalf("expected Accepted, got %v", got)
	}
	if len(bravoSink.received) != 1 {
		t.Fatalf("expected replay to deliver 1 record, got %d", len(bravoSink.received))
	}

	if err := q.MarkDelivered(bravoSink.received[0].ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	pending, err = q.PendingFor("bravo")
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected 0 pending rows after ack, got %d", len(pending))
	}
}

func TestForceDisconnect(t *testing.T) {
	r, _ := newTestRouter(t)
	sink := &fakeSink{}
	r.Register("alpha", NewSession("alpha", Framed, sink))

	if !r.ForceDisconnect("alpha") {
		t.Fatal("expected force disconnect to find the session")
	}
	if !sink.closed {
		t.Fatal("expected the session's sink to be closed")
	}
	if r.ForceDisconnect("ghost") {
		t.Fatal("force disconnect of an unknown identity should report false")
	}
}
