package queue

import (
	"path/filepath"
	"testing"

	"github.com/helphub/relay/internal/record"
)

func strptr(s string) *string { return &s }

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	dir := t.TempDir()
	q, err := Open(filepath.Join(dir, "emergency.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestStoreIsIdempotent(t *testing.T) {
	q := openTestQueue(t)
	r := record.New(record.Direct, "alpha", strptr("bravo"), "hi", record.PriorityNormal)

	if err := q.Store(r); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := q.Store(r); err != nil { // re-insert, same id
		t.Fatalf("Store (repeat): %v", err)
	}

	total, err := q.TotalCount()
	if err != nil {
		t.Fatalf("TotalCount: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 row after duplicate store, got %d", total)
	}
}

func TestMarkDeliveredRemovesFromPending(t *testing.T) {
	q := openTestQueue(t)
	r := record.New(record.Direct, "alpha", strptr("bravo"), "hi", record.PriorityNormal)
	if err := q.Store(r); err != nil {
		t.Fatalf("Store: %v", err)
	}

	pending, err := q.PendingFor("bravo")
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending row, got %d (err=%v)", len(pending), err)
	}

	if err := q.MarkDelivered(r.ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	pending, err = q.PendingFor("bravo")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending rows after delivery, got %d", len(pending))
	}
}

func TestMarkDeliveredMissingIDIsNoop(t *testing.T) {
	q := openTestQueue(t)
	if err := q.MarkDelivered("does-not-exist"); err != nil {
		t.Fatalf("expected silent no-op, got %v", err)
	}
}

func TestPendingForRecipientInvariant(t *testing.T) {
	q := openTestQueue(t)
	direct := record.New(record.Direct, "alpha", strptr("bravo"), "hi", record.PriorityNormal)
	broadcastFromAlpha := record.New(record.Broadcast, "alpha", nil, "all", record.PriorityNormal)
	directToCharlie := record.New(record.Direct, "alpha", strptr("charlie"), "other", record.PriorityNormal)

	for _, r := range []record.Record{direct, broadcastFromAlpha, directToCharlie} {
		if err := q.Store(r); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	pending, err := q.PendingFor("bravo")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	for _, r := range pending {
		addressed := r.To != nil && *r.To == "bravo"
		broadcastNotSelf := r.Kind == record.Broadcast && r.From != "bravo"
		if !addressed && !broadcastNotSelf {
			t.Errorf("row %+v violates pending_for invariant for bravo", r)
		}
	}

	// The broadcast must never appear in the originator's own pending list.
	pendingAlpha, err := q.PendingFor("alpha")
	if err != nil {
		t.Fatalf("PendingFor(alpha): %v", err)
	}
	for _, r := range pendingAlpha {
		if r.ID == broadcastFromAlpha.ID {
			t.Errorf("broadcast originator alpha must not see its own broadcast in replay")
		}
	}
}

func TestPendingForOrderedByPriorityThenTime(t *testing.T) {
	q := openTestQueue(t)

	n := record.New(record.Direct, "alpha", strptr("charlie"), "n", record.PriorityNormal)
	n.CreatedAt = 100
	h := record.New(record.Direct, "alpha", strptr("charlie"), "h", record.PriorityHigh)
	h.CreatedAt = 200
	l := record.New(record.Direct, "alpha", strptr("charlie"), "l", record.PriorityLow)
	l.CreatedAt = 300

	// Stored in arrival order n, h, l as S3 specifies.
	for _, r := range []record.Record{n, h, l} {
		if err := q.Store(r); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	pending, err := q.PendingFor("charlie")
	if err != nil {
		t.Fatalf("PendingFor: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending rows, got %d", len(pending))
	}
	wantOrder := []string{"h", "n", "l"}
	for i, want := range wantOrder {
		if pending[i].Body != want {
			t.Errorf("position %d: got body %q, want %q", i, pending[i].Body, want)
		}
	}
}

func TestIdentitiesWithPendingDirect(t *testing.T) {
	q := openTestQueue(t)
	if err := q.Store(record.New(record.Direct, "alpha", strptr("bravo"), "hi", record.PriorityNormal)); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := q.Store(record.New(record.Broadcast, "alpha", nil, "all", record.PriorityNormal)); err != nil {
		t.Fatalf("Store: %v", err)
	}

	ids, err := q.IdentitiesWithPendingDirect()
	if err != nil {
		t.Fatalf("IdentitiesWithPendingDirect: %v", err)
	}
	if len(ids) != 1 || ids[0] != "bravo" {
		t.Fatalf("expected [bravo], got %v", ids)
	}
}

func TestUpsertLastSeen(t *testing.T) {
	q := openTestQueue(t)
	if _, ok, _ := q.LastSeen("alpha"); ok {
		t.Fatal("expected no last-seen entry before upsert")
	}
	if err := q.UpsertLastSeen("alpha"); err != nil {
		t.Fatalf("UpsertLastSeen: %v", err)
	}
	millis, ok, err := q.LastSeen("alpha")
	if err != nil || !ok || millis == 0 {
		t.Fatalf("expected a last-seen entry, got millis=%d ok=%v err=%v", millis, ok, err)
	}
}
