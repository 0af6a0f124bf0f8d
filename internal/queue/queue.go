// Package queue implements HelpHub's durable store-and-forward queue: the
// persistent state that makes the relay tolerant to recipient absence.
//
// Storage is go.etcd.io/bbolt, an embedded single-file key-value store
// (the same engine xendarboh-katzenpost uses for its local PKI and
// documents). bbolt serializes all writers through its own transaction
// model and lets readers observe a consistent MVCC snapshot, so Queue
// itself needs no additional mutex around Store/MarkDelivered — only the
// schema migration step runs inside one explicit critical section.
package queue

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/helphub/relay/internal/record"
)

// Status is the lifecycle state of a durable row.
type Status string

const (
	Pending   Status = "PENDING"
	Delivered Status = "DELIVERED"
)

// Row is a record plus its delivery status, the unit persisted in the
// rows bucket.
type Row struct {
	Record      record.Record `json:"record"`
	Status      Status        `json:"status"`
	DeliveredAt int64         `json:"deliveredAt,omitempty"`
}

var (
	bucketRows     = []byte("rows")
	bucketLastSeen = []byte("lastSeen")
	bucketMeta     = []byte("meta")
	keySchema      = []byte("schemaVersion")
)

// Queue wraps a bbolt database file implementing the durable queue
// contract of §4.2: store, mark_delivered, pending_for, upsert_last_seen,
// pending_count, total_count, identities_with_pending_direct.
type Queue struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path, runs schema
// migrations, and returns a ready Queue. The caller owns the returned
// Queue exclusively and must call Close at shutdown.
func Open(path string) (*Queue, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	q := &Queue{db: db}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}
	return q, nil
}

// Close releases the storage handle. The queue exclusively owns it.
func (q *Queue) Close() error {
	return q.db.Close()
}

// Store inserts a PENDING row for r. Idempotent on r.ID: re-inserting an
// id that already exists is a no-op (insert-or-ignore).
func (q *Queue) Store(r record.Record) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRows)
		if existing := b.Get([]byte(r.ID)); existing != nil {
			return nil
		}
		row := Row{Record: r, Status: Pending}
		buf, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(r.ID), buf)
	})
}

// MarkDelivered transitions row id to DELIVERED. A missing id is a
// silent no-op.
func (q *Queue) MarkDelivered(id string) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRows)
		buf := b.Get([]byte(id))
		if buf == nil {
			return nil
		}
		var row Row
		if err := json.Unmarshal(buf, &row); err != nil {
			return fmt.Errorf("corrupt row %s: %w", id, err)
		}
		row.Status = Delivered
		row.DeliveredAt = time.Now().UnixMilli()
		out, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

// PendingFor returns the ordered list of PENDING rows addressed to
// identity I: to == I, or kind == BROADCAST and from != I. Ordering is
// priority descending then created_at ascending (§3 invariant 5).
//
// Delivery is not tracked per recipient: a BROADCAST row is PENDING until
// any one recipient acknowledges it, and after that first ACK it is no
// longer returned for any identity, including ones that never received it.
func (q *Queue) PendingFor(identity string) ([]record.Record, error) {
	var out []record.Record
	err := q.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRows)
		return b.ForEach(func(_, v []byte) error {
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return nil // skip corrupt row rather than abort the scan
			}
			if row.Status != Pending {
				return nil
			}
			if matchesRecipient(row.Record, identity) {
				out = append(out, row.Record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

func matchesRecipient(r record.Record, identity string) bool {
	if r.To != nil && *r.To == identity {
		return true
	}
	if r.Kind == record.Broadcast && r.From != identity {
		return true
	}
	return false
}

// UpsertLastSeen sets last_seen[identity] = now, inserting if absent.
func (q *Queue) UpsertLastSeen(identity string) error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLastSeen)
		return b.Put([]byte(identity), encodeMillis(time.Now().UnixMilli()))
	})
}

// LastSeen returns the last recorded activity timestamp for identity, or
// (0, false) if it was never seen.
func (q *Queue) LastSeen(identity string) (int64, bool, error) {
	var millis int64
	var ok bool
	err := q.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketLastSeen)
		v := b.Get([]byte(identity))
		if v == nil {
			return nil
		}
		ok = true
		millis = decodeMillis(v)
		return nil
	})
	return millis, ok, err
}

// PendingCount returns the number of PENDING rows.
func (q *Queue) PendingCount() (int, error) {
	count := 0
	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRows).ForEach(func(_, v []byte) error {
			var row Row
			if err := json.Unmarshal(v, &row); err == nil && row.Status == Pending {
				count++
			}
			return nil
		})
	})
	return count, err
}

// TotalCount returns the total number of rows, pending or delivered.
func (q *Queue) TotalCount() (int, error) {
	count := 0
	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRows).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// IdentitiesWithPendingDirect returns the distinct `to` identities with at
// least one PENDING DIRECT record addressed to them.
func (q *Queue) IdentitiesWithPendingDirect() ([]string, error) {
	seen := map[string]struct{}{}
	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRows).ForEach(func(_, v []byte) error {
			var row Row
			if err := json.Unmarshal(v, &row); err != nil {
				return nil
			}
			if row.Status == Pending && row.Record.Kind == record.Direct && row.Record.To != nil {
				seen[*row.Record.To] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// PendingEntry is the {from, priority, body} view of a PENDING row.
// PendingEntriesFor returns one for every PENDING row addressed to
// identity, in the same order PendingFor would return them. Used by the
// admin control-plane's GET_PENDING verb.
type PendingEntry struct {
	From     string          `json:"from"`
	Priority record.Priority `json:"priority"`
	Body     string          `json:"body"`
}

func (q *Queue) PendingEntriesFor(identity string) ([]PendingEntry, error) {
	rows, err := q.PendingFor(identity)
	if err != nil {
		return nil, err
	}
	out := make([]PendingEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, PendingEntry{From: r.From, Priority: r.Priority, Body: r.Body})
	}
	return out, nil
}

func encodeMillis(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeMillis(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf))
}
