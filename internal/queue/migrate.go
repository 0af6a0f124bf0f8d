package queue

import (
	"encoding/binary"

	"go.etcd.io/bbolt"
)

// migration is one additive schema step. Migrations never drop data or
// columns; they only add buckets or backfill fields, and must tolerate
// running against a database a prior, partially-completed run already
// touched — "bucket already exists" and "field already present" are both
// success, not error.
type migration struct {
	version uint32
	apply   func(tx *bbolt.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		apply: func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(bucketRows); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists(bucketLastSeen); err != nil {
				return err
			}
			_, err := tx.CreateBucketIfNotExists(bucketMeta)
			return err
		},
	},
	{
		// Historical note: an early build stored rows without an explicit
		// priority and defaulted missing values at read time. This step
		// backfills PriorityNormal (1) onto any row encoded before the
		// field existed, so every row on disk carries it explicitly.
		version: 2,
		apply: func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketRows)
			return b.ForEach(func(k, v []byte) error {
				if hasPriorityField(v) {
					return nil
				}
				return b.Put(k, backfillPriority(v))
			})
		},
	},
}

// migrate runs every migration whose version exceeds the stored schema
// version, in order, inside one critical section, then bumps the stored
// version in the same transaction.
func (q *Queue) migrate() error {
	return q.db.Update(func(tx *bbolt.Tx) error {
		metaBucket, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		current := uint32(0)
		if v := metaBucket.Get(keySchema); v != nil {
			current = binary.BigEndian.Uint32(v)
		}
		for _, m := range migrations {
			if m.version <= current {
				continue
			}
			if err := m.apply(tx); err != nil {
				return err
			}
			current = m.version
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, current)
		return metaBucket.Put(keySchema, buf)
	})
}

// hasPriorityField and backfillPriority operate on raw JSON bytes rather
// than unmarshaling into Row, since a pre-migration row may not decode
// cleanly into the current struct shape. record.Record carries no json
// tags, so its nested keys are the bare Go field names ("Priority",
// "Body"), not the lowercased names the wire codec uses — the markers
// here must match that on-disk casing, not the wire format's.
func hasPriorityField(v []byte) bool {
	return containsKey(v, `"Priority"`)
}

func backfillPriority(v []byte) []byte {
	// Insert a default priority field into the nested record object. This
	// is deliberately a minimal textual patch rather than a full decode
	// so that fields added by later, still-unknown migrations are left
	// untouched.
	marker := []byte(`"Body"`)
	idx := indexOf(v, marker)
	if idx < 0 {
		return v
	}
	patched := make([]byte, 0, len(v)+20)
	patched = append(patched, v[:idx]...)
	patched = append(patched, []byte(`"Priority":1,`)...)
	patched = append(patched, v[idx:]...)
	return patched
}

func containsKey(v []byte, key string) bool {
	return indexOf(v, []byte(key)) >= 0
}

func indexOf(haystack, needle []byte) int {
	n, m := len(haystack), len(needle)
	if m == 0 || n < m {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if string(haystack[i:i+m]) == string(needle) {
			return i
		}
	}
	return -1
}
