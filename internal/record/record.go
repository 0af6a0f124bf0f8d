// Package record defines HelpHub's wire-level message, the single unit of
// traffic and storage exchanged across every client-facing channel.
package record

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags the purpose of a Record.
type Kind string

const (
	Direct    Kind = "DIRECT"
	Broadcast Kind = "BROADCAST"
	Status    Kind = "STATUS"
	Ack       Kind = "ACK"
	Heartbeat Kind = "HEARTBEAT"
)

// Priority orders replay delivery: HIGH before NORMAL before LOW.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Record is the immutable unit of traffic and storage. Zero value is not
// meaningful; construct with New, NewAck, or NewHeartbeat.
type Record struct {
	ID        string
	Kind      Kind
	From      string
	To        *string // nil ⇔ broadcast or a non-addressed kind
	CreatedAt int64   // millisecond timestamp at origination
	Body      string
	Priority  Priority
}

// New constructs a Record, filling id/createdAt/priority with fresh
// server-assigned defaults. Pass priority -1 to mean "unset" and receive
// PriorityNormal.
func New(kind Kind, from string, to *string, body string, priority Priority) Record {
	if priority < 0 {
		priority = PriorityNormal
	}
	return Record{
		ID:        freshID(),
		Kind:      kind,
		From:      from,
		To:        to,
		CreatedAt: nowMillis(),
		Body:      body,
		Priority:  priority,
	}
}

// NewAck builds an ACK record whose body carries the id being acknowledged.
func NewAck(from, ackedID string) Record {
	return Record{
		ID:        freshID(),
		Kind:      Ack,
		From:      from,
		To:        nil,
		CreatedAt: nowMillis(),
		Body:      ackedID,
		Priority:  PriorityNormal,
	}
}

// NewHeartbeat builds a HEARTBEAT record with an arbitrary sentinel body.
func NewHeartbeat(from string) Record {
	return Record{
		ID:        freshID(),
		Kind:      Heartbeat,
		From:      from,
		To:        nil,
		CreatedAt: nowMillis(),
		Body:      "ping",
		Priority:  PriorityNormal,
	}
}

// Routable reports whether r is a kind the routing core will deliver
// (DIRECT or BROADCAST). ACK, HEARTBEAT, and STATUS are handled by the
// per-session inbound loop instead.
func (r Record) Routable() bool {
	return r.Kind == Direct || r.Kind == Broadcast
}

func freshID() string {
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
