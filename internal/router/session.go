package router

import (
	"sync/atomic"
	"time"

	"github.com/helphub/relay/internal/record"
)

// Transport tags which listener a Session belongs to.
type Transport int

const (
	Framed Transport = iota
	Push
)

// String renders the transport the way the admin control-plane's
// GET_DATA response expects it (§4.7): "TCP" for framed, "Web" for push.
func (t Transport) String() string {
	if t == Framed {
		return "TCP"
	}
	return "Web"
}

// Sink is the weak reference the routing core holds to a session's
// outbound channel. The router can publish to it but must not assume it
// remains valid across failures — a Send error means the session is
// already dying and its own loop will run disconnect cleanup.
type Sink interface {
	Send(r record.Record) error
	Close() error
}

// Session is a live connection bound to exactly one identity on one
// transport. last_activity is stored as atomic unix-millis so the
// reliability sweeper can read it without taking the identity-table lock.
type Session struct {
	Identity     string
	Transport    Transport
	Sink         Sink
	lastActivity int64
}

// NewSession creates a session with last_activity stamped to now.
func NewSession(identity string, transport Transport, sink Sink) *Session {
	return &Session{
		Identity:     identity,
		Transport:    transport,
		Sink:         sink,
		lastActivity: time.Now().UnixMilli(),
	}
}

// Touch advances last_activity to now. It never moves the stamp
// backwards: if the wall clock reads earlier than the stored value, the
// stored value is kept.
func (s *Session) Touch() {
	now := time.Now().UnixMilli()
	for {
		old := atomic.LoadInt64(&s.lastActivity)
		if now <= old || atomic.CompareAndSwapInt64(&s.lastActivity, old, now) {
			return
		}
	}
}

// LastActivity returns the last recorded activity timestamp in unix
// millis.
func (s *Session) LastActivity() int64 {
	return atomic.LoadInt64(&s.lastActivity)
}
