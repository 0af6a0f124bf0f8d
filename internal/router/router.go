// Package router implements HelpHub's routing core: the single authority
// over the live-identity table, fanning out DIRECT and BROADCAST records
// to the framed and push transports while enforcing broadcast-sender
// exclusion and identity uniqueness across both transport personalities.
package router

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helphub/relay/internal/queue"
	"github.com/helphub/relay/internal/record"
)

// RegisterResult is the outcome of a registration attempt.
type RegisterResult int

const (
	Accepted RegisterResult = iota
	RejectedDuplicate
	RejectedEmpty
)

// Router holds the live-identity table (identity → session) for each
// transport behind one mutex, guarding only the table lookups; delivery
// writes happen outside the critical section per §5.
type Router struct {
	mu     sync.Mutex
	framed map[string]*Session
	push   map[string]*Session

	queue  *queue.Queue
	logger zerolog.Logger
}

// New creates a Router backed by q.
func New(q *queue.Queue, logger zerolog.Logger) *Router {
	return &Router{
		framed: make(map[string]*Session),
		push:   make(map[string]*Session),
		queue:  q,
		logger: logger.With().Str("component", "router").Logger(),
	}
}

func (r *Router) tableFor(t Transport) map[string]*Session {
	if t == Framed {
		return r.framed
	}
	return r.push
}

// Register attempts to bind identity to session s. It fails if identity
// is empty/whitespace, or already present in either transport's table.
// On success it upserts last_seen and immediately flushes any pending
// records to the new session.
func (r *Router) Register(identity string, s *Session) RegisterResult {
	if strings.TrimSpace(identity) == "" {
		return RejectedEmpty
	}

	r.mu.Lock()
	if _, ok := r.framed[identity]; ok {
		r.mu.Unlock()
		return RejectedDuplicate
	}
	if _, ok := r.push[identity]; ok {
		r.mu.Unlock()
		return RejectedDuplicate
	}
	r.tableFor(s.Transport)[identity] = s
	r.mu.Unlock()

	if err := r.queue.UpsertLastSeen(identity); err != nil {
		r.logger.Error().Err(err).Str("identity", identity).Msg("failed to upsert last_seen on register")
	}
	if err := r.FlushPending(identity); err != nil {
		r.logger.Error().Err(err).Str("identity", identity).Msg("failed to flush pending on register")
	}
	return Accepted
}

// Unregister removes identity only if the table's current entry is s,
// guarding against a late removal racing a re-registration.
func (r *Router) Unregister(identity string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tableFor(s.Transport)
	if table[identity] == s {
		delete(table, identity)
	}
}

// IsTaken reports whether identity currently names a live session on
// either transport.
func (r *Router) IsTaken(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, inFramed := r.framed[identity]
	_, inPush := r.push[identity]
	return inFramed || inPush
}

// Route persists r and, for DIRECT/BROADCAST kinds, delivers it to the
// currently live recipient(s). Delivery is best-effort: if no live
// session exists the record simply stays PENDING for replay.
func (r *Router) Route(rec record.Record) error {
	if err := r.queue.Store(rec); err != nil {
		r.logger.Error().Err(err).Str("id", rec.ID).Msg("record not persisted, aborting route")
		return err
	}

	switch rec.Kind {
	case record.Direct:
		if rec.To == nil {
			return nil
		}
		if s := r.lookup(*rec.To); s != nil {
			r.deliver(s, rec)
		}
	case record.Broadcast:
		for _, s := range r.liveSessionsExcept(rec.From) {
			r.deliver(s, rec)
		}
	}
	return nil
}

// FlushPending writes every PENDING row addressed to identity to its
// current session, in priority-then-time order.
func (r *Router) FlushPending(identity string) error {
	s := r.lookup(identity)
	if s == nil {
		return nil
	}
	rows, err := r.queue.PendingFor(identity)
	if err != nil {
		return err
	}
	for _, rec := range rows {
		r.deliver(s, rec)
	}
	return nil
}

// ForceDisconnect closes identity's current session if one exists,
// reporting whether a session was found.
func (r *Router) ForceDisconnect(identity string) bool {
	s := r.lookup(identity)
	if s == nil {
		return false
	}
	if err := s.Sink.Close(); err != nil {
		r.logger.Debug().Err(err).Str("identity", identity).Msg("error closing forced-disconnect session")
	}
	return true
}

// Queue returns the durable queue backing this router, for transports
// that need direct access to non-routable operations (HEARTBEAT
// last-seen upserts, ACK delivery marking).
func (r *Router) Queue() *queue.Queue {
	return r.queue
}

// Dispatch applies the per-session inbound-record handling rules
// shared by every transport (§4.4 step 4 / §4.5): HEARTBEAT only
// upserts last_seen, ACK marks the acknowledged row DELIVERED,
// DIRECT/BROADCAST are routed, and STATUS (a push-transport
// registration frame) is not routable and is otherwise ignored here.
func (r *Router) Dispatch(identity string, rec record.Record) error {
	switch rec.Kind {
	case record.Heartbeat:
		return r.queue.UpsertLastSeen(identity)
	case record.Ack:
		return r.queue.MarkDelivered(rec.Body)
	case record.Direct, record.Broadcast:
		return r.Route(rec)
	default:
		return nil
	}
}

func (r *Router) lookup(identity string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.framed[identity]; ok {
		return s
	}
	if s, ok := r.push[identity]; ok {
		return s
	}
	return nil
}

// liveSessionsExcept snapshots every live session whose identity != from
// under the lock, then returns — the caller performs I/O outside it.
func (r *Router) liveSessionsExcept(from string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.framed)+len(r.push))
	for identity, s := range r.framed {
		if identity != from {
			out = append(out, s)
		}
	}
	for identity, s := range r.push {
		if identity != from {
			out = append(out, s)
		}
	}
	return out
}

// FramedSessions snapshots the framed-transport table for the
// reliability sweeper, which must not hold the identity-table mutex
// while performing I/O.
func (r *Router) FramedSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.framed))
	for _, s := range r.framed {
		out = append(out, s)
	}
	return out
}

// ClientSummary is one row of the admin control-plane's GET_DATA
// response (§4.7).
type ClientSummary struct {
	ClientID string `json:"clientId"`
	Type     string `json:"type"`
	LastSeen int64  `json:"lastSeen"`
}

// Snapshot returns a ClientSummary for every live session across both
// transports.
func (r *Router) Snapshot() []ClientSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientSummary, 0, len(r.framed)+len(r.push))
	for identity, s := range r.framed {
		out = append(out, ClientSummary{ClientID: identity, Type: s.Transport.String(), LastSeen: s.LastActivity()})
	}
	for identity, s := range r.push {
		out = append(out, ClientSummary{ClientID: identity, Type: s.Transport.String(), LastSeen: s.LastActivity()})
	}
	return out
}

// CloseAll closes every live session's sink, for graceful shutdown
// (§5: "close all sessions, then release the queue"). It does not
// remove entries from the identity tables; the process is exiting
// regardless.
func (r *Router) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.framed)+len(r.push))
	for _, s := range r.framed {
		sessions = append(sessions, s)
	}
	for _, s := range r.push {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Sink.Close(); err != nil {
			r.logger.Debug().Err(err).Str("identity", s.Identity).Msg("error closing session during shutdown")
		}
	}
}

// OnlineCount returns the number of live sessions across both transports.
func (r *Router) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.framed) + len(r.push)
}

func (r *Router) deliver(s *Session, rec record.Record) {
	if err := s.Sink.Send(rec); err != nil {
		r.logger.Debug().
			Err(err).
			Str("identity", s.Identity).
			Str("record_id", rec.ID).
			Msg("best-effort delivery failed, record remains pending")
	}
}
