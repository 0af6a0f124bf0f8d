// Package push implements HelpHub's browser-facing listener: static
// asset serving plus a websocket upgrade at /ws, grounded on the
// teacher's internal/single/core (handleWebSocket's connection-slot
// admission) and internal/shared (pump_read.go/pump_write.go), built on
// the teacher's own websocket dependency, github.com/gobwas/ws.
package push

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"

	"github.com/helphub/relay/internal/metrics"
	"github.com/helphub/relay/internal/ratelimit"
	"github.com/helphub/relay/internal/record"
	"github.com/helphub/relay/internal/router"
)

const admissionTimeout = 5 * time.Second

// Listener serves the web client's static assets and upgrades /ws to a
// push session sharing the same routing core as the framed transport.
type Listener struct {
	addr      string
	webappDir string
	router    *router.Router
	limiter   *ratelimit.Limiter
	sem       chan struct{}
	logger    zerolog.Logger
	srv       *http.Server
}

// New builds a push Listener bound to addr, serving webappDir's files
// at "/" and admitting at most maxConnections concurrent push sessions.
func New(addr, webappDir string, maxConnections int, r *router.Router, limiter *ratelimit.Limiter, logger zerolog.Logger) *Listener {
	l := &Listener{
		addr:      addr,
		webappDir: webappDir,
		router:    r,
		limiter:   limiter,
		sem:       make(chan struct{}, maxConnections),
		logger:    logger.With().Str("component", "push").Logger(),
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(webappDir)))
	mux.HandleFunc("/ws", l.handleUpgrade)
	mux.Handle("/metrics", metrics.Handler())

	l.srv = &http.Server{Addr: addr, Handler: mux}
	return l
}

// Serve runs the HTTP listener until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	l.logger.Info().Str("addr", l.addr).Str("webapp_dir", l.webappDir).Msg("push listener started")
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.srv.Shutdown(shutdownCtx)
	}()
	if err := l.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case l.sem <- struct{}{}:
	case <-time.After(admissionTimeout):
		metrics.ConnectionsRejected.WithLabelValues("at_capacity").Inc()
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-l.sem
		metrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		l.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := newSink(conn)
	go s.writePump()

	go func() {
		defer func() { <-l.sem }()
		l.readLoop(s)
	}()
}

func (l *Listener) readLoop(s *sink) {
	var identity string
	var session *router.Session

	defer func() {
		if session != nil {
			l.router.Unregister(identity, session)
			metrics.ConnectionsActive.WithLabelValues("push").Dec()
			l.logger.Info().Str("identity", identity).Msg("push session disconnected")
		}
		s.Close()
	}()

	for {
		msg, op, err := s.readFrame()
		if err != nil {
			return
		}
		if op == ws.OpClose {
			return
		}
		if op != ws.OpText {
			continue
		}

		rec, ok := record.FromWire(msg)
		if !ok {
			l.logger.Warn().Str("payload", string(msg)).Msg("discarding malformed record")
			continue
		}

		if session == nil {
			identity = strings.TrimSpace(rec.From)
			candidate := router.NewSession(identity, router.Push, s)
			switch l.router.Register(identity, candidate) {
			case router.RejectedEmpty:
				s.Send(record.NewError("INVALID_IDENTITY"))
				return
			case router.RejectedDuplicate:
				metrics.ConnectionsRejected.WithLabelValues("duplicate_identity").Inc()
				s.Send(record.NewError("ID_TAKEN"))
				return
			}
			session = candidate
			metrics.ConnectionsTotal.WithLabelValues("push").Inc()
			metrics.ConnectionsActive.WithLabelValues("push").Inc()
			l.logger.Info().Str("identity", identity).Msg("push session registered")

			if rec.Kind != record.Status {
				l.dispatch(identity, rec)
			}
			continue
		}

		session.Touch()
		if l.limiter != nil && !l.limiter.Allow(identity) {
			metrics.RateLimited.Inc()
			continue
		}
		l.dispatch(identity, rec)
	}
}

func (l *Listener) dispatch(identity string, rec record.Record) {
	if err := l.router.Dispatch(identity, rec); err != nil {
		l.logger.Error().Err(err).Str("identity", identity).Msg("dispatch failed")
		return
	}
	if rec.Routable() {
		metrics.RecordsRouted.WithLabelValues(string(rec.Kind)).Inc()
	}
}
