// Package framed implements HelpHub's encrypted, line-delimited
// long-lived stream listener, grounded on the teacher's
// internal/single/core (handlers_ws.go's accept/admission path) and
// internal/shared (pump_read.go/pump_write.go's single-writer-per-sink
// split), adapted from WebSocket frames to newline-terminated TLS
// stream records.
package framed

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helphub/relay/internal/metrics"
	"github.com/helphub/relay/internal/ratelimit"
	"github.com/helphub/relay/internal/record"
	"github.com/helphub/relay/internal/router"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Listener accepts TLS connections and relays line-delimited records
// through the shared routing core.
type Listener struct {
	addr     string
	tlsConf  *tls.Config
	router   *router.Router
	limiter  *ratelimit.Limiter
	logger   zerolog.Logger
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New builds a framed Listener bound to addr, presenting cert to every
// accepted connection.
func New(addr string, cert tls.Certificate, r *router.Router, limiter *ratelimit.Limiter, logger zerolog.Logger) *Listener {
	return &Listener{
		addr:     addr,
		tlsConf:  &tls.Config{Certificates: []tls.Certificate{cert}},
		router:   r,
		limiter:  limiter,
		logger:   logger.With().Str("component", "framed").Logger(),
		shutdown: make(chan struct{}),
	}
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := tls.Listen("tcp", l.addr, l.tlsConf)
	if err != nil {
		return err
	}
	l.logger.Info().Str("addr", l.addr).Msg("framed listener started")

	go func() {
		select {
		case <-ctx.Done():
		case <-l.shutdown:
		}
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-l.shutdown:
				return nil
			case <-ctx.Done():
				return nil
			default:
				l.logger.Warn().Err(err).Msg("accept error")
				continue
			}
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight
// sessions to finish their cleanup.
func (l *Listener) Close() {
	close(l.shutdown)
	l.wg.Wait()
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		conn.Close()
		return
	}

	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		l.logger.Debug().Err(err).Msg("tls handshake failed")
		conn.Close()
		return
	}

	reader := bufio.NewReader(conn)
	identityLine, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}
	identity := strings.TrimSpace(identityLine)

	sink := newSink(conn)
	go sink.writePump()

	session := router.NewSession(identity, router.Framed, sink)

	switch l.router.Register(identity, session) {
	case router.RejectedEmpty:
		l.rejectAndClose(sink, "INVALID_IDENTITY")
		return
	case router.RejectedDuplicate:
		metrics.ConnectionsRejected.WithLabelValues("duplicate_identity").Inc()
		l.rejectAndClose(sink, "ID_TAKEN")
		return
	}

	metrics.ConnectionsTotal.WithLabelValues("framed").Inc()
	metrics.ConnectionsActive.WithLabelValues("framed").Inc()
	l.logger.Info().Str("identity", identity).Msg("framed session registered")

	l.readLoop(identity, session, sink, reader)

	l.router.Unregister(identity, session)
	sink.Close()
	metrics.ConnectionsActive.WithLabelValues("framed").Dec()
	l.logger.Info().Str("identity", identity).Msg("framed session disconnected")
}

func (l *Listener) rejectAndClose(s *sink, reason string) {
	if line, err := record.NewError(reason).ToWire(); err == nil {
		s.writeLine(line)
	}
	s.Close()
}

func (l *Listener) readLoop(identity string, session *router.Session, s *sink, reader *bufio.Reader) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		session.Touch()

		if l.limiter != nil && !l.limiter.Allow(identity) {
			metrics.RateLimited.Inc()
			continue
		}

		rec, ok := record.FromWire([]byte(trimmed))
		if !ok {
			l.logger.Warn().Str("identity", identity).Str("payload", trimmed).Msg("discarding malformed record")
			continue
		}
		if err := l.router.Dispatch(identity, rec); err != nil {
			l.logger.Error().Err(err).Str("identity", identity).Msg("dispatch failed")
		} else if rec.Routable() {
			metrics.RecordsRouted.WithLabelValues(string(rec.Kind)).Inc()
		}
	}
}
