// Package sweeper implements the reliability loop: a single ticker that
// periodically evicts framed sessions whose last activity has exceeded
// the configured timeout. Push sessions are not swept — their liveness
// is driven by the transport's own close events (§4.6).
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/helphub/relay/internal/metrics"
	"github.com/helphub/relay/internal/router"
)

// Sweeper periodically disconnects stale framed sessions.
type Sweeper struct {
	router  *router.Router
	timeout time.Duration
	logger  zerolog.Logger
}

// New builds a Sweeper that evicts framed sessions idle past timeout.
func New(r *router.Router, timeout time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		router:  r,
		timeout: timeout,
		logger:  logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run ticks every s.timeout until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep gathers victims under the router's lock (via FramedSessions'
// snapshot), then disconnects outside it — I/O never happens while
// holding the identity-table mutex.
func (s *Sweeper) sweep() {
	deadline := time.Now().Add(-s.timeout).UnixMilli()
	for _, session := range s.router.FramedSessions() {
		if session.LastActivity() >= deadline {
			continue
		}
		s.router.Unregister(session.Identity, session)
		if err := session.Sink.Close(); err != nil {
			s.logger.Debug().Err(err).Str("identity", session.Identity).Msg("error closing swept session")
		}
		metrics.SweeperEvictions.Inc()
		s.logger.Info().Str("identity", session.Identity).Msg("swept idle session")
	}
}
