// Package ratelimit throttles inbound records per identity, grounded on
// the teacher's internal/shared/limits/connection_rate_limiter.go: the
// same per-key token-bucket-with-TTL-cleanup shape, repurposed from
// gating new connections per IP to gating inbound records per identity
// (§4.14).
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Limiter gates inbound records per identity using an independent
// token bucket for each one, so one chatty identity cannot starve
// another's allowance.
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	logger   zerolog.Logger
	stopOnce sync.Once
	stop     chan struct{}
}

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New builds a Limiter allowing perSecond sustained records per
// identity with the given burst, evicting identities idle past ttl.
func New(perSecond float64, burst int, ttl time.Duration, logger zerolog.Logger) *Limiter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := &Limiter{
		entries: make(map[string]*entry),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		ttl:     ttl,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether identity may send another record right now,
// consuming one token from its bucket if so.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	e, ok := l.entries[identity]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[identity] = e
	}
	e.lastAccess = time.Now()
	l.mu.Unlock()

	allowed := e.limiter.Allow()
	if !allowed {
		l.logger.Debug().Str("identity", identity).Msg("inbound record rate limited")
	}
	return allowed
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for identity, e := range l.entries {
		if now.Sub(e.lastAccess) > l.ttl {
			delete(l.entries, identity)
		}
	}
}

// Stop ends the background cleanup loop. Safe to call once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
