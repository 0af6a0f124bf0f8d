// Command helphubd runs the HelpHub relay server: framed and push
// listeners converging on one routing core backed by a durable queue,
// an admin control-plane, an admin console on stdin, and LAN discovery.
//
// Process shape mirrors the teacher's cmd/single/main.go: automaxprocs
// tuning, env-based config, structured startup logging, signal-driven
// graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/helphub/relay/internal/config"
	"github.com/helphub/relay/internal/console"
	"github.com/helphub/relay/internal/discovery"
	"github.com/helphub/relay/internal/keystore"
	"github.com/helphub/relay/internal/logging"
	"github.com/helphub/relay/internal/metrics"
	"github.com/helphub/relay/internal/queue"
	"github.com/helphub/relay/internal/ratelimit"
	"github.com/helphub/relay/internal/router"
	"github.com/helphub/relay/internal/sweeper"
	"github.com/helphub/relay/internal/transport/admin"
	"github.com/helphub/relay/internal/transport/framed"
	"github.com/helphub/relay/internal/transport/push"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "helphubd:", err)
		os.Exit(1)
	}
}

func run() error {
	bootLogger := logging.New("info", "json")

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	cert, err := keystore.Unlock(cfg.KeystorePath, cfg.KeystorePassword)
	if err != nil {
		return fmt.Errorf("unlock keystore: %w", err)
	}

	q, err := queue.Open(filepath.Join(cfg.DataDir, "emergency.db"))
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	r := router.New(q, logger)

	limiter := ratelimit.New(cfg.InboundRate, cfg.InboundRateBurst, cfg.ConnectionTimeout, logger)
	defer limiter.Stop()

	collector := metrics.NewCollector(q.PendingCount)
	collector.Start(10 * time.Second)
	defer collector.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	framedListener := framed.New(cfg.FramedAddr, cert, r, limiter, logger)
	pushListener := push.New(cfg.WebAddr, cfg.WebappDir, cfg.MaxPushConnections, r, limiter, logger)
	adminListener := admin.New(cfg.AdminAddr, cfg.AdminPassword, r, logger)
	sweep := sweeper.New(r, cfg.ConnectionTimeout, logger)

	errCh := make(chan error, 3)
	go func() { errCh <- framedListener.Serve(ctx) }()
	go func() { errCh <- pushListener.Serve(ctx) }()
	go func() { errCh <- adminListener.Serve(ctx) }()
	go sweep.Run(ctx)

	adv := discovery.Start(cfg.ServiceName, mustPort(cfg.WebAddr), logger)
	discovery.LogLANAddresses(mustPort(cfg.WebAddr), logger)

	adminConsole := console.New(r, cfg.LogPath, logger)
	go adminConsole.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("listener failed, shutting down")
		}
	}

	adv.Stop()
	cancel()
	r.CloseAll()
	framedListener.Close()

	logger.Info().Msg("shutdown complete")
	return nil
}

// mustPort extracts the numeric port from an addr of the form
// "host:port" or ":port", returning 0 if addr is not of that form. It
// runs before the listener goroutines are known to have bound.
func mustPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
