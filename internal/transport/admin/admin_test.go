package admin

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/helphub/relay/internal/queue"
	"github.com/helphub/relay/internal/record"
	"github.com/helphub/relay/internal/router"
)

func newTestListener(t *testing.T, password string) (*Listener, *router.Router) {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "emergency.db"))
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	r := router.New(q, zerolog.Nop())
	return New("127.0.0.1:0", password, r, zerolog.Nop()), r
}

func serveOnRandomPort(t *testing.T, l *Listener) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	_, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go l.handleConn(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func request(t *testing.T, addr, password, verb string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte(password + "\n"))
	conn.Write([]byte(verb + "\n"))

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && reply == "" {
		t.Fatalf("ReadString: %v", err)
	}
	return strings.TrimRight(reply, "\n")
}

func TestAuthFailureWithWrongPassword(t *testing.T) {
	l, _ := newTestListener(t, "secret")
	addr := serveOnRandomPort(t, l)

	got := request(t, addr, "wrong", "GET_DATA")
	if got != "ERROR:AUTH_FAILED" {
		t.Fatalf("expected ERROR:AUTH_FAILED, got %q", got)
	}
}

func TestAuthFailureWithEmptyConfiguredPassword(t *testing.T) {
	l, _ := newTestListener(t, "")
	addr := serveOnRandomPort(t, l)

	got := request(t, addr, "", "GET_DATA")
	if got != "ERROR:AUTH_FAILED" {
		t.Fatalf("expected ERROR:AUTH_FAILED when no password is configured, got %q", got)
	}
}

func TestGetDataReportsOnlineCount(t *testing.T) {
	l, r := newTestListener(t, "secret")
	addr := serveOnRandomPort(t, l)

	r.Register("alpha", router.NewSession("alpha", router.Framed, noopSink{}))

	got := request(t, addr, "secret", "GET_DATA")
	if !strings.Contains(got, `"onlineClients":1`) {
		t.Fatalf("expected onlineClients:1 in response, got %q", got)
	}
}

func TestAdminKickUnknownIdentityReportsNotFound(t *testing.T) {
	l, _ := newTestListener(t, "secret")
	addr := serveOnRandomPort(t, l)

	got := request(t, addr, "secret", "ADMIN_KICK ghost")
	if got != "ERROR:NOT_FOUND" {
		t.Fatalf("expected ERROR:NOT_FOUND, got %q", got)
	}
}

type noopSink struct{}

func (noopSink) Send(record.Record) error { return nil }
func (noopSink) Close() error             { return nil }
