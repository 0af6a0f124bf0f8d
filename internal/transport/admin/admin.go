// Package admin implements HelpHub's control-plane listener: a plain,
// line-oriented TCP protocol, one request per connection, authenticated
// by a shared-secret password from the environment (§4.7).
package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helphub/relay/internal/record"
	"github.com/helphub/relay/internal/router"
)

// Listener serves the admin control-plane protocol.
type Listener struct {
	addr     string
	password string
	router   *router.Router
	logger   zerolog.Logger
}

// New builds an admin Listener. An empty password rejects every
// request (§6: "absent or empty means all control-plane requests are
// rejected").
func New(addr, password string, r *router.Router, logger zerolog.Logger) *Listener {
	return &Listener{
		addr:     addr,
		password: password,
		router:   r,
		logger:   logger.With().Str("component", "admin").Logger(),
	}
}

// Serve accepts connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.logger.Info().Str("addr", l.addr).Msg("admin control-plane listener started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				l.logger.Warn().Err(err).Msg("accept error")
				continue
			}
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	passwordLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	provided := strings.TrimSpace(passwordLine)
	if l.password == "" || provided != l.password {
		conn.Write([]byte("ERROR:AUTH_FAILED\n"))
		return
	}

	requestLine, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	verb, arg, _ := strings.Cut(strings.TrimSpace(requestLine), " ")

	response, err := l.handleVerb(verb, arg)
	if err != nil {
		l.logger.Error().Err(err).Str("verb", verb).Msg("admin request failed")
		conn.Write([]byte("ERROR:INTERNAL\n"))
		return
	}
	conn.Write(append(response, '\n'))
}

func (l *Listener) handleVerb(verb, arg string) ([]byte, error) {
	switch verb {
	case "GET_DATA":
		return l.getData()
	case "GET_PENDING":
		return l.getPending(arg)
	case "ADMIN_BROADCAST":
		return []byte("OK"), l.adminBroadcast(arg)
	case "ADMIN_KICK":
		return l.adminKick(arg)
	default:
		return []byte("ERROR:UNKNOWN_VERB"), nil
	}
}

type dataResponse struct {
	Stats              statsBlock             `json:"stats"`
	Clients            []router.ClientSummary `json:"clients"`
	ClientsWithPending []string               `json:"clientsWithPending"`
}

type statsBlock struct {
	OnlineClients   int `json:"onlineClients"`
	PendingMessages int `json:"pendingMessages"`
}

func (l *Listener) getData() ([]byte, error) {
	pending, err := l.router.Queue().PendingCount()
	if err != nil {
		return nil, err
	}
	withPending, err := l.router.Queue().IdentitiesWithPendingDirect()
	if err != nil {
		return nil, err
	}
	resp := dataResponse{
		Stats: statsBlock{
			OnlineClients:   l.router.OnlineCount(),
			PendingMessages: pending,
		},
		Clients:            l.router.Snapshot(),
		ClientsWithPending: withPending,
	}
	return json.Marshal(resp)
}

func (l *Listener) getPending(identity string) ([]byte, error) {
	entries, err := l.router.Queue().PendingEntriesFor(identity)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entries)
}

func (l *Listener) adminBroadcast(text string) error {
	rec := record.New(record.Broadcast, "_admin_", nil, text, record.PriorityHigh)
	return l.router.Route(rec)
}

func (l *Listener) adminKick(identity string) ([]byte, error) {
	if l.router.ForceDisconnect(identity) {
		return []byte("OK"), nil
	}
	return []byte("ERROR:NOT_FOUND"), nil
}
