package push

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/helphub/relay/internal/record"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

// sink is the single writer for one push connection, mirroring the
// teacher's writePump: periodic pings keep idle browser sockets open,
// every outbound record is a single OpText frame.
type sink struct {
	conn      net.Conn
	send      chan []byte
	closeOnce sync.Once
}

func newSink(conn net.Conn) *sink {
	return &sink{conn: conn, send: make(chan []byte, sendBuffer)}
}

// Send implements router.Sink.
func (s *sink) Send(r record.Record) error {
	line, err := r.ToWire()
	if err != nil {
		return err
	}
	select {
	case s.send <- line:
		return nil
	default:
		return errors.New("push: send buffer full, dropping slow session's message")
	}
}

// Close implements router.Sink. It closes the send channel; writePump
// writes every frame still queued, then a close frame, and then closes
// the connection.
func (s *sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.send)
	})
	return nil
}

func (s *sink) readFrame() ([]byte, ws.OpCode, error) {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	return wsutil.ReadClientData(s.conn)
}

func (s *sink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				wsutil.WriteServerMessage(s.conn, ws.OpClose, nil)
				s.conn.Close()
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpText, msg); err != nil {
				s.conn.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPing, nil); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}
