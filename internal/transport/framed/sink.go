package framed

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/helphub/relay/internal/record"
)

// sink is the single writer for one framed connection's outbound side,
// mirroring the teacher's writePump: one goroutine owns the socket
// write half, fed by a buffered channel, and the caller's Send is
// non-blocking so a slow reader cannot stall the routing core.
type sink struct {
	conn      net.Conn
	send      chan []byte
	closeOnce sync.Once
}

func newSink(conn net.Conn) *sink {
	return &sink{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

// Send implements router.Sink.
func (s *sink) Send(r record.Record) error {
	line, err := r.ToWire()
	if err != nil {
		return err
	}
	return s.writeLine(line)
}

func (s *sink) writeLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	select {
	case s.send <- buf:
		return nil
	default:
		return errors.New("framed: send buffer full, dropping slow session's message")
	}
}

// Close implements router.Sink. It closes the send channel; writePump
// writes every record still queued and then closes the connection.
func (s *sink) Close() error {
	s.closeOnce.Do(func() {
		close(s.send)
	})
	return nil
}

func (s *sink) writePump() {
	defer s.conn.Close()
	for buf := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := s.conn.Write(buf); err != nil {
			// Force the paired read loop to unblock and run disconnect
			// cleanup; Close (idempotent) still runs once the loop exits.
			s.conn.Close()
			return
		}
	}
}
