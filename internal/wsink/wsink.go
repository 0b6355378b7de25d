// Package wsink implements streambridge.Sink over a github.com/coder/websocket
// connection, so KjAdapter.PumpTo can drain a managed reader straight onto
// a WebSocket in binary-message mode.
//
// Grounded on cryguy-worker's websocket.go, specifically the
// WebSocketHandler.Bridge write path (conn.Write with websocket.MessageBinary,
// conn.Close with a status code and reason on teardown).
package wsink

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// defaultWriteTimeout bounds a single Write call against a stalled
// peer, mirroring the 5-second write timeout cryguy-worker applies to
// __wsSend.
const defaultWriteTimeout = 5 * time.Second

// Sink writes each chunk as its own binary WebSocket message.
type Sink struct {
	conn *websocket.Conn
}

// New wraps conn as a Sink.
func New(conn *websocket.Conn) *Sink {
	return &Sink{conn: conn}
}

// Write sends p as one binary message.
func (s *Sink) Write(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// End closes the connection with a normal-closure status.
func (s *Sink) End() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// Abort closes the connection with an internal-error status, truncating
// reason to what the WebSocket close-frame format allows.
func (s *Sink) Abort(reason error) error {
	msg := ""
	if reason != nil {
		msg = reason.Error()
		if len(msg) > 123 {
			msg = msg[:123]
		}
	}
	return s.conn.Close(websocket.StatusInternalError, msg)
}
