// Package ws carries the persistent device and dashboard sockets: a device
// connection runs the INIT→READY handshake and then a strictly sequential
// message loop; a dashboard connection only receives pushes.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Message is the wire envelope for every protocol frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	typeSessionInit  = "session_init"
	typeSessionReady = "session_ready"
	typeHeartbeat    = "heartbeat"
	typeResult       = "result"
	typeProgress     = "progress"
	typeLog          = "log"
	typeError        = "error"
	typeCommandAck   = "command_ack"
)

// wsConn adapts a gorilla connection to the registry's Conn interface.
// gorilla allows one concurrent writer, so writes take a mutex: the registry
// and the read loop both push frames.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) sendError(reason string) {
	c.Send(map[string]any{
		"type": typeError,
		"data": map[string]any{"reason": reason},
	})
}
