package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/user/sessionrelay/internal/types"
)

const outboundQueueSize = 256

// client is one websocket connection. A single writer goroutine drains the
// outbound queue (gorilla/websocket does not allow concurrent writes); the
// read loop dispatches inbound frames.
type client struct {
	id   types.ClientID
	conn *websocket.Conn
	srv  *Server

	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id types.ClientID, conn *websocket.Conn, srv *Server) *client {
	return &client{
		id:   id,
		conn: conn,
		srv:  srv,
		out:  make(chan Frame, outboundQueueSize),
		done: make(chan struct{}),
	}
}

// send enqueues a frame without blocking. A client too slow to drain its
// queue is disconnected rather than allowed to stall broadcasts; its
// tracked frames stay pending and replay on reconnect.
func (c *client) send(frame Frame) {
	select {
	case c.out <- frame:
	case <-c.done:
	default:
		slog.Warn("outbound queue full, dropping client", "client_id", c.id)
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) writeLoop() {
	for {
		select {
		case frame := <-c.out:
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("write failed", "client_id", c.id, "error", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop blocks until the connection drops, dispatching each inbound
// frame. A malformed frame gets an error response rather than killing the
// connection.
func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("client connection closed", "client_id", c.id, "error", err)
			}
			return
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.send(Frame{Type: MsgError, Error: "malformed frame"})
			continue
		}
		c.srv.dispatch(c, in)
	}
}
