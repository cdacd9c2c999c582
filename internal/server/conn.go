package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pagesync/internal/collab"
)

const sendQueueSize = 64

// conn adapts a websocket connection to collab.Session. Sends are
// fire-and-forget: when the outbound queue is full the message is dropped
// and convergence catches up on the next update or rejoin.
type conn struct {
	id   string
	ws   *websocket.Conn
	log  *slog.Logger
	send chan collab.Message

	once sync.Once
	done chan struct{}
}

func newConn(ws *websocket.Conn, log *slog.Logger) *conn {
	return &conn{
		id:   uuid.NewString(),
		ws:   ws,
		log:  log,
		send: make(chan collab.Message, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *conn) ID() string {
	return c.id
}

func (c *conn) Send(msg collab.Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn("dropping message for slow consumer", "session", c.id, "event", msg.Event)
	}
}

func (c *conn) writePump() {
	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Warn("write failed", "session", c.id, "err", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
