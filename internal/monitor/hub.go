package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	clientBuffer   = 256
)

// hub fans queued events out to websocket clients.
type hub struct {
	queue  *EventQueue[EventMessage]
	logger *slog.Logger

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan EventMessage
	count      chan chan int
}

func newHub(queue *EventQueue[EventMessage], logger *slog.Logger) *hub {
	return &hub{
		queue:      queue,
		logger:     logger,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan EventMessage),
		count:      make(chan chan int),
	}
}

// pump moves events from the queue to the hub loop until the queue closes.
func (h *hub) pump(ctx context.Context) {
	for {
		msg, ok := h.queue.Receive()
		if !ok {
			return
		}
		select {
		case h.broadcast <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// run is the hub loop. It owns the client set.
func (h *hub) run(ctx context.Context) {
	defer func() {
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Debug("websocket client connected", "remote", c.conn.RemoteAddr(), "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Debug("websocket client disconnected", "remote", c.conn.RemoteAddr(), "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer; drop it rather than stall the hub
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("dropping slow websocket client", "remote", c.conn.RemoteAddr())
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

// clientCount returns the number of connected clients, or 0 once the hub stopped.
func (h *hub) clientCount(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-ctx.Done():
		return 0
	}
}

// client is one websocket connection.
type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan EventMessage
}

// readPump discards client messages and detects disconnects.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump sends queued events and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
