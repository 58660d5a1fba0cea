package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"modeldrop/internal/logging"
)

const (
	defaultSendBuffer = 32
	defaultWriteWait  = 10 * time.Second
	defaultPongWait   = 60 * time.Second
	maxMessageSize    = 512
)

// ErrHubClosed is returned by Register once Close has been called.
var ErrHubClosed = errors.New("live hub closed")

// Conn is the part of *websocket.Conn the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is a registered connection.
type Client struct {
	id   string
	hub  *Hub
	conn Conn
	send chan []byte
}

// ID returns the identifier assigned at registration.
func (c *Client) ID() string { return c.id }

// Hub is the registry of live connections.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup

	sendBuffer int
	writeWait  time.Duration
	pongWait   time.Duration
	upgrader   websocket.Upgrader

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendBuffer sets how many messages may queue per client before new ones
// are dropped for that client.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithWriteWait bounds a single websocket write.
func WithWriteWait(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeWait = d
		}
	}
}

// WithPongWait sets how long a silent client stays registered. Pings are
// sent at 9/10 of this interval.
func WithPongWait(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pongWait = d
		}
	}
}

// WithOriginCheck decides which browser origins may open a live connection.
func WithOriginCheck(check func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = check }
}

// NewHub returns an empty, open hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		sendBuffer: defaultSendBuffer,
		writeWait:  defaultWriteWait,
		pongWait:   defaultPongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds conn to the hub and starts its writer.
func (h *Hub) Register(conn Conn) (*Client, error) {
	c := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	n := len(h.clients)
	h.mu.Unlock()

	go c.writePump()

	logging.Debug("live_client_registered", logging.Fields{"client": c.id, "clients": n})
	return c, nil
}

// Unregister removes c. Calling it more than once is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		logging.Debug("live_client_unregistered", logging.Fields{"client": c.id, "clients": n})
	}
}

// Publish queues ev for every client registered at the time of the call.
// A client whose queue is full misses this event.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error("live_marshal_failed", logging.Fields{"type": ev.Type}, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.published.Add(1)
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			logging.Warn("live_message_dropped", logging.Fields{"client": c.id, "type": ev.Type})
		}
	}
}

// Len returns the number of registered clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Published returns how many events were passed to Publish.
func (h *Hub) Published() uint64 { return h.published.Load() }

// Dropped returns how many per-client deliveries were skipped on a full queue.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close refuses new registrations, disconnects every client with a close
// frame and waits for the writers to finish or ctx to expire.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request to a websocket and keeps it registered
// until the peer goes away. Frames sent by the client are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logging.Debug("live_upgrade_failed", logging.Fields{"origin": r.Header.Get("Origin")})
		return
	}

	c, err := h.Register(conn)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.writeWait))
		_ = conn.Close()
		return
	}

	c.readPump(conn)
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer c.hub.Unregister(c)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only goroutine writing to c.conn.
func (c *Client) writePump() {
	h := c.hub
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		h.wg.Done()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logging.Debug("live_write_failed", logging.Fields{"client": c.id, "error": err.Error()})
				h.Unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(c)
				return
			}
		}
	}
}
