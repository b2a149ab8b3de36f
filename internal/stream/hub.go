package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrUnauthorized is returned by a TokenValidator that rejects a token.
var ErrUnauthorized = errors.New("unauthorized")

// TokenValidator checks the token query parameter of a stream request.
type TokenValidator func(token string) error

// Config tunes connection keepalive.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex // serialize writes per connection
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) write(messageType int, data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Hub fans push payloads out to websocket clients.
type Hub struct {
	cfg      Config
	validate TokenValidator
	onChange func(int)
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// Option customises a Hub.
type Option func(*Hub)

// WithValidator requires every connection to present a token accepted by v.
func WithValidator(v TokenValidator) Option {
	return func(h *Hub) { h.validate = v }
}

// WithClientGauge reports the client count after every change.
func WithClientGauge(fn func(int)) Option {
	return func(h *Hub) { h.onChange = fn }
}

// NewHub builds an empty hub.
func NewHub(cfg Config, log zerolog.Logger, opts ...Option) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	h := &Hub{
		cfg:     cfg,
		log:     log,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends payload as one text message to every client and returns how many
// received it. Clients that fail the write are dropped.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.Lock()
	snapshot := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	var (
		dead      []*client
		delivered int
	)
	for _, c := range snapshot {
		if err := c.write(websocket.TextMessage, payload, h.cfg.WriteTimeout); err != nil {
			dead = append(dead, c)
			continue
		}
		delivered++
	}
	for _, c := range dead {
		h.remove(c)
	}
	if len(dead) > 0 {
		h.log.Info().Int("pruned", len(dead)).Int("remaining", h.Count()).Msg("dropped stale stream clients")
	}
	return delivered
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	snapshot := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()
	for _, c := range snapshot {
		h.remove(c)
	}
}

// Handler returns a mux serving the hub on /stream.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/stream", h)
	return mux
}

// ServeHTTP upgrades the request and keeps the connection registered until the peer
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.validate != nil {
		if err := h.validate(r.URL.Query().Get("token")); err != nil {
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade websocket")
		return
	}
	c := &client{conn: conn, done: make(chan struct{})}
	h.add(c)
	defer h.remove(c)

	go h.ping(c)
	for {
		// inbound messages are ignored; reading surfaces close frames and dead peers
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) ping(c *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout))
			c.mu.Unlock()
			if err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug().Int("clients", n).Msg("stream client connected")
	h.notify(n)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		h.log.Debug().Int("clients", n).Msg("stream client disconnected")
		h.notify(n)
	}
}

func (h *Hub) notify(n int) {
	if h.onChange != nil {
		h.onChange(n)
	}
}
