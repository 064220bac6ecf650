package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wricardo/sensor-game-hub/metrics"
	"github.com/wricardo/sensor-game-hub/ratelimit"
)

var (
	ErrPeerUnreachable = errors.New("peer unreachable")
	ErrSendBufferFull  = errors.New("send buffer full")
	ErrRoleConflict    = errors.New("connection already registered with another role")
)

// Role is what a connection registered as.
type Role string

const (
	RoleUnassigned Role = "unassigned"
	RoleObserver   Role = "observer"
	RoleProducer   Role = "producer"
	RoleSensor     Role = "sensor"
)

// Options tune the transport.
type Options struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Outbound frames queued per connection before new ones are dropped.
	SendBuffer int
	// Inbound frames a connection may send in a burst, and the interval
	// over which the bucket refills.
	RateBurst          int
	RateRefillInterval time.Duration
	AllowedOrigins     []string
}

// DefaultOptions returns the transport defaults.
func DefaultOptions() Options {
	return Options{
		WriteWait:          10 * time.Second,
		PongWait:           60 * time.Second,
		MaxMessageSize:     8192,
		SendBuffer:         256,
		RateBurst:          120,
		RateRefillInterval: time.Second,
		AllowedOrigins:     []string{"*"},
	}
}

// pingPeriod must be less than PongWait.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Handler receives decoded traffic from the registry.
type Handler interface {
	HandleMessage(clientID string, data []byte)
	HandleDisconnect(clientID string)
}

// Connection is a snapshot of a registered client.
type Connection struct {
	ID           string            `json:"id"`
	Role         Role              `json:"role"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RemoteAddr   string            `json:"remoteAddr"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
}

// Client is one live transport connection. Only the registry touches conn.
type Client struct {
	id         string
	registry   *Registry
	conn       *websocket.Conn
	send       chan []byte
	limiter    *ratelimit.Bucket
	remoteAddr string
	logger     *slog.Logger

	mu           sync.Mutex
	role         Role
	metadata     map[string]string
	createdAt    time.Time
	lastActivity time.Time
	closed       bool
}

// enqueue hands data to the write pump without blocking.
func (c *Client) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrPeerUnreachable
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *Client) snapshot() Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Connection{
		ID:           c.id,
		Role:         c.role,
		Metadata:     maps.Clone(c.metadata),
		RemoteAddr:   c.remoteAddr,
		CreatedAt:    c.createdAt,
		LastActivity: c.lastActivity,
	}
}

// Registry tracks every live connection and is the only path for sending
// to one.
type Registry struct {
	clients  map[string]*Client
	mu       sync.RWMutex
	opts     Options
	upgrader websocket.Upgrader
	handler  Handler
	metrics  *metrics.Collector
	logger   *slog.Logger
	pumps    sync.WaitGroup
}

// NewRegistry creates an empty registry. A handler must be set with
// SetHandler before connections are served.
func NewRegistry(opts Options, logger *slog.Logger, m *metrics.Collector) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registry")

	defaults := DefaultOptions()
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = defaults.RateBurst
	}
	if opts.RateRefillInterval <= 0 {
		opts.RateRefillInterval = defaults.RateRefillInterval
	}

	origins := newOriginPolicy(opts.AllowedOrigins, logger)

	return &Registry{
		clients: make(map[string]*Client),
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		metrics: m,
		logger:  logger,
	}
}

// SetHandler installs the message handler.
func (r *Registry) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Register adds a connection and returns its id. conn may be nil for
// connections that are driven without a socket.
func (r *Registry) Register(conn *websocket.Conn, remoteAddr string) *Client {
	now := time.Now()
	c := &Client{
		id:           uuid.NewString(),
		registry:     r,
		conn:         conn,
		send:         make(chan []byte, r.opts.SendBuffer),
		limiter:      ratelimit.New(r.opts.RateBurst, r.opts.RateRefillInterval),
		remoteAddr:   remoteAddr,
		role:         RoleUnassigned,
		metadata:     make(map[string]string),
		createdAt:    now,
		lastActivity: now,
	}
	c.logger = r.logger.With("clientID", c.id, "remoteAddr", remoteAddr)

	r.mu.Lock()
	r.clients[c.id] = c
	total := len(r.clients)
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	c.logger.Info("Client connected", "clients", total)
	return c
}

// SetRole assigns a role and merges metadata. Registering again with the
// same role refreshes the metadata; switching roles is refused.
func (r *Registry) SetRole(id string, role Role, metadata map[string]string) error {
	c := r.client(id)
	if c == nil {
		return ErrPeerUnreachable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.role != RoleUnassigned && c.role != role {
		return fmt.Errorf("%w: %s", ErrRoleConflict, c.role)
	}
	c.role = role
	maps.Copy(c.metadata, metadata)
	return nil
}

// Get returns a snapshot of the connection.
func (r *Registry) Get(id string) (Connection, bool) {
	c := r.client(id)
	if c == nil {
		return Connection{}, false
	}
	return c.snapshot(), true
}

// Touch records activity on a connection.
func (r *Registry) Touch(id string) {
	if c := r.client(id); c != nil {
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()
	}
}

// Remove forgets a connection and closes its send queue. It reports
// whether the connection was still registered; removing twice is harmless.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	c, exists := r.clients[id]
	if exists {
		delete(r.clients, id)
	}
	total := len(r.clients)
	r.mu.Unlock()

	if !exists {
		return false
	}

	c.close()
	r.metrics.ConnectionClosed()
	c.logger.Info("Client disconnected", "clients", total)
	return true
}

// Send queues msg for one connection.
func (r *Registry) Send(id string, msg Outbound) error {
	data, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return r.sendBytes(id, data)
}

// Broadcast queues msg for every id and returns how many accepted it.
func (r *Registry) Broadcast(ids []string, msg Outbound) int {
	data, err := Encode(msg)
	if err != nil {
		r.logger.Error("Failed to encode broadcast", "error", err)
		return 0
	}

	delivered := 0
	for _, id := range ids {
		if err := r.sendBytes(id, data); err != nil {
			r.logger.Debug("Broadcast target skipped", "target", id, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) sendBytes(id string, data []byte) error {
	c := r.client(id)
	if c == nil {
		r.metrics.Dropped("peer_unreachable")
		return ErrPeerUnreachable
	}

	if err := c.enqueue(data); err != nil {
		if errors.Is(err, ErrSendBufferFull) {
			r.metrics.Dropped("buffer_full")
		} else {
			r.metrics.Dropped("peer_unreachable")
		}
		return err
	}
	return nil
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CountByRole groups live connections by role name.
func (r *Registry) CountByRole() map[string]int {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	counts := make(map[string]int)
	for _, c := range clients {
		c.mu.Lock()
		counts[string(c.role)]++
		c.mu.Unlock()
	}
	return counts
}

// ServeWS upgrades the request and starts the connection's pumps.
func (r *Registry) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("WebSocket upgrade failed", "error", err, "remoteAddr", req.RemoteAddr)
		return
	}

	c := r.Register(conn, req.RemoteAddr)

	r.pumps.Add(2)
	go c.writePump()
	go c.readPump()
}

// Shutdown closes every connection and waits for the pumps to exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Remove(id)
	}

	done := make(chan struct{})
	go func() {
		r.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("All connections closed", "count", len(ids))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) client(id string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

func (r *Registry) currentHandler() Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handler
}

// disconnect removes c and runs the handler's cleanup exactly once.
func (r *Registry) disconnect(c *Client) {
	if !r.Remove(c.id) {
		return
	}
	if h := r.currentHandler(); h != nil {
		h.HandleDisconnect(c.id)
	}
}
