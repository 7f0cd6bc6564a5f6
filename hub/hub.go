package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/quakestream/errors"
	"github.com/c360/quakestream/metric"
)

const (
	defaultSendTimeout  = 5 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 60 * time.Second
	maxInboundBytes     = 4096
)

// Disconnect reasons recorded in metrics
const (
	ReasonNormal      = "normal"
	ReasonSendError   = "send_error"
	ReasonSendTimeout = "send_timeout"
	ReasonPingError   = "ping_error"
	ReasonShutdown    = "shutdown"
	ReasonUnregister  = "unregister"
)

// Conn is the write side of a subscriber connection. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Client is one registered subscriber
type Client struct {
	id           string
	conn         Conn
	connectedAt  time.Time
	messagesSent atomic.Int64
	closed       atomic.Bool
	closeOnce    sync.Once
	writeMutex   sync.Mutex // gorilla/websocket allows one concurrent writer
}

// ID returns the subscriber id
func (c *Client) ID() string { return c.id }

// ConnectedAt returns when the subscriber registered
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }

// MessagesSent returns the number of broadcasts delivered to the subscriber
func (c *Client) MessagesSent() int64 { return c.messagesSent.Load() }

// Config configures a Hub
type Config struct {
	// SendTimeout bounds each per-subscriber write during Broadcast.
	SendTimeout time.Duration
	// PingInterval is how often subscribers are pinged.
	PingInterval time.Duration
	// PongWait is how long a subscriber may stay silent before it is dropped.
	PongWait time.Duration
	// CheckOrigin is passed to the websocket upgrader. Nil accepts all origins.
	CheckOrigin func(r *http.Request) bool

	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// Hub owns the set of live subscribers and fans messages out to them.
// Only the Hub writes to or closes a registered connection.
type Hub struct {
	sendTimeout  time.Duration
	pingInterval time.Duration
	pongWait     time.Duration
	upgrader     websocket.Upgrader
	metrics      *metric.Metrics
	logger       *slog.Logger

	clients   map[Conn]*Client
	clientsMu sync.RWMutex

	shutdown  chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Hub
func New(cfg Config) *Hub {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(*http.Request) bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Hub{
		sendTimeout:  cfg.SendTimeout,
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "hub"),
		clients:  make(map[Conn]*Client),
		shutdown: make(chan struct{}),
	}
}

// Start launches the keepalive loop. It stops when ctx is done or the hub
// is closed.
func (h *Hub) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.wg.Add(1)
		go h.maintainClients(ctx)
	})
}

// Register adds conn to the subscriber set. Registering a connection twice
// returns the existing client. After Close the connection is closed and
// nil is returned.
func (h *Hub) Register(conn Conn) *Client {
	client, _ := h.register(conn, false)
	return client
}

// register adds conn and reports whether it was newly added. With track set
// a new subscriber also joins the hub's wait group; the Add happens under
// clientsMu before shutdown is closed, so Close never waits on a counter
// that is still growing.
func (h *Hub) register(conn Conn, track bool) (*Client, bool) {
	h.clientsMu.Lock()
	select {
	case <-h.shutdown:
		h.clientsMu.Unlock()
		_ = conn.Close()
		return nil, false
	default:
	}

	if existing, ok := h.clients[conn]; ok {
		h.clientsMu.Unlock()
		return existing, false
	}
	if track {
		h.wg.Add(1)
	}

	client := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}
	h.clients[conn] = client
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.metrics.RecordConnection()
	h.metrics.RecordSubscribers(count)
	h.logger.Debug("Subscriber registered", "client_id", client.id, "subscribers", count)
	return client, true
}

// Unregister removes conn and closes it. Unknown connections are ignored.
func (h *Hub) Unregister(conn Conn) {
	h.clientsMu.RLock()
	client, ok := h.clients[conn]
	h.clientsMu.RUnlock()
	if !ok {
		return
	}
	h.removeClient(client, ReasonUnregister)
}

// Len returns the number of live subscribers
func (h *Hub) Len() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) removeClient(client *Client, reason string) {
	client.closeOnce.Do(func() {
		client.closed.Store(true)

		h.clientsMu.Lock()
		delete(h.clients, client.conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		h.metrics.RecordDisconnection(reason)
		h.metrics.RecordSubscribers(count)

		_ = client.conn.Close()

		h.logger.Debug("Subscriber removed",
			"client_id", client.id,
			"reason", reason,
			"connected_for", time.Since(client.connectedAt),
			"subscribers", count)
	})
}

// Broadcast marshals msg once and sends it to every subscriber concurrently.
// Each send is bounded by the send timeout; a subscriber whose send fails
// or times out is removed in the same pass. It returns the number of
// subscribers that received the message. The only error is a marshal
// failure, in which case nothing is sent.
func (h *Hub) Broadcast(ctx context.Context, msg any) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.WrapInvalid(err, "Hub", "Broadcast", "marshal message")
	}
	return h.BroadcastRaw(ctx, data), nil
}

// BroadcastRaw sends pre-encoded JSON to every subscriber.
// A started pass is not cancelled by ctx; per-send timeouts bound it.
func (h *Hub) BroadcastRaw(ctx context.Context, data []byte) int {
	start := time.Now()
	sendCtx := context.WithoutCancel(ctx)

	clients := h.buildClientSnapshot()

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, client := range clients {
		if client.closed.Load() {
			continue
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if h.sendToSingleClient(sendCtx, c, data) {
				delivered.Add(1)
			}
		}(client)
	}
	wg.Wait()

	n := int(delivered.Load())
	h.metrics.RecordBroadcast(n, time.Since(start))
	h.logger.Debug("Broadcast complete",
		"bytes", len(data),
		"subscribers", len(clients),
		"delivered", n,
		"duration", time.Since(start))
	return n
}

// buildClientSnapshot copies the live clients so sends run without the lock
func (h *Hub) buildClientSnapshot() []*Client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if !c.closed.Load() {
			clients = append(clients, c)
		}
	}
	return clients
}

func (h *Hub) sendToSingleClient(ctx context.Context, c *Client, data []byte) bool {
	sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- h.sendToClient(c, data)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			h.logger.Info("Dropping subscriber after send failure", "client_id", c.id, "error", err)
			h.removeClient(c, ReasonSendError)
			return false
		}
		c.messagesSent.Add(1)
		return true
	case <-sendCtx.Done():
		h.logger.Info("Dropping subscriber after send timeout", "client_id", c.id, "timeout", h.sendTimeout)
		// Closing the connection unblocks the pending write.
		h.removeClient(c, ReasonSendTimeout)
		return false
	}
}

func (h *Hub) sendToClient(c *Client, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if c.closed.Load() {
		return errors.ErrConnectionLost
	}
	if d, ok := c.conn.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(h.sendTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close drops every subscriber and stops the keepalive loop. Later
// registrations are refused.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.clientsMu.Lock()
		close(h.shutdown)
		h.clientsMu.Unlock()

		for _, c := range h.buildClientSnapshot() {
			h.removeClient(c, ReasonShutdown)
		}
	})
	h.wg.Wait()
}
