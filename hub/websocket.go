package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ServeWS upgrades the request and registers the connection. Inbound frames
// are read and discarded; any read error, including a missed pong window,
// unregisters the subscriber.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client, added := h.register(conn, true)
	if !added {
		return
	}
	go h.handleClient(conn, client)
}

// handleClient runs the read loop for one subscriber
func (h *Hub) handleClient(conn *websocket.Conn, client *Client) {
	defer h.wg.Done()
	defer h.removeClient(client, ReasonNormal)

	conn.SetReadLimit(maxInboundBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	}
}

// maintainClients pings subscribers on an interval
func (h *Hub) maintainClients(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case <-ticker.C:
			h.pingClients()
		}
	}
}

// pingClients sends a ping control frame to every subscriber
func (h *Hub) pingClients() {
	deadline := time.Now().Add(h.sendTimeout)
	for _, c := range h.buildClientSnapshot() {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.removeClient(c, ReasonPingError)
		}
	}
}
