package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Count dashboards are served from anywhere on the local network
		return true
	},
}

// Handler handles WebSocket connections for live counts
type Handler struct {
	hub *CountHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *CountHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests
// Expected URL format: /ws/counts/{name}
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	counter := r.PathValue("name")
	if counter == "" {
		counter = strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ws/counts/"), "/")
	}
	if counter == "" || strings.Contains(counter, "/") {
		http.Error(w, "counter name required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warnf("Upgrade error: %v", err)
		return
	}

	h.hub.logger.Infof("New connection for counter %s from %s", counter, r.RemoteAddr)
	c := h.hub.register(counter, conn)

	go h.readPump(counter, c)
}

// readPump reads messages from the WebSocket connection
// This keeps the connection alive and handles client disconnection
func (h *Handler) readPump(counter string, c *client) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.unregister(counter, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Read loop - mainly to detect disconnection
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.hub.logger.Warnf("Read error for counter %s: %v", counter, err)
			}
			return
		}
	}
}
