package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"crosscount/internal/logging"
	"crosscount/internal/pipeline"
)

const writeWait = 10 * time.Second

// client serializes writes to one connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

type counts struct {
	in, out int
}

// CountHub manages WebSocket connections for live counts
type CountHub struct {
	runID string

	// clients maps counter name -> set of connections
	clients map[string]map[*client]bool
	latest  map[string]counts
	mu      sync.RWMutex
	logger  *logrus.Entry
}

// NewCountHub creates a new count hub for one run
func NewCountHub(runID string, logger logrus.FieldLogger) *CountHub {
	return &CountHub{
		runID:   runID,
		clients: make(map[string]map[*client]bool),
		latest:  make(map[string]counts),
		logger:  logging.Component(logger, "WS"),
	}
}

// SetCounts records the counts of a counter without broadcasting
func (h *CountHub) SetCounts(counter string, in, out int) {
	h.mu.Lock()
	h.latest[counter] = counts{in: in, out: out}
	h.mu.Unlock()
}

// Counts returns the last known counts of a counter
func (h *CountHub) Counts(counter string) (in, out int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.latest[counter]
	return c.in, c.out
}

// register adds a connection for a counter and sends it the current counts
func (h *CountHub) register(counter string, conn *websocket.Conn) *client {
	c := &client{conn: conn}

	h.mu.Lock()
	if h.clients[counter] == nil {
		h.clients[counter] = make(map[*client]bool)
	}
	h.clients[counter][c] = true
	current := h.latest[counter]
	total := len(h.clients[counter])
	h.mu.Unlock()

	h.logger.Infof("Client registered for counter %s (total: %d)", counter, total)

	data, err := json.Marshal(NewSnapshotMessage(h.runID, counter, current.in, current.out))
	if err == nil {
		err = c.write(websocket.TextMessage, data)
	}
	if err != nil {
		h.logger.Warnf("Error sending snapshot: %v", err)
	}
	return c
}

// unregister removes a connection for a counter
func (h *CountHub) unregister(counter string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[counter]; ok {
		if !conns[c] {
			return
		}
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, counter)
		}
		h.logger.Infof("Client unregistered for counter %s", counter)
	}
}

// HasClients returns true if there are any clients connected for a counter
func (h *CountHub) HasClients(counter string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[counter]
	return ok && len(conns) > 0
}

// ClientCount returns the total number of connected clients
func (h *CountHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// OnCrossing updates the counts and broadcasts them to the counter's subscribers
func (h *CountHub) OnCrossing(event *pipeline.CrossingEvent) {
	h.SetCounts(event.Counter, event.In, event.Out)
	if !h.HasClients(event.Counter) {
		return
	}

	data, err := json.Marshal(NewCrossingMessage(event))
	if err != nil {
		h.logger.Errorf("Error marshaling count message: %v", err)
		return
	}
	h.broadcast(event.Counter, data)
}

func (h *CountHub) broadcast(counter string, message []byte) {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[counter]))
	for c := range h.clients[counter] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(websocket.TextMessage, message); err != nil {
			h.logger.Warnf("Error sending to client: %v", err)
			h.unregister(counter, c)
			c.conn.Close()
		}
	}
}

// Close disconnects every client
func (h *CountHub) Close() error {
	if n := h.ClientCount(); n > 0 {
		h.logger.Infof("Disconnecting %d live count client(s)", n)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for counter, conns := range h.clients {
		for c := range conns {
			c.mu.Lock()
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
				time.Now().Add(time.Second))
			c.mu.Unlock()
			c.conn.Close()
		}
		delete(h.clients, counter)
	}
	return nil
}
