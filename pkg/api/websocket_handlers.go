package api

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"

	customlog "github.com/unav/navclient/pkg/log"
	"github.com/unav/navclient/pkg/multiplexer"
)

// DefaultClientBuffer is the per-browser queue length.
const DefaultClientBuffer = 32

// SnapshotFunc lists the live sessions for a newly connected browser.
type SnapshotFunc func() []multiplexer.Info

type monitorClient struct {
	send chan []byte
}

// MonitorHub pushes session lifecycle changes to connected browsers. It is
// a multiplexer.Observer; broadcasts never block the caller and a browser
// whose queue is full misses the message.
type MonitorHub struct {
	logger   customlog.Logger
	snapshot SnapshotFunc
	buffer   int

	mu      sync.RWMutex
	clients map[*monitorClient]struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewMonitorHub creates a hub. snapshot may be nil.
func NewMonitorHub(logger customlog.Logger, snapshot SnapshotFunc, buffer int) *MonitorHub {
	if buffer <= 0 {
		buffer = DefaultClientBuffer
	}
	return &MonitorHub{
		logger:   logger,
		snapshot: snapshot,
		buffer:   buffer,
		clients:  make(map[*monitorClient]struct{}),
	}
}

// SessionCreated implements multiplexer.Observer.
func (h *MonitorHub) SessionCreated(sessionID string, at time.Time) {
	h.Broadcast(MonitorMessage{
		Type:      MessageSessionCreated,
		SessionID: sessionID,
		At:        at,
		DetailURL: multiplexer.DetailURL(sessionID),
	})
}

// SessionRemoved implements multiplexer.Observer.
func (h *MonitorHub) SessionRemoved(sessionID string, at time.Time, frames uint64) {
	h.Broadcast(MonitorMessage{
		Type:      MessageSessionRemoved,
		SessionID: sessionID,
		At:        at,
		Frames:    frames,
	})
}

// Broadcast queues msg for every connected browser.
func (h *MonitorHub) Broadcast(msg MonitorMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("Failed to marshal monitor message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients is the number of connected browsers.
func (h *MonitorHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts messages skipped for slow browsers.
func (h *MonitorHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Sent counts messages queued for browsers.
func (h *MonitorHub) Sent() uint64 {
	return h.sent.Load()
}

// MonitorWebSocketHandler serves one browser connection until it closes.
// Use it with websocket.New.
func (h *MonitorHub) MonitorWebSocketHandler(conn *websocket.Conn) {
	h.logger.Infof("Monitor WebSocket connected: %s", conn.RemoteAddr())

	c := &monitorClient{send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.logger.Infof("Monitor WebSocket disconnected: %s", conn.RemoteAddr())
	}()

	if h.snapshot != nil {
		data, err := json.Marshal(MonitorMessage{Type: MessageSessions, Sessions: h.snapshot()})
		if err == nil {
			c.send <- data
		}
	}

	// Browsers only listen; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.logReadError(err)
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case data := <-c.send:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debugf("Monitor WS write failed: %v", err)
				return
			}
		}
	}
}

func (h *MonitorHub) logReadError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
			h.logger.Infof("Monitor WS connection reset")
			return
		}
		h.logger.Warnf("Monitor WS read error: %v", err)
	}
}
