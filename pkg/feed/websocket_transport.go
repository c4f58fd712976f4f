package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/fasthttp/websocket"
)

var errTransportClosed = errors.New("transport closed")

// WebSocketTransport speaks the JSON envelope protocol over a websocket.
type WebSocketTransport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
}

// NewWebSocketTransport creates a transport for ws(s)://host/path.
func NewWebSocketTransport(url string, header http.Header) *WebSocketTransport {
	return &WebSocketTransport{
		url:    url,
		header: header,
		dialer: websocket.DefaultDialer,
	}
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Open(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", t.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *WebSocketTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *WebSocketTransport) Send(kind Kind, sessionID string) error {
	conn := t.current()
	if conn == nil {
		return errTransportClosed
	}
	msg, err := EncodeJSON(kind, sessionID)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (t *WebSocketTransport) Receive(ctx context.Context) (Event, error) {
	conn := t.current()
	if conn == nil {
		return Event{}, errTransportClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return DecodeJSON(data)
	}
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return conn.Close()
}
