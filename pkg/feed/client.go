package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	customlog "github.com/unav/navclient/pkg/log"
)

// ErrNotConnected is returned by subscription calls before Connect.
var ErrNotConnected = errors.New("feed client not connected")

// Transport carries feed events to and from the backend. Receive is called
// from a single goroutine; Send may be called concurrently with it.
type Transport interface {
	Open(ctx context.Context) error
	Send(kind Kind, sessionID string) error
	// Receive blocks for the next event. A *ProtocolError means the event was
	// dropped and the connection is still usable; any other error means the
	// connection is gone.
	Receive(ctx context.Context) (Event, error)
	Close() error
	Name() string
}

// Handler consumes decoded events. It runs on the receive goroutine and
// must hand work off quickly.
type Handler func(Event)

// Options tunes the client.
type Options struct {
	// ReconnectDelay is the pause before reopening a lost connection.
	// Zero disables reconnection.
	ReconnectDelay time.Duration
}

// Stats are cumulative client counters.
type Stats struct {
	ClientID       string `json:"client_id"`
	Transport      string `json:"transport"`
	Connected      bool   `json:"connected"`
	Received       uint64 `json:"received"`
	ProtocolErrors uint64 `json:"protocol_errors"`
	Reconnects     uint64 `json:"reconnects"`
}

// Client owns one feed connection. It is constructed explicitly and started
// with Connect; nothing connects at import time.
type Client struct {
	id        string
	transport Transport
	handler   Handler
	logger    customlog.Logger
	opts      Options

	mu         sync.Mutex
	connected  bool
	rooms      []string
	monitoring bool
	cancel     context.CancelFunc
	done       chan struct{}

	received       atomic.Uint64
	protocolErrors atomic.Uint64
	reconnects     atomic.Uint64
}

// NewClient creates a disconnected client.
func NewClient(transport Transport, handler Handler, logger customlog.Logger, opts Options) *Client {
	id := uuid.NewString()
	return &Client{
		id:        id,
		transport: transport,
		handler:   handler,
		logger:    logger.WithField("feed_client", id[:8]),
		opts:      opts,
	}
}

// ID returns the client's random identifier.
func (c *Client) ID() string { return c.id }

// Connect opens the transport and starts receiving. The receive goroutine
// stops when ctx is cancelled or Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if err := c.transport.Open(ctx); err != nil {
		return fmt.Errorf("open %s feed: %w", c.transport.Name(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.connected = true
	go c.receiveLoop(runCtx, c.done)

	c.logger.Infof("Feed client connected over %s", c.transport.Name())
	return nil
}

// Disconnect stops receiving and closes the transport. Safe to call twice.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	err := c.transport.Close()
	<-done

	c.logger.Infof("Feed client disconnected")
	return err
}

// JoinRoom subscribes to the events of one session. Subscriptions survive
// reconnects.
func (c *Client) JoinRoom(sessionID string) error {
	if sessionID == "" {
		return &ProtocolError{Kind: KindJoinRoom, Reason: "missing session_id"}
	}
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	for _, r := range c.rooms {
		if r == sessionID {
			c.mu.Unlock()
			return nil
		}
	}
	c.rooms = append(c.rooms, sessionID)
	c.mu.Unlock()

	if err := c.transport.Send(KindJoinRoom, sessionID); err != nil {
		return fmt.Errorf("join room %s: %w", sessionID, err)
	}
	c.logger.Debugf("Joined room %s", sessionID)
	return nil
}

// StartMonitoring subscribes to every session's stream.
func (c *Client) StartMonitoring() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.monitoring = true
	c.mu.Unlock()

	if err := c.transport.Send(KindStartMonitoring, ""); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}
	c.logger.Debugf("Monitoring all sessions")
	return nil
}

// Stats returns a copy of the counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	return Stats{
		ClientID:       c.id,
		Transport:      c.transport.Name(),
		Connected:      connected,
		Received:       c.received.Load(),
		ProtocolErrors: c.protocolErrors.Load(),
		Reconnects:     c.reconnects.Load(),
	}
}

func (c *Client) receiveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		ev, err := c.transport.Receive(ctx)
		if err == nil {
			c.received.Add(1)
			if c.handler != nil {
				c.handler(ev)
			}
			continue
		}

		var perr *ProtocolError
		if errors.As(err, &perr) {
			c.protocolErrors.Add(1)
			c.logger.Warnf("Dropping feed event: %v", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		c.logger.Errorf("Feed connection lost: %v", err)
		if !c.reconnect(ctx) {
			return
		}
	}
}

// reconnect reopens the transport and replays subscriptions. It returns
// false when the client should stop.
func (c *Client) reconnect(ctx context.Context) bool {
	if c.opts.ReconnectDelay <= 0 {
		return false
	}
	_ = c.transport.Close()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.opts.ReconnectDelay):
		}

		if err := c.transport.Open(ctx); err != nil {
			c.logger.Warnf("Feed reconnect failed: %v", err)
			continue
		}
		if ctx.Err() != nil {
			_ = c.transport.Close()
			return false
		}
		c.mu.Lock()
		rooms := append([]string(nil), c.rooms...)
		monitoring := c.monitoring
		c.mu.Unlock()

		if monitoring {
			if err := c.transport.Send(KindStartMonitoring, ""); err != nil {
				c.logger.Warnf("Replaying start_monitoring: %v", err)
			}
		}
		for _, r := range rooms {
			if err := c.transport.Send(KindJoinRoom, r); err != nil {
				c.logger.Warnf("Replaying join_room %s: %v", r, err)
			}
		}
		c.reconnects.Add(1)
		c.logger.Infof("Feed reconnected over %s", c.transport.Name())
		return true
	}
}
