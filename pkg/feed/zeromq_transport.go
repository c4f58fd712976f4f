package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
)

const zmqPollInterval = 100 * time.Millisecond

// ZeroMQTransport receives FeedEvent flatbuffers from a PUB socket.
// join_room narrows the SUB filter to one session's topics; start_monitoring
// subscribes to everything. Subscription changes are queued and applied on
// the receive goroutine since zmq sockets are not thread safe.
type ZeroMQTransport struct {
	address string

	mu      sync.Mutex
	socket  *zmq.Socket
	poller  *zmq.Poller
	pending []string
}

// NewZeroMQTransport creates a transport that connects to address, e.g.
// "tcp://localhost:5570".
func NewZeroMQTransport(address string) *ZeroMQTransport {
	return &ZeroMQTransport{address: address}
}

func (t *ZeroMQTransport) Name() string { return "zeromq" }

func (t *ZeroMQTransport) Open(ctx context.Context) error {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return fmt.Errorf("create SUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return err
	}
	if err := socket.Connect(t.address); err != nil {
		socket.Close()
		return fmt.Errorf("connect %s: %w", t.address, err)
	}
	poller := zmq.NewPoller()
	poller.Add(socket, zmq.POLLIN)

	t.mu.Lock()
	t.socket = socket
	t.poller = poller
	t.pending = nil
	t.mu.Unlock()
	return nil
}

// subscriptionFilters maps an outbound subscription to SUB prefixes.
func subscriptionFilters(kind Kind, sessionID string) []string {
	switch kind {
	case KindStartMonitoring:
		return []string{""}
	case KindJoinRoom:
		return []string{
			Topic(KindCameraFrame, sessionID),
			Topic(KindRemoveCameraStream, sessionID),
			Topic(KindPlannerUpdate, sessionID),
			string(KindLog),
		}
	}
	return nil
}

func (t *ZeroMQTransport) Send(kind Kind, sessionID string) error {
	filters := subscriptionFilters(kind, sessionID)
	if filters == nil {
		return fmt.Errorf("zeromq transport cannot send %q", kind)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.socket == nil {
		return errTransportClosed
	}
	t.pending = append(t.pending, filters...)
	return nil
}

func (t *ZeroMQTransport) Receive(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		frames, ok, err := t.pollOnce()
		if err != nil {
			return Event{}, err
		}
		if !ok {
			continue
		}
		return DecodeBinary(frames)
	}
}

// pollOnce applies queued subscriptions and waits one poll interval for a
// message. Holding mu for the interval keeps Close from racing the socket.
func (t *ZeroMQTransport) pollOnce() ([][]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.socket == nil {
		return nil, false, errTransportClosed
	}
	for _, f := range t.pending {
		if err := t.socket.SetSubscribe(f); err != nil {
			return nil, false, fmt.Errorf("subscribe %q: %w", f, err)
		}
	}
	t.pending = t.pending[:0]

	polled, err := t.poller.Poll(zmqPollInterval)
	if err != nil {
		return nil, false, fmt.Errorf("poll: %w", err)
	}
	if len(polled) == 0 {
		return nil, false, nil
	}
	frames, err := t.socket.RecvMessageBytes(0)
	if err != nil {
		return nil, false, fmt.Errorf("receive: %w", err)
	}
	return frames, true, nil
}

func (t *ZeroMQTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.socket == nil {
		return nil
	}
	err := t.socket.Close()
	t.socket = nil
	t.poller = nil
	return err
}

// Publisher is the sending half used by tools and tests to feed a
// ZeroMQTransport.
type Publisher struct {
	mu     sync.Mutex
	socket *zmq.Socket
}

// NewPublisher binds a PUB socket on address.
func NewPublisher(address string) (*Publisher, error) {
	socket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("create PUB socket: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("bind %s: %w", address, err)
	}
	return &Publisher{socket: socket}, nil
}

// Publish sends one event.
func (p *Publisher) Publish(ev Event) error {
	frames, err := EncodeBinary(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.socket.SendMessage(frames[0], frames[1])
	return err
}

// Close releases the socket.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socket.Close()
}
