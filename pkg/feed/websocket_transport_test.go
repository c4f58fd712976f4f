package feed

import (
	"context"
	"net"
	"testing"
	"time"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customlog "github.com/unav/navclient/pkg/log"
)

// startFeedServer runs a fiber websocket endpoint that records the first
// inbound message and then pushes the given events.
func startFeedServer(t *testing.T, push []Event) (string, <-chan string) {
	t.Helper()

	inbound := make(chan string, 4)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/feed", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/feed", fiberws.New(func(conn *fiberws.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		inbound <- string(msg)
		for _, ev := range push {
			b, err := EncodeEventJSON(ev)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(fiberws.TextMessage, b); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(fiberws.TextMessage, []byte(`{"event":"camera_frame","data":{}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })

	return "ws://" + ln.Addr().String() + "/feed", inbound
}

func TestWebSocketTransportEndToEnd(t *testing.T) {
	url, inbound := startFeedServer(t, []Event{
		{Kind: KindCameraFrame, SessionID: "s1", Frame: []byte{1, 2, 3}},
		{Kind: KindRemoveCameraStream, SessionID: "s1"},
	})

	var got collector
	c := NewClient(NewWebSocketTransport(url, nil), got.handle, customlog.NewNopLogger(), Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	defer c.Disconnect()
	require.NoError(t, c.StartMonitoring())

	select {
	case msg := <-inbound:
		assert.JSONEq(t, `{"event":"start_monitoring"}`, msg)
	case <-ctx.Done():
		t.Fatal("server never received start_monitoring")
	}

	require.Eventually(t, func() bool { return got.len() == 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return c.Stats().ProtocolErrors == 1 }, 3*time.Second, 10*time.Millisecond)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, KindCameraFrame, got.events[0].Kind)
	assert.Equal(t, []byte{1, 2, 3}, got.events[0].Frame)
	assert.Equal(t, KindRemoveCameraStream, got.events[1].Kind)
}

func TestWebSocketTransportSendBeforeOpen(t *testing.T) {
	tr := NewWebSocketTransport("ws://127.0.0.1:1/feed", nil)
	assert.ErrorIs(t, tr.Send(KindStartMonitoring, ""), errTransportClosed)
	assert.NoError(t, tr.Close())
}
