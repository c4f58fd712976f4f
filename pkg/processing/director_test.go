package processing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unav/navclient/pkg/feed"
	customlog "github.com/unav/navclient/pkg/log"
)

func newTestDirector(t *testing.T, queue int) *EventDirector {
	t.Helper()
	logger := customlog.NewNopLogger()
	d := NewEventDirector(
		NewEventLoop("director", queue, logger),
		NewKindRegistry(logger),
		logger,
		&DirectorOptions{SubmitTimeout: 50 * time.Millisecond},
	)
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func TestDirectorRoutesToHandlersInOrder(t *testing.T) {
	d := newTestDirector(t, 16)

	var mu sync.Mutex
	var seen []string
	record := func(tag string) EventHandler {
		return func(ev feed.Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, tag+":"+ev.SessionID)
			return nil
		}
	}
	d.Handle(feed.KindCameraFrame, record("mux"))
	d.Handle(feed.KindCameraFrame, record("log"))
	d.Handle(feed.KindRemoveCameraStream, record("mux"))

	now := time.Now()
	require.NoError(t, d.RouteEvent(feed.Event{Kind: feed.KindCameraFrame, SessionID: "a", Received: now}))
	require.NoError(t, d.RouteEvent(feed.Event{Kind: feed.KindRemoveCameraStream, SessionID: "a", Received: now}))
	require.NoError(t, d.RouteEvent(feed.Event{Kind: feed.KindLog, Received: now}))
	require.NoError(t, d.Loop().Call(context.Background(), "sync", func() error { return nil }))

	mu.Lock()
	assert.Equal(t, []string{"mux:a", "log:a", "mux:a"}, seen)
	mu.Unlock()

	stats := d.GetKindStats()
	assert.Equal(t, int64(1), stats[feed.KindCameraFrame].Count)
	assert.Equal(t, int64(1), stats[feed.KindLog].Count)
	assert.Equal(t, now.UnixNano(), stats[feed.KindRemoveCameraStream].LastReceived)
}

func TestDirectorDropsLossyAndTimesOutReliable(t *testing.T) {
	d := newTestDirector(t, 1)
	d.Handle(feed.KindCameraFrame, func(feed.Event) error { return nil })
	d.Handle(feed.KindRemoveCameraStream, func(feed.Event) error { return nil })

	release := block(t, d.Loop())
	defer release()

	require.NoError(t, d.RouteEvent(feed.Event{Kind: feed.KindCameraFrame, SessionID: "a"}))
	require.NoError(t, d.RouteEvent(feed.Event{Kind: feed.KindCameraFrame, SessionID: "a"}))

	err := d.RouteEvent(feed.Event{Kind: feed.KindRemoveCameraStream, SessionID: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	stats := d.GetKindStats()
	assert.Equal(t, int64(1), stats[feed.KindCameraFrame].Dropped)
	assert.Equal(t, int64(1), stats[feed.KindRemoveCameraStream].Dropped)
	assert.Equal(t, int64(1), d.GetLoopMetrics().DroppedCount)
}

func TestDirectorHandlerErrorsAreCounted(t *testing.T) {
	d := newTestDirector(t, 4)
	d.Handle(feed.KindLog, func(feed.Event) error { return errors.New("bad log") })

	d.Handler()(feed.Event{Kind: feed.KindLog, Message: "x"})
	require.NoError(t, d.Loop().Call(context.Background(), "sync", func() error { return nil }))

	assert.Equal(t, int64(1), d.GetLoopMetrics().ErrorCount)
}

func TestDirectorRejectsWhenStopped(t *testing.T) {
	logger := customlog.NewNopLogger()
	d := NewEventDirector(NewEventLoop("idle", 1, logger), NewKindRegistry(logger), logger, nil)
	assert.Error(t, d.RouteEvent(feed.Event{Kind: feed.KindLog}))
}
