// Package multiplexer keeps one visual container per live camera session.
//
// Sessions appear on their first frame and disappear on teardown. The feed
// is unordered and at-least-once, so a frame for a known session only
// replaces its image and a teardown for an unknown session is ignored.
// Handlers are expected to run on a single event loop; the mutex is there
// for readers on other goroutines.
package multiplexer

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/unav/navclient/pkg/feed"
	customlog "github.com/unav/navclient/pkg/log"
)

// ErrUnknownSession is returned by Activate for an id with no container.
var ErrUnknownSession = errors.New("unknown session")

// DetailPath is the detail view a session container activates.
const DetailPath = "/floorplan"

// Container is the visual element holding one session's image.
type Container interface {
	// SetFrame replaces the displayed image.
	SetFrame(frame []byte)
	// Destroy removes the container from its surface.
	Destroy()
}

// Surface creates containers. A new container already has its image
// placeholder.
type Surface interface {
	CreateContainer(sessionID string) Container
}

// Observer is told about session lifecycle changes. Calls happen on the
// mutating goroutine after the state change.
type Observer interface {
	SessionCreated(sessionID string, at time.Time)
	SessionRemoved(sessionID string, at time.Time, frames uint64)
}

// ActivateFunc receives the detail URL when a container is activated.
type ActivateFunc func(sessionID, detailURL string)

// Session is one live stream.
type Session struct {
	SessionID string
	Container Container
	Frames    uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Info is a read-only view of a session.
type Info struct {
	SessionID string    `json:"session_id"`
	Frames    uint64    `json:"frames"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Multiplexer maps session ids to containers.
type Multiplexer struct {
	logger     customlog.Logger
	surface    Surface
	onActivate ActivateFunc
	now        func() time.Time

	mu        sync.RWMutex
	sessions  map[string]*Session
	order     []string
	observers []Observer
}

// New creates an empty multiplexer. onActivate may be nil.
func New(surface Surface, onActivate ActivateFunc, logger customlog.Logger) *Multiplexer {
	return &Multiplexer{
		logger:     logger,
		surface:    surface,
		onActivate: onActivate,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

// AddObserver registers an observer.
func (m *Multiplexer) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// OnFrame applies a camera frame, creating the session on first sight.
func (m *Multiplexer) OnFrame(sessionID string, frame []byte) error {
	if sessionID == "" {
		return &feed.ProtocolError{Kind: feed.KindCameraFrame, Reason: "missing session_id"}
	}

	now := m.now()
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	created := !ok
	if created {
		s = &Session{
			SessionID: sessionID,
			Container: m.surface.CreateContainer(sessionID),
			CreatedAt: now,
		}
		m.sessions[sessionID] = s
		m.order = append(m.order, sessionID)
	}
	s.Container.SetFrame(frame)
	s.Frames++
	s.UpdatedAt = now
	observers := m.observers
	m.mu.Unlock()

	if created {
		m.logger.Infof("Creating stream container for session %s", sessionID)
		for _, o := range observers {
			o.SessionCreated(sessionID, now)
		}
	}
	return nil
}

// OnTeardown removes a session. Unknown ids are a no-op.
func (m *Multiplexer) OnTeardown(sessionID string) error {
	if sessionID == "" {
		return &feed.ProtocolError{Kind: feed.KindRemoveCameraStream, Reason: "missing session_id"}
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		m.logger.Debugf("Teardown for unknown session %s ignored", sessionID)
		return nil
	}
	delete(m.sessions, sessionID)
	for i, id := range m.order {
		if id == sessionID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	s.Container.Destroy()
	observers := m.observers
	m.mu.Unlock()

	now := m.now()
	m.logger.Infof("Removed stream container for session %s after %d frames", sessionID, s.Frames)
	for _, o := range observers {
		o.SessionRemoved(sessionID, now, s.Frames)
	}
	return nil
}

// HandleEvent applies a feed event. Kinds other than frame and teardown are
// ignored.
func (m *Multiplexer) HandleEvent(ev feed.Event) error {
	switch ev.Kind {
	case feed.KindCameraFrame:
		return m.OnFrame(ev.SessionID, ev.Frame)
	case feed.KindRemoveCameraStream:
		return m.OnTeardown(ev.SessionID)
	}
	return nil
}

// ActiveSessions returns the live ids in creation order.
func (m *Multiplexer) ActiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Sessions returns info for every live session in creation order.
func (m *Multiplexer) Sessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		s := m.sessions[id]
		out = append(out, Info{SessionID: id, Frames: s.Frames, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt})
	}
	return out
}

// Session looks up one live session.
func (m *Multiplexer) Session(sessionID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return Info{SessionID: s.SessionID, Frames: s.Frames, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}, true
}

// Len is the number of live sessions.
func (m *Multiplexer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// DetailURL builds the detail view address for a session.
func DetailURL(sessionID string) string {
	return DetailPath + "?" + url.Values{"session_id": {sessionID}}.Encode()
}

// Activate hands the session off to its detail view. It does not change
// multiplexer state.
func (m *Multiplexer) Activate(sessionID string) (string, error) {
	m.mu.RLock()
	_, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("activate %q: %w", sessionID, ErrUnknownSession)
	}

	u := DetailURL(sessionID)
	if m.onActivate != nil {
		m.onActivate(sessionID, u)
	}
	return u, nil
}
