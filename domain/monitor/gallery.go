package monitor

import (
	"sync"
	"time"

	"github.com/unav/navclient/pkg/multiplexer"
)

// Gallery is the multiplexer surface for the monitor page. Each container
// keeps its session's latest frame for the frame endpoint.
type Gallery struct {
	mu    sync.RWMutex
	tiles map[string]*tile
}

// NewGallery creates an empty gallery.
func NewGallery() *Gallery {
	return &Gallery{tiles: make(map[string]*tile)}
}

// CreateContainer implements multiplexer.Surface.
func (g *Gallery) CreateContainer(sessionID string) multiplexer.Container {
	t := &tile{gallery: g, sessionID: sessionID}
	g.mu.Lock()
	g.tiles[sessionID] = t
	g.mu.Unlock()
	return t
}

// Frame returns the latest frame of a session.
func (g *Gallery) Frame(sessionID string) ([]byte, time.Time, bool) {
	g.mu.RLock()
	t, ok := g.tiles[sessionID]
	g.mu.RUnlock()
	if !ok {
		return nil, time.Time{}, false
	}
	return t.get()
}

// Len is the number of containers on the page.
func (g *Gallery) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tiles)
}

type tile struct {
	gallery   *Gallery
	sessionID string

	mu      sync.RWMutex
	frame   []byte
	updated time.Time
}

func (t *tile) SetFrame(frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frame = frame
	t.updated = time.Now()
}

func (t *tile) Destroy() {
	g := t.gallery
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tiles[t.sessionID] == t {
		delete(g.tiles, t.sessionID)
	}
}

func (t *tile) get() ([]byte, time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frame, t.updated, t.frame != nil
}
