package api

import (
	"time"

	"github.com/unav/navclient/pkg/multiplexer"
)

// Monitor message types pushed to browsers.
const (
	MessageSessions       = "sessions"
	MessageSessionCreated = "session_created"
	MessageSessionRemoved = "session_removed"
)

// MonitorMessage is one monitor push. Sessions is set only on the
// "sessions" snapshot sent when a browser connects.
type MonitorMessage struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	At        time.Time          `json:"at,omitempty"`
	Frames    uint64             `json:"frames,omitempty"`
	DetailURL string             `json:"detail_url,omitempty"`
	Sessions  []multiplexer.Info `json:"sessions,omitempty"`
}
