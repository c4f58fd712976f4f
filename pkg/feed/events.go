// Package feed is the client side of the live session feed: camera frames,
// stream teardown, planner updates and server log lines pushed by the
// backend, plus the join_room / start_monitoring subscriptions sent to it.
//
// Delivery is unordered and at-least-once. Consumers must treat duplicate
// frames and teardowns for unknown sessions as normal.
package feed

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/unav/navclient/pkg/navigation"
)

// Kind names a feed event.
type Kind string

const (
	KindCameraFrame        Kind = "camera_frame"
	KindRemoveCameraStream Kind = "remove_camera_stream"
	KindPlannerUpdate      Kind = "planner_update"
	KindLog                Kind = "log"

	// Outbound only.
	KindJoinRoom        Kind = "join_room"
	KindStartMonitoring Kind = "start_monitoring"
)

// ErrFeedProtocol is matched by every ProtocolError.
var ErrFeedProtocol = errors.New("feed protocol error")

// ProtocolError reports a malformed feed event. The event is dropped and
// the connection stays up.
type ProtocolError struct {
	Kind   Kind
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("feed protocol error: %s", e.Reason)
	}
	return fmt.Sprintf("feed protocol error: %s: %s", e.Kind, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrFeedProtocol }

// Event is one decoded inbound feed message.
type Event struct {
	Kind      Kind
	SessionID string
	// Frame holds the raw image bytes of a camera_frame.
	Frame []byte
	// Planner is set for planner_update.
	Planner *PlannerUpdate
	// Message is the text of a log event.
	Message  string
	Received time.Time
}

// PlannerUpdate carries a session's floorplan and trajectory. The first
// trajectory entry is the pose [x, y, heading?], the rest is the path.
type PlannerUpdate struct {
	Floorplan  []byte
	Trajectory [][]float64
}

// Pose returns the pose at the head of the trajectory.
func (u *PlannerUpdate) Pose() (navigation.Pose, bool) {
	if u == nil || len(u.Trajectory) == 0 || len(u.Trajectory[0]) < 2 {
		return navigation.Pose{}, false
	}
	p := u.Trajectory[0]
	pose := navigation.Pose{X: p[0], Y: p[1]}
	if len(p) > 2 {
		pose.Heading = p[2]
	}
	return pose, true
}

// Path returns the trajectory after the pose. Malformed points are skipped.
func (u *PlannerUpdate) Path() navigation.Path {
	if u == nil || len(u.Trajectory) < 2 {
		return nil
	}
	path := make(navigation.Path, 0, len(u.Trajectory)-1)
	for _, p := range u.Trajectory[1:] {
		if len(p) < 2 {
			continue
		}
		path = append(path, navigation.Waypoint{X: p[0], Y: p[1]})
	}
	return path
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type wireData struct {
	SessionID string      `json:"session_id,omitempty"`
	Frame     string      `json:"frame,omitempty"`
	Floorplan string      `json:"floorplan,omitempty"`
	Paths     [][]float64 `json:"paths,omitempty"`
	Data      string      `json:"data,omitempty"`
}

// DecodeJSON parses a websocket text message of the form
// {"event": "<kind>", "data": {...}}.
func DecodeJSON(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, &ProtocolError{Reason: fmt.Sprintf("invalid envelope: %v", err)}
	}
	kind := Kind(env.Event)
	var d wireData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Event{}, &ProtocolError{Kind: kind, Reason: fmt.Sprintf("invalid data: %v", err)}
		}
	}

	ev := Event{Kind: kind, SessionID: d.SessionID, Received: time.Now()}
	switch kind {
	case KindCameraFrame:
		if d.SessionID == "" {
			return Event{}, &ProtocolError{Kind: kind, Reason: "missing session_id"}
		}
		frame, err := base64.StdEncoding.DecodeString(d.Frame)
		if err != nil {
			return Event{}, &ProtocolError{Kind: kind, Reason: fmt.Sprintf("frame is not base64: %v", err)}
		}
		ev.Frame = frame
	case KindRemoveCameraStream:
		if d.SessionID == "" {
			return Event{}, &ProtocolError{Kind: kind, Reason: "missing session_id"}
		}
	case KindPlannerUpdate:
		up := &PlannerUpdate{Trajectory: d.Paths}
		if d.Floorplan != "" {
			img, err := base64.StdEncoding.DecodeString(d.Floorplan)
			if err != nil {
				return Event{}, &ProtocolError{Kind: kind, Reason: fmt.Sprintf("floorplan is not base64: %v", err)}
			}
			up.Floorplan = img
		}
		ev.Planner = up
	case KindLog:
		ev.Message = d.Data
	default:
		return Event{}, &ProtocolError{Kind: kind, Reason: "unknown event"}
	}
	return ev, nil
}

// EncodeJSON renders an outbound subscription message.
func EncodeJSON(kind Kind, sessionID string) ([]byte, error) {
	env := envelope{Event: string(kind)}
	if sessionID != "" {
		data, err := json.Marshal(wireData{SessionID: sessionID})
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// EncodeEventJSON renders an inbound-style event. Used by the monitor
// websocket and by test publishers.
func EncodeEventJSON(ev Event) ([]byte, error) {
	d := wireData{SessionID: ev.SessionID, Data: ev.Message}
	if ev.Frame != nil {
		d.Frame = base64.StdEncoding.EncodeToString(ev.Frame)
	}
	if ev.Planner != nil {
		d.Paths = ev.Planner.Trajectory
		if ev.Planner.Floorplan != nil {
			d.Floorplan = base64.StdEncoding.EncodeToString(ev.Planner.Floorplan)
		}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: string(ev.Kind), Data: data})
}
