package feed

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	fbfeed "github.com/unav/navclient/pkg/flatbuffers/feed"
)

// Topic returns the ZeroMQ topic frame for an event kind, optionally scoped
// to one session.
func Topic(kind Kind, sessionID string) string {
	if sessionID == "" {
		return string(kind)
	}
	return string(kind) + "/" + sessionID
}

// EncodeBinary renders an event as the [topic, FeedEvent] frame pair used on
// the ZeroMQ transport.
func EncodeBinary(ev Event) ([][]byte, error) {
	var payload []byte
	switch ev.Kind {
	case KindCameraFrame:
		payload = ev.Frame
	case KindPlannerUpdate:
		d := wireData{}
		if ev.Planner != nil {
			d.Paths = ev.Planner.Trajectory
			if ev.Planner.Floorplan != nil {
				d.Floorplan = base64.StdEncoding.EncodeToString(ev.Planner.Floorplan)
			}
		}
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode planner update: %w", err)
		}
		payload = b
	case KindLog:
		payload = []byte(ev.Message)
	}
	ts := ev.Received
	if ts.IsZero() {
		ts = time.Now()
	}
	buf := fbfeed.Build(string(ev.Kind), ev.SessionID, ts.UnixNano(), payload)
	return [][]byte{[]byte(Topic(ev.Kind, ev.SessionID)), buf}, nil
}

// DecodeBinary parses a [topic, FeedEvent] frame pair. The kind and session
// come from the flatbuffer, not the topic.
func DecodeBinary(frames [][]byte) (ev Event, err error) {
	if len(frames) != 2 {
		return Event{}, &ProtocolError{Reason: fmt.Sprintf("expected 2 frames, got %d", len(frames))}
	}
	buf := frames[1]
	if len(buf) < 8 {
		return Event{}, &ProtocolError{Reason: "short flatbuffer"}
	}
	defer func() {
		if r := recover(); r != nil {
			ev = Event{}
			err = &ProtocolError{Reason: fmt.Sprintf("corrupt flatbuffer: %v", r)}
		}
	}()

	fb := fbfeed.GetRootAsFeedEvent(buf, 0)
	kind := Kind(fb.Kind())
	ev = Event{
		Kind:      kind,
		SessionID: string(fb.SessionId()),
		Received:  time.Unix(0, fb.TimestampNs()),
	}
	payload := fb.PayloadBytes()

	switch kind {
	case KindCameraFrame:
		if ev.SessionID == "" {
			return Event{}, &ProtocolError{Kind: kind, Reason: "missing session_id"}
		}
		ev.Frame = append([]byte(nil), payload...)
	case KindRemoveCameraStream:
		if ev.SessionID == "" {
			return Event{}, &ProtocolError{Kind: kind, Reason: "missing session_id"}
		}
	case KindPlannerUpdate:
		var d wireData
		if err := json.Unmarshal(payload, &d); err != nil {
			return Event{}, &ProtocolError{Kind: kind, Reason: fmt.Sprintf("invalid payload: %v", err)}
		}
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
		ev.Message = string(payload)
	default:
		return Event{}, &ProtocolError{Kind: kind, Reason: "unknown event"}
	}
	return ev, nil
}
