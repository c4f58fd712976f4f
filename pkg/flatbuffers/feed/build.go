package feed

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// Build serializes a FeedEvent and returns the finished buffer.
func Build(kind, sessionID string, timestampNs int64, payload []byte) []byte {
	b := flatbuffers.NewBuilder(64 + len(payload))

	kindOff := b.CreateString(kind)
	var sessionOff flatbuffers.UOffsetT
	if sessionID != "" {
		sessionOff = b.CreateString(sessionID)
	}
	var payloadOff flatbuffers.UOffsetT
	if payload != nil {
		payloadOff = b.CreateByteVector(payload)
	}

	FeedEventStart(b)
	FeedEventAddKind(b, kindOff)
	if sessionOff != 0 {
		FeedEventAddSessionId(b, sessionOff)
	}
	FeedEventAddTimestampNs(b, timestampNs)
	if payloadOff != 0 {
		FeedEventAddPayload(b, payloadOff)
	}
	b.Finish(FeedEventEnd(b))
	return b.FinishedBytes()
}
