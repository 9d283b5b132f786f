package coordinator

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged with ports.
const (
	TypeProcessUploads  = "PROCESS_UPLOADS"
	TypeEnqueueSegment  = "ENQUEUE_SEGMENT"
	TypePing            = "PING"
	TypePong            = "PONG"
	TypeStatus          = "STATUS"
	TypeSegmentUploaded = "SEGMENT_UPLOADED"
	TypeSegmentFailed   = "SEGMENT_FAILED"
	TypeDrainStarted    = "DRAIN_STARTED"
	TypeDrainFinished   = "DRAIN_FINISHED"
	TypeError           = "ERROR"
)

// Message is the JSON envelope carried over every port.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope, encoding payload when it is non-nil.
func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg.Payload = raw
	return msg, nil
}

func mustMessage(msgType string, payload any) Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// EnqueueSegmentPayload optionally names the segment that was just stored.
type EnqueueSegmentPayload struct {
	SessionID string `json:"sessionId,omitempty"`
	SegmentID string `json:"segmentId,omitempty"`
}

// SegmentUploadedPayload reports a delivered segment.
type SegmentUploadedPayload struct {
	LocalID  string `json:"localId"`
	RemoteID string `json:"remoteId"`
	URL      string `json:"url"`
}

// SegmentFailedPayload reports a delivery attempt that left the record queued.
type SegmentFailedPayload struct {
	LocalID string `json:"localId"`
	Reason  string `json:"reason"`
}

// DrainStartedPayload announces a pass.
type DrainStartedPayload struct {
	Pass   int    `json:"pass"`
	Reason string `json:"reason"`
}

// DrainResult summarizes one pass.
type DrainResult struct {
	Pass       int    `json:"pass"`
	Listed     int    `json:"listed"`
	Uploaded   int    `json:"uploaded"`
	Failed     int    `json:"failed"`
	Dropped    int    `json:"dropped"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// ErrorPayload answers a message the coordinator could not handle.
type ErrorPayload struct {
	Reason string `json:"reason"`
}
