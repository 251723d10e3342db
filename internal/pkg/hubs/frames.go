package hubs

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// The hub terminates every frame with an ASCII record separator, and may
// batch several frames into one physical read.
const recordSeparator = 0x1e

// MsgType is the SignalR message type id.
type MsgType int

const (
	MsgInvoke           MsgType = 1
	MsgStream           MsgType = 2
	MsgComplete         MsgType = 3
	MsgStreamInvocation MsgType = 4
	MsgCancelInvocation MsgType = 5
	MsgPing             MsgType = 6
	MsgClose            MsgType = 7
	MsgUnknown          MsgType = 0xFF
)

var msgTypeNames = map[MsgType]string{
	MsgInvoke:           "INVOKE",
	MsgStream:           "STREAM",
	MsgComplete:         "COMPLETE",
	MsgStreamInvocation: "STREAM_INVOCATION",
	MsgCancelInvocation: "CANCEL_INVOCATION",
	MsgPing:             "PING",
	MsgClose:            "CLOSE",
	MsgUnknown:          "UNKNOWN",
}

// typeOf maps a wire type id to a symbolic type; unknown ids map to the
// explicit unknown sentinel rather than failing.
func typeOf(id int) MsgType {
	t := MsgType(id)
	if _, ok := msgTypeNames[t]; ok {
		return t
	}
	return MsgUnknown
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return msgTypeNames[MsgUnknown]
}

// Event is one decoded invocation/event frame from a hub.
type Event struct {
	TypeID     int
	Type       MsgType
	Target     string
	Arguments  []json.RawMessage
	Invocation string
	Error      string
	Timestamp  time.Time
}

// frame is the wire shape of an inbound hub message.
type frame struct {
	Type         int               `json:"type"`
	Target       string            `json:"target"`
	Arguments    []json.RawMessage `json:"arguments"`
	InvocationID string            `json:"invocationId"`
	Error        string            `json:"error"`
}

func eventFromFrame(f frame) Event {
	return Event{
		TypeID:     f.Type,
		Type:       typeOf(f.Type),
		Target:     f.Target,
		Arguments:  f.Arguments,
		Invocation: f.InvocationID,
		Error:      f.Error,
		Timestamp:  time.Now(),
	}
}

// splitFrames splits a physical read into individual JSON frames on the
// record separator.
func splitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, part := range bytes.Split(bytes.TrimSpace(data), []byte{recordSeparator}) {
		part = bytes.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		frames = append(frames, part)
	}
	return frames
}

// encodeFrame marshals an outbound message and appends the record
// separator the hub expects on every payload.
func encodeFrame(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encoding frame")
	}
	return append(raw, recordSeparator), nil
}
