package hubs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSplitFramesBatched verifies a physical read containing several
// record-separated frames splits into individual payloads, dropping the
// empty trailing segment.
func TestSplitFramesBatched(t *testing.T) {
	data := []byte("{\"type\":6}\x1e{\"type\":1,\"target\":\"Heartbeat\"}\x1e")

	frames := splitFrames(data)
	require.Len(t, frames, 2)
	assert.Equal(t, `{"type":6}`, string(frames[0]))
	assert.Equal(t, `{"type":1,"target":"Heartbeat"}`, string(frames[1]))
}

// TestSplitFramesEmpty verifies whitespace-only input yields no frames.
func TestSplitFramesEmpty(t *testing.T) {
	assert.Empty(t, splitFrames([]byte("  \n")))
	assert.Empty(t, splitFrames([]byte{recordSeparator}))
}

// TestEncodeFrame verifies outbound payloads are terminated with the
// record separator.
func TestEncodeFrame(t *testing.T) {
	raw, err := encodeFrame(map[string]interface{}{"type": 6})
	require.NoError(t, err)

	assert.Equal(t, byte(recordSeparator), raw[len(raw)-1])
	assert.JSONEq(t, `{"type":6}`, string(raw[:len(raw)-1]))
}

// TestTypeOf verifies known type ids resolve and anything else maps to the
// unknown sentinel.
func TestTypeOf(t *testing.T) {
	assert.Equal(t, MsgPing, typeOf(6))
	assert.Equal(t, MsgClose, typeOf(7))
	assert.Equal(t, MsgUnknown, typeOf(42))
	assert.Equal(t, "PING", MsgPing.String())
	assert.Equal(t, "UNKNOWN", MsgType(42).String())
}

// TestEventFromFrame verifies the wire frame decodes into an event with
// its arguments preserved verbatim.
func TestEventFromFrame(t *testing.T) {
	var f frame
	require.NoError(t, json.Unmarshal(
		[]byte(`{"type":1,"target":"DevicesValuesReceived","arguments":[[{"deviceId":10}]],"invocationId":"1"}`), &f))

	ev := eventFromFrame(f)
	assert.Equal(t, MsgInvoke, ev.Type)
	assert.Equal(t, "DevicesValuesReceived", ev.Target)
	assert.Equal(t, "1", ev.Invocation)
	require.Len(t, ev.Arguments, 1)
	assert.JSONEq(t, `[{"deviceId":10}]`, string(ev.Arguments[0]))
}
