package rpc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameTerminatesWithNewline(t *testing.T) {
	msg, err := NewRequest("1", "ping", nil)
	require.NoError(t, err)
	frame, err := EncodeFrame(msg)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), frame[len(frame)-1])
	assert.NotContains(t, string(frame[:len(frame)-1]), "\n")
}

func TestEncodeFrameRefusesOversized(t *testing.T) {
	params := map[string]string{"blob": strings.Repeat("a", MaxFrameSize)}
	msg, err := NewRequest("1", "upload", params)
	require.NoError(t, err)
	_, err = EncodeFrame(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestFrameBufferRoundTripAnyChunking(t *testing.T) {
	reqs := []*Message{}
	for _, method := range []string{"daemon.ping", "service.list", "update.check"} {
		m, err := NewRequest(method+"-id", method, map[string]string{"name": method})
		require.NoError(t, err)
		reqs = append(reqs, m)
	}
	var wire []byte
	for _, m := range reqs {
		frame, err := EncodeFrame(m)
		require.NoError(t, err)
		wire = append(wire, frame...)
	}

	for _, chunk := range []int{1, 3, 7, 64, len(wire)} {
		var fb FrameBuffer
		var got []*Message
		for off := 0; off < len(wire); off += chunk {
			end := off + chunk
			if end > len(wire) {
				end = len(wire)
			}
			frames, dropped := fb.Feed(wire[off:end])
			assert.False(t, dropped)
			for _, raw := range frames {
				var m Message
				require.NoError(t, json.Unmarshal(raw, &m))
				got = append(got, &m)
			}
		}
		require.Len(t, got, len(reqs), "chunk size %d", chunk)
		for i, m := range got {
			assert.Equal(t, reqs[i].Method, m.Method)
			assert.Equal(t, string(reqs[i].ID), string(m.ID))
		}
		assert.Zero(t, fb.Pending())
	}
}

func TestFrameBufferSkipsBlankLines(t *testing.T) {
	var fb FrameBuffer
	frames, dropped := fb.Feed([]byte("\n\n{\"jsonrpc\":\"2.0\"}\n\n"))
	assert.False(t, dropped)
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0"}`, string(frames[0]))
}

func TestFrameBufferDropsOversizedRemainder(t *testing.T) {
	var fb FrameBuffer

	_, dropped := fb.Feed(make([]byte, MaxFrameSize))
	assert.False(t, dropped)
	assert.Equal(t, MaxFrameSize, fb.Pending())

	_, dropped = fb.Feed([]byte{'x'})
	assert.True(t, dropped)
	assert.Zero(t, fb.Pending())

	// The stream recovers on the next terminated frame.
	frames, dropped := fb.Feed([]byte("{\"jsonrpc\":\"2.0\"}\n"))
	assert.False(t, dropped)
	require.Len(t, frames, 1)
}
