package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/loykin/shepd/internal/errdefs"
)

// MaxFrameSize bounds a single NDJSON frame in either direction.
const MaxFrameSize = 10 << 20

// EncodeFrame marshals msg and appends the newline terminator. Frames
// over MaxFrameSize are refused before any bytes hit the wire.
func EncodeFrame(msg *Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(b) > MaxFrameSize {
		return nil, errdefs.Protocolf("frame of %d bytes exceeds limit %d", len(b), MaxFrameSize)
	}
	return append(b, '\n'), nil
}

// FrameBuffer reassembles newline-delimited frames from an arbitrary
// chunking of the byte stream.
type FrameBuffer struct {
	buf []byte
}

// Feed appends p and returns every complete frame payload, newline
// stripped. If the unterminated remainder outgrows MaxFrameSize it is
// dropped and the second return reports the overflow; the tail of the
// dropped message then fails JSON parsing downstream and is skipped.
func (b *FrameBuffer) Feed(p []byte) ([][]byte, bool) {
	b.buf = append(b.buf, p...)
	var frames [][]byte
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := b.buf[:i]
		b.buf = b.buf[i+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		frames = append(frames, cp)
	}
	if len(b.buf) > MaxFrameSize {
		b.buf = nil
		return frames, true
	}
	return frames, false
}

// Pending reports the size of the unterminated remainder.
func (b *FrameBuffer) Pending() int {
	return len(b.buf)
}
