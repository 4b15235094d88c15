package logger

import (
	"bytes"
	"io"
	"os"
)

const tailChunk = 32 * 1024

// ReadLastLines returns up to n trailing lines of the file at path without
// reading the whole file. A missing file yields no lines and no error (a
// service that never started has nothing to show).
func ReadLastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	var tail []byte
	off := size
	for off > 0 {
		chunk := int64(tailChunk)
		if off < chunk {
			chunk = off
		}
		off -= chunk
		buf := make([]byte, chunk)
		if _, err := f.ReadAt(buf, off); err != nil {
			return nil, err
		}
		tail = append(buf, tail...)
		if bytes.Count(tail, []byte{'\n'}) > n {
			break
		}
	}

	tail = bytes.TrimSuffix(tail, []byte{'\n'})
	if len(tail) == 0 {
		return nil, nil
	}
	lines := bytes.Split(tail, []byte{'\n'})
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(bytes.TrimSuffix(l, []byte("\r")))
	}
	return out, nil
}
