// Package codec encodes and decodes protocol envelopes as JSON text frames.
package codec

import (
	"bytes"
	"encoding/json"
	"sync"
)

var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	// Large buffers are dropped so one oversized frame does not pin memory.
	if buf.Cap() > 64*1024 {
		return
	}
	bufferPool.Put(buf)
}

// marshal encodes v without HTML escaping so chat text keeps <, > and & as typed.
func marshal(v any) (string, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}
