package gateway

import (
	"encoding/json"
	"io"
)

// StackedDecoder reads a stream that is the concatenation of independent
// top-level JSON values with no framing beyond optional whitespace. The
// gateway's log endpoint emits such a stream, and a single value may span
// chunk boundaries, so the only correct parse is a streaming value decoder.
//
// Next yields each value exactly once, in order. io.EOF means the stream
// ended cleanly between values; any other error (truncated value, garbage
// bytes) means the stream is no longer parseable and the caller should
// reconnect rather than treat it as fatal.
type StackedDecoder struct {
	dec *json.Decoder
}

// NewStackedDecoder creates a decoder over r.
func NewStackedDecoder(r io.Reader) *StackedDecoder {
	return &StackedDecoder{dec: json.NewDecoder(r)}
}

// Next returns the next JSON value from the stream.
func (d *StackedDecoder) Next() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := d.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
