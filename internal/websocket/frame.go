package websocket

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// Frame boundary markers in the post-handshake byte stream. The payload
// lies strictly between them.
const (
	frameStart = 0x00
	frameEnd   = 0xFF
)

// ErrFrameOrdering signals an end marker encountered before any start
// marker. Byte alignment cannot be trusted afterward, so the error is fatal
// for the connection.
var ErrFrameOrdering = errors.New("frame end marker precedes start marker")

// ErrFramePayload signals a per-frame payload that could not be re-encoded
// into the internal single-byte representation. It is distinct from a clean
// close so collaborators can decide how to react.
var ErrFramePayload = errors.New("undecodable frame payload")

// FrameDecoder extracts complete frames from an arbitrarily chunked
// post-handshake byte stream. Partial trailing frames are retained across
// reads; the decoded sequence is independent of chunk boundaries.
type FrameDecoder struct {
	buf []byte
}

// Decode appends chunk to the carry buffer and extracts every complete
// frame payload in order. Bytes preceding a start marker are discarded once
// the frame boundary is consumed past them. Frames decoded before a
// malformed boundary are returned alongside the error.
func (d *FrameDecoder) Decode(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		start := bytes.IndexByte(d.buf, frameStart)
		end := bytes.IndexByte(d.buf, frameEnd)

		// A stray end marker with no start before it means the stream
		// begins mid-frame and can never realign.
		if end >= 0 && (start < 0 || end < start) {
			return frames, ErrFrameOrdering
		}
		if start < 0 || end < 0 {
			return frames, nil
		}

		payload := make([]byte, end-start-1)
		copy(payload, d.buf[start+1:end])
		frames = append(frames, payload)

		d.buf = d.buf[end+1:]
	}
}

// Buffered reports how many bytes are held awaiting a frame boundary.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// toInternal re-encodes a UTF-8 frame payload into the single-byte-per-
// codepoint Latin-1 representation the rest of the server works with. This
// is lossy for codepoints above 255 by legacy contract; payloads that can't
// be represented fail with ErrFramePayload rather than being truncated.
func toInternal(payload []byte) ([]byte, error) {
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFramePayload, err)
	}
	return encoded, nil
}

// framer implements session.Framer for post-handshake connections: outbound
// payloads are expanded from Latin-1 back to UTF-8 and wrapped between the
// frame markers.
type framer struct{}

func (framer) Frame(payload []byte) ([]byte, error) {
	expanded, err := charmap.ISO8859_1.NewDecoder().Bytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFramePayload, err)
	}

	framed := make([]byte, 0, len(expanded)+2)
	framed = append(framed, frameStart)
	framed = append(framed, expanded...)
	framed = append(framed, frameEnd)
	return framed, nil
}
