// Package wire implements the length-delimited framing and dual-encoding
// request/response serialization the client protocol uses.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encoding identifies which of the two wire encodings a frame's payload
// is serialized in. Unlike a PTY transport's frame-type byte (which only
// ever distinguishes control frames from data frames within one
// connection), this byte is a format selector: whichever encoding the
// client's first request arrives in becomes that connection's encoding
// for every frame — request or response — for the rest of the session
// (spec.md §4.2, §8).
type Encoding byte

const (
	// EncodingJSON marks a frame payload as a JSON value.
	EncodingJSON Encoding = 0x01
	// EncodingBinary marks a frame payload as a CBOR value (the
	// "binary" wire encoding referenced throughout spec.md).
	EncodingBinary Encoding = 0x02

	// MaxPayload bounds a single frame's payload size.
	MaxPayload uint32 = 16 * 1024 * 1024
)

// valid reports whether e is one of the two encodings this wire format
// actually defines.
func (e Encoding) valid() bool {
	return e == EncodingJSON || e == EncodingBinary
}

// Frame is one length-delimited protocol message: a 1-byte encoding
// selector, a big-endian u32 payload length, and the payload itself.
type Frame struct {
	Encoding Encoding
	Payload  []byte
}

// ReadFrame reads the header and payload of a single frame from r. An
// encoding byte outside the two this wire format defines is rejected
// before any length or payload handling — it means the peer isn't
// speaking this framing at all, not merely that one request failed to
// decode. A clean EOF at the very start of a header is reported as
// (nil, nil): the caller treats that as the connection closing
// normally, not a framing error.
func ReadFrame(r io.Reader) (*Frame, error) {
	enc, length, err := readHeader(r)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}
	if !enc.valid() {
		return nil, fmt.Errorf("unknown wire encoding: 0x%02x", byte(enc))
	}
	if length > MaxPayload {
		return nil, fmt.Errorf("frame payload too large: %d bytes", length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("reading frame payload: %w", err)
		}
	}
	return &Frame{Encoding: enc, Payload: payload}, nil
}

// readHeader reads the fixed 5-byte header: a 1-byte encoding selector
// followed by a 4-byte big-endian payload length.
func readHeader(r io.Reader) (Encoding, uint32, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, err
	}
	return Encoding(header[0]), binary.BigEndian.Uint32(header[1:5]), nil
}

// WriteFrame writes f's encoding selector, length prefix, and payload to w.
func WriteFrame(w io.Writer, f *Frame) error {
	header := [5]byte{byte(f.Encoding)}
	binary.BigEndian.PutUint32(header[1:5], uint32(len(f.Payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("writing frame payload: %w", err)
		}
	}
	return nil
}
