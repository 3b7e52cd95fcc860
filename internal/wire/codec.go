package wire

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/codewiresh/fswatchd/internal/match"
)

// DecodeRequest decodes a frame payload into the heterogeneous request
// array spec.md §4.5 describes: [command, arg1, arg2, ...].
func DecodeRequest(enc Encoding, payload []byte) ([]any, error) {
	var req []any
	var err error
	switch enc {
	case EncodingJSON:
		err = json.Unmarshal(payload, &req)
	case EncodingBinary:
		err = cbor.Unmarshal(payload, &req)
	default:
		return nil, fmt.Errorf("unsupported encoding 0x%02x", byte(enc))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return req, nil
}

// Response is a structured reply. Fields holds the scalar/object
// members (version, clock, error, log, subscription, ...); Files, when
// non-nil, is rendered as the templated array form spec.md §4.2 defines.
type Response struct {
	Fields map[string]any
	Files  []match.Record
}

// NewResponse returns a Response stamped with the protocol version.
func NewResponse() *Response {
	return &Response{Fields: map[string]any{"version": ProtocolVersion}}
}

// Set assigns a scalar/object field.
func (r *Response) Set(key string, value any) *Response {
	r.Fields[key] = value
	return r
}

// WithFiles attaches the templated file list.
func (r *Response) WithFiles(files []match.Record) *Response {
	r.Files = files
	return r
}

// ProtocolVersion is the version string stamped on every response
// (spec.md §4.2's "every response carries a top-level version string").
const ProtocolVersion = "1.0.0"

// templated is the on-wire shape of a templated file array: the field
// names once, then one positional row per file.
type templated struct {
	Template []string `json:"template" cbor:"template"`
	Rows     [][]any  `json:"rows" cbor:"rows"`
}

// toMap flattens a Response into a plain map ready for encoding.
func (r *Response) toMap() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	if r.Files != nil {
		rows := make([][]any, len(r.Files))
		for i, f := range r.Files {
			rows[i] = f.Row()
		}
		out["files"] = templated{Template: match.Fields, Rows: rows}
	}
	return out
}

// Encode serializes the response in the given wire encoding.
func (r *Response) Encode(enc Encoding) (*Frame, error) {
	m := r.toMap()
	var payload []byte
	var err error
	switch enc {
	case EncodingJSON:
		payload, err = json.Marshal(m)
	case EncodingBinary:
		payload, err = cbor.Marshal(m)
	default:
		return nil, fmt.Errorf("unsupported encoding 0x%02x", byte(enc))
	}
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return &Frame{Encoding: enc, Payload: payload}, nil
}

// ErrorResponse builds a standard {version, error} reply.
func ErrorResponse(err error) *Response {
	return NewResponse().Set("error", err.Error())
}
