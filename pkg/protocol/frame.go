// Package protocol implements the gateway's wire codec: versioned
// request/response/event JSON frames exchanged over a persistent duplex
// connection, plus per-method schema validation.
package protocol

import "encoding/json"

// Version is the protocol version this build speaks.
const Version = 1

// FrameKind discriminates the three frame shapes on the wire.
type FrameKind string

const (
	KindReq   FrameKind = "req"
	KindRes   FrameKind = "res"
	KindEvent FrameKind = "event"
)

// Frame is the envelope decoded off the wire before dispatch. Exactly one of
// the kind-specific field groups is populated, selected by Kind.
type Frame struct {
	Kind FrameKind `json:"kind"`

	// req
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// res and event share the wire's single "payload" field: the two kinds
	// never populate a Frame at once, so OK/Error (res-only) and
	// Event/Seq (event-only) disambiguate which one a given Payload holds.
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`

	// event
	Event string  `json:"event,omitempty"`
	Seq   *uint64 `json:"seq,omitempty"`
}

// ErrorPayload carries a typed control-plane error, see ErrorCode.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewRequest builds a req frame. id must be unique per connection for the
// lifetime of the pending call.
func NewRequest(id, method string, params any) (*Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Frame{Kind: KindReq, ID: id, Method: method, Params: raw}, nil
}

// NewResult builds a successful res frame in reply to id.
func NewResult(id string, payload any) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ok := true
	return &Frame{Kind: KindRes, ID: id, OK: &ok, Payload: raw}, nil
}

// NewError builds a failed res frame in reply to id.
func NewError(id string, code ErrorCode, message string) *Frame {
	ok := false
	return &Frame{Kind: KindRes, ID: id, OK: &ok, Error: &ErrorPayload{Code: code, Message: message}}
}

// NewEvent builds an event frame. seq is per-run/per-topic, assigned by the
// caller; nil for events that carry no ordering contract.
func NewEvent(name string, payload any, seq *uint64) (*Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Kind: KindEvent, Event: name, Payload: raw, Seq: seq}, nil
}

// Encode serializes a frame as a single JSON line (no trailing newline).
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses one JSON frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
