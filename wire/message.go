// Package wire defines the JSON-RPC 2.0 message shapes exchanged between
// the transport and the protocol engine, and the encode/decode functions
// that classify a wire payload as a request, a notification, or a response.
package wire

import (
	"fmt"

	json "github.com/segmentio/encoding/json"
)

const Version = "2.0"

// ID is a JSON-RPC request identifier: a string, a number, or absent
// (for notifications). The zero ID is invalid and marshals to null.
type ID struct {
	value any
}

// StringID builds a string-valued ID.
func StringID(s string) ID { return ID{value: s} }

// IntID builds a numeric-valued ID.
func IntID(i int64) ID { return ID{value: i} }

// IsValid reports whether the ID carries a value, i.e. is not the
// notification placeholder.
func (id ID) IsValid() bool { return id.value != nil }

// Raw returns the underlying string, int64, or nil.
func (id ID) Raw() any { return id.value }

func (id ID) String() string {
	switch v := id.value.(type) {
	case nil:
		return "<no-id>"
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		id.value = nil
	case string:
		id.value = t
	case float64:
		id.value = int64(t)
	default:
		return fmt.Errorf("wire: invalid id type %T", v)
	}
	return nil
}

// Message is the closed set of wire-level JSON-RPC payloads: Request
// (call or notification) and Response (success or error).
type Message interface {
	message()
}

// Request is a call (ID.IsValid()) or a notification (!ID.IsValid()).
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

func (*Request) message() {}

// IsNotification reports whether this request carries no id.
func (r *Request) IsNotification() bool { return !r.ID.IsValid() }

// Response is a reply to a prior call Request, carrying either a result
// or an error, never both.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
}

func (*Response) message() {}

// Error is a JSON-RPC error object. It implements error; package protoerr
// renders its own protocol errors into this shape via its Wire method.
type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc2: code %d: %s", e.Code, e.Message)
}

// wireEnvelope is the on-the-wire shape shared by requests and responses;
// DecodeMessage classifies by which fields are present.
type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// DecodeMessage classifies and decodes a single JSON-RPC envelope. Before
// the permissive decode, the payload is validated in strict mode (no
// unknown fields, no case-variant duplicate keys) to rule out JSON-RPC
// field-smuggling (see strictDecodeEnvelope).
func DecodeMessage(data []byte) (Message, error) {
	if err := strictDecodeEnvelope(data); err != nil {
		return nil, err
	}
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	if env.Method != "" {
		return &Request{ID: derefID(env.ID), Method: env.Method, Params: env.Params}, nil
	}
	if env.Result != nil || env.Error != nil {
		if env.ID == nil {
			return nil, fmt.Errorf("wire: response missing id")
		}
		return &Response{ID: *env.ID, Result: env.Result, Error: env.Error}, nil
	}
	return nil, fmt.Errorf("wire: message is neither request, notification, nor response")
}

func derefID(id *ID) ID {
	if id == nil {
		return ID{}
	}
	return *id
}

// DecodeBatch accepts either a single JSON object or a JSON array of
// objects, matching the MCP streamable-HTTP batch envelope.
func DecodeBatch(data []byte) ([]Message, error) {
	trimmed := trimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("wire: empty body")
	}
	if trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("wire: decode batch: %w", err)
		}
		if len(raws) == 0 {
			return nil, fmt.Errorf("wire: empty batch")
		}
		msgs := make([]Message, len(raws))
		for i, raw := range raws {
			msg, err := DecodeMessage(raw)
			if err != nil {
				return nil, err
			}
			msgs[i] = msg
		}
		return msgs, nil
	}
	msg, err := DecodeMessage(trimmed)
	if err != nil {
		return nil, err
	}
	return []Message{msg}, nil
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isWS(b[i]) {
		i++
	}
	for j > i && isWS(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isWS(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

// EncodeMessage marshals a Message to its wire envelope.
func EncodeMessage(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		env := wireEnvelope{JSONRPC: Version, Method: m.Method, Params: m.Params}
		if m.ID.IsValid() {
			id := m.ID
			env.ID = &id
		}
		return json.Marshal(env)
	case *Response:
		env := wireEnvelope{JSONRPC: Version, Result: m.Result, Error: m.Error}
		id := m.ID
		env.ID = &id
		return json.Marshal(env)
	default:
		return nil, fmt.Errorf("wire: unknown message type %T", msg)
	}
}

// NewRequest builds a call or notification. Pass the zero ID for a
// notification.
func NewRequest(id ID, method string, params any) (*Request, error) {
	raw, err := marshalToRaw(params)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, Method: method, Params: raw}, nil
}

// NewResultResponse builds a success response envelope.
func NewResultResponse(id ID, result any) (*Response, error) {
	raw, err := marshalToRaw(result)
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response envelope.
func NewErrorResponse(id ID, err *Error) *Response {
	return &Response{ID: id, Error: err}
}

func marshalToRaw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return json.RawMessage(data), nil
}
