// Package rpc implements the daemon's wire protocol: JSON-RPC 2.0 framed
// as newline-delimited JSON over a Unix domain socket, with server-side
// subscriptions and a reconnecting client.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/loykin/shepd/internal/errdefs"
)

// Version is the only accepted jsonrpc value.
const Version = "2.0"

// Message covers the three wire shapes. A request carries method and id,
// a notification carries method without id, a response carries id with
// result or error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func NewRequest(id, method string, params any) (*Message, error) {
	rawID, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: rawID, Method: method, Params: rawParams}, nil
}

func NewNotification(method string, params any) (*Message, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: rawParams}, nil
}

func NewResponse(id json.RawMessage, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

func NewErrorResponse(id json.RawMessage, rpcErr *Error) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: rpcErr}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

func (m *Message) IsRequest() bool {
	return m.Method != "" && len(m.ID) > 0
}

func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

func (m *Message) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0 && (len(m.Result) > 0 || m.Error != nil)
}

// Validate checks the envelope, not the payload.
func (m *Message) Validate() error {
	if m.JSONRPC != Version {
		return errdefs.Protocolf("unsupported jsonrpc version %q", m.JSONRPC)
	}
	if !m.IsRequest() && !m.IsNotification() && !m.IsResponse() {
		return errdefs.Protocolf("message is neither request, notification, nor response")
	}
	return nil
}

// IDString renders the id for correlation and logging. String ids (the
// only kind this client sends) unquote; anything else keeps its raw text.
func (m *Message) IDString() string {
	var s string
	if err := json.Unmarshal(m.ID, &s); err == nil {
		return s
	}
	return string(m.ID)
}

func (m *Message) UnmarshalParams(v any) error {
	if len(m.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Params, v); err != nil {
		return errdefs.Protocolf("decode params: %v", err)
	}
	return nil
}

func (m *Message) UnmarshalResult(v any) error {
	if len(m.Result) == 0 {
		return nil
	}
	return json.Unmarshal(m.Result, v)
}
