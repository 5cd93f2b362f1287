package gateway

import "encoding/json"

// Frame is the universal WebSocket message format between vetd and the
// platform bridge. Three types: "req" (request), "res" (response),
// "event" (bridge→server push).
type Frame struct {
	Type    string          `json:"type"`              // "req" | "res" | "event"
	ID      string          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // for req: method name
	Params  json.RawMessage `json:"params,omitempty"`  // for req: method parameters
	OK      *bool           `json:"ok,omitempty"`      // for res: success flag
	Payload json.RawMessage `json:"payload,omitempty"` // for res: response data
	Error   *ErrorPayload   `json:"error,omitempty"`   // for res: error details
	Event   string          `json:"event,omitempty"`   // for event: event name
	Seq     int             `json:"seq,omitempty"`     // for event: sequence number
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Methods vetd invokes on the bridge.
const (
	MethodJoinList          = "join.list"
	MethodJoinApprove       = "join.approve"
	MethodJoinReject        = "join.reject"
	MethodMessageDelete     = "message.delete"
	MethodParticipantRemove = "participant.remove"
	MethodMessageSend       = "message.send"
)

// Events the bridge pushes to vetd.
const (
	EventMessageCreated = "message.created"
)

// ConnectParams is sent by the bridge during handshake.
type ConnectParams struct {
	Token        string   `json:"token"`
	Platform     string   `json:"platform,omitempty"`     // e.g. whatsapp, telegram
	Capabilities []string `json:"capabilities,omitempty"` // methods the bridge implements
}

// Helpers to create frames.

func ReqFrame(id, method string, params any) Frame {
	data, _ := json.Marshal(params)
	return Frame{Type: "req", ID: id, Method: method, Params: data}
}

func ResOK(id string, payload any) Frame {
	data, _ := json.Marshal(payload)
	ok := true
	return Frame{Type: "res", ID: id, OK: &ok, Payload: data}
}

func ResErr(id string, code, message string) Frame {
	ok := false
	return Frame{Type: "res", ID: id, OK: &ok, Error: &ErrorPayload{Code: code, Message: message}}
}
