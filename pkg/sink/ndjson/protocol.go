// Package ndjson speaks the sink protocol as newline-delimited JSON over a
// stream socket (TCP or Unix).
//
// Every request carries an id and is answered by exactly one response with
// the same id. A connection starts with a Hello that may carry an auth
// token; the remaining methods mirror sink.Sink one to one.
package ndjson

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	id := fmt.Sprintf("req-%d", reqCounter.Add(1))
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeReq,
		ID:     id,
		Method: method,
		Data:   raw,
	}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Data:   raw,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Methods
const (
	MethodHello            = "Hello"
	MethodPing             = "Ping"
	MethodOpenTimeline     = "OpenTimeline"
	MethodDeclareKey       = "DeclareKey"
	MethodTimelineMetadata = "TimelineMetadata"
	MethodEvent            = "Event"
)

// HelloRequest opens a session.
type HelloRequest struct {
	Client string `json:"client"`
	Token  string `json:"token,omitempty"`
}

// HelloResponse acknowledges a session.
type HelloResponse struct {
	Session string `json:"session"`
}

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong bool `json:"pong"`
}

// OpenTimelineRequest selects the active timeline.
type OpenTimelineRequest struct {
	TimelineID string `json:"timeline_id"`
}

// DeclareKeyRequest interns an attribute key.
type DeclareKeyRequest struct {
	Key string `json:"key"`
}

// DeclareKeyResponse carries the interned handle.
type DeclareKeyResponse struct {
	Handle uint32 `json:"handle"`
}

// TimelineMetadataRequest updates attributes of the active timeline.
type TimelineMetadataRequest struct {
	Attrs []WireAttr `json:"attrs"`
}

// EventRequest appends an event. Ordering is an unsigned 128-bit decimal.
type EventRequest struct {
	Ordering string     `json:"ordering"`
	Attrs    []WireAttr `json:"attrs"`
}
