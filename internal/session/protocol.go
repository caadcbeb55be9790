package session

import (
	"encoding/json"

	"github.com/flitsinc/liminal-board/internal/consciousness"
)

// Transport event names.
const (
	EventUserMessage           = "user_message"
	EventConnectionEstablished = "connection_established"
	EventAIResponse            = "ai_response"
)

// Status is the connection confirmation payload.
type Status struct {
	Status string `json:"status"`
}

// Inbound is a parsed user_message. It lives for one request/response cycle.
type Inbound struct {
	ConnectionID string
	Text         string
	Events       []consciousness.Event
}

// ParseInbound never rejects a payload: a missing or non-string message
// becomes "", and missing or non-array events become an empty slice. Event
// entries themselves are not validated.
func ParseInbound(connectionID string, data json.RawMessage) Inbound {
	in := Inbound{ConnectionID: connectionID, Events: []consciousness.Event{}}

	var payload struct {
		Message json.RawMessage `json:"message"`
		Events  json.RawMessage `json:"consciousnessEvents"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return in
	}
	var text string
	if err := json.Unmarshal(payload.Message, &text); err == nil {
		in.Text = text
	}
	in.Events = consciousness.DecodeEvents(payload.Events)
	return in
}
