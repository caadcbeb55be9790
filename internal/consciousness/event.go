// Package consciousness holds the event model attached to chat messages and
// the rule table that turns those events into a reflective reaction.
package consciousness

import "encoding/json"

// EventType tags what kind of behavioural signal an Event describes. The set
// is open: clients may send tags this server has no reaction for.
type EventType string

const (
	Hesitation     EventType = "hesitation"
	SelfReflection EventType = "self_reflection"
	CreativeLeap   EventType = "creative_leap"
)

// Known reports whether t has an entry in the reaction table.
func (t EventType) Known() bool {
	_, ok := reactions[t]
	return ok
}

// Event is a single consciousness event. Values are treated as immutable once
// constructed.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`

	// Raw is the entry exactly as the client sent it. Entries with no reaction
	// are logged with it.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON never rejects an entry. Fields of the wrong JSON type keep
// their zero value, and anything that is not an object decodes to an Event
// with an empty type.
func (e *Event) UnmarshalJSON(data []byte) error {
	*e = Event{Raw: append(json.RawMessage(nil), data...)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	var typ string
	if raw, ok := fields["type"]; ok && json.Unmarshal(raw, &typ) == nil {
		e.Type = EventType(typ)
	}
	if raw, ok := fields["id"]; ok {
		_ = json.Unmarshal(raw, &e.ID)
	}
	if raw, ok := fields["description"]; ok {
		_ = json.Unmarshal(raw, &e.Description)
	}
	if raw, ok := fields["confidence"]; ok {
		_ = json.Unmarshal(raw, &e.Confidence)
	}
	return nil
}

// DecodeEvents decodes a JSON array of events. A missing, null or non-array
// value yields an empty slice.
func DecodeEvents(raw json.RawMessage) []Event {
	if len(raw) == 0 {
		return []Event{}
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil || events == nil {
		return []Event{}
	}
	return events
}
