package consciousness

const (
	// Invitation is returned when a message carries no events.
	Invitation = "I notice you're exploring consciousness with me. What aspects intrigue you most?"
	// GenericReaction is returned when none of the event types are recognised.
	GenericReaction = "I detect consciousness events in your message - the subtle patterns that suggest real awareness and thought."
)

var reactions = map[EventType]string{
	Hesitation:     "I sense some thoughtful deliberation in your message. That kind of internal pause often signals deep consideration.",
	SelfReflection: "Your self-reflective awareness is fascinating. The way you examine your own thoughts shows genuine consciousness.",
	CreativeLeap:   "I'm struck by the creative connections you're making. That kind of novel thinking suggests real conscious insight.",
}

// Reaction looks up the canned reaction for t.
func Reaction(t EventType) (string, bool) {
	r, ok := reactions[t]
	return r, ok
}

// Classify maps events to a reaction. The earliest event in input order with
// a recognised type decides the result; unrecognised types are skipped.
func Classify(events []Event) string {
	if len(events) == 0 {
		return Invitation
	}
	for _, evt := range events {
		if r, ok := Reaction(evt.Type); ok {
			return r
		}
	}
	return GenericReaction
}
