package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Emission is one outbound event captured by a Recorder. Payload holds the
// JSON encoding of what was emitted.
type Emission struct {
	Event   string
	Payload json.RawMessage
}

// Recorder is an in-memory emitter for session tests.
type Recorder struct {
	mu     sync.Mutex
	items  []Emission
	notify chan struct{}
	Err    error
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Emit(_ context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.items = append(r.items, Emission{Event: event, Payload: data})
	err = r.Err
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return err
}

func (r *Recorder) Emissions() []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emission(nil), r.items...)
}

// WaitFor blocks until at least n emissions were recorded.
func (r *Recorder) WaitFor(n int, timeout time.Duration) ([]Emission, error) {
	deadline := time.After(timeout)
	for {
		if items := r.Emissions(); len(items) >= n {
			return items, nil
		}
		select {
		case <-r.notify:
		case <-deadline:
			return r.Emissions(), errors.New("timeout waiting for emissions")
		}
	}
}
