// Package session tracks live client connections and turns their inbound
// events into replies.
//
// Replies to one connection are not ordered: every user_message is composed
// on its own goroutine and emitted when it completes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flitsinc/liminal-board/internal/compose"
	"github.com/flitsinc/liminal-board/internal/consciousness"
	"github.com/flitsinc/liminal-board/internal/metrics"
	"github.com/flitsinc/liminal-board/internal/state"
	"go.uber.org/zap"
)

// State is where a connection sits in its lifecycle. Ids that were never
// connected, or whose session has been destroyed, report StateClosed.
type State int

const (
	StateConnecting State = iota
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Emitter delivers an event to exactly one connection.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

type Composer interface {
	Compose(ctx context.Context, text string, events []consciousness.Event) compose.Response
}

// Ledger records connection lifecycle. Implemented by *state.Store.
type Ledger interface {
	SessionOpened(ctx context.Context, rec state.SessionRecord) error
	SessionClosed(ctx context.Context, id string, at time.Time) error
}

type Meta struct {
	RemoteAddr string
	UserAgent  string
}

type Session struct {
	ID            string    `json:"id"`
	EstablishedAt time.Time `json:"established_at"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`

	state   State
	emitter Emitter
}

type Options struct {
	Ledger      Ledger
	Log         *zap.Logger
	Metrics     *metrics.Metrics
	EmitTimeout time.Duration
}

type Manager struct {
	composer    Composer
	ledger      Ledger
	log         *zap.Logger
	metrics     *metrics.Metrics
	emitTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	closing  bool
	pending  int
	idle     chan struct{} // closed while pending == 0
}

func NewManager(composer Composer, opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = 10 * time.Second
	}
	idle := make(chan struct{})
	close(idle)
	return &Manager{
		composer:    composer,
		ledger:      opts.Ledger,
		log:         opts.Log,
		metrics:     opts.Metrics,
		emitTimeout: opts.EmitTimeout,
		sessions:    map[string]*Session{},
		idle:        idle,
	}
}

// Connect registers a connection and sends it the confirmation payload.
func (m *Manager) Connect(ctx context.Context, id string, out Emitter, meta Meta) (Session, error) {
	if id == "" {
		return Session{}, errors.New("connection id is required")
	}
	if out == nil {
		return Session{}, errors.New("emitter is required")
	}
	sess := &Session{
		ID:            id,
		EstablishedAt: time.Now().UTC(),
		RemoteAddr:    meta.RemoteAddr,
		UserAgent:     meta.UserAgent,
		state:         StateConnecting,
		emitter:       out,
	}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("session %s already established", id)
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	m.metrics.SessionOpened()
	if m.ledger != nil {
		rec := state.SessionRecord{ID: id, RemoteAddr: meta.RemoteAddr, UserAgent: meta.UserAgent, EstablishedAt: sess.EstablishedAt}
		if err := m.ledger.SessionOpened(ctx, rec); err != nil {
			m.log.Warn("record session open", zap.String("session", id), zap.Error(err))
		}
	}
	m.log.Info("client connected", zap.String("session", id), zap.String("remote_addr", meta.RemoteAddr))

	if err := out.Emit(ctx, EventConnectionEstablished, Status{Status: "connected"}); err != nil {
		m.log.Debug("emit connection confirmation", zap.String("session", id), zap.Error(err))
	}

	m.mu.Lock()
	if cur, ok := m.sessions[id]; ok && cur == sess {
		sess.state = StateEstablished
	}
	snapshot := *sess
	m.mu.Unlock()
	return snapshot, nil
}

// Dispatch routes one inbound transport event. Unknown events, and events for
// connections that are not established, are ignored.
func (m *Manager) Dispatch(id, event string, data json.RawMessage) {
	m.metrics.InboundEvent(event)
	switch event {
	case EventUserMessage:
		m.handleMessage(ParseInbound(id, data))
	default:
		m.log.Debug("ignoring unknown event", zap.String("session", id), zap.String("event", event))
	}
}

func (m *Manager) handleMessage(in Inbound) {
	m.mu.Lock()
	sess, ok := m.sessions[in.ConnectionID]
	switch {
	case m.closing:
		m.mu.Unlock()
		m.log.Debug("dropping message during shutdown", zap.String("session", in.ConnectionID))
		return
	case !ok || sess.state != StateEstablished:
		m.mu.Unlock()
		m.log.Debug("message for unknown session", zap.String("session", in.ConnectionID))
		return
	}
	if m.pending == 0 {
		m.idle = make(chan struct{})
	}
	m.pending++
	m.mu.Unlock()

	m.log.Debug("received message",
		zap.String("session", in.ConnectionID),
		zap.Int("text_len", len(in.Text)),
		zap.Int("events", len(in.Events)))
	for _, ev := range in.Events {
		if !ev.Type.Known() {
			m.log.Debug("unrecognised consciousness event",
				zap.String("session", in.ConnectionID),
				zap.ByteString("raw", ev.Raw))
		}
	}

	go func() {
		defer m.finish()
		// Compositions are not cancelled when the client goes away.
		resp := m.composer.Compose(context.Background(), in.Text, in.Events)
		m.emit(in.ConnectionID, EventAIResponse, resp)
	}()
}

func (m *Manager) finish() {
	m.mu.Lock()
	m.pending--
	if m.pending == 0 {
		close(m.idle)
	}
	m.mu.Unlock()
}

func (m *Manager) emit(id, event string, payload any) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("dropping emission for closed session", zap.String("session", id), zap.String("event", event))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.emitTimeout)
	defer cancel()
	if err := sess.emitter.Emit(ctx, event, payload); err != nil {
		m.log.Debug("emit failed", zap.String("session", id), zap.String("event", event), zap.Error(err))
	}
}

// Disconnect destroys the session. Replies still being composed for it are
// discarded when they complete.
func (m *Manager) Disconnect(ctx context.Context, id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.metrics.SessionClosed()
	if m.ledger != nil {
		if err := m.ledger.SessionClosed(ctx, id, time.Now().UTC()); err != nil {
			m.log.Warn("record session close", zap.String("session", id), zap.Error(err))
		}
	}
	m.log.Info("client disconnected", zap.String("session", id))
}

func (m *Manager) State(id string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sess, ok := m.sessions[id]; ok {
		return sess.state
	}
	return StateClosed
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns a snapshot ordered by establishment time.
func (m *Manager) Sessions() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].EstablishedAt.Equal(out[j].EstablishedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EstablishedAt.Before(out[j].EstablishedAt)
	})
	return out
}

// Close stops accepting new messages. Replies already being composed still
// complete; use Wait to block on them.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()
}

// Wait blocks until no reply is being composed, or ctx is done. Messages
// dispatched while Wait is blocked may extend it; call Close first to
// drain.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.RLock()
	idle := m.idle
	m.mu.RUnlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
