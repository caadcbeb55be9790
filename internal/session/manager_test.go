package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flitsinc/liminal-board/internal/compose"
	"github.com/flitsinc/liminal-board/internal/consciousness"
	"github.com/flitsinc/liminal-board/internal/state"
	"github.com/flitsinc/liminal-board/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager(t *testing.T, c Composer, ledger Ledger) *Manager {
	t.Helper()
	if c == nil {
		c = compose.New(nil, zaptest.NewLogger(t), nil)
	}
	return NewManager(c, Options{Ledger: ledger, Log: zaptest.NewLogger(t)})
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func decodeResponse(t *testing.T, e testutil.Emission) compose.Response {
	t.Helper()
	require.Equal(t, EventAIResponse, e.Event)
	var resp compose.Response
	require.NoError(t, json.Unmarshal(e.Payload, &resp))
	return resp
}

func TestConnectSendsConfirmation(t *testing.T) {
	m := newTestManager(t, nil, nil)
	rec := testutil.NewRecorder()

	sess, err := m.Connect(context.Background(), "c1", rec, Meta{RemoteAddr: "10.0.0.1:1234"})
	require.NoError(t, err)
	require.Equal(t, "c1", sess.ID)
	require.False(t, sess.EstablishedAt.IsZero())
	require.Equal(t, StateEstablished, m.State("c1"))
	require.Equal(t, 1, m.Count())

	items := rec.Emissions()
	require.Len(t, items, 1)
	require.Equal(t, EventConnectionEstablished, items[0].Event)
	require.JSONEq(t, `{"status":"connected"}`, string(items[0].Payload))

	_, err = m.Connect(context.Background(), "c1", rec, Meta{})
	require.Error(t, err)
	_, err = m.Connect(context.Background(), "", rec, Meta{})
	require.Error(t, err)
	_, err = m.Connect(context.Background(), "c2", nil, Meta{})
	require.Error(t, err)
}

func TestHesitationWithoutBackend(t *testing.T) {
	m := newTestManager(t, nil, nil)
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"hello","consciousnessEvents":[{"type":"hesitation"}]}`))
	items, err := rec.WaitFor(2, 2*time.Second)
	require.NoError(t, err)
	waitIdle(t, m)

	resp := decodeResponse(t, items[1])
	hesitation, _ := consciousness.Reaction(consciousness.Hesitation)
	require.True(t, strings.HasPrefix(resp.Content, hesitation))
	require.Equal(t, hesitation+"\n\n"+compose.OfflineReply, resp.Content)
	require.Equal(t, 0.6, resp.ConsciousnessLevel)
	require.Empty(t, resp.Events)
	require.Contains(t, string(items[1].Payload), `"consciousnessEvents":[]`)
}

func TestMalformedPayloadsAreDefaulted(t *testing.T) {
	m := newTestManager(t, nil, nil)
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	payloads := []string{
		`{}`,
		`{"message":42,"consciousnessEvents":"nope"}`,
		`not json`,
		``,
	}
	for _, p := range payloads {
		m.Dispatch("c1", EventUserMessage, json.RawMessage(p))
	}
	items, err := rec.WaitFor(1+len(payloads), 2*time.Second)
	require.NoError(t, err)
	waitIdle(t, m)

	for _, item := range items[1:] {
		resp := decodeResponse(t, item)
		require.Equal(t, consciousness.Invitation+"\n\n"+compose.OfflineReply, resp.Content)
	}
}

func TestMalformedEventEntriesPassThrough(t *testing.T) {
	m := newTestManager(t, nil, nil)
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"x","consciousnessEvents":["odd",{"type":7}]}`))
	items, err := rec.WaitFor(2, 2*time.Second)
	require.NoError(t, err)
	waitIdle(t, m)

	resp := decodeResponse(t, items[1])
	require.True(t, strings.HasPrefix(resp.Content, consciousness.GenericReaction))
}

type gatedComposer struct {
	inner   Composer
	started chan struct{}
	release chan struct{}
}

func (g *gatedComposer) Compose(ctx context.Context, text string, events []consciousness.Event) compose.Response {
	g.started <- struct{}{}
	<-g.release
	return g.inner.Compose(ctx, text, events)
}

func TestDisconnectDropsInFlightReply(t *testing.T) {
	gate := &gatedComposer{
		inner:   compose.New(nil, nil, nil),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	m := newTestManager(t, gate, nil)
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"hi"}`))
	select {
	case <-gate.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("composer never started")
	}

	m.Disconnect(context.Background(), "c1")
	require.Equal(t, StateClosed, m.State("c1"))
	close(gate.release)
	waitIdle(t, m)

	items := rec.Emissions()
	require.Len(t, items, 1, "only the confirmation should have been emitted")
	require.Equal(t, EventConnectionEstablished, items[0].Event)

	m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"late"}`))
	waitIdle(t, m)
	require.Len(t, rec.Emissions(), 1)
}

func TestRepliesStayOnOriginatingConnection(t *testing.T) {
	m := newTestManager(t, nil, nil)
	a, b := testutil.NewRecorder(), testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "a", a, Meta{})
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), "b", b, Meta{})
	require.NoError(t, err)

	m.Dispatch("a", EventUserMessage, json.RawMessage(`{"message":"only a","consciousnessEvents":[{"type":"creative_leap"}]}`))
	_, err = a.WaitFor(2, 2*time.Second)
	require.NoError(t, err)
	waitIdle(t, m)

	require.Len(t, b.Emissions(), 1)
	require.Len(t, a.Emissions(), 2)
}

func TestConcurrentMessagesEachGetOneReply(t *testing.T) {
	m := newTestManager(t, nil, nil)
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"burst"}`))
		}()
	}
	wg.Wait()
	waitIdle(t, m)

	replies := 0
	for _, item := range rec.Emissions() {
		if item.Event == EventAIResponse {
			replies++
		}
	}
	require.Equal(t, n, replies)
}

func TestUnknownEventsAndSessionsAreIgnored(t *testing.T) {
	m := newTestManager(t, nil, nil)
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	m.Dispatch("c1", "typing", json.RawMessage(`{}`))
	m.Dispatch("ghost", EventUserMessage, json.RawMessage(`{"message":"boo"}`))
	m.Disconnect(context.Background(), "ghost")
	waitIdle(t, m)

	require.Len(t, rec.Emissions(), 1)
	require.Equal(t, 1, m.Count())
}

func TestLedgerRecordsLifecycle(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()
	store := state.NewStore(db)

	m := newTestManager(t, nil, store)
	_, err := m.Connect(context.Background(), "c1", testutil.NewRecorder(), Meta{RemoteAddr: "1.2.3.4:9", UserAgent: "ua"})
	require.NoError(t, err)

	open, err := store.CountOpen(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, open)

	m.Disconnect(context.Background(), "c1")
	items, err := store.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "1.2.3.4:9", items[0].RemoteAddr)
	require.False(t, items[0].Open())
}

func TestSessionsSnapshot(t *testing.T) {
	m := newTestManager(t, nil, nil)
	for _, id := range []string{"x", "y", "z"} {
		_, err := m.Connect(context.Background(), id, testutil.NewRecorder(), Meta{})
		require.NoError(t, err)
	}
	m.Disconnect(context.Background(), "y")

	snap := m.Sessions()
	require.Len(t, snap, 2)
	ids := []string{snap[0].ID, snap[1].ID}
	require.ElementsMatch(t, []string{"x", "z"}, ids)
}

func TestStateString(t *testing.T) {
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "established", StateEstablished.String())
	require.Equal(t, "closed", StateClosed.String())
}

type stateProbeEmitter struct {
	m    *Manager
	id   string
	seen State
}

func (e *stateProbeEmitter) Emit(_ context.Context, _ string, _ any) error {
	e.seen = e.m.State(e.id)
	return nil
}

func TestConnectingUntilConfirmed(t *testing.T) {
	m := newTestManager(t, nil, nil)
	out := &stateProbeEmitter{m: m, id: "c1", seen: StateClosed}

	sess, err := m.Connect(context.Background(), "c1", out, Meta{})
	require.NoError(t, err)
	require.Equal(t, StateConnecting, out.seen)
	require.Equal(t, StateEstablished, sess.state)
	require.Equal(t, StateEstablished, m.State("c1"))
	require.Equal(t, StateClosed, m.State("never-connected"))
}

func TestDispatchConcurrentWithWait(t *testing.T) {
	m := newTestManager(t, nil, nil)
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	const rounds, perRound = 200, 20
	for i := 0; i < rounds; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perRound; j++ {
				m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"race"}`))
			}
		}()
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := m.Wait(ctx); err != nil {
				t.Errorf("wait: %v", err)
			}
		}()
		wg.Wait()
	}
	waitIdle(t, m)

	replies := 0
	for _, item := range rec.Emissions() {
		if item.Event == EventAIResponse {
			replies++
		}
	}
	require.Equal(t, rounds*perRound, replies)
}

func TestCloseDropsNewMessages(t *testing.T) {
	gate := &gatedComposer{
		inner:   compose.New(nil, nil, nil),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	m := newTestManager(t, gate, nil)
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"before close"}`))
	<-gate.started
	m.Close()
	m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"after close"}`))

	close(gate.release)
	waitIdle(t, m)

	replies := 0
	for _, item := range rec.Emissions() {
		if item.Event == EventAIResponse {
			replies++
		}
	}
	require.Equal(t, 1, replies)
}

func TestWaitHonoursContext(t *testing.T) {
	gate := &gatedComposer{
		inner:   compose.New(nil, nil, nil),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	m := newTestManager(t, gate, nil)
	_, err := m.Connect(context.Background(), "c1", testutil.NewRecorder(), Meta{})
	require.NoError(t, err)

	m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"slow"}`))
	<-gate.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)

	close(gate.release)
	waitIdle(t, m)
}

func TestUnrecognisedEventsAreLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	m := NewManager(compose.New(nil, nil, nil), Options{Log: zap.New(core)})
	rec := testutil.NewRecorder()
	_, err := m.Connect(context.Background(), "c1", rec, Meta{})
	require.NoError(t, err)

	m.Dispatch("c1", EventUserMessage, json.RawMessage(`{"message":"x","consciousnessEvents":[{"type":"hesitation"},{"type":"daydream","confidence":0.2},"odd"]}`))
	_, err = rec.WaitFor(2, 2*time.Second)
	require.NoError(t, err)
	waitIdle(t, m)

	entries := logs.FilterMessage("unrecognised consciousness event").All()
	require.Len(t, entries, 2)
	require.Equal(t, `{"type":"daydream","confidence":0.2}`, entries[0].ContextMap()["raw"])
	require.Equal(t, `"odd"`, entries[1].ContextMap()["raw"])
}
