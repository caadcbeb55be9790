package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.InboundEvent("user_message")
	m.Generation(OutcomeError)
	m.Generation(OutcomeError)
	m.ObserveCompose(15 * time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.connections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("user_message")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.generations.WithLabelValues(OutcomeError)))

	expected := `
# HELP liminal_sessions_active Sessions currently established.
# TYPE liminal_sessions_active gauge
liminal_sessions_active 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected), "liminal_sessions_active"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed()
	m.InboundEvent("x")
	m.Generation(OutcomeOK)
	m.ObserveCompose(time.Second)
	require.NotNil(t, m.Handler())
}
