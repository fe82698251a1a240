package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObservePoll("history", nil)
	m.ObservePoll("history", errors.New("boom"))
	m.ObserveHealth(true)
	m.SSEClients.Add(2)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `dashboard_feed_polls_total{feed="history",outcome="ok"} 1`)
	assert.Contains(t, text, `dashboard_feed_polls_total{feed="history",outcome="error"} 1`)
	assert.Contains(t, text, "dashboard_backend_connected 1")
	assert.Contains(t, text, "dashboard_sse_clients 2")
}

func TestNilMetricsIgnored(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePoll("logs", nil)
		m.ObserveHealth(false)
	})
}
