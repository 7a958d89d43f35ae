package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncPhishingDeleted()
	m.SetPhishingDomains(42)
	m.AddPurgeKicks(3)
	m.IncPurgeRuns("scheduled")
	m.IncWatcherAlerts("voice")
	m.IncWatcherAlerts("voice")
	m.IncJailOperations("jail")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.phishingDeleted))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.phishingDomains))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.purgeKicks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.watcherAlerts.WithLabelValues("voice")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jailOperations.WithLabelValues("jail")))
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncMarkovIngested()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "cogwarden_markov_messages_ingested_total 1"))
}

func TestNoopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Noop{}
	r.IncPhishingDeleted()
	r.AddPurgeKicks(1)
}
