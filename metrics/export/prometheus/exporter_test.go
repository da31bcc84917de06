package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:   7,
				authcore.MetricReplayDetected: 1,
			},
			Histograms: map[authcore.MetricID]authcore.Histogram{
				authcore.MetricAuthorizeLatency: {
					Buckets: [8]uint64{1, 2, 0, 0, 0, 0, 0, 1},
					Sum:     time.Second,
				},
			},
		},
		dropped: 2,
	}
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(sampleSource())

	want := len(internaldefs.CounterDefs) + len(internaldefs.HistogramDefs) + 1
	assert.Equal(t, want, testutil.CollectAndCount(c))

	expected := `
# HELP authcore_login_success_total Successful logins.
# TYPE authcore_login_success_total counter
authcore_login_success_total 7
# HELP authcore_refresh_replay_detected_total Refresh tokens presented after rotation.
# TYPE authcore_refresh_replay_detected_total counter
authcore_refresh_replay_detected_total 1
# HELP authcore_audit_dropped_total Audit events dropped under dispatcher backpressure.
# TYPE authcore_audit_dropped_total counter
authcore_audit_dropped_total 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"authcore_login_success_total",
		"authcore_refresh_replay_detected_total",
		"authcore_audit_dropped_total",
	))
}

func TestHandlerServesHistogram(t *testing.T) {
	h, err := Handler(sampleSource())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `authcore_authorize_latency_seconds_bucket{le="0.001"} 1`)
	assert.Contains(t, out, `authcore_authorize_latency_seconds_bucket{le="0.005"} 3`)
	assert.Contains(t, out, `authcore_authorize_latency_seconds_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "authcore_authorize_latency_seconds_sum 1")
	assert.Contains(t, out, "authcore_authorize_latency_seconds_count 4")
}

func TestCollectorReadsLiveEngine(t *testing.T) {
	m := authcore.NewMetrics(authcore.MetricsConfig{Enabled: true})
	m.Inc(authcore.MetricLogout)
	c := NewCollector(metricsOnly{m})

	expected := `
# HELP authcore_logout_total Single-session logouts.
# TYPE authcore_logout_total counter
authcore_logout_total 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "authcore_logout_total"))
}

type metricsOnly struct{ m *authcore.Metrics }

func (s metricsOnly) MetricsSnapshot() authcore.MetricsSnapshot { return s.m.Snapshot() }
func (s metricsOnly) AuditDropped() uint64                      { return 0 }
