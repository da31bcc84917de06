package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore"
)

// CounterDef maps an engine counter to an exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine latency histogram to an exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter of audit events dropped under backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed logins of any kind."},
	{ID: authcore.MetricLoginLockedOut, Name: "authcore_login_locked_out_total", Help: "Logins refused by the failed-login lockout."},
	{ID: authcore.MetricLoginBanned, Name: "authcore_login_banned_total", Help: "Logins refused for banned users."},
	{ID: authcore.MetricLimiterFailOpen, Name: "authcore_lockout_fail_open_total", Help: "Lockout checks that failed open on a cache error."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected or failed refreshes."},
	{ID: authcore.MetricReplayDetected, Name: "authcore_refresh_replay_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: authcore.MetricAuthorizeSuccess, Name: "authcore_authorize_success_total", Help: "Authorized access tokens."},
	{ID: authcore.MetricAuthorizeRejected, Name: "authcore_authorize_rejected_total", Help: "Access tokens rejected as invalid or banned."},
	{ID: authcore.MetricAuthorizeRevoked, Name: "authcore_authorize_revoked_total", Help: "Access tokens rejected by the denylist."},
	{ID: authcore.MetricAuthorizeBackendError, Name: "authcore_authorize_backend_error_total", Help: "Authorizations failed closed on a backend error."},
	{ID: authcore.MetricSessionCreated, Name: "authcore_session_created_total", Help: "Sessions started."},
	{ID: authcore.MetricSessionEnded, Name: "authcore_session_ended_total", Help: "Sessions ended by logout, ban or replay."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricUserBanned, Name: "authcore_user_banned_total", Help: "Ban operations."},
	{ID: authcore.MetricCSRFRejected, Name: "authcore_csrf_rejected_total", Help: "CSRF validations that failed."},
	{ID: authcore.MetricCacheUnavailable, Name: "authcore_cache_unavailable_total", Help: "Operations failed on the shared cache."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthorizeLatency, Name: "authcore_authorize_latency_seconds", Help: "Authorize latency."},
	{ID: authcore.MetricLoginLatency, Name: "authcore_login_latency_seconds", Help: "Login latency."},
	{ID: authcore.MetricRefreshLatency, Name: "authcore_refresh_latency_seconds", Help: "Refresh latency."},
}

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(authcore.HistogramBuckets))
	for i, b := range authcore.HistogramBuckets {
		out[i] = b.Seconds()
	}
	return out
}

// BoundSuffix renders a bound as an instrument name suffix, e.g. 0.005 as
// "0_005". The unbounded bucket is "inf".
func BoundSuffix(i int) string {
	if i >= len(authcore.HistogramBuckets) {
		return "inf"
	}
	s := strconv.FormatFloat(authcore.HistogramBuckets[i].Seconds(), 'f', -1, 64)
	return strings.ReplaceAll(s, ".", "_")
}

// CumulativeBuckets turns per-bucket counts into running totals. The last
// entry equals the observation count.
func CumulativeBuckets(h authcore.Histogram) []uint64 {
	out := make([]uint64, len(h.Buckets))
	var running uint64
	for i, n := range h.Buckets {
		running += n
		out[i] = running
	}
	return out
}
