package forumauth

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful Authenticate calls.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts credential failures.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins rejected by the login policy.
	MetricLoginRateLimited
	// MetricRegisterSuccess counts created accounts.
	MetricRegisterSuccess
	// MetricRegisterRateLimited counts registrations rejected by the
	// register policy.
	MetricRegisterRateLimited
	// MetricRefreshSuccess counts successfully reissued access tokens.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricValidateSuccess counts access tokens accepted by Validate.
	MetricValidateSuccess
	// MetricValidateFailure counts access tokens rejected by Validate.
	MetricValidateFailure
	// MetricTokenRevoked counts tokens written to the blacklist.
	MetricTokenRevoked
	// MetricLogout counts completed Logout calls.
	MetricLogout
	// MetricPasswordChange counts successful password changes.
	MetricPasswordChange
	// MetricPermissionDenied counts negative CheckPermission/CheckRole
	// answers.
	MetricPermissionDenied
	// MetricGraphDegraded counts resolver reads that fell back to empty
	// sets because the role graph was unreachable.
	MetricGraphDegraded
	// MetricRateLimitHit counts every rate limit rejection, engine and
	// middleware policies combined.
	MetricRateLimitHit
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:        "login_success",
	MetricLoginFailure:        "login_failure",
	MetricLoginRateLimited:    "login_rate_limited",
	MetricRegisterSuccess:     "register_success",
	MetricRegisterRateLimited: "register_rate_limited",
	MetricRefreshSuccess:      "refresh_success",
	MetricRefreshFailure:      "refresh_failure",
	MetricValidateSuccess:     "validate_success",
	MetricValidateFailure:     "validate_failure",
	MetricTokenRevoked:        "token_revoked",
	MetricLogout:              "logout",
	MetricPasswordChange:      "password_change",
	MetricPermissionDenied:    "permission_denied",
	MetricGraphDegraded:       "graph_degraded",
	MetricRateLimitHit:        "rate_limit_hit",
}

// String returns the snake_case counter name.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// Metrics holds the engine's counters. All methods are lock-free and safe
// for concurrent use.
type Metrics struct {
	counters [metricIDCount]atomic.Uint64
}

func newMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Get returns the current value of one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot returns all counters keyed by name. The map is a copy; mutating
// it does not affect the live counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, int(metricIDCount))
	if m == nil {
		return out
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		out[id.String()] = m.counters[id].Load()
	}
	return out
}
