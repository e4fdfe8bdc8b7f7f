package model

// HealthStatus summarizes whether the subsystem can currently produce a
// live access token for callers.
type HealthStatus int

const (
	// HealthHealthy: a valid credential is stored and not expiring soon.
	HealthHealthy HealthStatus = iota
	// HealthDegraded: the credential is expiring soon or already expired,
	// but a refresh token is held so recovery is expected.
	HealthDegraded
	// HealthUnhealthy: no usable credential and no refresh capability.
	HealthUnhealthy
)

// String returns the status name used in CLI output and HTTP responses.
func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "HEALTHY"
	case HealthDegraded:
		return "DEGRADED"
	case HealthUnhealthy:
		return "UNHEALTHY"
	default:
		return "UNKNOWN"
	}
}
