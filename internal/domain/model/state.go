package model

// AuthState is the authentication state machine position. TokensRevoked is
// terminal: it is entered from any state on an invalid-grant signal and
// only full re-authentication leaves it.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAuthenticated
	StateTokenExpired
	StateRefreshFailed
	StateTokensRevoked
)

// String returns the state name for logging and health reporting.
func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateTokenExpired:
		return "TOKEN_EXPIRED"
	case StateRefreshFailed:
		return "REFRESH_FAILED"
	case StateTokensRevoked:
		return "TOKENS_REVOKED"
	default:
		return "UNKNOWN"
	}
}
