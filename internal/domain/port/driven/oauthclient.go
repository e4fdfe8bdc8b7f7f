package driven

import (
	"context"
	"net/http"

	"github.com/credkeeper/credkeeper/internal/domain/model"
)

// OAuthClient is the driven port for the upstream OAuth2 provider.
type OAuthClient interface {
	// Refresh exchanges the refresh token for a fresh credential. A
	// provider signal that the refresh token itself is dead is returned as
	// ErrInvalidGrant; any other failure is transient and retryable.
	Refresh(ctx context.Context, refreshToken string) (model.Credential, error)

	// Exchange redeems an authorization code from the operator handshake
	// for an initial credential.
	Exchange(ctx context.Context, code string) (model.Credential, error)

	// AuthCodeURL returns the provider URL an operator visits to start the
	// handshake.
	AuthCodeURL(state string) string

	// HTTPClient returns a live client that injects the bearer token on
	// every request. The underlying token source may refresh autonomously
	// mid-call; onUpdate is invoked with the new credential whenever that
	// happens so it can be merged and persisted.
	HTTPClient(ctx context.Context, cred model.Credential, onUpdate func(model.Credential)) *http.Client
}
