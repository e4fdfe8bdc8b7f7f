package oauth

import (
	"sync"

	"golang.org/x/oauth2"

	"github.com/credkeeper/credkeeper/internal/domain/model"
)

// notifyingTokenSource wraps a token source and invokes onUpdate whenever
// the wrapped source hands back a different access token, i.e. whenever
// the oauth2 client refreshed autonomously during a call. The callback
// receives the raw refreshed credential; merging with the previously known
// refresh token is the subscriber's job.
type notifyingTokenSource struct {
	mu         sync.Mutex
	src        oauth2.TokenSource
	lastAccess string
	onUpdate   func(model.Credential)
}

var _ oauth2.TokenSource = (*notifyingTokenSource)(nil)

func (n *notifyingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := n.src.Token()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	changed := tok.AccessToken != n.lastAccess
	if changed {
		n.lastAccess = tok.AccessToken
	}
	notify := n.onUpdate
	n.mu.Unlock()

	if changed && notify != nil {
		notify(CredentialFromToken(tok))
	}
	return tok, nil
}
