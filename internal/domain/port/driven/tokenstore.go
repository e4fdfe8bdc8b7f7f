package driven

import (
	"context"

	"github.com/credkeeper/credkeeper/internal/domain/model"
)

// TokenStore is the driven port for durable, encrypted credential
// persistence. Implementations own encryption; this interface moves
// plaintext credentials across the domain boundary only.
type TokenStore interface {
	// Save validates, encrypts, and durably persists the credential,
	// replacing any previous record. Returns ErrInvalidCredential when the
	// structural invariant fails.
	Save(ctx context.Context, cred model.Credential) error

	// Load decrypts and returns the stored credential. Returns (nil, nil)
	// when no store file exists. Returns ErrLegacyFormat,
	// ErrKeyVersionNotFound, or ErrMalformedCiphertext for the
	// corresponding store conditions; none of these are recovered from
	// silently.
	Load(ctx context.Context) (*model.Credential, error)

	// Purge deletes the stored credential. Idempotent: a missing file is
	// not an error. An audit line is appended regardless of the deletion
	// outcome.
	Purge(ctx context.Context) error
}
