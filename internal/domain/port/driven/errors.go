package driven

import "errors"

// Sentinel errors shared across the credential subsystem. Call sites wrap
// these with fmt.Errorf("...: %w", err) to add context; callers match with
// errors.Is.
var (
	// ErrInvalidCredential: a credential failed the structural invariant
	// (all five fields present, positive expiry). Never persisted.
	ErrInvalidCredential = errors.New("invalid credential data")

	// ErrLegacyFormat: the store file predates envelope encryption. It is
	// never decrypted on a best-effort basis; run `credctl migrate-tokens`.
	ErrLegacyFormat = errors.New("legacy credential file format detected: run `credctl migrate-tokens` to convert it")

	// ErrKeyVersionNotFound: the envelope references a key version that is
	// not registered. Configure the matching CREDKEEPER_SECRET_KEY_V<n>
	// secret or re-authenticate.
	ErrKeyVersionNotFound = errors.New("encryption key version not registered")

	// ErrCurrentKeyNotFound: the version selected as current was never
	// registered.
	ErrCurrentKeyNotFound = errors.New("current encryption key not found")

	// ErrMalformedCiphertext: the stored ciphertext block is not exactly
	// iv:authTag:ciphertext.
	ErrMalformedCiphertext = errors.New("malformed ciphertext block")

	// ErrWeakParameters: a key derivation was requested with fewer than the
	// minimum PBKDF2 iterations.
	ErrWeakParameters = errors.New("key derivation parameters below minimum strength")

	// ErrInvalidGrant: the OAuth provider rejected the refresh token itself.
	// Terminal; never retried.
	ErrInvalidGrant = errors.New("oauth refresh token no longer valid")

	// ErrAuthenticationRequired: stored tokens were revoked and purged; a
	// full re-authentication handshake is needed.
	ErrAuthenticationRequired = errors.New("authentication required: stored tokens were revoked")

	// ErrNotAuthenticated: no live credential is installed.
	ErrNotAuthenticated = errors.New("not authenticated")
)
