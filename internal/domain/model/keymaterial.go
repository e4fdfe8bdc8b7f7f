package model

import (
	"regexp"
	"time"
)

// AlgorithmAESGCM is the only cipher supported by the credential store.
const AlgorithmAESGCM = "aes-256-gcm"

// KeySize is the required length in bytes of a raw encryption key.
const KeySize = 32

// MinIterations is the minimum accepted PBKDF2 iteration count. Key
// registrations and derivations below this are rejected outright.
const MinIterations = 100000

var keyVersionRe = regexp.MustCompile(`^v[1-9][0-9]*$`)

// ValidKeyVersion reports whether s is a well-formed key version
// identifier ("v1", "v2", ...).
func ValidKeyVersion(s string) bool {
	return keyVersionRe.MatchString(s)
}

// KeyMaterial is one versioned encryption key held in process memory.
// Key buffers are zeroed by the keyring on Clear; holders must not retain
// copies past shutdown.
type KeyMaterial struct {
	Version          string
	Key              []byte
	Algorithm        string
	CreatedAt        time.Time
	Iterations       int
	RegistrationSalt string
}

// KeyMetadata describes a key at registration time. The keyring rejects
// registrations whose metadata disagrees with the declared version.
type KeyMetadata struct {
	Version          string
	Algorithm        string
	CreatedAt        time.Time
	Iterations       int
	RegistrationSalt string
}
