// Package cryptoutil provides the stateless cryptographic primitives used
// by the credential store: PBKDF2 key derivation, salt generation,
// constant-time comparison, and secure buffer wiping.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
)

// SaltSize is the length in bytes of generated salts.
const SaltSize = 32

// DerivedKey is the result of a PBKDF2 derivation. Callers must Wipe the
// Key once it is no longer needed.
type DerivedKey struct {
	Key        []byte
	Salt       []byte
	Iterations int
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over secret and returns a 32-byte key.
// A random salt is generated when salt is nil. Iteration counts below
// model.MinIterations are rejected with ErrWeakParameters.
func DeriveKey(secret, salt []byte, iterations int) (DerivedKey, error) {
	if iterations < model.MinIterations {
		return DerivedKey{}, fmt.Errorf("%d iterations (minimum %d): %w",
			iterations, model.MinIterations, driven.ErrWeakParameters)
	}

	if salt == nil {
		var err error
		salt, err = GenerateSalt()
		if err != nil {
			return DerivedKey{}, err
		}
	}

	key := pbkdf2.Key(secret, salt, iterations, model.KeySize, sha256.New)
	return DerivedKey{Key: key, Salt: salt, Iterations: iterations}, nil
}

// GenerateSalt returns SaltSize cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// TimingSafeEqual compares two buffers in constant time. Mismatched
// lengths return false rather than an error.
func TimingSafeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Wipe overwrites each buffer with zeros in place. Nil buffers are
// skipped. Called on every key and plaintext buffer once it is no longer
// needed, including on error paths.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		for i := range b {
			b[i] = 0
		}
	}
}
