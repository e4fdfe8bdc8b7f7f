// Package file contains the file-backed driven adapters: the encrypted
// credential store and the append-only audit log.
package file

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/credkeeper/credkeeper/internal/cryptoutil"
	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
	"github.com/credkeeper/credkeeper/internal/keyring"
)

// gcmTagSize is the AES-GCM authentication tag length; the tag is stored
// as its own hex segment in the envelope.
const gcmTagSize = 16

// legacyBlockRe matches the pre-envelope store format: a bare
// hex-encoded iv:authTag:ciphertext string with no JSON wrapper.
var legacyBlockRe = regexp.MustCompile(`^[0-9a-fA-F]+:[0-9a-fA-F]+:[0-9a-fA-F]+$`)

// Compile-time interface satisfaction check.
var _ driven.TokenStore = (*TokenStore)(nil)

// TokenStore is the file-backed implementation of the TokenStore port.
// Credentials are serialized to JSON, encrypted with AES-256-GCM under a
// single-use session key derived from the keyring's current key, and
// written as an EncryptedEnvelope document with owner-only permissions.
type TokenStore struct {
	path   string
	keys   *keyring.Keyring
	audit  driven.AuditLog
	logger *slog.Logger
}

// NewTokenStore creates a TokenStore persisting to path. audit may be nil
// in tests.
func NewTokenStore(path string, keys *keyring.Keyring, audit driven.AuditLog, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStore{path: path, keys: keys, audit: audit, logger: logger}
}

// Path returns the store file location, for operator tooling.
func (s *TokenStore) Path() string {
	return s.path
}

// Save validates, encrypts, and atomically persists the credential. The
// raw configured secret is never used as the AES key directly: each save
// derives a fresh session key from the current key material with a new
// random salt, and wipes it before returning.
func (s *TokenStore) Save(ctx context.Context, cred model.Credential) error {
	if !cred.Valid() {
		return fmt.Errorf("save credential: %w", driven.ErrInvalidCredential)
	}

	km, err := s.keys.Current()
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	session, err := cryptoutil.DeriveKey(km.Key, nil, km.Iterations)
	if err != nil {
		return fmt.Errorf("derive session key: %w", err)
	}
	defer cryptoutil.Wipe(session.Key)

	plaintext, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("serialize credential: %w", err)
	}
	defer cryptoutil.Wipe(plaintext)

	block, err := s.seal(session.Key, plaintext)
	if err != nil {
		return err
	}

	envelope := model.EncryptedEnvelope{
		Version:   model.EnvelopeVersion,
		Algorithm: model.AlgorithmAESGCM,
		KeyDerivation: model.KeyDerivationParams{
			Method:     model.KeyDerivationMethod,
			Iterations: session.Iterations,
			Salt:       base64.StdEncoding.EncodeToString(session.Salt),
		},
		Ciphertext: block,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		KeyID:      km.Version,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize envelope: %w", err)
	}

	existed := s.fileExists()
	if err := s.writeFile(data); err != nil {
		return err
	}

	s.appendAudit(ctx, model.AuditCredentialEncrypted, map[string]any{
		"key_id":    km.Version,
		"algorithm": model.AlgorithmAESGCM,
	})
	if existed {
		s.appendAudit(ctx, model.AuditCredentialRefreshed, map[string]any{"path": s.path})
	} else {
		s.appendAudit(ctx, model.AuditCredentialAcquired, map[string]any{"path": s.path})
	}

	return nil
}

// Load reads and decrypts the stored credential. A missing file returns
// (nil, nil). A legacy-format file, an unknown key version, or a
// malformed ciphertext block each fail with their named error; no
// best-effort decryption of an ambiguous format is ever attempted.
func (s *TokenStore) Load(ctx context.Context) (*model.Credential, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential store: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if IsLegacyFormat(content) {
		return nil, fmt.Errorf("%s: %w", s.path, driven.ErrLegacyFormat)
	}

	var envelope model.EncryptedEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parse credential store %s: %w", s.path, err)
	}
	if envelope.Version == "" || envelope.Ciphertext == "" {
		return nil, fmt.Errorf("credential store %s is not an encrypted envelope", s.path)
	}

	km, exists := s.keys.Get(envelope.KeyID)
	if !exists {
		return nil, fmt.Errorf("envelope key %q (configure the matching CREDKEEPER_SECRET_KEY_V<n> secret or re-authenticate): %w",
			envelope.KeyID, driven.ErrKeyVersionNotFound)
	}

	salt, err := base64.StdEncoding.DecodeString(envelope.KeyDerivation.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode envelope salt: %w", err)
	}

	session, err := cryptoutil.DeriveKey(km.Key, salt, envelope.KeyDerivation.Iterations)
	if err != nil {
		return nil, fmt.Errorf("re-derive session key: %w", err)
	}
	defer cryptoutil.Wipe(session.Key)

	plaintext, err := s.open(session.Key, envelope.Ciphertext)
	if err != nil {
		return nil, err
	}
	defer cryptoutil.Wipe(plaintext)

	var cred model.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, fmt.Errorf("parse decrypted credential: %w", err)
	}
	if !cred.Valid() {
		return nil, fmt.Errorf("load credential: %w", driven.ErrInvalidCredential)
	}

	s.appendAudit(ctx, model.AuditCredentialDecrypted, map[string]any{"key_id": envelope.KeyID})

	return &cred, nil
}

// Purge deletes the stored credential file. A missing file is not an
// error; the purge audit line is appended regardless of the outcome.
func (s *TokenStore) Purge(ctx context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		s.appendAudit(ctx, model.AuditPurgedInvalidGrant, map[string]any{
			"path":  s.path,
			"error": err.Error(),
		})
		return fmt.Errorf("purge credential store: %w", err)
	}

	s.appendAudit(ctx, model.AuditPurgedInvalidGrant, map[string]any{"path": s.path})
	return nil
}

// IsLegacyFormat reports whether content is the pre-envelope store shape:
// a bare iv:authTag:ciphertext hex string with no JSON wrapper.
func IsLegacyFormat(content string) bool {
	return legacyBlockRe.MatchString(strings.TrimSpace(content))
}

// seal encrypts plaintext with AES-256-GCM under key and a random IV,
// returning the iv:authTag:ciphertext hex block.
func (s *TokenStore) seal(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("rand iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	body, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(body), nil
}

// open decrypts an iv:authTag:ciphertext hex block. A block that is not
// exactly three segments fails with ErrMalformedCiphertext.
func (s *TokenStore) open(key []byte, block string) ([]byte, error) {
	parts := strings.Split(block, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%d segments, want 3: %w", len(parts), driven.ErrMalformedCiphertext)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", driven.ErrMalformedCiphertext)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode auth tag: %w", driven.ErrMalformedCiphertext)
	}
	body, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", driven.ErrMalformedCiphertext)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() || len(tag) != gcmTagSize {
		return nil, fmt.Errorf("bad segment length: %w", driven.ErrMalformedCiphertext)
	}

	plaintext, err := gcm.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

// writeFile writes the envelope atomically (write-then-rename, so a crash
// never leaves a torn document) and restricts it to owner read/write.
func (s *TokenStore) writeFile(data []byte) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write credential store: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("restrict store permissions: %w", err)
	}
	return nil
}

func (s *TokenStore) fileExists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// appendAudit records an event, logging and swallowing append failures:
// audit logging must never block or fail a credential operation.
func (s *TokenStore) appendAudit(ctx context.Context, eventType model.AuditEventType, details map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, model.NewAuditEvent(eventType, details)); err != nil {
		s.logger.Warn("audit log append failed", "event_type", eventType, "error", err)
	}
}
