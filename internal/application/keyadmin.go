package application

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/credkeeper/credkeeper/internal/cryptoutil"
	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
	"github.com/credkeeper/credkeeper/internal/keyring"
)

// KeyAdminService implements the operator-facing key lifecycle
// operations: key rotation, store verification, and legacy migration.
type KeyAdminService struct {
	keys     *keyring.Keyring
	store    driven.TokenStore
	migrator driven.LegacyMigrator
	logger   *slog.Logger
}

// NewKeyAdminService creates a KeyAdminService. migrator is normally the
// same file store as store.
func NewKeyAdminService(keys *keyring.Keyring, store driven.TokenStore, migrator driven.LegacyMigrator, logger *slog.Logger) *KeyAdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyAdminService{keys: keys, store: store, migrator: migrator, logger: logger}
}

// RotateKey registers a new key version from a base64-encoded 32-byte
// secret, re-encrypts the stored credential under it, and selects it as
// current. The stored credential is loaded before the rotation so the
// previous key is still in place for decryption. A version the keyring
// already holds (registered at startup from CREDKEEPER_SECRET_KEY_V<n>)
// is accepted when the secret matches; a mismatch is rejected so a typo
// can never silently re-key the store.
func (s *KeyAdminService) RotateKey(ctx context.Context, version, encodedSecret string) error {
	rawKey, err := base64.StdEncoding.DecodeString(encodedSecret)
	if err != nil {
		return fmt.Errorf("rotate key: secret is not valid base64: %w", err)
	}

	cred, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("rotate key: load stored credential: %w", err)
	}

	if existing, ok := s.keys.Get(version); ok {
		if !cryptoutil.TimingSafeEqual(existing.Key, rawKey) {
			return fmt.Errorf("rotate key: version %s already registered with different key material", version)
		}
		s.logger.Info("key version already registered, selecting it", "version", version)
	} else {
		meta := model.KeyMetadata{
			Version:    version,
			Algorithm:  model.AlgorithmAESGCM,
			CreatedAt:  time.Now().UTC(),
			Iterations: model.MinIterations,
		}
		if err := s.keys.Register(ctx, version, rawKey, meta); err != nil {
			return fmt.Errorf("rotate key: %w", err)
		}
	}
	if err := s.keys.SetCurrent(ctx, version); err != nil {
		return fmt.Errorf("rotate key: %w", err)
	}

	if cred == nil {
		s.logger.Info("key rotated, no stored credential to re-encrypt", "version", version)
		return nil
	}

	if err := s.store.Save(ctx, *cred); err != nil {
		return fmt.Errorf("rotate key: re-encrypt credential under %s: %w", version, err)
	}

	s.logger.Info("key rotated and credential re-encrypted", "version", version)
	return nil
}

// VerifyReport is the result of a verify-keys run.
type VerifyReport struct {
	Versions          []string
	CurrentVersion    string
	CredentialPresent bool
	CredentialExpired bool
	Err               error
}

// VerifyKeys attempts a full load/decrypt cycle against the registered
// keys and reports the outcome.
func (s *KeyAdminService) VerifyKeys(ctx context.Context) VerifyReport {
	report := VerifyReport{
		Versions:       s.keys.Versions(),
		CurrentVersion: s.keys.CurrentVersion(),
	}

	cred, err := s.store.Load(ctx)
	if err != nil {
		report.Err = err
		return report
	}
	if cred == nil {
		return report
	}

	report.CredentialPresent = true
	report.CredentialExpired = cred.Expired(time.Now())
	return report
}

// MigrateLegacy converts a legacy-format store file into an encrypted
// envelope, returning the backup path of the original.
func (s *KeyAdminService) MigrateLegacy(ctx context.Context) (string, error) {
	backupPath, err := s.migrator.MigrateLegacy(ctx)
	if err != nil {
		return "", err
	}
	s.logger.Info("legacy store migrated", "backup", backupPath)
	return backupPath, nil
}
