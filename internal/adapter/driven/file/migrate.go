package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/credkeeper/credkeeper/internal/cryptoutil"
	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
)

// legacyBackupSuffix is appended to the store path when the original
// legacy file is set aside during migration.
const legacyBackupSuffix = ".legacy.bak"

var _ driven.LegacyMigrator = (*TokenStore)(nil)

// MigrateLegacy converts a legacy store file (a bare iv:authTag:ciphertext
// hex block, encrypted directly under the primary key before envelope
// encryption existed) into an EncryptedEnvelope. The original file is
// renamed aside with a .legacy.bak suffix before the envelope is written;
// the backup path is returned.
func (s *TokenStore) MigrateLegacy(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("migrate legacy store: %s does not exist", s.path)
	}
	if err != nil {
		return "", fmt.Errorf("migrate legacy store: %w", err)
	}

	block := strings.TrimSpace(string(data))
	if !IsLegacyFormat(block) {
		return "", fmt.Errorf("migrate legacy store: %s is not in the legacy format", s.path)
	}

	km, exists := s.keys.Get(legacyKeyVersion)
	if !exists {
		return "", fmt.Errorf("migrate legacy store: primary key %s: %w", legacyKeyVersion, driven.ErrKeyVersionNotFound)
	}

	// Legacy files used the raw primary key directly, with no per-save
	// derivation.
	plaintext, err := s.open(km.Key, block)
	if err != nil {
		return "", fmt.Errorf("decrypt legacy store: %w", err)
	}
	defer cryptoutil.Wipe(plaintext)

	var cred model.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return "", fmt.Errorf("parse legacy credential: %w", err)
	}
	if !cred.Valid() {
		return "", fmt.Errorf("legacy credential: %w", driven.ErrInvalidCredential)
	}

	backupPath := s.path + legacyBackupSuffix
	if err := os.Rename(s.path, backupPath); err != nil {
		return "", fmt.Errorf("back up legacy store: %w", err)
	}

	if err := s.Save(ctx, cred); err != nil {
		return "", fmt.Errorf("re-save migrated credential: %w", err)
	}

	return backupPath, nil
}

// legacyKeyVersion is the key version legacy files were encrypted under.
const legacyKeyVersion = "v1"
