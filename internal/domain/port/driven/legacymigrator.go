package driven

import "context"

// LegacyMigrator converts a pre-envelope credential store file into the
// current EncryptedEnvelope format. Implemented by the file token store.
type LegacyMigrator interface {
	// MigrateLegacy decrypts the legacy file with the primary key, backs
	// the original up, and re-saves the credential as an envelope. It
	// returns the backup path. A store that is already an envelope, or
	// absent, is an error.
	MigrateLegacy(ctx context.Context) (string, error)
}
