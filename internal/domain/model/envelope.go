package model

// EnvelopeVersion is the current persisted-file schema version.
const EnvelopeVersion = "v1"

// KeyDerivationMethod is the only supported per-save key derivation method.
const KeyDerivationMethod = "pbkdf2"

// KeyDerivationParams records how the single-use session key for one
// envelope was derived from the master key, so the same key can be
// re-derived at load time.
type KeyDerivationParams struct {
	Method     string `json:"method"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"` // base64
}

// EncryptedEnvelope is the persisted-file schema for the credential store:
// one JSON document per store. Ciphertext is "iv:authTag:ciphertext" with
// each segment hex-encoded. KeyID names the KeyMaterial version whose raw
// bytes fed the session-key derivation; decryption refuses any envelope
// whose KeyID is not registered rather than falling back to another key.
type EncryptedEnvelope struct {
	Version       string              `json:"version"`
	Algorithm     string              `json:"algorithm"`
	KeyDerivation KeyDerivationParams `json:"key_derivation"`
	Ciphertext    string              `json:"ciphertext"`
	CreatedAt     string              `json:"created_at"` // ISO-8601
	KeyID         string              `json:"key_id"`
}
