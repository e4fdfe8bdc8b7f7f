package file

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
	"github.com/credkeeper/credkeeper/internal/keyring"
)

func testKey(fill byte) []byte {
	key := make([]byte, model.KeySize)
	for i := range key {
		key[i] = fill
	}
	return key
}

func testMeta(version string) model.KeyMetadata {
	return model.KeyMetadata{
		Version:    version,
		Algorithm:  model.AlgorithmAESGCM,
		CreatedAt:  time.Now().UTC(),
		Iterations: model.MinIterations,
	}
}

func testKeyring(t *testing.T, versions ...string) *keyring.Keyring {
	t.Helper()
	ctx := context.Background()

	kr := keyring.New(nil, nil)
	t.Cleanup(kr.Clear)
	for i, v := range versions {
		require.NoError(t, kr.Register(ctx, v, testKey(byte(i+1)), testMeta(v)))
	}
	require.NoError(t, kr.SetCurrent(ctx, versions[0]))
	return kr
}

func testCredential() model.Credential {
	return model.Credential{
		AccessToken:  "at-123",
		RefreshToken: "rt-456",
		TokenType:    "Bearer",
		Scope:        "calendar drive",
		ExpiryMillis: time.Now().Add(time.Hour).UnixMilli(),
	}
}

func newTestStore(t *testing.T, kr *keyring.Keyring) *TokenStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.enc")
	return NewTokenStore(path, kr, nil, nil)
}

func TestTokenStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))
	ctx := context.Background()

	cred := testCredential()
	require.NoError(t, store.Save(ctx, cred))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cred, *loaded)
}

func TestTokenStore_SaveRejectsInvalidCredential(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))

	cred := testCredential()
	cred.RefreshToken = ""

	err := store.Save(context.Background(), cred)
	assert.ErrorIs(t, err, driven.ErrInvalidCredential)

	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestTokenStore_LoadMissingFileReturnsAbsent(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestTokenStore_EnvelopeShape(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	var envelope model.EncryptedEnvelope
	require.NoError(t, json.Unmarshal(data, &envelope))

	assert.Equal(t, model.EnvelopeVersion, envelope.Version)
	assert.Equal(t, model.AlgorithmAESGCM, envelope.Algorithm)
	assert.Equal(t, model.KeyDerivationMethod, envelope.KeyDerivation.Method)
	assert.GreaterOrEqual(t, envelope.KeyDerivation.Iterations, model.MinIterations)
	assert.NotEmpty(t, envelope.KeyDerivation.Salt)
	assert.Equal(t, "v1", envelope.KeyID)
	assert.Len(t, strings.Split(envelope.Ciphertext, ":"), 3)

	// Plaintext never appears in the file.
	assert.NotContains(t, string(data), "at-123")
	assert.NotContains(t, string(data), "rt-456")
}

func TestTokenStore_FilePermissions(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))

	require.NoError(t, store.Save(context.Background(), testCredential()))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestTokenStore_FreshSaltPerSave(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))
	first := readEnvelope(t, store.Path())

	require.NoError(t, store.Save(ctx, testCredential()))
	second := readEnvelope(t, store.Path())

	assert.NotEqual(t, first.KeyDerivation.Salt, second.KeyDerivation.Salt)
	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
}

func TestTokenStore_LoadLegacyFormatFailsLoudly(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))

	require.NoError(t, os.WriteFile(store.Path(), []byte("ab12:cd34:ef56"), 0o600))

	loaded, err := store.Load(context.Background())
	assert.Nil(t, loaded)
	assert.ErrorIs(t, err, driven.ErrLegacyFormat)
	assert.ErrorContains(t, err, "migrate-tokens")
}

func TestTokenStore_LoadUnknownKeyVersion(t *testing.T) {
	kr := testKeyring(t, "v1")
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store := NewTokenStore(path, kr, nil, nil)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))

	// Drop every key, then re-register only v2: the envelope's v1 is gone.
	kr.Clear()
	require.NoError(t, kr.Register(ctx, "v2", testKey(9), testMeta("v2")))
	require.NoError(t, kr.SetCurrent(ctx, "v2"))

	loaded, err := store.Load(ctx)
	assert.Nil(t, loaded)
	assert.ErrorIs(t, err, driven.ErrKeyVersionNotFound)
	assert.ErrorContains(t, err, "v1")
}

func TestTokenStore_LoadMalformedCiphertext(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))

	envelope := readEnvelope(t, store.Path())
	envelope.Ciphertext = "ab12:cd34" // two segments
	writeEnvelope(t, store.Path(), envelope)

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, driven.ErrMalformedCiphertext)
}

func TestTokenStore_LoadTamperedCiphertextFailsAuth(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))

	envelope := readEnvelope(t, store.Path())
	parts := strings.Split(envelope.Ciphertext, ":")
	body := []byte(parts[2])
	if body[0] == 'a' {
		body[0] = 'b'
	} else {
		body[0] = 'a'
	}
	envelope.Ciphertext = parts[0] + ":" + parts[1] + ":" + string(body)
	writeEnvelope(t, store.Path(), envelope)

	_, err := store.Load(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, driven.ErrMalformedCiphertext)
}

func TestTokenStore_PurgeIsIdempotent(t *testing.T) {
	store := newTestStore(t, testKeyring(t, "v1"))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))
	require.NoError(t, store.Purge(ctx))

	_, err := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))

	// A second purge with no file present is not an error.
	require.NoError(t, store.Purge(ctx))
}

func TestTokenStore_AuditTrail(t *testing.T) {
	dir := t.TempDir()
	audit := NewAuditLog(filepath.Join(dir, "audit.log"))
	kr := testKeyring(t, "v1")
	store := NewTokenStore(filepath.Join(dir, "credentials.enc"), kr, audit, nil)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))
	_, err := store.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Purge(ctx))

	events := readAuditEvents(t, filepath.Join(dir, "audit.log"))
	types := make([]model.AuditEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}

	assert.Equal(t, []model.AuditEventType{
		model.AuditCredentialEncrypted,
		model.AuditCredentialAcquired,
		model.AuditCredentialDecrypted,
		model.AuditPurgedInvalidGrant,
	}, types)
}

func TestTokenStore_SecondSaveAuditsRefresh(t *testing.T) {
	dir := t.TempDir()
	audit := NewAuditLog(filepath.Join(dir, "audit.log"))
	store := NewTokenStore(filepath.Join(dir, "credentials.enc"), testKeyring(t, "v1"), audit, nil)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testCredential()))
	require.NoError(t, store.Save(ctx, testCredential()))

	events := readAuditEvents(t, filepath.Join(dir, "audit.log"))
	require.Len(t, events, 4)
	assert.Equal(t, model.AuditCredentialAcquired, events[1].Type)
	assert.Equal(t, model.AuditCredentialRefreshed, events[3].Type)
}

// failingAuditLog rejects every append, standing in for a full or
// unwritable audit disk.
type failingAuditLog struct {
	appends int
}

func (f *failingAuditLog) Append(context.Context, model.AuditEvent) error {
	f.appends++
	return errors.New("audit disk full")
}

func TestTokenStore_AuditFailureDoesNotPropagate(t *testing.T) {
	audit := &failingAuditLog{}
	store := NewTokenStore(filepath.Join(t.TempDir(), "credentials.enc"), testKeyring(t, "v1"), audit, nil)
	ctx := context.Background()

	cred := testCredential()
	require.NoError(t, store.Save(ctx, cred))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cred, *loaded)

	require.NoError(t, store.Purge(ctx))

	// Every operation attempted its audit append and swallowed the failure.
	assert.GreaterOrEqual(t, audit.appends, 4)
}

func TestIsLegacyFormat(t *testing.T) {
	assert.True(t, IsLegacyFormat("ab12:cd34:ef56"))
	assert.True(t, IsLegacyFormat("  ab12:cd34:ef56\n"))
	assert.False(t, IsLegacyFormat(`{"version":"v1"}`))
	assert.False(t, IsLegacyFormat("ab12:cd34"))
	assert.False(t, IsLegacyFormat("not hex at all"))
}

func readEnvelope(t *testing.T, path string) model.EncryptedEnvelope {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var envelope model.EncryptedEnvelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope
}

func writeEnvelope(t *testing.T, path string, envelope model.EncryptedEnvelope) {
	t.Helper()
	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func readAuditEvents(t *testing.T, path string) []model.AuditEvent {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var events []model.AuditEvent
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var e model.AuditEvent
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		events = append(events, e)
	}
	return events
}
