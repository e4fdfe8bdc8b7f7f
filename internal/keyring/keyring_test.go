package keyring

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credkeeper/credkeeper/internal/config"
	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
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

func TestKeyring_RegisterAndGet(t *testing.T) {
	kr := New(nil, nil)
	t.Cleanup(kr.Clear)
	ctx := context.Background()

	err := kr.Register(ctx, "v1", testKey(1), testMeta("v1"))
	require.NoError(t, err)

	km, ok := kr.Get("v1")
	require.True(t, ok)
	assert.Equal(t, "v1", km.Version)
	assert.Equal(t, testKey(1), km.Key)

	_, ok = kr.Get("v2")
	assert.False(t, ok)
}

func TestKeyring_RegisterRejectsDuplicate(t *testing.T) {
	kr := New(nil, nil)
	t.Cleanup(kr.Clear)
	ctx := context.Background()

	require.NoError(t, kr.Register(ctx, "v1", testKey(1), testMeta("v1")))

	err := kr.Register(ctx, "v1", testKey(2), testMeta("v1"))
	assert.ErrorContains(t, err, "already registered")

	// The original key was not silently overwritten.
	km, _ := kr.Get("v1")
	assert.Equal(t, testKey(1), km.Key)
}

func TestKeyring_RegisterValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		version string
		key     []byte
		meta    model.KeyMetadata
		wantErr string
	}{
		{"bad version format", "version-one", testKey(1), testMeta("version-one"), "invalid version"},
		{"short key", "v1", make([]byte, 16), testMeta("v1"), "16 bytes"},
		{"metadata version mismatch", "v1", testKey(1), testMeta("v2"), "does not match"},
		{
			"unsupported algorithm", "v1", testKey(1),
			model.KeyMetadata{Version: "v1", Algorithm: "aes-128-cbc", Iterations: model.MinIterations},
			"unsupported algorithm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kr := New(nil, nil)
			t.Cleanup(kr.Clear)

			err := kr.Register(ctx, tt.version, tt.key, tt.meta)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestKeyring_RegisterRejectsWeakIterations(t *testing.T) {
	kr := New(nil, nil)
	t.Cleanup(kr.Clear)

	meta := testMeta("v1")
	meta.Iterations = 50000
	err := kr.Register(context.Background(), "v1", testKey(1), meta)
	assert.ErrorIs(t, err, driven.ErrWeakParameters)
}

func TestKeyring_SetCurrentRequiresRegistration(t *testing.T) {
	kr := New(nil, nil)
	t.Cleanup(kr.Clear)
	ctx := context.Background()

	err := kr.SetCurrent(ctx, "v2")
	assert.ErrorContains(t, err, "not registered")

	require.NoError(t, kr.Register(ctx, "v2", testKey(2), testMeta("v2")))
	require.NoError(t, kr.SetCurrent(ctx, "v2"))
	assert.Equal(t, "v2", kr.CurrentVersion())
}

func TestKeyring_CurrentWithoutRegistration(t *testing.T) {
	kr := New(nil, nil)
	t.Cleanup(kr.Clear)

	_, err := kr.Current()
	assert.ErrorIs(t, err, driven.ErrCurrentKeyNotFound)
}

func TestKeyring_ClearWipesKeys(t *testing.T) {
	kr := New(nil, nil)
	ctx := context.Background()

	key := testKey(7)
	require.NoError(t, kr.Register(ctx, "v1", key, testMeta("v1")))
	require.NoError(t, kr.SetCurrent(ctx, "v1"))

	kr.Clear()

	// The backing buffer is zeroed, not just dropped.
	assert.True(t, bytes.Equal(key, make([]byte, model.KeySize)))
	_, ok := kr.Get("v1")
	assert.False(t, ok)
	assert.Empty(t, kr.CurrentVersion())
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

func TestKeyring_AuditFailureDoesNotPropagate(t *testing.T) {
	audit := &failingAuditLog{}
	kr := New(audit, nil)
	t.Cleanup(kr.Clear)
	ctx := context.Background()

	require.NoError(t, kr.Register(ctx, "v1", testKey(1), testMeta("v1")))
	require.NoError(t, kr.SetCurrent(ctx, "v1"))

	// Both operations attempted their audit append and swallowed the failure.
	assert.Equal(t, 2, audit.appends)
}

func TestNewFromConfig_RegistersAllSecrets(t *testing.T) {
	cfg := &config.Config{
		SecretKeys: map[string]string{
			"v1": base64.StdEncoding.EncodeToString(testKey(1)),
			"v2": base64.StdEncoding.EncodeToString(testKey(2)),
		},
		CurrentKeyVersion: "v2",
	}

	kr, err := NewFromConfig(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(kr.Clear)

	assert.Equal(t, []string{"v1", "v2"}, kr.Versions())
	assert.Equal(t, "v2", kr.CurrentVersion())
}

func TestNewFromConfig_SkipsBadSecondarySecret(t *testing.T) {
	cfg := &config.Config{
		SecretKeys: map[string]string{
			"v1": base64.StdEncoding.EncodeToString(testKey(1)),
			"v2": base64.StdEncoding.EncodeToString([]byte("too short")),
		},
		CurrentKeyVersion: "v1",
	}

	kr, err := NewFromConfig(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(kr.Clear)

	assert.Equal(t, []string{"v1"}, kr.Versions())
}

func TestNewFromConfig_BadPrimarySecretIsFatal(t *testing.T) {
	cfg := &config.Config{
		SecretKeys: map[string]string{
			"v1": base64.StdEncoding.EncodeToString([]byte("too short")),
		},
		CurrentKeyVersion: "v1",
	}

	_, err := NewFromConfig(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "primary secret")
}

func TestNewFromConfig_MissingCurrentVersion(t *testing.T) {
	cfg := &config.Config{
		SecretKeys: map[string]string{
			"v1": base64.StdEncoding.EncodeToString(testKey(1)),
		},
		CurrentKeyVersion: "v3",
	}

	_, err := NewFromConfig(context.Background(), cfg, nil, nil)
	assert.ErrorContains(t, err, "not registered")
}
