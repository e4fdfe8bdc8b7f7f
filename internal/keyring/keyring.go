// Package keyring holds the in-process registry of versioned encryption
// keys and tracks which version new envelopes are encrypted under.
package keyring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/credkeeper/credkeeper/internal/cryptoutil"
	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
)

// Keyring is an explicitly constructed, mutex-protected key registry with
// process-wide lifetime. Clear must be called at shutdown so key buffers
// are wiped rather than left to the garbage collector.
type Keyring struct {
	mu      sync.RWMutex
	keys    map[string]model.KeyMaterial
	current string
	audit   driven.AuditLog
	logger  *slog.Logger
}

// New creates an empty Keyring. audit may be nil in tests; registration
// events are then not recorded.
func New(audit driven.AuditLog, logger *slog.Logger) *Keyring {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyring{
		keys:   make(map[string]model.KeyMaterial),
		audit:  audit,
		logger: logger,
	}
}

// Register adds a key version. Registration is idempotent-rejecting: a
// duplicate version is an error, never a silent overwrite. The raw key
// must be exactly model.KeySize bytes, the metadata version must match,
// the algorithm must be aes-256-gcm, and the iteration count must meet
// the minimum.
func (k *Keyring) Register(ctx context.Context, version string, rawKey []byte, meta model.KeyMetadata) error {
	if !model.ValidKeyVersion(version) {
		return fmt.Errorf("register key: invalid version %q", version)
	}
	if len(rawKey) != model.KeySize {
		return fmt.Errorf("register key %s: key is %d bytes, want %d", version, len(rawKey), model.KeySize)
	}
	if meta.Version != version {
		return fmt.Errorf("register key %s: metadata version %q does not match", version, meta.Version)
	}
	if meta.Algorithm != model.AlgorithmAESGCM {
		return fmt.Errorf("register key %s: unsupported algorithm %q", version, meta.Algorithm)
	}
	if meta.Iterations < model.MinIterations {
		return fmt.Errorf("register key %s: %d iterations (minimum %d): %w",
			version, meta.Iterations, model.MinIterations, driven.ErrWeakParameters)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.keys[version]; exists {
		return fmt.Errorf("register key %s: version already registered", version)
	}

	createdAt := meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	k.keys[version] = model.KeyMaterial{
		Version:          version,
		Key:              rawKey,
		Algorithm:        meta.Algorithm,
		CreatedAt:        createdAt,
		Iterations:       meta.Iterations,
		RegistrationSalt: meta.RegistrationSalt,
	}

	k.appendAudit(ctx, model.AuditKeyRegistered, map[string]any{
		"version":    version,
		"algorithm":  meta.Algorithm,
		"iterations": meta.Iterations,
	})
	return nil
}

// SetCurrent selects the version under which new envelopes are encrypted.
// The version must already be registered.
func (k *Keyring) SetCurrent(ctx context.Context, version string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.keys[version]; !exists {
		return fmt.Errorf("set current key to %s: version not registered", version)
	}

	previous := k.current
	k.current = version

	k.appendAudit(ctx, model.AuditKeyVersionChanged, map[string]any{
		"previous": previous,
		"current":  version,
	})
	return nil
}

// Current returns the key material for the currently selected version.
func (k *Keyring) Current() (model.KeyMaterial, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	km, exists := k.keys[k.current]
	if !exists {
		return model.KeyMaterial{}, fmt.Errorf("version %q: %w", k.current, driven.ErrCurrentKeyNotFound)
	}
	return km, nil
}

// Get returns the key material for a specific version, if registered.
func (k *Keyring) Get(version string) (model.KeyMaterial, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	km, exists := k.keys[version]
	return km, exists
}

// Versions returns the registered version identifiers in sorted order.
func (k *Keyring) Versions() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	versions := make([]string, 0, len(k.keys))
	for v := range k.keys {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// CurrentVersion returns the currently selected version identifier, which
// is empty until SetCurrent succeeds.
func (k *Keyring) CurrentVersion() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// Clear wipes every held key buffer and drops all entries. Called at
// process shutdown and test teardown.
func (k *Keyring) Clear() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, km := range k.keys {
		cryptoutil.Wipe(km.Key)
	}
	k.keys = make(map[string]model.KeyMaterial)
	k.current = ""
}

func (k *Keyring) appendAudit(ctx context.Context, eventType model.AuditEventType, details map[string]any) {
	if k.audit == nil {
		return
	}
	if err := k.audit.Append(ctx, model.NewAuditEvent(eventType, details)); err != nil {
		k.logger.Warn("audit log append failed", "event_type", eventType, "error", err)
	}
}
