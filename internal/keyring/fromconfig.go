package keyring

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/credkeeper/credkeeper/internal/config"
	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
)

// NewFromConfig builds a Keyring from the configured secrets: one key per
// versioned secret, then the configured current version selected. A
// secondary secret that fails base64 decoding or length validation is
// skipped with a warning; the primary (v1) secret failing is fatal, since
// the process cannot run without a valid primary key.
func NewFromConfig(ctx context.Context, cfg *config.Config, audit driven.AuditLog, logger *slog.Logger) (*Keyring, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kr := New(audit, logger)

	for _, version := range sortedVersions(cfg.SecretKeys) {
		encoded := cfg.SecretKeys[version]
		rawKey, err := decodeSecret(encoded)
		if err != nil {
			if version == config.PrimaryKeyVersion {
				kr.Clear()
				return nil, fmt.Errorf("primary secret %s: %w", version, err)
			}
			logger.Warn("skipping invalid secret", "version", version, "error", err)
			continue
		}

		meta := model.KeyMetadata{
			Version:    version,
			Algorithm:  model.AlgorithmAESGCM,
			CreatedAt:  time.Now().UTC(),
			Iterations: model.MinIterations,
		}
		if err := kr.Register(ctx, version, rawKey, meta); err != nil {
			kr.Clear()
			return nil, err
		}
	}

	if err := kr.SetCurrent(ctx, cfg.CurrentKeyVersion); err != nil {
		kr.Clear()
		return nil, err
	}

	return kr, nil
}

func decodeSecret(encoded string) ([]byte, error) {
	rawKey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secret is not valid base64: %w", err)
	}
	if len(rawKey) != model.KeySize {
		return nil, fmt.Errorf("secret decodes to %d bytes, want %d", len(rawKey), model.KeySize)
	}
	return rawKey, nil
}

// sortedVersions orders key versions numerically (v1, v2, ..., v10) so
// registration order is deterministic.
func sortedVersions(secrets map[string]string) []string {
	versions := make([]string, 0, len(secrets))
	for v := range secrets {
		versions = append(versions, v)
	}
	// Versions are v<N>, so length-then-lexical compare sorts numerically.
	sort.Slice(versions, func(i, j int) bool {
		return versionLess(versions[i], versions[j])
	})
	return versions
}

func versionLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
