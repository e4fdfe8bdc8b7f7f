// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PrimaryKeyVersion is the version assigned to CREDKEEPER_SECRET_KEY. It
// must always decode to a valid key; the process cannot start without it.
const PrimaryKeyVersion = "v1"

// OAuthConfig holds the upstream OAuth2 provider settings. All fields are
// optional at load time: operator commands that only touch the local store
// (health, rotate-key, verify-keys, migrate-tokens) run without them.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
}

// Configured returns true when enough is set to talk to the provider.
func (o OAuthConfig) Configured() bool {
	return o.ClientID != "" && o.TokenURL != ""
}

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// SecretKeys maps key version ("v1", "v2", ...) to its base64-encoded
	// 32-byte secret. v1 comes from CREDKEEPER_SECRET_KEY, v<N> from
	// CREDKEEPER_SECRET_KEY_V<N>.
	SecretKeys        map[string]string
	CurrentKeyVersion string

	RefreshInterval time.Duration
	RefreshBuffer   time.Duration
	MaxRetries      int
	RetryDelay      time.Duration

	TokenPath    string
	AuditLogPath string
	ListenAddr   string

	OAuth OAuthConfig
}

// Load reads configuration from environment variables and returns a
// validated Config. CREDKEEPER_SECRET_KEY is required; everything else has
// a default. Optional variables: CREDKEEPER_SECRET_KEY_V<N> (additional key
// versions), CREDKEEPER_CURRENT_KEY_VERSION (v1),
// CREDKEEPER_REFRESH_INTERVAL (30m), CREDKEEPER_REFRESH_BUFFER (10m),
// CREDKEEPER_MAX_RETRIES (3), CREDKEEPER_RETRY_DELAY (1s),
// CREDKEEPER_TOKEN_PATH (credentials.enc), CREDKEEPER_AUDIT_LOG_PATH
// (audit.log), CREDKEEPER_LISTEN_ADDR (127.0.0.1:8080), and the
// CREDKEEPER_OAUTH_* provider settings.
func Load() (*Config, error) {
	primary := os.Getenv("CREDKEEPER_SECRET_KEY")
	if primary == "" {
		return nil, fmt.Errorf("CREDKEEPER_SECRET_KEY is required")
	}

	secretKeys := map[string]string{PrimaryKeyVersion: primary}
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		suffix, ok := strings.CutPrefix(name, "CREDKEEPER_SECRET_KEY_V")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n >= 2 {
			secretKeys["v"+suffix] = value
		}
	}

	currentVersion := PrimaryKeyVersion
	if v, ok := os.LookupEnv("CREDKEEPER_CURRENT_KEY_VERSION"); ok && v != "" {
		currentVersion = v
	}

	refreshInterval, err := durationEnv("CREDKEEPER_REFRESH_INTERVAL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshBuffer, err := durationEnv("CREDKEEPER_REFRESH_BUFFER", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	retryDelay, err := durationEnv("CREDKEEPER_RETRY_DELAY", time.Second)
	if err != nil {
		return nil, err
	}

	maxRetries := 3
	if v, ok := os.LookupEnv("CREDKEEPER_MAX_RETRIES"); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, fmt.Errorf("CREDKEEPER_MAX_RETRIES has invalid value %q", v)
		}
		maxRetries = parsed
	}

	tokenPath := "credentials.enc"
	if v, ok := os.LookupEnv("CREDKEEPER_TOKEN_PATH"); ok {
		tokenPath = v
	}

	auditLogPath := "audit.log"
	if v, ok := os.LookupEnv("CREDKEEPER_AUDIT_LOG_PATH"); ok {
		auditLogPath = v
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("CREDKEEPER_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	var scopes []string
	if v := os.Getenv("CREDKEEPER_OAUTH_SCOPES"); v != "" {
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				scopes = append(scopes, s)
			}
		}
	}

	return &Config{
		SecretKeys:        secretKeys,
		CurrentKeyVersion: currentVersion,
		RefreshInterval:   refreshInterval,
		RefreshBuffer:     refreshBuffer,
		MaxRetries:        maxRetries,
		RetryDelay:        retryDelay,
		TokenPath:         tokenPath,
		AuditLogPath:      auditLogPath,
		ListenAddr:        listenAddr,
		OAuth: OAuthConfig{
			ClientID:     os.Getenv("CREDKEEPER_OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("CREDKEEPER_OAUTH_CLIENT_SECRET"),
			AuthURL:      os.Getenv("CREDKEEPER_OAUTH_AUTH_URL"),
			TokenURL:     os.Getenv("CREDKEEPER_OAUTH_TOKEN_URL"),
			RedirectURL:  os.Getenv("CREDKEEPER_OAUTH_REDIRECT_URL"),
			Scopes:       scopes,
		},
	}, nil
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", name, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", name, v)
	}
	return parsed, nil
}
