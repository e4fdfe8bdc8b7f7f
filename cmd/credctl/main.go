// Command credctl is the operator tool for the credential store: perform
// the initial OAuth handshake, report health, rotate encryption keys,
// verify that stored data decrypts, and migrate legacy store files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	fileadapter "github.com/credkeeper/credkeeper/internal/adapter/driven/file"
	oauthadapter "github.com/credkeeper/credkeeper/internal/adapter/driven/oauth"
	"github.com/credkeeper/credkeeper/internal/application"
	"github.com/credkeeper/credkeeper/internal/config"
	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/keyring"
)

const usage = `usage: credctl <command> [flags]

commands:
  auth            perform the OAuth handshake and store the credential
  health          report HEALTHY (0), DEGRADED (1), or UNHEALTHY (2)
  rotate-key      register a new key version and re-encrypt the store
  verify-keys     attempt a full load/decrypt cycle
  migrate-tokens  convert a legacy store file into an encrypted envelope
`

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		return 2
	}

	ctx := context.Background()

	auditLog := fileadapter.NewAuditLog(cfg.AuditLogPath)
	keys, err := keyring.NewFromConfig(ctx, cfg, auditLog, slog.Default())
	if err != nil {
		slog.Error("key registry error", "error", err)
		return 2
	}
	defer keys.Clear()

	store := fileadapter.NewTokenStore(cfg.TokenPath, keys, auditLog, slog.Default())

	switch os.Args[1] {
	case "auth":
		return cmdAuth(ctx, cfg, store, os.Args[2:])
	case "health":
		return cmdHealth(ctx, cfg, store)
	case "rotate-key":
		return cmdRotateKey(ctx, keys, store, os.Args[2:])
	case "verify-keys":
		return cmdVerifyKeys(ctx, keys, store)
	case "migrate-tokens":
		return cmdMigrateTokens(ctx, keys, store)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		return 2
	}
}

// cmdAuth exchanges an authorization code for an initial credential and
// persists it. Without -code it prints the provider URL to visit.
func cmdAuth(ctx context.Context, cfg *config.Config, store *fileadapter.TokenStore, args []string) int {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	code := fs.String("code", "", "authorization code from the provider redirect")
	state := fs.String("state", "credctl", "opaque state passed through the handshake")
	_ = fs.Parse(args)

	if !cfg.OAuth.Configured() {
		slog.Error("oauth provider not configured: set CREDKEEPER_OAUTH_CLIENT_ID and CREDKEEPER_OAUTH_TOKEN_URL")
		return 2
	}

	client := oauthadapter.NewClient(cfg.OAuth)

	if *code == "" {
		fmt.Printf("visit the following URL, authorize, then re-run with -code:\n\n%s\n", client.AuthCodeURL(*state))
		return 0
	}

	cred, err := client.Exchange(ctx, *code)
	if err != nil {
		slog.Error("code exchange failed", "error", err)
		return 1
	}
	if err := store.Save(ctx, cred); err != nil {
		slog.Error("store credential failed", "error", err)
		return 1
	}

	fmt.Println("authenticated and stored")
	return 0
}

func cmdHealth(ctx context.Context, cfg *config.Config, store *fileadapter.TokenStore) int {
	healthSvc := application.NewHealthService(store, cfg.RefreshBuffer)
	report := healthSvc.Check(ctx)

	if report.Reason != "" {
		fmt.Printf("%s: %s\n", report.Status, report.Reason)
	} else {
		fmt.Printf("%s (expires %s)\n", report.Status, report.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
	}

	switch report.Status {
	case model.HealthHealthy:
		return 0
	case model.HealthDegraded:
		return 1
	default:
		return 2
	}
}

func cmdRotateKey(ctx context.Context, keys *keyring.Keyring, store *fileadapter.TokenStore, args []string) int {
	fs := flag.NewFlagSet("rotate-key", flag.ExitOnError)
	version := fs.String("version", "", "new key version, e.g. v2")
	secret := fs.String("secret", "", "base64-encoded 32-byte secret (defaults to the matching CREDKEEPER_SECRET_KEY_V<n> env var)")
	_ = fs.Parse(args)

	if *version == "" {
		fmt.Fprintln(os.Stderr, "rotate-key: -version is required")
		return 2
	}
	encoded := *secret
	if encoded == "" {
		encoded = os.Getenv("CREDKEEPER_SECRET_KEY_V" + (*version)[1:])
	}
	if encoded == "" {
		fmt.Fprintln(os.Stderr, "rotate-key: provide -secret or set the matching CREDKEEPER_SECRET_KEY_V<n> env var")
		return 2
	}

	admin := application.NewKeyAdminService(keys, store, store, slog.Default())
	if err := admin.RotateKey(ctx, *version, encoded); err != nil {
		slog.Error("key rotation failed", "error", err)
		return 1
	}

	fmt.Printf("key %s registered and set current\n", *version)
	return 0
}

func cmdVerifyKeys(ctx context.Context, keys *keyring.Keyring, store *fileadapter.TokenStore) int {
	admin := application.NewKeyAdminService(keys, store, store, slog.Default())
	report := admin.VerifyKeys(ctx)

	fmt.Printf("registered versions: %v\ncurrent version:     %s\n", report.Versions, report.CurrentVersion)
	if report.Err != nil {
		fmt.Printf("decrypt check:       FAILED: %v\n", report.Err)
		return 1
	}
	if !report.CredentialPresent {
		fmt.Println("decrypt check:       no credential stored")
		return 0
	}
	fmt.Printf("decrypt check:       OK (expired: %v)\n", report.CredentialExpired)
	return 0
}

func cmdMigrateTokens(ctx context.Context, keys *keyring.Keyring, store *fileadapter.TokenStore) int {
	admin := application.NewKeyAdminService(keys, store, store, slog.Default())
	backupPath, err := admin.MigrateLegacy(ctx)
	if err != nil {
		slog.Error("migration failed", "error", err)
		return 1
	}

	fmt.Printf("migrated to envelope format; original backed up at %s\n", backupPath)
	return 0
}
