// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
)

// refreshKey is the single-flight key: there is only ever one credential
// per process, so every caller collapses onto the same in-flight refresh.
const refreshKey = "refresh"

// AuthOptions are the tunables of the refresh state machine.
type AuthOptions struct {
	// RefreshInterval is how often the proactive-refresh timer wakes up.
	RefreshInterval time.Duration
	// RefreshBuffer is how long before expiry a credential counts as
	// expiring soon.
	RefreshBuffer time.Duration
	// MaxRetries is the total number of upstream refresh attempts per
	// Refresh call before giving up.
	MaxRetries int
	// RetryDelay is the initial backoff delay; it doubles per attempt.
	RetryDelay time.Duration
}

// DefaultAuthOptions returns the production defaults.
func DefaultAuthOptions() AuthOptions {
	return AuthOptions{
		RefreshInterval: 30 * time.Minute,
		RefreshBuffer:   10 * time.Minute,
		MaxRetries:      3,
		RetryDelay:      time.Second,
	}
}

func (o AuthOptions) withDefaults() AuthOptions {
	d := DefaultAuthOptions()
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = d.RefreshInterval
	}
	if o.RefreshBuffer <= 0 {
		o.RefreshBuffer = d.RefreshBuffer
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	return o
}

// AuthService owns the authentication state machine: it loads the
// persisted credential at startup, keeps it fresh with a proactive timer,
// collapses concurrent refresh attempts into one upstream call, and purges
// the store when the provider revokes the grant.
type AuthService struct {
	store  driven.TokenStore
	oauth  driven.OAuthClient
	audit  driven.AuditLog
	logger *slog.Logger
	opts   AuthOptions

	mu     sync.RWMutex
	state  model.AuthState
	cred   *model.Credential
	client *http.Client

	group       singleflight.Group
	stopMonitor context.CancelFunc
	monitorDone chan struct{}
}

// NewAuthService creates an AuthService with all required dependencies.
// audit may be nil in tests.
func NewAuthService(
	store driven.TokenStore,
	oauthClient driven.OAuthClient,
	audit driven.AuditLog,
	logger *slog.Logger,
	opts AuthOptions,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:  store,
		oauth:  oauthClient,
		audit:  audit,
		logger: logger,
		opts:   opts.withDefaults(),
		state:  model.StateUnauthenticated,
	}
}

// Initialize loads the persisted credential and, when one is present and
// structurally valid, installs it and transitions to AUTHENTICATED (or
// TOKEN_EXPIRED when it is already past expiry). Absent or invalid
// credentials leave the service UNAUTHENTICATED; store errors surface.
func (s *AuthService) Initialize(ctx context.Context) error {
	cred, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}
	if cred == nil {
		s.logger.Info("no stored credential, starting unauthenticated")
		return nil
	}
	if !cred.Valid() {
		s.logger.Warn("stored credential is structurally invalid, ignoring")
		return nil
	}

	s.install(ctx, *cred)
	if cred.Expired(time.Now()) {
		s.setState(model.StateTokenExpired)
		s.logger.Info("stored credential is expired, refresh pending")
	} else {
		s.logger.Info("authenticated from stored credential",
			"expires_in", time.Until(time.UnixMilli(cred.ExpiryMillis)).Round(time.Second),
		)
	}
	return nil
}

// State returns the current state machine position.
func (s *AuthService) State() model.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Credential returns a copy of the installed credential, if any.
func (s *AuthService) Credential() *model.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil
	}
	c := *s.cred
	return &c
}

// Client returns the live HTTP client only when the service is
// AUTHENTICATED; any other state fails with ErrNotAuthenticated.
func (s *AuthService) Client() (*http.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != model.StateAuthenticated || s.client == nil {
		return nil, fmt.Errorf("state %s: %w", s.state, driven.ErrNotAuthenticated)
	}
	return s.client, nil
}

// StartMonitoring launches the proactive-refresh timer. Each tick checks
// whether the installed credential is expiring soon and refreshes it
// before callers can ever observe a downstream 401 due to expiry.
func (s *AuthService) StartMonitoring(ctx context.Context) {
	s.mu.Lock()
	if s.stopMonitor != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.stopMonitor = cancel
	s.monitorDone = make(chan struct{})
	done := s.monitorDone
	s.mu.Unlock()

	go s.monitor(ctx, done)
}

// StopMonitoring cancels the timer and waits for the loop to exit.
func (s *AuthService) StopMonitoring() {
	s.mu.Lock()
	cancel := s.stopMonitor
	done := s.monitorDone
	s.stopMonitor = nil
	s.monitorDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Shutdown stops the proactive-refresh timer. Key wiping is the keyring
// owner's job; the composition root calls both on exit.
func (s *AuthService) Shutdown() {
	s.StopMonitoring()
}

func (s *AuthService) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh monitor stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *AuthService) tick(ctx context.Context) {
	cred := s.Credential()
	if cred == nil {
		return
	}
	if !cred.ExpiringSoon(time.Now(), s.opts.RefreshBuffer) {
		return
	}

	s.logger.Info("credential expiring soon, refreshing proactively")
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Error("proactive refresh failed", "error", err)
	}
}

// Refresh obtains a fresh credential from the provider, persists it, and
// transitions to AUTHENTICATED. Calls arriving while a refresh is already
// in flight await that same operation rather than issuing a second
// upstream request. Transient failures are retried with exponential
// backoff up to MaxRetries total attempts; an invalid-grant signal skips
// retries entirely, purges the store, and parks the machine in the
// terminal TOKENS_REVOKED state.
func (s *AuthService) Refresh(ctx context.Context) (model.Credential, error) {
	v, err, _ := s.group.Do(refreshKey, func() (any, error) {
		return s.doRefresh(ctx)
	})
	if err != nil {
		return model.Credential{}, err
	}
	return v.(model.Credential), nil
}

func (s *AuthService) doRefresh(ctx context.Context) (model.Credential, error) {
	prev := s.Credential()
	if prev == nil {
		return model.Credential{}, fmt.Errorf("refresh: no credential installed: %w", driven.ErrNotAuthenticated)
	}

	if prev.Expired(time.Now()) {
		s.setStateIfNot(model.StateTokenExpired, model.StateTokensRevoked)
	}

	var fresh model.Credential
	attempt := 0
	operation := func() error {
		attempt++
		cred, err := s.oauth.Refresh(ctx, prev.RefreshToken)
		if err != nil {
			if errors.Is(err, driven.ErrInvalidGrant) {
				return backoff.Permanent(err)
			}
			s.logger.Warn("token refresh attempt failed",
				"attempt", attempt,
				"max_retries", s.opts.MaxRetries,
				"error", err,
			)
			return err
		}
		fresh = cred
		return nil
	}

	if err := backoff.Retry(operation, s.newBackOff(ctx)); err != nil {
		if errors.Is(err, driven.ErrInvalidGrant) {
			return model.Credential{}, s.handleInvalidGrant(ctx, err)
		}

		s.setState(model.StateRefreshFailed)
		s.appendAudit(ctx, model.AuditRefreshFailed, map[string]any{
			"attempts": attempt,
			"error":    err.Error(),
		})
		return model.Credential{}, fmt.Errorf("refresh failed after %d attempts: %w", attempt, err)
	}

	merged := prev.Merge(fresh)
	s.install(ctx, merged)
	s.setState(model.StateAuthenticated)

	if err := s.store.Save(ctx, merged); err != nil {
		// The live token is installed and usable; persistence failure is
		// still surfaced so the operator learns the store is broken.
		return merged, fmt.Errorf("persist refreshed credential: %w", err)
	}

	s.logger.Info("credential refreshed",
		"expires_in", time.Until(time.UnixMilli(merged.ExpiryMillis)).Round(time.Second),
	)
	return merged, nil
}

func (s *AuthService) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RetryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = s.opts.RetryDelay << uint(s.opts.MaxRetries)
	bo.MaxElapsedTime = 0

	// MaxRetries counts total attempts; backoff counts retries after the
	// first attempt.
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.opts.MaxRetries-1)), ctx)
}

// handleInvalidGrant purges the store and parks the machine in the
// terminal TOKENS_REVOKED state. The returned error is distinct from a
// transient failure so callers know a full re-auth is required.
func (s *AuthService) handleInvalidGrant(ctx context.Context, cause error) error {
	s.logger.Error("refresh token revoked by provider, purging stored credential")

	if err := s.store.Purge(ctx); err != nil {
		s.logger.Error("purge after invalid grant failed", "error", err)
	}

	s.mu.Lock()
	s.state = model.StateTokensRevoked
	s.cred = nil
	s.client = nil
	s.mu.Unlock()

	return fmt.Errorf("%w (%v)", driven.ErrAuthenticationRequired, cause)
}

// HandleTokenUpdate is the subscriber for autonomous token refreshes by
// the underlying oauth2 client mid-call: the update is merged the same way
// as a timer-driven refresh (preserving the known refresh token) and
// persisted immediately.
func (s *AuthService) HandleTokenUpdate(cred model.Credential) {
	ctx := context.Background()

	s.mu.Lock()
	if s.state == model.StateTokensRevoked {
		s.mu.Unlock()
		return
	}
	var merged model.Credential
	if s.cred != nil {
		merged = s.cred.Merge(cred)
	} else {
		merged = cred
	}
	s.cred = &merged
	s.state = model.StateAuthenticated
	s.mu.Unlock()

	if err := s.store.Save(ctx, merged); err != nil {
		s.logger.Error("persist autonomously refreshed credential failed", "error", err)
	}
}

// install stores the credential, builds its live HTTP client, and marks
// the machine AUTHENTICATED; callers adjust the state afterwards when the
// credential is already expired.
func (s *AuthService) install(ctx context.Context, cred model.Credential) {
	client := s.oauth.HTTPClient(ctx, cred, s.HandleTokenUpdate)

	s.mu.Lock()
	c := cred
	s.cred = &c
	s.client = client
	s.state = model.StateAuthenticated
	s.mu.Unlock()
}

func (s *AuthService) setState(state model.AuthState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// setStateIfNot transitions to state unless the machine sits in any of
// the excluded states (used so the terminal revoked state stays sticky).
func (s *AuthService) setStateIfNot(state model.AuthState, excluded ...model.AuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range excluded {
		if s.state == ex {
			return
		}
	}
	s.state = state
}

func (s *AuthService) appendAudit(ctx context.Context, eventType model.AuditEventType, details map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, model.NewAuditEvent(eventType, details)); err != nil {
		s.logger.Warn("audit log append failed", "event_type", eventType, "error", err)
	}
}
