package application

import (
	"context"
	"time"

	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
)

// HealthReport is the result of one health evaluation.
type HealthReport struct {
	Status    model.HealthStatus
	Reason    string
	ExpiresAt time.Time
}

// HealthService evaluates whether the subsystem can currently hand out a
// live access token. It reads the store directly, so it works both inside
// the daemon and from the operator CLI against the same files.
type HealthService struct {
	store  driven.TokenStore
	buffer time.Duration
}

// NewHealthService creates a HealthService. buffer is the expiring-soon
// window, normally the configured refresh buffer.
func NewHealthService(store driven.TokenStore, buffer time.Duration) *HealthService {
	return &HealthService{store: store, buffer: buffer}
}

// Check loads and classifies the stored credential:
//   - HEALTHY: present, decryptable, not expiring soon.
//   - DEGRADED: expiring soon or expired, but a refresh token is held.
//   - UNHEALTHY: absent, undecryptable, or no refresh capability.
func (s *HealthService) Check(ctx context.Context) HealthReport {
	cred, err := s.store.Load(ctx)
	if err != nil {
		return HealthReport{Status: model.HealthUnhealthy, Reason: err.Error()}
	}
	if cred == nil {
		return HealthReport{Status: model.HealthUnhealthy, Reason: "no credential stored"}
	}

	expiresAt := time.UnixMilli(cred.ExpiryMillis)
	now := time.Now()

	if cred.Expired(now) {
		if cred.RefreshToken == "" {
			return HealthReport{Status: model.HealthUnhealthy, Reason: "credential expired with no refresh token", ExpiresAt: expiresAt}
		}
		return HealthReport{Status: model.HealthDegraded, Reason: "credential expired, refresh pending", ExpiresAt: expiresAt}
	}
	if cred.ExpiringSoon(now, s.buffer) {
		return HealthReport{Status: model.HealthDegraded, Reason: "credential expiring soon", ExpiresAt: expiresAt}
	}

	return HealthReport{Status: model.HealthHealthy, ExpiresAt: expiresAt}
}
