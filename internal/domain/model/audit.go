package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType identifies one kind of credential-lifecycle event.
type AuditEventType string

// Audit event types appended by the credential subsystem.
const (
	AuditCredentialAcquired  AuditEventType = "CREDENTIAL_ACQUIRED"
	AuditCredentialRefreshed AuditEventType = "CREDENTIAL_REFRESHED"
	AuditRefreshFailed       AuditEventType = "CREDENTIAL_REFRESH_FAILED"
	AuditPurgedInvalidGrant  AuditEventType = "CREDENTIAL_PURGED_INVALID_GRANT"
	AuditKeyRegistered       AuditEventType = "KEY_REGISTERED"
	AuditKeyVersionChanged   AuditEventType = "KEY_VERSION_CHANGED"
	AuditCredentialEncrypted AuditEventType = "CREDENTIAL_ENCRYPTED"
	AuditCredentialDecrypted AuditEventType = "CREDENTIAL_DECRYPTED"
)

// AuditEvent is one append-only audit trail line. Details never contain
// token or key material.
type AuditEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      AuditEventType `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewAuditEvent creates an event stamped with the current time and a
// fresh ID.
func NewAuditEvent(eventType AuditEventType, details map[string]any) AuditEvent {
	return AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Details:   details,
	}
}
