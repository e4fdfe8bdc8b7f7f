package driven

import (
	"context"

	"github.com/credkeeper/credkeeper/internal/domain/model"
)

// AuditLog is the driven port for the append-only credential audit trail.
// Append failures must never block a credential operation: callers log the
// returned error and continue.
type AuditLog interface {
	Append(ctx context.Context, event model.AuditEvent) error
}
