package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/credkeeper/credkeeper/internal/domain/model"
	"github.com/credkeeper/credkeeper/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditLog = (*AuditLog)(nil)

// AuditLog appends line-delimited JSON audit events to a file. Lines are
// never rewritten. The parent directory is created on first append.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog creates an AuditLog writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Append writes one event as a single JSON line.
func (l *AuditLog) Append(_ context.Context, event model.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create audit log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}
