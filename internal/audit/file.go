package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileAuditLog is an append-only JSON-lines sink, the same
// open-append-fsync technique as internal/core/store.go, adapted here for
// an event sink instead of a keyed record store.
type FileAuditLog struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileAuditLog opens (or creates) the audit log file at path.
func NewFileAuditLog(path string) (*FileAuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileAuditLog{f: f}, nil
}

func (a *FileAuditLog) Append(_ context.Context, ev Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	enc, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := a.f.Write(append(enc, '\n')); err != nil {
		return err
	}
	return a.f.Sync()
}

func (a *FileAuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}
