package mutation

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEntry is one line of the modification log.
type AuditEntry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Directory string `json:"directory"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
}

// AuditLog appends mutation outcomes to a JSONL file. The file is opened in
// append mode for every entry and is never truncated.
type AuditLog struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
	now    func() time.Time
}

func NewAuditLog(path string, logger *zap.Logger) *AuditLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLog{path: path, logger: logger, now: time.Now}
}

// Append writes one entry. Failures are logged; the mutation they describe
// has already happened.
func (a *AuditLog) Append(action, directory, name string, status Status, opErr error) {
	entry := AuditEntry{
		Timestamp: a.now().Format(time.RFC3339),
		Action:    action,
		Directory: directory,
		Name:      name,
		Status:    status,
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		a.logger.Error("marshal audit entry", zap.Error(err))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Error("open audit log", zap.String("path", a.path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		a.logger.Error("write audit log", zap.String("path", a.path), zap.Error(err))
	}
}
