// Package audit provides an append-only security log for escrowctl's
// operator-only actions (config changes, fee withdrawals) — separate from
// internal/receipts' per-trade protocol audit trail.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogEntry records one operator action against the escrow program.
type LogEntry struct {
	ID            string    `json:"id"`
	Actor         string    `json:"actor"` // base58 pubkey of the signing operator identity
	Timestamp     time.Time `json:"timestamp"`
	Operation     string    `json:"operation"` // CONFIG_INIT, CONFIG_SET, FEES_WITHDRAW, ...
	Status        string    `json:"status"`    // SUCCESS, FAILURE
	FailureReason string    `json:"failureReason,omitempty"`
}

// Logger appends LogEntry records to an NDJSON file.
type Logger struct {
	filePath string
	mu       sync.Mutex
}

// NewLogger opens (creating if needed) the audit log at filePath.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &Logger{filePath: filePath}, nil
}

// LogOperation appends entry to the log, syncing to disk before returning.
func (l *Logger) LogOperation(entry LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return file.Sync()
}

// ReadLog reads every entry back out of the log, in file order.
func (l *Logger) ReadLog() ([]LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, nil
		}
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	var entries []LogEntry
	lines := string(data)
	start := 0
	for i := 0; i < len(lines); i++ {
		if lines[i] != '\n' {
			continue
		}
		if i > start {
			var entry LogEntry
			if err := json.Unmarshal([]byte(lines[start:i]), &entry); err == nil {
				entries = append(entries, entry)
			}
		}
		start = i + 1
	}
	if start < len(lines) {
		var entry LogEntry
		if err := json.Unmarshal([]byte(lines[start:]), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
