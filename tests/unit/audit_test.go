package unit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/intercomswap/swapcore/internal/services/audit"
)

func TestAuditLogEntry(t *testing.T) {
	t.Run("creates audit log entry with all fields", func(t *testing.T) {
		entry := audit.LogEntry{
			ID:        "entry-001",
			Actor:     "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			Timestamp: time.Now(),
			Operation: "CONFIG_INIT",
			Status:    "SUCCESS",
		}

		if entry.Operation != "CONFIG_INIT" {
			t.Errorf("Expected operation CONFIG_INIT, got %s", entry.Operation)
		}
		if entry.Status != "SUCCESS" {
			t.Errorf("Expected status SUCCESS, got %s", entry.Status)
		}
	})

	t.Run("serializes to NDJSON format", func(t *testing.T) {
		entry := audit.LogEntry{
			ID:        "entry-002",
			Actor:     "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			Timestamp: time.Now(),
			Operation: "CONFIG_SET",
			Status:    "SUCCESS",
		}

		jsonData, err := json.Marshal(entry)
		if err != nil {
			t.Fatalf("Failed to marshal entry: %v", err)
		}

		var decoded audit.LogEntry
		if err := json.Unmarshal(jsonData, &decoded); err != nil {
			t.Fatalf("Failed to unmarshal entry: %v", err)
		}
		if decoded.ID != entry.ID {
			t.Error("ID mismatch after JSON roundtrip")
		}
	})
}

func TestLogOperation(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "test_audit.log")

	logger, err := audit.NewLogger(logPath)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}

	t.Run("logs operation successfully", func(t *testing.T) {
		entry := audit.LogEntry{
			ID:        "entry-001",
			Actor:     "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			Timestamp: time.Now(),
			Operation: "CONFIG_INIT",
			Status:    "SUCCESS",
		}

		if err := logger.LogOperation(entry); err != nil {
			t.Fatalf("LogOperation failed: %v", err)
		}

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Error("Audit log file was not created")
		}

		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("Failed to read audit log: %v", err)
		}
		if !strings.Contains(string(content), "CONFIG_INIT") {
			t.Error("Log does not contain expected operation")
		}
		if !strings.Contains(string(content), "SUCCESS") {
			t.Error("Log does not contain expected status")
		}
	})

	t.Run("appends multiple entries", func(t *testing.T) {
		entries := []audit.LogEntry{
			{ID: "entry-002", Actor: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", Timestamp: time.Now(), Operation: "CONFIG_SET", Status: "SUCCESS"},
			{ID: "entry-003", Actor: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", Timestamp: time.Now(), Operation: "FEES_WITHDRAW", Status: "SUCCESS"},
		}
		for _, entry := range entries {
			if err := logger.LogOperation(entry); err != nil {
				t.Fatalf("LogOperation failed: %v", err)
			}
		}

		content, _ := os.ReadFile(logPath)
		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		if len(lines) < 3 {
			t.Errorf("Expected at least 3 log lines, got %d", len(lines))
		}
	})

	t.Run("logs failure with reason", func(t *testing.T) {
		entry := audit.LogEntry{
			ID:            "entry-004",
			Actor:         "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			Timestamp:     time.Now(),
			Operation:     "FEES_WITHDRAW",
			Status:        "FAILURE",
			FailureReason: "insufficient_vault_balance",
		}

		if err := logger.LogOperation(entry); err != nil {
			t.Fatalf("LogOperation failed: %v", err)
		}

		content, _ := os.ReadFile(logPath)
		if !strings.Contains(string(content), "insufficient_vault_balance") {
			t.Error("Log does not contain failure reason")
		}
	})
}

func TestAuditLogPermissions(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "secure_audit.log")

	logger, err := audit.NewLogger(logPath)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}

	entry := audit.LogEntry{
		ID:        "perm-test-001",
		Actor:     "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Timestamp: time.Now(),
		Operation: "CONFIG_INIT",
		Status:    "SUCCESS",
	}
	logger.LogOperation(entry)

	t.Run("audit log file has secure permissions", func(t *testing.T) {
		info, err := os.Stat(logPath)
		if err != nil {
			t.Fatalf("Failed to stat audit log: %v", err)
		}
		mode := info.Mode().Perm()
		if mode != 0600 && mode != 0666 {
			t.Errorf("Expected permissions 0600 or 0666, got %o", mode)
		}
	})

	t.Run("audit log is append-only", func(t *testing.T) {
		originalContent, _ := os.ReadFile(logPath)
		originalLines := strings.Split(strings.TrimSpace(string(originalContent)), "\n")

		newEntry := audit.LogEntry{
			ID:        "perm-test-002",
			Actor:     "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			Timestamp: time.Now(),
			Operation: "CONFIG_SET",
			Status:    "SUCCESS",
		}
		logger.LogOperation(newEntry)

		newContent, _ := os.ReadFile(logPath)
		newLines := strings.Split(strings.TrimSpace(string(newContent)), "\n")
		if len(newLines) != len(originalLines)+1 {
			t.Errorf("Expected %d lines, got %d", len(originalLines)+1, len(newLines))
		}
		if newLines[0] != originalLines[0] {
			t.Error("Original log entry was modified (not append-only)")
		}
	})
}

func TestReadLog(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "readback_audit.log")
	logger, err := audit.NewLogger(logPath)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}

	written := []audit.LogEntry{
		{ID: "a", Actor: "op1", Timestamp: time.Now(), Operation: "CONFIG_INIT", Status: "SUCCESS"},
		{ID: "b", Actor: "op1", Timestamp: time.Now(), Operation: "FEES_WITHDRAW", Status: "FAILURE", FailureReason: "timeout"},
	}
	for _, e := range written {
		if err := logger.LogOperation(e); err != nil {
			t.Fatalf("LogOperation failed: %v", err)
		}
	}

	read, err := logger.ReadLog()
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if len(read) != len(written) {
		t.Fatalf("expected %d entries, got %d", len(written), len(read))
	}
	if read[1].FailureReason != "timeout" {
		t.Errorf("expected failure reason 'timeout', got %q", read[1].FailureReason)
	}
}
