package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize is the rotation threshold (100MB).
	DefaultMaxLogSize = 100 * 1024 * 1024
	// LogFileExtension is the audit log file extension.
	LogFileExtension = ".jsonl"
	// ArchiveDir is the rotation archive directory name.
	ArchiveDir = "archive"
)

// AuditEntry is a single append-only audit record. Assignment,
// reassignment, escalation, and billing history are first-class records
// keyed by chat and message ID rather than tags on a shared
// notification stream.
type AuditEntry struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  string                 `json:"event_type"`
	ChatID     string                 `json:"chat_id,omitempty"`
	MessageID  string                 `json:"message_id,omitempty"`
	OperatorID string                 `json:"operator_id,omitempty"`
	AccountID  string                 `json:"account_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// AuditLogger provides append-only JSONL logging with size-based
// rotation into an archive directory.
type AuditLogger struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	logPath         string
	rotationCounter int
}

// NewAuditLogger creates an audit logger writing to logPath.
func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}

	logger := &AuditLogger{
		logPath: logPath,
		maxSize: maxSize,
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	if err := logger.openLogFile(); err != nil {
		return nil, err
	}
	return logger, nil
}

func (l *AuditLogger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}

	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Record appends an audit entry, extracting the common ID fields from
// details when present.
func (l *AuditLogger) Record(eventType string, details map[string]interface{}) error {
	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Details:   details,
	}

	if chatID, ok := details["chat_id"].(string); ok {
		entry.ChatID = chatID
	}
	if messageID, ok := details["message_id"].(string); ok {
		entry.MessageID = messageID
	}
	if operatorID, ok := details["operator_id"].(string); ok {
		entry.OperatorID = operatorID
	}
	if accountID, ok := details["account_id"].(string); ok {
		entry.AccountID = accountID
	}

	return l.WriteEntry(&entry)
}

// WriteEntry appends a structured entry to the JSONL file, rotating
// first if the entry would exceed the size threshold.
func (l *AuditLogger) WriteEntry(entry *AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}

	l.currentSize += int64(n)
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	l.rotationCounter++
	baseName := filepath.Base(l.logPath)
	archiveName := fmt.Sprintf("%s.%s.%d%s",
		baseName[:len(baseName)-len(LogFileExtension)],
		timestamp,
		l.rotationCounter,
		LogFileExtension)

	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive audit log: %w", err)
	}

	return l.openLogFile()
}

// Close syncs and closes the audit log.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}
