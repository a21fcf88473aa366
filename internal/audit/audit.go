// Package audit implements the append-only WhatsApp event log.
//
// The on-disk format is a persisted contract consumed by existing log
// tooling: one JSON object per line with exactly the fields
// {timestamp, level, message, data}, where data is a JSON-encoded string
// or null.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coordination-labs/messaging-gateway/internal/logging"
)

// Level is the severity recorded on an entry.
type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
	LevelInfo  Level = "INFO"
	LevelDebug Level = "DEBUG"
)

// Entry is one immutable audit record.
type Entry struct {
	Timestamp string  `json:"timestamp"`
	Level     Level   `json:"level"`
	Message   string  `json:"message"`
	Data      *string `json:"data"`
}

// Log appends entries to a writer, one JSON object per line. Writes are
// serialized; entries are never rewritten or deleted here (rotation is an
// external concern).
type Log struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	logger *logging.Logger
	now    func() time.Time
}

// Open creates (if needed) the directory for path and opens the log file in
// append mode.
func Open(path string, logger *logging.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &Log{w: f, file: f, logger: logger, now: time.Now}, nil
}

// NewWithWriter builds a log over an arbitrary writer. Used by tests and by
// callers that manage the sink themselves.
func NewWithWriter(w io.Writer, logger *logging.Logger) *Log {
	return &Log{w: w, logger: logger, now: time.Now}
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Log) write(level Level, message string, data interface{}) {
	entry := Entry{
		Timestamp: l.now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     level,
		Message:   message,
	}
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			s := string(encoded)
			entry.Data = &s
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	// Best-effort persistence; a sink error must not impact request flow.
	_, _ = l.w.Write(append(line, '\n'))
	l.mu.Unlock()

	if l.logger != nil {
		mirror := l.logger.WithField("audit", true)
		switch level {
		case LevelError:
			mirror.Error(message)
		case LevelWarn:
			mirror.Warn(message)
		case LevelDebug:
			mirror.Debug(message)
		default:
			mirror.Info(message)
		}
	}
}

func (l *Log) Error(message string, data interface{}) { l.write(LevelError, message, data) }
func (l *Log) Warn(message string, data interface{})  { l.write(LevelWarn, message, data) }
func (l *Log) Info(message string, data interface{})  { l.write(LevelInfo, message, data) }
func (l *Log) Debug(message string, data interface{}) { l.write(LevelDebug, message, data) }

// LogConnection records a session lifecycle event. Connected/authenticated
// events land at INFO, disconnects and auth failures at ERROR, everything
// else (QR issuance) at DEBUG.
func (l *Log) LogConnection(event string, data interface{}) {
	message := "WhatsApp Connection: " + event
	switch event {
	case "CONNECTED", "AUTHENTICATED":
		l.Info(message, data)
	case "DISCONNECTED", "AUTH_FAILURE":
		l.Error(message, data)
	default:
		l.Debug(message, data)
	}
}

// LogGroupOperation records the outcome of a group mutation or lookup.
func (l *Log) LogGroupOperation(operation, groupID, userID, status string, data interface{}) {
	message := "Group Operation: " + operation +
		" - Group: " + groupID +
		" - User: " + userID +
		" - Status: " + status
	if status == "SUCCESS" {
		l.Info(message, data)
	} else {
		l.Error(message, data)
	}
}

// LogAPIOperation records a non-group transport operation outcome.
func (l *Log) LogAPIOperation(operation, status string, data interface{}) {
	message := "WhatsApp API: " + operation + " - " + status
	switch status {
	case "SUCCESS":
		l.Info(message, data)
	case "ERROR":
		l.Error(message, data)
	default:
		l.Warn(message, data)
	}
}

// LogPhoneValidation records a normalization outcome. Only the boolean
// outcome is recorded, never a rejection reason.
func (l *Log) LogPhoneValidation(raw string, valid bool) {
	if valid {
		l.Debug("Phone validation: "+raw+" - VALID", nil)
	} else {
		l.Warn("Phone validation: "+raw+" - INVALID", nil)
	}
}
