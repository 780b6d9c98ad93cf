// Package logger builds the diagnostics logger and writes the block audit
// log.
package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gzhole/gameblocker/internal/redact"
	"github.com/gzhole/gameblocker/internal/session"
)

// BlockEvent is one line of the audit log.
type BlockEvent struct {
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	Domain    string `json:"domain"`
	URL       string `json:"url,omitempty"`
	Source    string `json:"source"`
	Reason    string `json:"reason"`
}

// EventFromSignal converts a block signal to an audit record.
func EventFromSignal(s session.Signal) BlockEvent {
	return BlockEvent{
		Timestamp: s.At.UTC().Format(time.RFC3339),
		SessionID: s.SessionID,
		Domain:    s.Domain,
		URL:       s.URL,
		Source:    s.Source.String(),
		Reason:    s.Reason,
	}
}

// AuditLogger appends block events to a JSONL file.
type AuditLogger struct {
	file *os.File
	mu   sync.Mutex
}

func NewAuditLogger(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	return &AuditLogger{file: file}, nil
}

func (l *AuditLogger) Log(event BlockEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Page URLs can carry credentials
	event.URL = redact.URL(event.URL)

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = l.file.Write(data)
	return err
}

func (l *AuditLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Sink returns a session.BlockSink that records every signal. Write
// failures are logged and otherwise ignored.
func (l *AuditLogger) Sink(diag *zap.Logger) session.BlockSink {
	if diag == nil {
		diag = zap.NewNop()
	}
	return session.SinkFunc(func(s session.Signal) {
		if err := l.Log(EventFromSignal(s)); err != nil {
			diag.Warn("failed to write audit record",
				zap.String("session_id", s.SessionID),
				zap.Error(err))
		}
	})
}

// ReadEvents reads an audit log. A missing file yields no events and
// malformed lines are skipped.
func ReadEvents(path string) ([]BlockEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []BlockEvent
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event BlockEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
