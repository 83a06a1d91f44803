package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func decodeLines(t *testing.T, data []byte) []Event {
	t.Helper()
	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("invalid JSON line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

// TestNewLogger tests logger construction with temp directories
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		baseDir   string
		sessionID string
	}{
		{
			name:      "valid directory and session ID",
			baseDir:   t.TempDir(),
			sessionID: "chat-session-123",
		},
		{
			name:      "creates directories if not exist",
			baseDir:   filepath.Join(t.TempDir(), "nested", "path"),
			sessionID: "session-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.baseDir, tt.sessionID)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Close()

			if logger.minLevel != LevelInfo {
				t.Errorf("minLevel = %v, want %v", logger.minLevel, LevelInfo)
			}

			sessionFile := filepath.Join(tt.baseDir, "sessions", tt.sessionID+".jsonl")
			if _, err := os.Stat(sessionFile); os.IsNotExist(err) {
				t.Errorf("session log file not created")
			}
			if _, err := os.Stat(filepath.Join(tt.baseDir, "errors.jsonl")); os.IsNotExist(err) {
				t.Errorf("errors.jsonl not created")
			}
		})
	}
}

// TestNewLoggerInvalidDirectory tests error handling for invalid directories
func TestNewLoggerInvalidDirectory(t *testing.T) {
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "file-not-dir")
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	if _, err := NewLogger(filePath, "test-session"); err == nil {
		t.Fatal("expected error when baseDir is a file, got nil")
	}
}

func TestErrorsAreDuplicatedIntoErrorLog(t *testing.T) {
	baseDir := t.TempDir()
	logger, err := NewLogger(baseDir, "s1")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	_ = logger.Info(CategorySync, "snapshot_applied", "merged", map[string]any{"messages": 3})
	_ = logger.Error(CategorySend, "send_failed", "retries exhausted", nil)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sessionEvents, err := ReadRecentEvents(filepath.Join(baseDir, "sessions", "s1.jsonl"), 10)
	if err != nil {
		t.Fatalf("ReadRecentEvents: %v", err)
	}
	if len(sessionEvents) != 2 {
		t.Fatalf("session log has %d events, want 2", len(sessionEvents))
	}

	errorEvents, err := ReadRecentEvents(filepath.Join(baseDir, "errors.jsonl"), 10)
	if err != nil {
		t.Fatalf("ReadRecentEvents: %v", err)
	}
	if len(errorEvents) != 1 || errorEvents[0].EventType != "send_failed" {
		t.Fatalf("error log = %+v, want one send_failed event", errorEvents)
	}
}

func TestWriterLoggerFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "sess")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	logger.now = func() time.Time { return fixed }
	logger.SetThreadID("t1")

	if err := logger.Info(CategoryOperations, "approved", "create_task applied", nil); err != nil {
		t.Fatalf("Info: %v", err)
	}

	events := decodeLines(t, buf.Bytes())
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	e := events[0]
	if e.SessionID != "sess" || e.ThreadID != "t1" {
		t.Errorf("ids = %q/%q", e.SessionID, e.ThreadID)
	}
	if !e.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v", e.Timestamp)
	}
	if e.Category != CategoryOperations || e.Level != LevelInfo {
		t.Errorf("category/level = %v/%v", e.Category, e.Level)
	}
}

func TestMinLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "sess")
	logger.SetMinLevel(LevelWarn)

	_ = logger.Debug(CategoryAnimation, "tick", "", nil)
	_ = logger.Info(CategoryAnimation, "reveal_started", "", nil)
	_ = logger.Warn(CategoryNetwork, "poll_failed", "", nil)
	_ = logger.Error(CategoryNetwork, "poll_failed", "", nil)

	if got := len(decodeLines(t, buf.Bytes())); got != 2 {
		t.Errorf("logged %d events, want 2", got)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *Logger
	if err := logger.Info(CategorySession, "x", "y", nil); err != nil {
		t.Errorf("nil logger returned %v", err)
	}
	logger.SetThreadID("t")
	logger.SetMinLevel(LevelDebug)
	if err := logger.Close(); err != nil {
		t.Errorf("nil Close returned %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":        LevelInfo,
		"DEBUG":   LevelDebug,
		"warning": LevelWarn,
		" error ": LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestReadRecentEventsLimitsCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	logger := NewWriterLogger(f, "s")
	for i := 0; i < 5; i++ {
		_ = logger.Info(CategorySync, "poll", "", map[string]any{"n": i})
	}
	f.Close()

	events, err := ReadRecentEvents(path, 2)
	if err != nil {
		t.Fatalf("ReadRecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Details["n"].(float64) != 4 {
		t.Errorf("last event = %+v", events[1])
	}
}
