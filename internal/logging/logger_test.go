// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// =====================================================
// Logger Creation and Initialization Tests
// =====================================================

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()

	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	if Get() != first {
		t.Error("Second Init() should be ignored, different logger returned")
	}
	if first.out != &buf1 {
		t.Error("Init() did not set output writer correctly")
	}
}

// TestParseLevel verifies textual level parsing.
func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		" error ": LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

// =====================================================
// Output Format Tests
// =====================================================

// TestLogger_Info verifies JSON shape of an info entry.
func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("sync pass completed", map[string]interface{}{"succeeded": 3})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry["message"] != "sync pass completed" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
	ctx, ok := entry["context"].(map[string]interface{})
	if !ok {
		t.Fatalf("context missing: %v", entry)
	}
	if ctx["succeeded"] != float64(3) {
		t.Errorf("context.succeeded = %v, want 3", ctx["succeeded"])
	}
}

// TestLogger_minLevel verifies entries below the minimum level are dropped.
func TestLogger_minLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["message"] != "warn" {
		t.Errorf("unexpected entry %v", entries[0])
	}
}

// TestLogger_ErrorWithCode verifies error logging with code.
func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.ErrorWithCode("upload failed", "UPLOAD_FAILED", io.ErrUnexpectedEOF, map[string]interface{}{"record_id": "abc"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0]["context"].(map[string]interface{})
	if ctx["error_code"] != "UPLOAD_FAILED" {
		t.Errorf("error_code = %v", ctx["error_code"])
	}
	if ctx["record_id"] != "abc" {
		t.Errorf("record_id = %v", ctx["record_id"])
	}
	if ctx["error"] != io.ErrUnexpectedEOF.Error() {
		t.Errorf("error = %v", ctx["error"])
	}
}

// TestLogger_mergedContext verifies multiple context maps are merged.
func TestLogger_mergedContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)

	logger.Debug("merge", map[string]interface{}{"a": 1}, map[string]interface{}{"b": 2})

	ctx := decodeLines(t, &buf)[0]["context"].(map[string]interface{})
	if ctx["a"] != float64(1) || ctx["b"] != float64(2) {
		t.Errorf("context = %v, want a and b", ctx)
	}
}

// TestLogger_nilContext verifies a nil context produces an empty context object.
func TestLogger_nilContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelInfo)

	logger.Info("no context", nil)

	entry := decodeLines(t, &buf)[0]
	if ctx, ok := entry["context"].(map[string]interface{}); ok && len(ctx) != 0 {
		t.Errorf("context should be empty, got %v", ctx)
	}
}

func TestSetOutput(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	Info("redirected entry")
	restore()
	Info("restored entry")

	if !strings.Contains(buf.String(), "redirected entry") {
		t.Errorf("output = %q, want the redirected entry", buf.String())
	}
	if strings.Contains(buf.String(), "restored entry") {
		t.Error("entries after restore should not reach the redirected writer")
	}
}
