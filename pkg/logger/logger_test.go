package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBuildHandlerFormats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "app.log")

	handler, err := buildHandler("json", []string{path}, &slog.HandlerOptions{Level: slog.LevelInfo})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	slog.New(handler).With(slog.String("component", "verify")).Info("receipt verified", slog.Int("confidence", 95))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", raw, err)
	}
	if entry["component"] != "verify" || entry["msg"] != "receipt verified" {
		t.Fatalf("unexpected entry %v", entry)
	}

	textPath := filepath.Join(dir, "text.log")
	handler, err = buildHandler("text", []string{textPath}, &slog.HandlerOptions{})
	if err != nil {
		t.Fatalf("build text handler: %v", err)
	}
	slog.New(handler).Info("hello")
	_ = Sync()
	raw, _ = os.ReadFile(textPath)
	if !strings.Contains(string(raw), "msg=hello") {
		t.Fatalf("expected text output, got %q", raw)
	}
}

func TestBuildAuditLoggerRequiresPath(t *testing.T) {
	if _, err := buildAuditLogger(AuditConfig{Enabled: true}); err == nil {
		t.Fatal("expected error for empty audit path")
	}
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	audit, err := buildAuditLogger(AuditConfig{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("build audit logger: %v", err)
	}
	audit.Info("receipt anchored", slog.String("receipt_id", "r-1"))
	_ = Sync()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(raw), `"receipt_id":"r-1"`) {
		t.Fatalf("unexpected audit output %q", raw)
	}
}

func TestNamedNeverReturnsNil(t *testing.T) {
	if Named("jobs") == nil || Audit() == nil {
		t.Fatal("expected usable loggers before explicit Init")
	}
}
