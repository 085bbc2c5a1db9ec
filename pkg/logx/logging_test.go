package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{in: "debug", want: LevelDebug, ok: true},
		{in: " INFO ", want: LevelInfo, ok: true},
		{in: "warning", want: LevelWarn, ok: true},
		{in: "error", want: LevelError, ok: true},
		{in: "loud", ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if ok != tt.ok {
			t.Fatalf("ParseLevel(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
		if ok && got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))

	log.Warn("relay failed", String("avatar_id", "avtr_x"), Err(errors.New("boom")), Int("status", 502))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "dispatch" || m["avatar_id"] != "avtr_x" || m["message"] != "relay failed" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["err"] != "boom" {
		t.Fatalf("err field = %v, want boom", m["err"])
	}
	if caller, _ := m["caller"].(string); !strings.HasPrefix(caller, "logging_test.go:") {
		t.Fatalf("caller = %q, want short caller", caller)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug reported enabled at warn level")
	}
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	zero.Info("nothing")
	Nop().With(String("a", "b")).Error("nothing")
}

func TestServiceApplyFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pawrelay.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Debug("dropped")
	log.Info("kept")

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now kept")
	_ = svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "dropped") {
		t.Fatalf("debug line written at info level: %s", out)
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "now kept") {
		t.Fatalf("expected both lines in file: %s", out)
	}
	if svc.Config().Level != "debug" {
		t.Fatalf("Config().Level = %q, want debug", svc.Config().Level)
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	svc := &Service{out: &buf}
	log := Logger{svc: svc}

	svc.Apply(Config{Level: "info", Console: true, Format: "json"})
	log.Info("as json", String("k", "v"))
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("json console line: %v (%q)", err, buf.String())
	}
	if m["k"] != "v" {
		t.Fatalf("fields = %v", m)
	}

	buf.Reset()
	svc.Apply(Config{Level: "info", Console: true})
	log.Info("as text", String("k", "v"))
	if out := buf.String(); !strings.Contains(out, "as text") || !strings.Contains(out, "k=") || strings.HasPrefix(out, "{") {
		t.Fatalf("text console line = %q", out)
	}
}
