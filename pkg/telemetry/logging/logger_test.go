package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"fleetguard/warden/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v (output %q)", err, buf.String())
	}
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "text debug", cfg: Config{Level: "debug", Format: "text"}},
		{name: "console", cfg: Config{Format: "console", AddSource: true}},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: Config{Format: "xml"}, wantErr: true},
		{
			name:    "bad custom pattern",
			cfg:     Config{RedactPII: true, RedactPatterns: []config.RedactPattern{{Name: "x", Pattern: "("}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	child := logger.With("component", "test")
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}

	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() failed: %v", err)
	}
	child.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("derived logger did not pick up the new level: %q", buf.String())
	}
	if logger.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", logger.Level())
	}

	if err := logger.SetLevel("nope"); err == nil {
		t.Error("SetLevel() accepted an unknown level")
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithTenant(ctx, "acme")
	ctx = WithExecution(ctx, "exec-9", "HOS-11")
	ctx = WithEntity(ctx, "vehicle/v-1")

	logger.InfoContext(ctx, "dispatched", "actions", 2)

	entry := decodeLine(t, &buf)
	want := map[string]string{
		"request_id":   "req-1",
		"tenant_id":    "acme",
		"execution_id": "exec-9",
		"policy_code":  "HOS-11",
		"entity":       "vehicle/v-1",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
	if entry["actions"] != float64(2) {
		t.Errorf("actions = %v, want 2", entry["actions"])
	}
}

func TestLoggerRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{
		Writer:    &buf,
		RedactPII: true,
		RedactPatterns: []config.RedactPattern{
			{Name: "license_plate", Pattern: `\b[A-Z]{3}-\d{4}\b`, Replacement: "[PLATE]"},
		},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.With("token", "abcdefghijkl").Info("notify jane.doe@example.com",
		"driver_contact", "call 555-123-4567",
		"plate", "vehicle ABC-1234",
		"password", "hunter2")

	entry := decodeLine(t, &buf)
	out := buf.String()
	for _, leaked := range []string{"jane.doe@example.com", "555-123-4567", "ABC-1234", "hunter2", "abcdefghijkl"} {
		if strings.Contains(out, leaked) {
			t.Errorf("output leaked %q: %s", leaked, out)
		}
	}
	if entry["plate"] != "vehicle [PLATE]" {
		t.Errorf("plate = %v", entry["plate"])
	}
	if entry["token"] != "abcd***" {
		t.Errorf("token = %v, want abcd***", entry["token"])
	}
}

func TestSetup(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if _, err := Setup(&config.LoggingConfig{Level: "info", Format: "json"}, &buf); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	slog.Default().With("component", "scheduler").Info("started")

	entry := decodeLine(t, &buf)
	if entry["component"] != "scheduler" || entry["msg"] != "started" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
