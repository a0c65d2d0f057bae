package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tiergate/internal/models"
	"tiergate/internal/version"
)

var testInfo = version.Info{Version: "1.2.3", GitCommit: "abc1234", InstanceID: "instance-1"}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  slog.Level
		expectErr bool
	}{
		{name: "debug", input: "debug", expected: slog.LevelDebug},
		{name: "info", input: "info", expected: slog.LevelInfo},
		{name: "warn", input: "warn", expected: slog.LevelWarn},
		{name: "error", input: "error", expected: slog.LevelError},
		{name: "uppercase", input: "DEBUG", expected: slog.LevelDebug},
		{name: "invalid", input: "verbose", expectErr: true},
		{name: "empty", input: "", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error for input %q, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for input %q: %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestNewJSONIncludesVersionFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, models.LoggingConfig{Level: "info", Format: "json"}, testInfo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info("gate ready", "routes", 12)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["version"] != "1.2.3" || entry["instance_id"] != "instance-1" {
		t.Errorf("missing version fields: %v", entry)
	}
	if entry["msg"] != "gate ready" {
		t.Errorf("unexpected message: %v", entry["msg"])
	}
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, models.LoggingConfig{Level: "info", Format: "text"}, testInfo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, models.LoggingConfig{Level: "debug", Format: "text"}, testInfo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Debug("login", "username", "alice", "password", "hunter22", "Authorization", "Bearer abc.def.ghi")

	out := buf.String()
	if strings.Contains(out, "hunter22") || strings.Contains(out, "abc.def.ghi") {
		t.Errorf("sensitive value leaked: %s", out)
	}
	if !strings.Contains(out, "username=alice") {
		t.Errorf("non-sensitive value missing: %s", out)
	}
	if strings.Count(out, Redacted) != 2 {
		t.Errorf("expected two redactions, got: %s", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, models.LoggingConfig{Level: "warn", Format: "json"}, testInfo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn message should be logged")
	}
}

func TestSetupFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "tiergate.log")
	cfg := models.LoggingConfig{Level: "info", Format: "json", Output: "file", FilePath: logFile}

	logger, closer, err := Setup(cfg, testInfo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer == nil {
		t.Fatal("expected a closer for file output")
	}

	logger.Info("written to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestSetupStdoutHasNoCloser(t *testing.T) {
	_, closer, err := Setup(models.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, testInfo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closer != nil {
		t.Error("stdout output should not return a closer")
	}
}

func TestSetupFileOutputMissingPath(t *testing.T) {
	_, _, err := Setup(models.LoggingConfig{Level: "info", Format: "json", Output: "file"}, testInfo)
	if err == nil {
		t.Fatal("expected error for missing file path")
	}
}

func TestSetupInvalidLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "unused.log")
	_, closer, err := Setup(models.LoggingConfig{Level: "loud", Format: "json", Output: "file", FilePath: logFile}, testInfo)
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if closer != nil {
		t.Error("closer should be nil on error")
	}
}
