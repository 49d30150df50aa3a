// ABOUTME: Tests for logger construction
// ABOUTME: Checks level filtering, JSON output and the file sink
package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Resonate-Protocol/lanrelay/internal/config"
)

func TestJSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closer.Close()

	logger.Info().Msg("hidden")
	logger.Warn().Str("ring", "playback").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["message"] != "shown" || entry["ring"] != "playback" || entry["level"] != "warn" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lanrelay.log")
	logger, closer, err := New(config.LogConfig{Level: "info", Format: "console", File: path}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info().Msg("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file does not contain message: %q", data)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, _, err := New(config.LogConfig{Level: "chatty", Format: "json"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
}
