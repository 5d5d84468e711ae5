package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultsToInfo(t *testing.T) {
	logger := New(Options{})
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected info level, got %s", logger.GetLevel())
	}
}

func TestNewParsesLevel(t *testing.T) {
	logger := New(Options{Level: "debug"})
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", logger.GetLevel())
	}
}

func TestNewBadLevelFallsBack(t *testing.T) {
	logger := New(Options{Level: "shouty"})
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected fallback to info, got %s", logger.GetLevel())
	}
}

func TestNewFileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger := New(Options{Level: "info", File: path})

	logger.WithField("component", "test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", data, err)
	}
	if entry["msg"] != "hello" || entry["component"] != "test" {
		t.Errorf("unexpected log entry: %v", entry)
	}
}
