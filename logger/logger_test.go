package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {

	logPath := filepath.Join(t.TempDir(), "error.log")

	log, cleanup, err := New(logPath)
	if err != nil {
		t.Fatalf("unexpected logger error: %v", err)
	}

	log.Error("remote call failed", "source", "deals", "tenant", "acme")
	cleanup()

	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("could not read log file: %v", err)
	}
	content := string(b)
	if !strings.Contains(content, "remote call failed") {
		t.Errorf("log file missing message, got %q", content)
	}
	if !strings.Contains(content, "tenant=acme") {
		t.Errorf("log file missing attribute, got %q", content)
	}
}

func TestNewAppends(t *testing.T) {

	logPath := filepath.Join(t.TempDir(), "error.log")

	for _, msg := range []string{"first", "second"} {
		log, cleanup, err := New(logPath)
		if err != nil {
			t.Fatalf("unexpected logger error: %v", err)
		}
		log.Error(msg)
		cleanup()
	}

	b, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("could not read log file: %v", err)
	}
	if !strings.Contains(string(b), "first") || !strings.Contains(string(b), "second") {
		t.Errorf("expected both records in the append-only log, got %q", string(b))
	}
}

func TestNewUnopenablePathDegradesToConsole(t *testing.T) {

	// A directory cannot be opened for appending.
	log, cleanup, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("expected console-only fallback, got error: %v", err)
	}
	defer cleanup()

	// Must not panic.
	log.Error("still works")
}
