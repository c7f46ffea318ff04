package dropsink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcceptCopiesFileIntoOutbox(t *testing.T) {
	dir := t.TempDir()
	outbox, err := NewFilesystemOutbox(filepath.Join(dir, "outbox"))
	if err != nil {
		t.Fatalf("NewFilesystemOutbox() error = %v", err)
	}

	src := filepath.Join(dir, "dump.json")
	if err := os.WriteFile(src, []byte(`{"x":1}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if !outbox.Accept("event_dump", src) {
		t.Fatalf("Accept() = false, want true")
	}

	entries, err := os.ReadDir(filepath.Join(dir, "outbox"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("outbox entries = %d, want 1", len(entries))
	}
}

func TestAcceptFailsForMissingSource(t *testing.T) {
	dir := t.TempDir()
	outbox, err := NewFilesystemOutbox(filepath.Join(dir, "outbox"))
	if err != nil {
		t.Fatalf("NewFilesystemOutbox() error = %v", err)
	}
	if outbox.Accept("event_dump", filepath.Join(dir, "missing.json")) {
		t.Fatalf("Accept() = true for missing source, want false")
	}
}
