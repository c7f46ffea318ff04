// Package dropsink implements the drop-sink contract described in spec §6:
// the sink accepts (tag, path) and returns success/failure. This is a local
// filesystem stand-in for the real external uploader (out of scope, §1).
package dropsink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sink is the drop-sink contract: accept a tagged file and report whether
// it was durably handed off.
type Sink func(tag, path string) bool

// FilesystemOutbox copies accepted files into a local "outbox" directory,
// leaving the source file in place, standing in for the real uploader
// handoff (spec §4.13).
type FilesystemOutbox struct {
	dir string
}

// NewFilesystemOutbox creates the outbox directory if needed and returns an
// outbox backed by it; its Accept method has the Sink signature.
func NewFilesystemOutbox(dir string) (*FilesystemOutbox, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dropsink: create outbox dir: %w", err)
	}
	return &FilesystemOutbox{dir: dir}, nil
}

// Accept implements Sink: it copies src into the outbox under a
// tag-and-timestamp-qualified name and reports success.
func (o *FilesystemOutbox) Accept(tag, src string) bool {
	data, err := os.ReadFile(src)
	if err != nil {
		slog.Error("dropsink: failed to read dump file", "error", err, "path", src)
		return false
	}

	dst := filepath.Join(o.dir, fmt.Sprintf("%s-%d%s", tag, time.Now().UnixNano(), filepath.Ext(src)))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		slog.Error("dropsink: failed to write outbox file", "error", err, "path", dst)
		return false
	}
	return true
}
