package dumper

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/memfault/bort/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewRepository("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	return repo
}

func TestTriggerDumpAcceptedConsumesCid(t *testing.T) {
	repo := newTestRepo(t)
	bootRow, err := repo.EnsureBoot("boot-1")
	if err != nil {
		t.Fatalf("EnsureBoot() error = %v", err)
	}
	if err := repo.StoreEvent(1, "heartbeat", `{"ok":true}`, bootRow, false); err != nil {
		t.Fatalf("StoreEvent() error = %v", err)
	}

	dumpPath := filepath.Join(t.TempDir(), "dump.json")

	var before storage.CidPair
	repo.DB().First(&before, "id = ?", 1)

	var completed, rejected int
	d := New(repo, dumpPath, time.Hour,
		func() bool { return true },
		func(tag, path string) bool { return true },
		func() int64 { return 1 },
		Lifecycle{
			OnDumpCompleted: func() { completed++ },
			OnDumpRejected:  func() { rejected++ },
		},
	)

	doneRun := make(chan struct{})
	go func() {
		d.Run()
		close(doneRun)
	}()

	d.TriggerDump()
	time.Sleep(100 * time.Millisecond)
	d.Terminate()
	<-doneRun

	if completed != 1 {
		t.Fatalf("completed = %d, want 1", completed)
	}
	if rejected != 0 {
		t.Fatalf("rejected = %d, want 0", rejected)
	}

	var after storage.CidPair
	repo.DB().First(&after, "id = ?", 1)
	if after.Current != before.Next {
		t.Fatalf("CID pair after accepted dump = %+v, want current = previous next %q", after, before.Next)
	}
}

func TestTriggerDumpRejectedKeepsCid(t *testing.T) {
	repo := newTestRepo(t)
	bootRow, _ := repo.EnsureBoot("boot-1")
	if err := repo.StoreEvent(1, "heartbeat", `{"ok":true}`, bootRow, false); err != nil {
		t.Fatalf("StoreEvent() error = %v", err)
	}

	dumpPath := filepath.Join(t.TempDir(), "dump.json")

	var before storage.CidPair
	repo.DB().First(&before, "id = ?", 1)

	var rejected int
	d := New(repo, dumpPath, time.Hour,
		func() bool { return true },
		func(tag, path string) bool { return false },
		func() int64 { return 1 },
		Lifecycle{OnDumpRejected: func() { rejected++ }},
	)

	doneRun := make(chan struct{})
	go func() {
		d.Run()
		close(doneRun)
	}()

	d.TriggerDump()
	time.Sleep(100 * time.Millisecond)
	d.Terminate()
	<-doneRun

	if rejected != 1 {
		t.Fatalf("rejected = %d, want 1", rejected)
	}

	var after storage.CidPair
	repo.DB().First(&after, "id = ?", 1)
	if after != before {
		t.Fatalf("CID pair after rejected dump = %+v, want unchanged %+v", after, before)
	}
}
