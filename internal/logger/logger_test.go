package logger

import (
	"path/filepath"
	"testing"

	"github.com/memfault/bort/internal/configstore"
	"github.com/memfault/bort/internal/ratelimiter"
	"github.com/memfault/bort/internal/storage"
)

type fakeBacking struct{ json string }

func (f *fakeBacking) GetConfig() (string, error)  { return f.json, nil }
func (f *fakeBacking) SetConfig(json string) error { f.json = json; return nil }

func newTestLogger(t *testing.T, capacity int64) (*Logger, *storage.Repository) {
	t.Helper()
	repo, err := storage.NewRepository("sqlite", filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	bootRow, err := repo.EnsureBoot("boot-1")
	if err != nil {
		t.Fatalf("EnsureBoot() error = %v", err)
	}
	cfg, err := configstore.Load(&fakeBacking{})
	if err != nil {
		t.Fatalf("configstore.Load() error = %v", err)
	}
	now := int64(0)
	limiter := ratelimiter.New(capacity, capacity, 1, func() int64 { return now })
	return New(repo, limiter, cfg, nil, bootRow, Lifecycle{}), repo
}

func TestOversizeWrapping(t *testing.T) {
	l, repo := newTestLogger(t, 1000)

	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'a'
	}

	l.Log(1, "raw_type", string(big), false)

	var entries []storage.LogEntry
	if err := repo.DB().Find(&entries).Error; err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Type != "oversized_data" || !entries[0].Internal {
		t.Fatalf("entry = %+v, want oversized_data/internal", entries[0])
	}
}

func TestRateLimitDrops(t *testing.T) {
	l, repo := newTestLogger(t, 0)

	l.Log(1, "x", "{}", false)

	var count int64
	repo.DB().Model(&storage.LogEntry{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected drop under zero-capacity rate limit, stored %d", count)
	}
}

func TestAcceptedEventStored(t *testing.T) {
	l, repo := newTestLogger(t, 10)
	l.Log(1, "hello", `{"a":1}`, false)

	var count int64
	repo.DB().Model(&storage.LogEntry{}).Count(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
