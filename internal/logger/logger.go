// Package logger implements the Logger façade described in spec §4.7: the
// low-space admission check, rate limiting, oversize wrapping, and
// counter-triggered dump.
package logger

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/memfault/bort/internal/configstore"
	"github.com/memfault/bort/internal/dumper"
	"github.com/memfault/bort/internal/ratelimiter"
	"github.com/memfault/bort/internal/storage"
)

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Lifecycle is the optional set of debug-event-hub/self-telemetry hooks
// fired on admission refusals and successful ingestion.
type Lifecycle struct {
	OnRateLimited func()
	OnOversized   func()
	OnAccepted    func()
}

// Logger is the façade in front of the storage engine and rate limiter.
type Logger struct {
	repo      *storage.Repository
	limiter   *ratelimiter.Bucket
	cfg       *configstore.Store
	dumper    *dumper.Dumper
	bootRowID uint
	lifecycle Lifecycle

	counter atomic.Int64
}

// New wires a Logger for the given boot row, storage handle, rate limiter,
// config store and Dumper.
func New(repo *storage.Repository, limiter *ratelimiter.Bucket, cfg *configstore.Store, d *dumper.Dumper, bootRowID uint, lifecycle Lifecycle) *Logger {
	return &Logger{repo: repo, limiter: limiter, cfg: cfg, dumper: d, bootRowID: bootRowID, lifecycle: lifecycle}
}

// Log implements spec §4.7's log() entry point.
func (l *Logger) Log(timestampNs int64, typ string, blob string, internal bool) {
	if l.repo.AvailableSpace("") < l.cfg.Get().MinStorageThresholdBytes {
		slog.Error("logger: refusing ingest, low storage", "type", typ)
		return
	}

	if !l.limiter.Take(1) {
		if l.lifecycle.OnRateLimited != nil {
			l.lifecycle.OnRateLimited()
		}
		return
	}

	maxSize := l.cfg.Get().MaxMessageSizeBytes
	if int64(len(blob)) > maxSize {
		if l.lifecycle.OnOversized != nil {
			l.lifecycle.OnOversized()
		}
		wrapped, _ := json.Marshal(map[string]interface{}{
			"original_type": typ,
			"size":          len(blob),
		})
		l.Log(timestampNs, "oversized_data", string(wrapped), true)
		return
	}

	if err := l.repo.StoreEvent(timestampNs, typ, blob, l.bootRowID, internal); err != nil {
		slog.Error("logger: failed to store event", "error", err, "type", typ)
		return
	}
	if l.lifecycle.OnAccepted != nil {
		l.lifecycle.OnAccepted()
	}

	n := l.counter.Add(1)
	if n >= l.cfg.Get().NumEventsBeforeDump {
		l.counter.Store(0)
		if l.dumper != nil {
			l.dumper.TriggerDump()
		}
	}
}

// ReloadConfig updates the runtime config, then reconfigures the rate
// limiter and the Dumper's period (spec §4.7).
func (l *Logger) ReloadConfig(raw string) error {
	if err := l.cfg.Update(raw); err != nil {
		return err
	}
	cfg := l.cfg.Get()
	l.limiter.Reconfigure(ratelimiter.Config{Capacity: cfg.Capacity, MsPerToken: cfg.PeriodMs})
	if l.dumper != nil {
		l.dumper.ChangeDumpPeriod(msToDuration(cfg.DumpPeriodMs))
	}
	return nil
}
