// Package dumper implements the background periodic batch exporter
// described in spec §4.4. The original's condition-variable loop with
// wake/terminate signaling maps to a single goroutine computing its next
// deadline and waiting on a cancellable notify/timeout primitive (spec §9),
// realized here with a wake channel and time.Timer instead of OS threads
// and a condvar.
package dumper

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/memfault/bort/internal/logwriter"
	"github.com/memfault/bort/internal/storage"
)

// ReadyFunc reports whether the daemon currently wants a dump attempted
// (e.g. the event-count threshold was reached or enough time has passed).
type ReadyFunc func() bool

// SinkFunc hands one dump file to the external drop sink and reports
// whether it was accepted.
type SinkFunc func(tag, path string) bool

// Lifecycle is the set of debug-event-hub hooks the Dumper fires; all are
// optional.
type Lifecycle struct {
	OnDumpCompleted func()
	OnDumpRejected  func()
}

// Dumper runs the single background export loop.
type Dumper struct {
	repo         *storage.Repository
	dumpFilePath string
	ready        ReadyFunc
	sink         SinkFunc
	minStorage   func() int64
	lifecycle    Lifecycle

	mu                sync.Mutex
	period            time.Duration
	terminated        bool
	dumpImmediately   bool
	dumpOldOnBoot     bool
	changingPeriod    bool
	newPeriod         time.Duration
	elapsedAdjustment time.Duration

	wake chan struct{}
	done chan struct{}
}

// New creates a Dumper. minStorage reports available free space headroom
// above the configured min_storage_threshold_bytes (spec step 4); a dump is
// skipped whenever it is not positive. It is read dynamically so config
// reloads take effect without restarting the loop.
func New(repo *storage.Repository, dumpFilePath string, period time.Duration, ready ReadyFunc, sink SinkFunc, minStorage func() int64, lifecycle Lifecycle) *Dumper {
	return &Dumper{
		repo:         repo,
		dumpFilePath: dumpFilePath,
		ready:        ready,
		sink:         sink,
		minStorage:   minStorage,
		lifecycle:    lifecycle,
		period:       period,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// DumpOldEntriesOnBoot flags the loop to spin-wait for the ready predicate
// before its first normal-period dump, mirroring the original's
// boot-time-drain behavior.
func (d *Dumper) DumpOldEntriesOnBoot() {
	d.mu.Lock()
	d.dumpOldOnBoot = true
	d.mu.Unlock()
}

// TriggerDump notifies the loop to dump on its next wake (spec §4.4).
func (d *Dumper) TriggerDump() {
	d.mu.Lock()
	d.dumpImmediately = true
	d.mu.Unlock()
	d.notify()
}

// ChangeDumpPeriod sets a new period, adopted at the loop's next wake.
func (d *Dumper) ChangeDumpPeriod(p time.Duration) {
	d.mu.Lock()
	d.changingPeriod = true
	d.newPeriod = p
	d.mu.Unlock()
	d.notify()
}

// Terminate stops the loop; Run returns after its current wait unblocks.
func (d *Dumper) Terminate() {
	d.mu.Lock()
	d.terminated = true
	d.mu.Unlock()
	d.notify()
}

func (d *Dumper) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run executes the loop until Terminate is called. Intended to run in its
// own goroutine (e.g. under an errgroup).
func (d *Dumper) Run() {
	defer close(d.done)

	wait := d.period
	for {
		d.mu.Lock()
		immediate := d.dumpImmediately
		oldOnBoot := d.dumpOldOnBoot
		d.mu.Unlock()

		switch {
		case immediate:
			d.mu.Lock()
			d.dumpImmediately = false
			d.mu.Unlock()

		case oldOnBoot:
			for {
				d.mu.Lock()
				term := d.terminated
				d.mu.Unlock()
				if term {
					return
				}
				if d.ready == nil || d.ready() {
					break
				}
				time.Sleep(5 * time.Second)
			}
			d.mu.Lock()
			d.dumpOldOnBoot = false
			d.mu.Unlock()

		default:
			elapsed := d.waitForWake(wait)
			d.mu.Lock()
			term := d.terminated
			changing := d.changingPeriod
			newPeriod := d.newPeriod
			d.mu.Unlock()

			if term {
				return
			}
			if changing {
				d.mu.Lock()
				d.changingPeriod = false
				d.period = newPeriod
				d.mu.Unlock()
				if newPeriod > elapsed {
					wait = newPeriod - elapsed
					continue
				}
			}
			wait = d.period
		}

		d.mu.Lock()
		term := d.terminated
		d.mu.Unlock()
		if term {
			return
		}

		if d.ready != nil && !d.ready() {
			continue
		}
		if d.minStorage != nil && d.minStorage() <= 0 {
			continue
		}

		d.runDumpPass(oldOnBoot)
		wait = d.period
	}
}

// waitForWake blocks for d2, or until notify() fires, returning the actual
// elapsed time (spec step 3: "measuring actual elapsed time").
func (d *Dumper) waitForWake(d2 time.Duration) time.Duration {
	start := time.Now()
	timer := time.NewTimer(d2)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-d.wake:
	}
	return time.Since(start)
}

func (d *Dumper) runDumpPass(skipLatest bool) {
	err := d.repo.Dump(skipLatest, func(view storage.BootView) bool {
		n, err := logwriter.Write(d.dumpFilePath, view)
		if err != nil {
			slog.Error("dumper: failed to write dump file", "error", err, "boot_id", view.BootID)
			return false
		}
		defer os.Remove(d.dumpFilePath)

		if n == 0 {
			return false
		}
		accepted := d.sink("event_dump", d.dumpFilePath)
		if accepted {
			if d.lifecycle.OnDumpCompleted != nil {
				d.lifecycle.OnDumpCompleted()
			}
		} else if d.lifecycle.OnDumpRejected != nil {
			d.lifecycle.OnDumpRejected()
		}
		return accepted
	})
	if err != nil {
		slog.Error("dumper: dump pass failed", "error", err)
	}
}
