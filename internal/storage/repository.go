// Package storage implements the single-writer, multi-reader persistent
// store described in spec §3/§4.3: boot identities, the event log, metric
// metadata/samples, report lifecycle state, and the CID hash-chain pair.
package storage

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/memfault/bort/internal/telemetry"
)

// ErrOverflow is returned by StoreEvent when the backing store is
// unreachable, per spec §4.3.
var ErrOverflow = fmt.Errorf("storage: overflow, backing store unreachable")

// EmptyListener is notified exactly once per Dump pass in which the event
// log ends up empty.
type EmptyListener func()

// Repository is the single persistent store, reached through one handle
// serialized by a mutex (mu). All mutations and reads acquire it; the Dumper
// holds it for the duration of a visitor iteration so ingestion blocks while
// a dump is in progress. mu is not reentrant: helpers with a Locked suffix
// run with it already held, and a Dump visitor that calls back into the
// Repository deadlocks.
type Repository struct {
	mu      sync.Mutex
	db      *gorm.DB
	driver  string
	metrics *telemetry.Metrics

	emptyListeners []EmptyListener
}

// NewRepository opens the database for driver/dsn, migrates it, and seeds
// the CID pair if this is a fresh store.
func NewRepository(driver, dsn string, metrics *telemetry.Metrics) (*Repository, error) {
	db, err := NewDatabase(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "" {
		driver = "sqlite"
	}
	if err := AutoMigrateModels(db, driver); err != nil {
		return nil, err
	}

	if metrics != nil {
		db.Callback().Query().Before("gorm:query").Register("telemetry:before_query", func(d *gorm.DB) {
			d.Set("telemetry:start_time", time.Now())
		})
		db.Callback().Query().After("gorm:query").Register("telemetry:after_query", func(d *gorm.DB) {
			if start, ok := d.Get("telemetry:start_time"); ok {
				metrics.ObserveDBLatency(time.Since(start.(time.Time)).Seconds())
			}
		})
	}

	r := &Repository{db: db, driver: driver, metrics: metrics}
	if err := r.ensureCidPair(); err != nil {
		return nil, err
	}
	return r, nil
}

// OnEmpty registers a listener invoked after Dump leaves the event log
// empty.
func (r *Repository) OnEmpty(l EmptyListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emptyListeners = append(r.emptyListeners, l)
}

func (r *Repository) ensureCidPair() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pair CidPair
	err := r.db.First(&pair, "id = ?", 1).Error
	if err == nil {
		return nil
	}
	pair = CidPair{ID: 1, Current: uuid.NewString(), Next: uuid.NewString()}
	return r.db.Create(&pair).Error
}

// currentBootRow returns the row for bootID, creating it (and the boot
// appended after the previous one) if this boot identity hasn't been seen.
func (r *Repository) currentBootRow(bootID string) (Boot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b Boot
	err := r.db.First(&b, "boot_id = ?", bootID).Error
	if err == nil {
		return b, nil
	}
	b = Boot{BootID: bootID}
	if err := r.db.Create(&b).Error; err != nil {
		return Boot{}, fmt.Errorf("storage: create boot row: %w", err)
	}
	return b, nil
}

// EnsureBoot is the public entry point invoked once at daemon start with the
// OS-reported boot identity.
func (r *Repository) EnsureBoot(bootID string) (uint, error) {
	b, err := r.currentBootRow(bootID)
	if err != nil {
		return 0, err
	}
	return b.ID, nil
}

// StoreEvent inserts one event into the log, tagged with bootRowID and the
// internal flag. Returns ErrOverflow if the backing store is unreachable.
func (r *Repository) StoreEvent(timestampNs int64, typ string, blob string, bootRowID uint, internal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := LogEntry{
		TimestampNs: timestampNs,
		Type:        typ,
		Blob:        CompressedText(blob),
		BootRowID:   bootRowID,
		Internal:    internal,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return nil
}

// BootView is the read-view a Dump visitor receives for one boot.
type BootView struct {
	BootID  string
	Cid     string
	NextCid string
	Events  []LogEntry
}

// DumpVisitor is invoked once per boot id in ascending order. It returns
// whether at least one event was handed to the sink and accepted, which
// governs whether the CID is consumed for that pass.
type DumpVisitor func(view BootView) (accepted bool)

// Dump iterates boot ids in ascending order (optionally excluding the most
// recent), presents each as a BootView to visitor, then deletes that boot's
// events. At the end, boot ids strictly older than the most recent are
// deleted. If the event log ends up empty, every registered empty listener
// fires exactly once. When visitor reports acceptance, ConsumeCid rotates
// the CID chain.
func (r *Repository) Dump(skipLatest bool, visitor DumpVisitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var boots []Boot
	if err := r.db.Order("id asc").Find(&boots).Error; err != nil {
		return fmt.Errorf("storage: list boots: %w", err)
	}
	if len(boots) == 0 {
		return nil
	}

	mostRecent := boots[len(boots)-1]
	visitBoots := boots
	if skipLatest {
		visitBoots = boots[:len(boots)-1]
	}

	for _, b := range visitBoots {
		var events []LogEntry
		if err := r.db.Where("boot_row_id = ?", b.ID).Order("timestamp_ns asc").Find(&events).Error; err != nil {
			return fmt.Errorf("storage: list events for boot %d: %w", b.ID, err)
		}

		var pair CidPair
		if err := r.db.First(&pair, "id = ?", 1).Error; err != nil {
			return fmt.Errorf("storage: load cid pair: %w", err)
		}

		view := BootView{BootID: b.BootID, Cid: pair.Current, NextCid: pair.Next, Events: events}
		accepted := visitor(view)

		if len(events) > 0 && accepted {
			if err := r.consumeCidLocked(); err != nil {
				return err
			}
		}

		if err := r.db.Where("boot_row_id = ?", b.ID).Delete(&LogEntry{}).Error; err != nil {
			return fmt.Errorf("storage: delete events for boot %d: %w", b.ID, err)
		}
	}

	if err := r.db.Where("id < ?", mostRecent.ID).Delete(&Boot{}).Error; err != nil {
		return fmt.Errorf("storage: prune old boots: %w", err)
	}

	var remaining int64
	if err := r.db.Model(&LogEntry{}).Count(&remaining).Error; err != nil {
		return fmt.Errorf("storage: count remaining events: %w", err)
	}
	if remaining == 0 {
		for _, l := range r.emptyListeners {
			l()
		}
	}
	return nil
}

// consumeCidLocked sets current := next and mints a fresh next. Caller must
// hold mu.
func (r *Repository) consumeCidLocked() error {
	var pair CidPair
	if err := r.db.First(&pair, "id = ?", 1).Error; err != nil {
		return fmt.Errorf("storage: load cid pair: %w", err)
	}
	pair.Current = pair.Next
	pair.Next = uuid.NewString()
	return r.db.Save(&pair).Error
}

// StoreMetricSample ensures a ReportWindow exists (seeded with windowStartMs
// if this is the first sample for the type), upserts MetricMetadata, and
// inserts the sample.
func (r *Repository) StoreMetricSample(reportType, eventName string, windowStartMs int64, meta MetricMetadata, version int, timestampMs int64, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var win ReportWindow
	if err := r.db.First(&win, "type = ?", reportType).Error; err != nil {
		win = ReportWindow{Type: reportType, StartTimestampMs: windowStartMs}
		if err := r.db.Create(&win).Error; err != nil {
			return fmt.Errorf("storage: create report window: %w", err)
		}
	}

	meta.ReportType = reportType
	meta.EventName = eventName
	if err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error; err != nil {
		return fmt.Errorf("storage: upsert metric metadata: %w", err)
	}

	sample := MetricSample{
		ReportType:  reportType,
		EventName:   eventName,
		Version:     version,
		TimestampMs: timestampMs,
		Value:       value,
	}
	if err := r.db.Create(&sample).Error; err != nil {
		return fmt.Errorf("storage: insert metric sample: %w", err)
	}
	return nil
}

// ReportWindowFor returns the open window for reportType, if any.
func (r *Repository) ReportWindowFor(reportType string) (ReportWindow, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var win ReportWindow
	err := r.db.First(&win, "type = ?", reportType).Error
	if err != nil {
		return ReportWindow{}, false, nil
	}
	return win, true, nil
}

// MetricGroups returns the metadata rows for every (type, event) group that
// currently has at least one sample under reportType.
func (r *Repository) MetricGroups(reportType string) ([]MetricMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var metas []MetricMetadata
	err := r.db.Where("report_type = ?", reportType).Find(&metas).Error
	return metas, err
}

// Samples returns all samples for (reportType, eventName) in insertion
// order (P3).
func (r *Repository) Samples(reportType, eventName string) ([]MetricSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var samples []MetricSample
	err := r.db.Where("report_type = ? AND event_name = ?", reportType, eventName).
		Order("id asc").Find(&samples).Error
	return samples, err
}

// SampleCount returns the number of samples currently stored for
// reportType, across all event names.
func (r *Repository) SampleCount(reportType string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	err := r.db.Model(&MetricSample{}).Where("report_type = ?", reportType).Count(&count).Error
	return count, err
}

// ClearReportState deletes all ReportWindow/MetricMetadata/MetricSample rows
// for reportType.
func (r *Repository) ClearReportState(reportType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clearReportStateLocked(reportType)
}

func (r *Repository) clearReportStateLocked(reportType string) error {
	if err := r.db.Where("report_type = ?", reportType).Delete(&MetricSample{}).Error; err != nil {
		return err
	}
	if err := r.db.Where("report_type = ?", reportType).Delete(&MetricMetadata{}).Error; err != nil {
		return err
	}
	return r.db.Where("type = ?", reportType).Delete(&ReportWindow{}).Error
}

// OpenWindow creates (or replaces) the ReportWindow for reportType with the
// given start.
func (r *Repository) OpenWindow(reportType string, startMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&ReportWindow{Type: reportType, StartTimestampMs: startMs}).Error
}

// RestoreCarryOver re-inserts, for each carry_over metadata row, its last
// sample re-timestamped to endTs, under the same lock hold as clearing the
// previous window's state. The steps are not wrapped in a database
// transaction. Returns whether any rows were restored.
func (r *Repository) RestoreCarryOver(reportType string, endTs int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var metas []MetricMetadata
	if err := r.db.Where("report_type = ? AND carry_over = ?", reportType, true).Find(&metas).Error; err != nil {
		return false, err
	}

	type lastSample struct {
		meta   MetricMetadata
		sample MetricSample
	}
	var carried []lastSample
	for _, meta := range metas {
		var sample MetricSample
		err := r.db.Where("report_type = ? AND event_name = ?", reportType, meta.EventName).
			Order("id desc").First(&sample).Error
		if err != nil {
			continue
		}
		carried = append(carried, lastSample{meta: meta, sample: sample})
	}

	if err := r.clearReportStateLocked(reportType); err != nil {
		return false, err
	}

	if len(carried) == 0 {
		return false, nil
	}

	if err := r.db.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&ReportWindow{Type: reportType, StartTimestampMs: endTs}).Error; err != nil {
		return false, err
	}
	for _, c := range carried {
		if err := r.db.Create(&c.meta).Error; err != nil {
			return false, err
		}
		s := MetricSample{
			ReportType:  reportType,
			EventName:   c.meta.EventName,
			Version:     c.sample.Version,
			TimestampMs: endTs,
			Value:       c.sample.Value,
		}
		if err := r.db.Create(&s).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}

// GetConfig returns the persisted runtime config JSON document, or "" if
// none has been set yet.
func (r *Repository) GetConfig() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c RuntimeConfig
	if err := r.db.First(&c, "id = ?", 1).Error; err != nil {
		return "", nil
	}
	return c.JSON, nil
}

// SetConfig atomically overwrites the persisted runtime config document.
func (r *Repository) SetConfig(json string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&RuntimeConfig{ID: 1, JSON: json}).Error
}

// AvailableSpace returns free bytes on the filesystem containing path. An
// empty path, or one that cannot be statted, is replaced by the working
// directory; the location of the database file is not looked up. A fixed
// 1 TiB value is returned when statfs itself fails.
func (r *Repository) AvailableSpace(path string) int64 {
	var stat syscall.Statfs_t
	if path == "" {
		path = "."
	}
	if _, err := os.Stat(path); err != nil {
		path = "."
	}
	if err := syscall.Statfs(path, &stat); err != nil {
		return 1 << 40 // 1 TiB fallback, generous enough not to block tests
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}

// DB exposes the underlying handle for advanced/administrative queries.
func (r *Repository) DB() *gorm.DB {
	return r.db
}
