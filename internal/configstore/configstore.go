// Package configstore implements the persisted runtime configuration
// document described in spec §4.2: a single JSON document that dynamically
// retunes limits and cadences at runtime. This is distinct from the
// bootstrap config (internal/config), which is immutable for the process
// lifetime.
package configstore

import (
	"encoding/json"
	"sync"
)

// Defaults, per spec §4.2.
const (
	DefaultCapacity          = 1000
	DefaultPeriodMs          = 15000
	DefaultDumpPeriodMs      = 7_200_000
	DefaultNumEventsBeforeDump = 1000
	DefaultMaxMessageSizeBytes = 4096
	DefaultMinStorageThresholdBytes = 268_435_456
	DefaultMetricReportEnabled = true
	DefaultHighResMetricsEnabled = false
)

// rateLimitingSettings mirrors the nested "structured_log.rate_limiting_settings" key.
type rateLimitingSettings struct {
	DefaultCapacity  int64 `json:"default_capacity"`
	DefaultPeriodMs  int64 `json:"default_period_ms"`
}

type structuredLog struct {
	RateLimitingSettings    rateLimitingSettings `json:"rate_limiting_settings"`
	DumpPeriodMs            int64                `json:"dump_period_ms"`
	NumEventsBeforeDump     int64                `json:"num_events_before_dump"`
	MaxMessageSizeBytes     int64                `json:"max_message_size_bytes"`
	MinStorageThresholdBytes int64               `json:"min_storage_threshold_bytes"`
	MetricReportEnabled     *bool                `json:"metric_report_enabled"`
	HighResMetricsEnabled   *bool                `json:"high_res_metrics_enabled"`
}

type document struct {
	StructuredLog structuredLog `json:"structured_log"`
}

// Config is the parsed, in-memory view of the runtime document.
type Config struct {
	Capacity                 int64
	PeriodMs                 int64
	DumpPeriodMs             int64
	NumEventsBeforeDump      int64
	MaxMessageSizeBytes      int64
	MinStorageThresholdBytes int64
	MetricReportEnabled      bool
	HighResMetricsEnabled    bool
}

func defaults() Config {
	return Config{
		Capacity:                 DefaultCapacity,
		PeriodMs:                 DefaultPeriodMs,
		DumpPeriodMs:             DefaultDumpPeriodMs,
		NumEventsBeforeDump:      DefaultNumEventsBeforeDump,
		MaxMessageSizeBytes:      DefaultMaxMessageSizeBytes,
		MinStorageThresholdBytes: DefaultMinStorageThresholdBytes,
		MetricReportEnabled:      DefaultMetricReportEnabled,
		HighResMetricsEnabled:    DefaultHighResMetricsEnabled,
	}
}

// persister is the narrow storage dependency configstore needs: get/set one
// JSON blob. Satisfied by *storage.Repository.
type persister interface {
	GetConfig() (string, error)
	SetConfig(json string) error
}

// Store guards the parsed config with a lock; every getter acquires it
// briefly, per spec §4.2/§5.
type Store struct {
	mu      sync.RWMutex
	current Config
	backing persister
}

// Load reads the persisted document (seeding defaults if none exists or it
// is malformed — P10) and returns a ready Store.
func Load(backing persister) (*Store, error) {
	s := &Store{backing: backing, current: defaults()}
	raw, err := backing.GetConfig()
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return s, nil
	}
	s.current = parse(raw)
	return s, nil
}

// parse decodes raw into a Config, falling back to defaults on any
// malformed document (P10).
func parse(raw string) Config {
	var doc document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return defaults()
	}

	cfg := defaults()
	sl := doc.StructuredLog
	if sl.RateLimitingSettings.DefaultCapacity > 0 {
		cfg.Capacity = sl.RateLimitingSettings.DefaultCapacity
	}
	if sl.RateLimitingSettings.DefaultPeriodMs > 0 {
		cfg.PeriodMs = sl.RateLimitingSettings.DefaultPeriodMs
	}
	if sl.DumpPeriodMs > 0 {
		cfg.DumpPeriodMs = sl.DumpPeriodMs
	}
	if sl.NumEventsBeforeDump > 0 {
		cfg.NumEventsBeforeDump = sl.NumEventsBeforeDump
	}
	if sl.MaxMessageSizeBytes > 0 {
		cfg.MaxMessageSizeBytes = sl.MaxMessageSizeBytes
	}
	if sl.MinStorageThresholdBytes > 0 {
		cfg.MinStorageThresholdBytes = sl.MinStorageThresholdBytes
	}
	if sl.MetricReportEnabled != nil {
		cfg.MetricReportEnabled = *sl.MetricReportEnabled
	}
	if sl.HighResMetricsEnabled != nil {
		cfg.HighResMetricsEnabled = *sl.HighResMetricsEnabled
	}
	return cfg
}

// Get returns the current parsed config.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update atomically replaces the persisted document, re-parsing it (falling
// back to defaults if malformed).
func (s *Store) Update(raw string) error {
	cfg := parse(raw)
	if err := s.backing.SetConfig(raw); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	return nil
}
