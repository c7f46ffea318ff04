package storage

import (
	"database/sql/driver"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// CompressedText is a string type that is transparently compressed using zstd before being stored in the database.
// It implements sql.Scanner and driver.Valuer for GORM.
type CompressedText string

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

const zstdMagic = "\x28\xb5\x2f\xfd" // Zstd magic number (little-endian)

func (ct CompressedText) Value() (driver.Value, error) {
	if ct == "" {
		return "", nil
	}
	compressed := encoder.EncodeAll([]byte(ct), nil)
	// Prepend magic header to identify compressed data
	return append([]byte(zstdMagic), compressed...), nil
}

func (ct *CompressedText) Scan(value interface{}) error {
	if value == nil {
		*ct = ""
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("failed to scan CompressedText: invalid type %T", value)
		}
		bytes = []byte(str)
	}

	if len(bytes) == 0 {
		*ct = ""
		return nil
	}

	// Check for zstd magic header
	if len(bytes) > 4 && string(bytes[:4]) == zstdMagic {
		decompressed, err := decoder.DecodeAll(bytes[4:], nil)
		if err != nil {
			return fmt.Errorf("failed to decompress zstd data: %w", err)
		}
		*ct = CompressedText(decompressed)
	} else {
		// Legacy uncompressed data
		*ct = CompressedText(bytes)
	}
	return nil
}

// Boot interns an OS boot identity into a dense monotonic integer row. Rows
// are ordered by ID ascending, which doubles as "most recent boot" ordering
// since boots are only ever appended.
type Boot struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	BootID string `gorm:"uniqueIndex;size:64;not null" json:"boot_id"`
}

// CidPair is the singleton hash-chain linkage record. Exactly one row ever
// exists; callers always address it by ID 1.
type CidPair struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Current string `gorm:"size:64;not null" json:"current"`
	Next    string `gorm:"size:64;not null" json:"next"`
}

// LogEntry is one append-only row in the event log.
type LogEntry struct {
	ID          uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	TimestampNs int64          `gorm:"column:timestamp_ns;index" json:"timestamp_ns"`
	Type        string         `gorm:"size:255;not null" json:"type"`
	Blob        CompressedText `gorm:"type:blob" json:"blob"`
	BootRowID   uint           `gorm:"index;not null" json:"boot_row_id"`
	Internal    bool           `gorm:"not null" json:"internal"`
}

// RuntimeConfig is the single persisted JSON document described in spec §4.2.
// Always one row, addressed by ID 1.
type RuntimeConfig struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	JSON string `gorm:"type:text;not null" json:"json"`
}

// ReportWindow is the open window for a given report type.
type ReportWindow struct {
	Type             string `gorm:"primaryKey;size:255" json:"type"`
	StartTimestampMs int64  `gorm:"not null" json:"start_timestamp_ms"`
}

// MetricMetadata is upserted on every sample so the last declaration wins.
type MetricMetadata struct {
	ReportType   string `gorm:"primaryKey;size:255" json:"report_type"`
	EventName    string `gorm:"primaryKey;size:255" json:"event_name"`
	MetricType   string `gorm:"size:32;not null" json:"metric_type"` // counter | gauge | property | event
	DataType     string `gorm:"size:32;not null" json:"data_type"`   // double | string | boolean
	CarryOver    bool   `gorm:"not null" json:"carry_over"`
	Aggregations uint32 `gorm:"not null" json:"aggregations"` // bitset, see internal/metrics
	Internal     bool   `gorm:"not null" json:"internal"`
}

// MetricSample is one insertion-ordered data point. Values are stored as
// their string representation; numeric/boolean typing is recovered via the
// owning MetricMetadata.DataType at read time.
type MetricSample struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportType  string `gorm:"index:idx_sample_group;size:255;not null" json:"report_type"`
	EventName   string `gorm:"index:idx_sample_group;size:255;not null" json:"event_name"`
	Version     int    `gorm:"not null" json:"version"`
	TimestampMs int64  `gorm:"not null" json:"timestamp_ms"`
	Value       string `gorm:"type:text;not null" json:"value"`
}

// SchemaVersion is the single forward-only migration-version row.
type SchemaVersion struct {
	ID      uint `gorm:"primaryKey"`
	Version int  `gorm:"not null"`
}
