// Package reportwriter encodes the low-resolution metric report and the
// optional high-resolution time-series report produced by finish_report,
// per spec §6. It mirrors internal/logwriter's "one file per export" shape.
package reportwriter

import (
	"encoding/json"
	"os"

	"github.com/memfault/bort/internal/metrics"
	"github.com/memfault/bort/internal/reporter"
)

const hdSchemaVersion = 1

type lowResReport struct {
	Version          int                    `json:"version"`
	StartTimestampMs int64                  `json:"startTimestampMs"`
	EndTimestampMs   int64                  `json:"endTimestampMs"`
	ReportType       string                 `json:"reportType"`
	Metrics          map[string]interface{} `json:"metrics"`
	InternalMetrics  map[string]interface{} `json:"internalMetrics,omitempty"`
}

// LowResJSON renders report in the §6 low-resolution shape.
// internalMetrics is omitted entirely from the document when empty.
func LowResJSON(report *metrics.Report) ([]byte, error) {
	doc := lowResReport{
		Version:          report.Version,
		StartTimestampMs: report.StartTimestampMs,
		EndTimestampMs:   report.EndTimestampMs,
		ReportType:       report.Type,
		Metrics:          map[string]interface{}{},
	}
	for _, r := range report.Rollups {
		if r.Internal {
			if doc.InternalMetrics == nil {
				doc.InternalMetrics = map[string]interface{}{}
			}
			doc.InternalMetrics[r.Name] = r.Value
		} else {
			doc.Metrics[r.Name] = r.Value
		}
	}
	return json.Marshal(doc)
}

// WriteLowRes encodes report in the §6 low-resolution shape and writes it to
// path.
func WriteLowRes(path string, report *metrics.Report) error {
	data, err := LowResJSON(report)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type hdProducer struct {
	Version string `json:"version"`
	ID      string `json:"id"`
}

type hdMetadata struct {
	StringKey  string `json:"string_key"`
	MetricType string `json:"metric_type"`
	DataType   string `json:"data_type"`
	Internal   bool   `json:"internal"`
}

type hdDatum struct {
	T     int64       `json:"t"`
	Value interface{} `json:"value"`
}

type hdRollup struct {
	Metadata hdMetadata `json:"metadata"`
	Data     []hdDatum  `json:"data"`
}

type hdReport struct {
	SchemaVersion int        `json:"schema_version"`
	StartTime     int64      `json:"start_time"`
	DurationMs    int64      `json:"duration_ms"`
	ReportType    string     `json:"report_type"`
	Producer      hdProducer `json:"producer"`
	Rollups       []hdRollup `json:"rollups"`
}

// WriteHighRes encodes the per-sample time series collected while building
// report in the §6 high-resolution shape and writes it to path.
func WriteHighRes(path string, meta reporter.ReportMeta, details []reporter.DetailView) error {
	doc := hdReport{
		SchemaVersion: hdSchemaVersion,
		StartTime:     meta.StartTimestampMs,
		DurationMs:    meta.EndTimestampMs - meta.StartTimestampMs,
		ReportType:    meta.Type,
		Producer:      hdProducer{Version: "1", ID: "structured_logd"},
	}
	for _, d := range details {
		points := make([]hdDatum, 0, len(d.Points))
		for _, p := range d.Points {
			points = append(points, hdDatum{T: p.TimestampMs, Value: p.Value})
		}
		doc.Rollups = append(doc.Rollups, hdRollup{
			Metadata: hdMetadata{
				StringKey:  d.Metadata.EventName,
				MetricType: string(d.Metadata.MetricType),
				DataType:   string(d.Metadata.DataType),
				Internal:   d.Metadata.Internal,
			},
			Data: points,
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
