// Package metricservice implements the metric service façade described in
// spec §4.6: JSON validation/parsing for addValue and finish_report, and
// dispatch into the storage engine and Reporter.
package metricservice

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/memfault/bort/internal/configstore"
	"github.com/memfault/bort/internal/metrics"
	"github.com/memfault/bort/internal/reporter"
	"github.com/memfault/bort/internal/reportwriter"
	"github.com/memfault/bort/internal/storage"
)

// SinkFunc hands one finished report file to the external drop sink. Its
// return value is ignored (spec §9 open question: a rejected metric report
// has no effect, whereas a rejected event dump leaves the CID unconsumed).
type SinkFunc func(tag, path string) bool

// Service is the metric service façade. All calls are no-ops when
// metric_report_enabled is false.
type Service struct {
	repo       *storage.Repository
	reporter   *reporter.Reporter
	cfg        *configstore.Store
	reportPath string
	hdPath     string
	sink       SinkFunc

	// OnReportFinished, if set, is invoked once per finish_report call that
	// produced a non-nil Report (self-telemetry/debug-hub hook).
	OnReportFinished func()
}

// New returns a Service wired to repo/reporter and the runtime config store
// that gates the metric path. reportPath/hdPath are the paths finish_report
// rewrites on every call that produces a Report, hdPath only while
// high-resolution metrics are enabled (spec §6's "on-disk paths" list); sink
// is notified after each file is written.
func New(repo *storage.Repository, rp *reporter.Reporter, cfg *configstore.Store, reportPath, hdPath string, sink SinkFunc) *Service {
	return &Service{repo: repo, reporter: rp, cfg: cfg, reportPath: reportPath, hdPath: hdPath, sink: sink}
}

// entry is the shape shared by addValue's v1/v2 payloads and finish_report,
// decoded loosely because the exact required/optional fields depend on
// which call this entry belongs to and its declared version.
type entry struct {
	Version         int             `json:"version"`
	TimestampMs     int64           `json:"timestampMs"`
	ReportType      string          `json:"reportType"`
	EventName       string          `json:"eventName"`
	Aggregations    []string        `json:"aggregations"`
	Value           json.RawMessage `json:"value"`
	Internal        bool            `json:"internal"`
	DataType        string          `json:"dataType"`
	MetricType      string          `json:"metricType"`
	CarryOver       bool            `json:"carryOver"`
	StartNextReport *bool           `json:"startNextReport"`
}

// AddValue accepts either a single JSON object or an array of objects, each
// treated as an independent entry (spec §4.6). Malformed entries are
// dropped silently aside from a warning (spec §7); the call as a whole
// never fails the caller.
func (s *Service) AddValue(raw []byte) {
	if s.cfg != nil && !s.cfg.Get().MetricReportEnabled {
		return
	}

	entries, err := decodeEntries(raw)
	if err != nil {
		return
	}
	for _, e := range entries {
		s.addOne(e)
	}
}

func decodeEntries(raw []byte) ([]entry, error) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return []entry{e}, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

func (s *Service) addOne(e entry) {
	if e.Version == 0 || e.ReportType == "" || e.EventName == "" {
		return
	}

	var decodedValue interface{}
	if len(e.Value) > 0 {
		if err := json.Unmarshal(e.Value, &decodedValue); err != nil {
			return
		}
	}

	aggs := metrics.ParseAggregations(e.Aggregations)

	var meta storage.MetricMetadata
	if e.Version >= 2 {
		if e.DataType == "" || e.MetricType == "" {
			return
		}
		meta = storage.MetricMetadata{
			MetricType:   e.MetricType,
			DataType:     e.DataType,
			CarryOver:    e.CarryOver,
			Aggregations: uint32(aggs),
			Internal:     e.Internal,
		}
	} else {
		dt := metrics.GuessDataType(decodedValue)
		meta = storage.MetricMetadata{
			MetricType:   string(metrics.GuessKind(aggs)),
			DataType:     string(dt),
			CarryOver:    false,
			Aggregations: uint32(aggs),
			Internal:     e.Internal,
		}
	}

	value := metrics.EncodeValue(decodedValue)

	_ = s.repo.StoreMetricSample(e.ReportType, e.EventName, e.TimestampMs, meta, e.Version, e.TimestampMs, value)
}

// FinishReport handles the finish_report JSON payload (spec §4.6): it
// delegates aggregation to the Reporter, then — if a Report was produced —
// rewrites the low-resolution report file (and the high-resolution file,
// when enabled) and notifies the drop sink for each, ignoring its return
// value (spec §9 open question; only the Dumper's event-dump path acts on
// a rejection, by leaving the CID unconsumed). Returns the Report so callers can still inspect it
// in-process (e.g. over HTTP) without re-reading the file.
func (s *Service) FinishReport(raw []byte) (*metrics.Report, error) {
	if s.cfg != nil && !s.cfg.Get().MetricReportEnabled {
		return nil, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("metricservice: malformed finish_report payload: %w", err)
	}
	if e.Version == 0 || e.ReportType == "" {
		return nil, fmt.Errorf("metricservice: finish_report missing required fields")
	}

	startNext := e.StartNextReport != nil && *e.StartNextReport
	includeHD := s.cfg != nil && s.cfg.Get().HighResMetricsEnabled

	var meta *reporter.ReportMeta
	var details []reporter.DetailView
	report, err := s.reporter.FinishReport(e.Version, e.ReportType, e.TimestampMs, startNext, includeHD,
		func(m reporter.ReportMeta) { meta = &m },
		func(d reporter.DetailView) { details = append(details, d) },
	)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, nil
	}

	s.exportLowRes(report)
	if includeHD && meta != nil {
		s.exportHighRes(*meta, details)
	}
	if s.OnReportFinished != nil {
		s.OnReportFinished()
	}
	return report, nil
}

func (s *Service) exportLowRes(report *metrics.Report) {
	if s.reportPath == "" {
		return
	}
	if err := reportwriter.WriteLowRes(s.reportPath, report); err != nil {
		slog.Error("metricservice: failed to write metric report", "error", err, "report_type", report.Type)
		return
	}
	if s.sink != nil {
		s.sink("metric_report", s.reportPath)
	}
}

func (s *Service) exportHighRes(meta reporter.ReportMeta, details []reporter.DetailView) {
	if s.hdPath == "" {
		return
	}
	if err := reportwriter.WriteHighRes(s.hdPath, meta, details); err != nil {
		slog.Error("metricservice: failed to write high-resolution metric report", "error", err, "report_type", meta.Type)
		return
	}
	if s.sink != nil {
		s.sink("high_res_metric_report", s.hdPath)
	}
}
