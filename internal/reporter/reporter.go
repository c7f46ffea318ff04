// Package reporter implements the metric report aggregator (Reporter)
// described in spec §4.5: finish_report rollups, the TIME_TOTALS/
// TIME_PER_HOUR state-time algorithm, and carry-over.
package reporter

import (
	"strconv"

	"github.com/memfault/bort/internal/metrics"
	"github.com/memfault/bort/internal/storage"
)

// ReportMeta is passed to the report-metadata callback before the
// high-resolution rollups are streamed (spec §4.5 step 2, §6).
type ReportMeta struct {
	Type             string
	StartTimestampMs int64
	EndTimestampMs   int64
}

// DetailView is presented to the detail callback once per metric when
// includeHD is requested.
type DetailView struct {
	Metadata metrics.DetailMetadata
	Points   []metrics.DetailPoint
}

// ReportMetaCallback and DetailCallback realize the high-resolution report
// writer's hooks; the Reporter never writes files itself.
type ReportMetaCallback func(ReportMeta)
type DetailCallback func(DetailView)

// Reporter computes rollups over storage-resident metric samples.
type Reporter struct {
	repo *storage.Repository
}

// New returns a Reporter backed by repo.
func New(repo *storage.Repository) *Reporter {
	return &Reporter{repo: repo}
}

// FinishReport implements spec §4.5 verbatim, including the open questions
// resolved in DESIGN.md (TIME_PER_HOUR's max(1, hours) floor; an empty
// window still opening the next one when startNext is true).
func (rp *Reporter) FinishReport(version int, reportType string, endTs int64, startNext, includeHD bool, metaCb ReportMetaCallback, detailCb DetailCallback) (*metrics.Report, error) {
	window, _, err := rp.repo.ReportWindowFor(reportType)
	if err != nil {
		return nil, err
	}
	count, err := rp.repo.SampleCount(reportType)
	if err != nil {
		return nil, err
	}

	if count == 0 {
		if err := rp.repo.ClearReportState(reportType); err != nil {
			return nil, err
		}
		if startNext {
			if err := rp.repo.OpenWindow(reportType, endTs); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	startTs := window.StartTimestampMs
	if includeHD && metaCb != nil {
		metaCb(ReportMeta{Type: reportType, StartTimestampMs: startTs, EndTimestampMs: endTs})
	}

	metas, err := rp.repo.MetricGroups(reportType)
	if err != nil {
		return nil, err
	}

	var rollups []metrics.Rollup
	for _, meta := range metas {
		samples, err := rp.repo.Samples(reportType, meta.EventName)
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}

		aggs := metrics.Aggregation(meta.Aggregations)
		dataType := metrics.DataType(meta.DataType)

		groupRollups := computeRollups(meta.EventName, dataType, aggs, samples, startTs, endTs)
		for i := range groupRollups {
			groupRollups[i].Internal = meta.Internal
		}
		rollups = append(rollups, groupRollups...)

		if includeHD && detailCb != nil {
			points := make([]metrics.DetailPoint, 0, len(samples))
			for _, s := range samples {
				points = append(points, metrics.DetailPoint{
					TimestampMs: s.TimestampMs,
					Value:       decodeValue(dataType, s.Value),
				})
			}
			detailCb(DetailView{
				Metadata: metrics.DetailMetadata{
					EventName:  meta.EventName,
					MetricType: metrics.Kind(meta.MetricType),
					DataType:   dataType,
					Internal:   meta.Internal,
				},
				Points: points,
			})
		}
	}

	restored, err := rp.repo.RestoreCarryOver(reportType, endTs)
	if err != nil {
		return nil, err
	}
	if startNext && !restored {
		if err := rp.repo.OpenWindow(reportType, endTs); err != nil {
			return nil, err
		}
	}

	return &metrics.Report{
		Version:          version,
		Type:             reportType,
		StartTimestampMs: startTs,
		EndTimestampMs:   endTs,
		Rollups:          rollups,
	}, nil
}

func decodeValue(dt metrics.DataType, raw string) interface{} {
	switch dt {
	case metrics.DataTypeDouble:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0.0
		}
		return f
	case metrics.DataTypeBoolean:
		return raw != "0" && raw != ""
	default:
		return raw
	}
}

// typedNumeric renders a computed MIN/MAX/SUM/COUNT value back into the
// metric's declared data type (spec §4.5's "Value type: original"): a
// string-typed metric's rollup is a string, not a bare JSON number, matching
// decodeValue's LATEST_VALUE handling above.
func typedNumeric(dt metrics.DataType, f float64) interface{} {
	switch dt {
	case metrics.DataTypeBoolean:
		return f != 0
	case metrics.DataTypeString:
		return metrics.FormatFloat(f)
	default:
		return f
	}
}

func computeRollups(eventName string, dataType metrics.DataType, aggs metrics.Aggregation, samples []storage.MetricSample, startTs, endTs int64) []metrics.Rollup {
	var out []metrics.Rollup

	values := make([]float64, len(samples))
	for i, s := range samples {
		switch dataType {
		case metrics.DataTypeBoolean:
			if s.Value == "1" {
				values[i] = 1
			}
		default:
			f, _ := strconv.ParseFloat(s.Value, 64)
			values[i] = f
		}
	}

	if aggs.Has(metrics.AggMin) {
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		out = append(out, metrics.Rollup{Name: eventName + ".min", Value: typedNumeric(dataType, min), DataType: dataType})
	}
	if aggs.Has(metrics.AggMax) {
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		out = append(out, metrics.Rollup{Name: eventName + ".max", Value: typedNumeric(dataType, max), DataType: dataType})
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	if aggs.Has(metrics.AggSum) {
		out = append(out, metrics.Rollup{Name: eventName + ".sum", Value: typedNumeric(dataType, sum), DataType: dataType})
	}
	if aggs.Has(metrics.AggMean) {
		mean := sum / float64(len(values))
		out = append(out, metrics.Rollup{Name: eventName + ".mean", Value: mean, DataType: metrics.DataTypeDouble})
	}
	if aggs.Has(metrics.AggCount) {
		out = append(out, metrics.Rollup{Name: eventName + ".count", Value: typedNumeric(dataType, float64(len(values))), DataType: dataType})
	}
	if aggs.Has(metrics.AggLatestValue) {
		last := samples[len(samples)-1]
		out = append(out, metrics.Rollup{Name: eventName + ".latest", Value: decodeValue(dataType, last.Value), DataType: dataType})
	}

	if aggs.Has(metrics.AggTimeTotals) || aggs.Has(metrics.AggTimePerHour) {
		totals := stateTimeTotals(samples, startTs, endTs)
		hours := float64(endTs-startTs) / 3_600_000
		if hours < 1 {
			hours = 1
		}
		for _, state := range orderedStates(samples) {
			secs := totals[state]
			if aggs.Has(metrics.AggTimeTotals) {
				out = append(out, metrics.Rollup{
					Name:     eventName + "_" + state + ".total_secs",
					Value:    uint64(secs),
					DataType: metrics.DataTypeDouble,
				})
			}
			if aggs.Has(metrics.AggTimePerHour) {
				out = append(out, metrics.Rollup{
					Name:     eventName + "_" + state + ".secs/hour",
					Value:    float64(secs) / hours,
					DataType: metrics.DataTypeDouble,
				})
			}
		}
	}

	return out
}

// stateTimeTotals attributes (t_next - t_prev) seconds to the previous
// state on every transition, and (end_ts - t_last) to the last state
// (spec §4.5 step 3).
func stateTimeTotals(samples []storage.MetricSample, startTs, endTs int64) map[string]int64 {
	totals := map[string]int64{}
	for i, s := range samples {
		var next int64
		if i+1 < len(samples) {
			next = samples[i+1].TimestampMs
		} else {
			next = endTs
		}
		totals[s.Value] += (next - s.TimestampMs) / 1000
	}
	return totals
}

// orderedStates returns the distinct state values in first-seen order, so
// rollup emission order is deterministic.
func orderedStates(samples []storage.MetricSample) []string {
	seen := map[string]bool{}
	var order []string
	for _, s := range samples {
		if !seen[s.Value] {
			seen[s.Value] = true
			order = append(order, s.Value)
		}
	}
	return order
}
