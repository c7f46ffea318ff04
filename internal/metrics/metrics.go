// Package metrics holds the domain model shared by the metric service
// façade, the storage engine and the Reporter: metric/value/aggregation
// kinds and the Report produced by finish_report (spec §3, §4.5).
package metrics

import "strings"

// Kind is the tagged variant collapsing the source's metric-kind
// inheritance hierarchy (spec §9): the wire schema already carries enough
// information (metricType, dataType, aggregations, carryOver) to dispatch
// without a type per kind.
type Kind string

const (
	KindCounter  Kind = "counter"
	KindGauge    Kind = "gauge"
	KindProperty Kind = "property"
	KindEvent    Kind = "event"
)

// DataType is the declared value type of a metric.
type DataType string

const (
	DataTypeDouble  DataType = "double"
	DataTypeString  DataType = "string"
	DataTypeBoolean DataType = "boolean"
)

// Aggregation is one bit of the orthogonal aggregation bitset (spec §3).
type Aggregation uint32

const (
	AggMin Aggregation = 1 << iota
	AggMax
	AggSum
	AggMean
	AggCount
	AggTimeTotals
	AggTimePerHour
	AggLatestValue
)

var aggNames = map[string]Aggregation{
	"MIN":            AggMin,
	"MAX":            AggMax,
	"SUM":            AggSum,
	"MEAN":           AggMean,
	"COUNT":          AggCount,
	"TIME_TOTALS":    AggTimeTotals,
	"TIME_PER_HOUR":  AggTimePerHour,
	"LATEST_VALUE":   AggLatestValue,
}

// ParseAggregations turns the wire string list into a bitset, silently
// ignoring unknown aggregation names (spec §4.6).
func ParseAggregations(names []string) Aggregation {
	var bits Aggregation
	for _, n := range names {
		if bit, ok := aggNames[strings.ToUpper(strings.TrimSpace(n))]; ok {
			bits |= bit
		}
	}
	return bits
}

// Has reports whether bit is set in bits.
func (bits Aggregation) Has(bit Aggregation) bool {
	return bits&bit != 0
}

// GuessKind infers metric_type from the aggregation set for v1 addValue
// payloads (spec §4.6): COUNT -> counter; else any of {MEAN,MAX,SUM} ->
// gauge; otherwise property.
func GuessKind(aggs Aggregation) Kind {
	if aggs.Has(AggCount) {
		return KindCounter
	}
	if aggs.Has(AggMean) || aggs.Has(AggMax) || aggs.Has(AggSum) {
		return KindGauge
	}
	return KindProperty
}

// GuessDataType infers data_type from a decoded JSON value for v1 addValue
// payloads.
func GuessDataType(v interface{}) DataType {
	switch v.(type) {
	case bool:
		return DataTypeBoolean
	case float64:
		return DataTypeDouble
	default:
		return DataTypeString
	}
}

// EncodeValue renders a decoded JSON value into the string representation
// stored in MetricSample.Value. Booleans are stored as "1"/"0" (spec §4.6,
// §9 open question) so the samples column can hold every data type.
func EncodeValue(v interface{}) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return FormatFloat(t)
	case string:
		return t
	default:
		return ""
	}
}

// Rollup is one derived metric produced at finish_report time.
type Rollup struct {
	Name     string
	Value    interface{}
	DataType DataType
	Internal bool
}

// DetailPoint is one datum in a high-resolution rollup's time series.
type DetailPoint struct {
	TimestampMs int64
	Value       interface{}
}

// DetailMetadata describes one metric in the high-resolution report.
type DetailMetadata struct {
	EventName  string
	MetricType Kind
	DataType   DataType
	Internal   bool
}

// Report is the result of a successful finish_report call (spec §4.5, §6).
type Report struct {
	Version          int
	Type             string
	StartTimestampMs int64
	EndTimestampMs   int64
	Rollups          []Rollup
}
