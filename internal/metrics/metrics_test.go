package metrics

import "testing"

func TestParseAggregationsIgnoresUnknown(t *testing.T) {
	bits := ParseAggregations([]string{"SUM", "bogus", "mean"})
	if !bits.Has(AggSum) || !bits.Has(AggMean) {
		t.Fatalf("expected SUM and MEAN set, got %b", bits)
	}
	if bits.Has(AggCount) {
		t.Fatalf("unexpected COUNT bit set")
	}
}

func TestGuessKind(t *testing.T) {
	cases := []struct {
		aggs []string
		want Kind
	}{
		{[]string{"COUNT"}, KindCounter},
		{[]string{"SUM"}, KindGauge},
		{[]string{"MAX"}, KindGauge},
		{[]string{"MEAN"}, KindGauge},
		{[]string{"LATEST_VALUE"}, KindProperty},
		{nil, KindProperty},
	}
	for _, c := range cases {
		got := GuessKind(ParseAggregations(c.aggs))
		if got != c.want {
			t.Errorf("GuessKind(%v) = %v, want %v", c.aggs, got, c.want)
		}
	}
}

func TestEncodeValueBoolean(t *testing.T) {
	if EncodeValue(true) != "1" {
		t.Errorf("true should encode to \"1\"")
	}
	if EncodeValue(false) != "0" {
		t.Errorf("false should encode to \"0\"")
	}
}

func TestGuessDataType(t *testing.T) {
	if GuessDataType(true) != DataTypeBoolean {
		t.Errorf("bool should guess boolean")
	}
	if GuessDataType(1.5) != DataTypeDouble {
		t.Errorf("float64 should guess double")
	}
	if GuessDataType("x") != DataTypeString {
		t.Errorf("string should guess string")
	}
}
