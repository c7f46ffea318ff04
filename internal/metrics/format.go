package metrics

import "strconv"

// FormatFloat renders a float64 in the shortest form that round-trips
// through ParseFloat without precision loss. Unlike encoding/json, it uses
// exponent notation for large and small magnitudes (1e6 renders as "1e+06").
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
