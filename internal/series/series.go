// Package series holds the time-series primitives shared by the forecasting
// and monitoring engines.
package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Point is a single timestamped observation of a named series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Granularity is the spacing between forecast periods.
type Granularity string

const (
	Daily     Granularity = "daily"
	Weekly    Granularity = "weekly"
	Monthly   Granularity = "monthly"
	Quarterly Granularity = "quarterly"
	Yearly    Granularity = "yearly"
)

// ErrUnknownGranularity is returned when a granularity string is not recognised.
var ErrUnknownGranularity = errors.New("unknown granularity")

// ErrNonFinite is returned for NaN or infinite numbers.
var ErrNonFinite = errors.New("non-finite number")

// ParseGranularity validates a granularity tag.
func ParseGranularity(v string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(v)))
	switch g {
	case Daily, Weekly, Monthly, Quarterly, Yearly:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, v)
}

// Step returns the calendar-naive distance between two consecutive periods.
// Months are 30 days, quarters 90 and years 365.
func (g Granularity) Step() time.Duration {
	day := 24 * time.Hour
	switch g {
	case Daily:
		return day
	case Weekly:
		return 7 * day
	case Quarterly:
		return 90 * day
	case Yearly:
		return 365 * day
	default:
		return 30 * day
	}
}

// Timeline returns n timestamps starting at start, spaced by the granularity step.
func (g Granularity) Timeline(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	step := g.Step()
	for i := 0; i < n; i++ {
		out = append(out, start.Add(time.Duration(i)*step))
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts RFC3339 timestamps, naive ISO timestamps (read as UTC) and bare dates.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}

// Sorted returns a copy of points ordered by timestamp; ties keep their input order.
func Sorted(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Values extracts the numeric values of points.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Span returns the first and last timestamps of points, which must be sorted.
func Span(points []Point) (time.Time, time.Time, bool) {
	if len(points) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return points[0].Timestamp, points[len(points)-1].Timestamp, true
}

// SafeDiv divides a by b and yields 0 when b is zero.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Sum adds up values.
func Sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// Mean is the arithmetic mean; 0 for an empty slice.
func Mean(values []float64) float64 {
	return SafeDiv(Sum(values), float64(len(values)))
}

// StdDev is the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	acc := 0.0
	for _, v := range values {
		acc += (v - m) * (v - m)
	}
	return math.Sqrt(acc / float64(len(values)))
}

// FromMaps converts loosely-typed {timestamp, value} maps into points. Entries with a
// missing or unparsable timestamp or a non-numeric value are skipped and counted.
func FromMaps(raw []map[string]any) ([]Point, int) {
	out := make([]Point, 0, len(raw))
	skipped := 0
	for _, m := range raw {
		ts, okTS := m["timestamp"]
		val, okVal := m["value"]
		if !okTS || !okVal {
			skipped++
			continue
		}
		t, err := AsTime(ts)
		if err != nil {
			skipped++
			continue
		}
		v, err := AsFloat(val)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, Point{Timestamp: t, Value: v})
	}
	return out, skipped
}

// AsTime accepts a time.Time or a string in any ParseTime layout.
func AsTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return ParseTime(t)
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %v", v)
}

// AsFloat accepts any numeric kind or a numeric string. NaN and infinities are rejected.
func AsFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("invalid number %v", v)
	}
	if err := CheckFinite(f); err != nil {
		return 0, err
	}
	return f, nil
}

// CheckFinite rejects NaN and infinite values, which cannot be persisted as JSON.
func CheckFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %v", ErrNonFinite, v)
	}
	return nil
}
