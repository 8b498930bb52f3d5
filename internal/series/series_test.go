package series

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("Weekly")
	if err != nil {
		t.Fatalf("weekly should parse: %v", err)
	}
	if g.Step() != 7*24*time.Hour {
		t.Fatalf("weekly step = %s", g.Step())
	}
	if _, err := ParseGranularity("hourly"); err == nil {
		t.Fatal("hourly is not a supported granularity")
	}
}

func TestGranularitySteps(t *testing.T) {
	cases := map[Granularity]int{Daily: 1, Weekly: 7, Monthly: 30, Quarterly: 90, Yearly: 365}
	for g, days := range cases {
		if got := g.Step(); got != time.Duration(days)*24*time.Hour {
			t.Fatalf("%s step = %s, want %d days", g, got, days)
		}
	}
}

func TestParseTimeLayouts(t *testing.T) {
	for _, v := range []string{"2025-03-01", "2025-03-01T10:00:00", "2025-03-01T10:00:00Z", "2025-03-01T10:00:00+02:00"} {
		if _, err := ParseTime(v); err != nil {
			t.Fatalf("%q should parse: %v", v, err)
		}
	}
	if _, err := ParseTime("03/01/2025"); err == nil {
		t.Fatal("US dates are not accepted")
	}
}

func TestSortedIsStableCopy(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []Point{{base.Add(2 * time.Hour), 3}, {base, 1}, {base.Add(time.Hour), 2}}
	out := Sorted(in)
	if out[0].Value != 1 || out[2].Value != 3 {
		t.Fatalf("unexpected order: %#v", out)
	}
	if in[0].Value != 3 {
		t.Fatal("input must not be reordered")
	}
}

func TestStats(t *testing.T) {
	vals := []float64{100, 102, 98, 101}
	if m := Mean(vals); m != 100.25 {
		t.Fatalf("mean = %v", m)
	}
	if sd := StdDev(vals); math.Abs(sd-math.Sqrt(2.1875)) > 1e-9 {
		t.Fatalf("stddev = %v", sd)
	}
	if SafeDiv(1, 0) != 0 {
		t.Fatal("zero denominator must yield 0")
	}
}

func TestFromMapsSkipsInvalidPoints(t *testing.T) {
	raw := []map[string]any{
		{"timestamp": "2025-01-01", "value": 10.0},
		{"timestamp": "2025-01-02T00:00:00Z", "value": "12.5"},
		{"timestamp": "yesterday", "value": 1.0},
		{"value": 3.0},
		{"timestamp": "2025-01-03", "value": "n/a"},
		{"timestamp": time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC), "value": 7},
	}
	points, skipped := FromMaps(raw)
	if skipped != 3 {
		t.Fatalf("expected 3 skipped, got %d", skipped)
	}
	if len(points) != 3 || points[1].Value != 12.5 || points[2].Value != 7 {
		t.Fatalf("unexpected points %+v", points)
	}
}

func TestAsFloatRejectsNonFinite(t *testing.T) {
	for _, v := range []any{math.NaN(), math.Inf(1), float32(math.Inf(-1)), "NaN", "inf", " -Infinity "} {
		if _, err := AsFloat(v); !errors.Is(err, ErrNonFinite) {
			t.Fatalf("%v: expected ErrNonFinite, got %v", v, err)
		}
	}
	for v, want := range map[any]float64{7: 7, int64(-3): -3, "1e3": 1000, 2.5: 2.5} {
		got, err := AsFloat(v)
		if err != nil || got != want {
			t.Fatalf("%v: want %v, got %v %v", v, want, got, err)
		}
	}
	if _, err := AsFloat("n/a"); err == nil || errors.Is(err, ErrNonFinite) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}
