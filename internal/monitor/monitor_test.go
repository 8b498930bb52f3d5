package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"revenue-analytics/internal/series"
	"revenue-analytics/internal/storage"
)

var base = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

type recordingSink struct {
	alerts []Alert
}

func (r *recordingSink) Deliver(_ context.Context, a Alert) {
	r.alerts = append(r.alerts, a)
}

func newTestMonitor(store storage.Snapshots) *Monitor {
	m := New(Thresholds{},
		storage.NewPersister(store, storage.FamilyMetrics, zerolog.Nop()),
		storage.NewPersister(store, storage.FamilyAlerts, zerolog.Nop()),
		zerolog.Nop())
	m.SetClock(func() time.Time { return base })
	return m
}

func day(n int) *time.Time {
	t := base.AddDate(0, 0, n)
	return &t
}

func TestDetectAnomaly(t *testing.T) {
	history := []float64{100, 102, 98, 101}
	flagged, deviation := DetectAnomaly(history, 300, DefaultThresholds)
	if !flagged {
		t.Fatalf("expected 300 to be anomalous")
	}
	if deviation < 190 || deviation > 200 {
		t.Fatalf("unexpected deviation %f", deviation)
	}
	if flagged, _ := DetectAnomaly(history, 103, DefaultThresholds); flagged {
		t.Fatalf("expected 103 to be normal")
	}
	if flagged, _ := DetectAnomaly([]float64{50, 50, 50}, 500, DefaultThresholds); flagged {
		t.Fatalf("flat history has no spread and must not flag")
	}
}

func TestDetectTrend(t *testing.T) {
	cases := []struct {
		values []float64
		want   Trend
	}{
		{[]float64{1, 2, 3}, Increasing},
		{[]float64{9, 3, 2, 1}, Declining},
		{[]float64{1, 3, 2}, Stable},
		{[]float64{1, 2}, Stable},
	}
	for _, tc := range cases {
		points := make([]series.Point, len(tc.values))
		for i, v := range tc.values {
			points[len(points)-1-i] = series.Point{Timestamp: *day(i), Value: v}
		}
		if got := DetectTrend(points); got != tc.want {
			t.Fatalf("values %v: expected %s, got %s", tc.values, tc.want, got)
		}
	}
}

func TestRecordMetricsRaisesAnomalyAndTrendAlerts(t *testing.T) {
	m := newTestMonitor(nil)
	sink := &recordingSink{}
	m.SetSink(sink)
	ctx := context.Background()

	for i, v := range []float64{100, 102, 98, 101} {
		_, raised := m.RecordMetrics(ctx, map[string]float64{"revenue": v}, day(i), "shop")
		if len(raised) != 0 {
			t.Fatalf("value %v: expected no alerts, got %+v", v, raised)
		}
	}

	entry, raised := m.RecordMetrics(ctx, map[string]float64{"revenue": 300}, day(4), "shop")
	if !strings.HasPrefix(entry.ID, "metrics_") || len(entry.ID) != len("metrics_")+8 {
		t.Fatalf("unexpected entry id %q", entry.ID)
	}
	if len(raised) != 2 {
		t.Fatalf("expected anomaly and opportunity alerts, got %+v", raised)
	}
	if raised[0].Type != AnomalyDetected || raised[0].Severity != Critical {
		t.Fatalf("unexpected anomaly alert %+v", raised[0])
	}
	if raised[1].Type != OpportunityIdentified || raised[1].Severity != Info {
		t.Fatalf("unexpected trend alert %+v", raised[1])
	}
	if len(sink.alerts) != 2 {
		t.Fatalf("expected sink to receive 2 alerts, got %d", len(sink.alerts))
	}
	if !strings.HasPrefix(raised[0].ID, "alert_") {
		t.Fatalf("unexpected alert id %q", raised[0].ID)
	}
}

func TestDecliningConversionRaisesConversionDecline(t *testing.T) {
	m := newTestMonitor(nil)
	ctx := context.Background()
	var raised []Alert
	for i, v := range []float64{5, 5.5, 5.2, 4.9, 4.6} {
		_, raised = m.RecordMetrics(ctx, map[string]float64{"conversion_rate": v}, day(i), "")
	}
	if len(raised) != 1 || raised[0].Type != ConversionDecline || raised[0].Severity != Warning {
		t.Fatalf("expected a conversion decline warning, got %+v", raised)
	}
}

func TestMonitorGoals(t *testing.T) {
	m := newTestMonitor(nil)
	goals := []GoalProgress{
		{ID: "urgent", Name: "urgent", Progress: 10, EndDate: day(5)},
		{ID: "behind", Name: "behind", Progress: 50, EndDate: day(20)},
		{ID: "fine", Name: "fine", Progress: 70, EndDate: day(40)},
		{ID: "over", Name: "over", Progress: 5, EndDate: day(-1)},
		{ID: "open", Name: "open", Progress: 0},
	}
	raised := m.MonitorGoals(context.Background(), goals)
	if len(raised) != 2 {
		t.Fatalf("expected 2 alerts, got %+v", raised)
	}
	if raised[0].EntityID != "urgent" || raised[0].Severity != Critical {
		t.Fatalf("unexpected first alert %+v", raised[0])
	}
	if raised[1].EntityID != "behind" || raised[1].Severity != Warning || raised[1].Metrics["days_remaining"] != 20 {
		t.Fatalf("unexpected second alert %+v", raised[1])
	}
}

func TestMonitorChannels(t *testing.T) {
	m := newTestMonitor(nil)
	raised := m.MonitorChannels(context.Background(), map[string]map[string]float64{
		"email":  {"roi": 100, "conversion_rate": 5},
		"search": {"roi": 20, "conversion_rate": 4},
		"social": {"roi": 90, "conversion_rate": 6},
	})
	if len(raised) != 1 {
		t.Fatalf("expected one alert, got %+v", raised)
	}
	a := raised[0]
	if a.EntityID != "search" || a.Type != ChannelUnderperforming || len(a.Metrics) != 1 || a.Metrics["roi"] != 20 {
		t.Fatalf("unexpected alert %+v", a)
	}
}

func TestMonitorForecast(t *testing.T) {
	m := newTestMonitor(nil)
	preds := []series.Point{
		{Timestamp: *day(0), Value: 100},
		{Timestamp: *day(30), Value: 100},
		{Timestamp: *day(60), Value: 100},
	}
	raised := m.MonitorForecast(context.Background(), ForecastCheck{ForecastID: "f1", Predictions: preds, Actual: []float64{110, 70, 40}})
	if len(raised) != 2 {
		t.Fatalf("expected 2 alerts, got %+v", raised)
	}
	if raised[0].Severity != Warning || !strings.Contains(raised[0].Message, "below") {
		t.Fatalf("unexpected first alert %+v", raised[0])
	}
	if raised[1].Severity != Critical || raised[1].EntityID != "f1" {
		t.Fatalf("unexpected second alert %+v", raised[1])
	}
}

func TestResolveAndFilterAlerts(t *testing.T) {
	m := newTestMonitor(nil)
	ctx := context.Background()
	m.MonitorGoals(ctx, []GoalProgress{
		{ID: "a", Progress: 10, EndDate: day(5)},
		{ID: "b", Progress: 50, EndDate: day(20)},
	})
	if got := m.ActiveAlerts(AlertFilter{Severity: Critical}); len(got) != 1 || got[0].EntityID != "a" {
		t.Fatalf("unexpected critical alerts %+v", got)
	}
	if got := m.ActiveAlerts(AlertFilter{EntityID: "b"}); len(got) != 1 {
		t.Fatalf("unexpected entity filter result %+v", got)
	}

	id := m.ActiveAlerts(AlertFilter{EntityID: "a"})[0].ID
	resolved, err := m.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved || resolved.ResolvedAt == nil {
		t.Fatalf("unexpected resolved alert %+v", resolved)
	}
	if got := m.ActiveAlerts(AlertFilter{}); len(got) != 1 {
		t.Fatalf("expected one active alert left, got %d", len(got))
	}
	if _, err := m.Resolve(ctx, "alert_missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHistoryAndSeriesQueries(t *testing.T) {
	m := newTestMonitor(nil)
	ctx := context.Background()
	m.RecordMetrics(ctx, map[string]float64{"revenue": 30, "orders": 3}, day(-3), "web")
	m.RecordMetrics(ctx, map[string]float64{"revenue": 10}, day(-10), "web")
	m.RecordMetrics(ctx, map[string]float64{"orders": 5}, day(-2), "app")

	if got := m.History(Query{}); len(got) != 3 || !got[0].Timestamp.Equal(*day(-10)) {
		t.Fatalf("expected time-ordered history, got %+v", got)
	}
	revenue := m.History(Query{Metric: "revenue"})
	if len(revenue) != 2 || len(revenue[1].Metrics) != 1 {
		t.Fatalf("expected metric-filtered entries, got %+v", revenue)
	}
	orders := m.Series(Query{Metric: "orders", Source: "web"})
	if len(orders) != 1 || orders[0].Value != 3 {
		t.Fatalf("unexpected series %+v", orders)
	}
	if got := m.Series(Query{Metric: "revenue", Start: day(-5)}); len(got) != 1 {
		t.Fatalf("expected start filter to drop old entry, got %+v", got)
	}
}

func TestSummary(t *testing.T) {
	m := newTestMonitor(nil)
	ctx := context.Background()
	m.RecordMetrics(ctx, map[string]float64{"aov": 1}, day(-60), "")
	for i, v := range []float64{100, 120, 150} {
		m.RecordMetrics(ctx, map[string]float64{"aov": v}, day(i-5), "")
	}
	m.MonitorGoals(ctx, []GoalProgress{{ID: "g", Progress: 10, EndDate: day(3)}})

	s := m.Summary(nil, nil)
	rev, ok := s.Metrics["aov"]
	if !ok {
		t.Fatalf("expected aov summary")
	}
	if rev.Latest != 150 || rev.Minimum != 100 || rev.Maximum != 150 || rev.Change != 50 || rev.PercentChange != 50 {
		t.Fatalf("unexpected summary %+v", rev)
	}
	if s.Trends["aov"] != Increasing {
		t.Fatalf("expected increasing trend, got %s", s.Trends["aov"])
	}
	if s.Alerts.Total != 1 || s.Alerts.Critical != 1 {
		t.Fatalf("unexpected alert counts %+v", s.Alerts)
	}
}

func TestMonitorSnapshotRestore(t *testing.T) {
	store := storage.NewMemorySnapshots()
	m := newTestMonitor(store)
	ctx := context.Background()
	m.RecordMetrics(ctx, map[string]float64{"revenue": 10}, day(0), "web")
	m.MonitorGoals(ctx, []GoalProgress{{ID: "g", Progress: 10, EndDate: day(3)}})

	restored := newTestMonitor(store)
	if !restored.Load(ctx) {
		t.Fatalf("expected snapshots to load")
	}
	if len(restored.History(Query{})) != 1 || len(restored.Alerts()) != 1 {
		t.Fatalf("unexpected restored state")
	}
	if newTestMonitor(storage.NewMemorySnapshots()).Load(ctx) {
		t.Fatalf("expected empty store to report false")
	}
}
