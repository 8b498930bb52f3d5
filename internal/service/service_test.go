package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"revenue-analytics/internal/attribution"
	"revenue-analytics/internal/monitor"
)

var testNow = time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC)

func newTestFramework(t *testing.T, deps Deps) *Framework {
	t.Helper()
	f := New(deps, zerolog.Nop())
	f.SetClock(func() time.Time { return testNow })
	return f
}

func mustSucceed(t *testing.T, res map[string]any) map[string]any {
	t.Helper()
	if res["status"] != StatusSuccess {
		t.Fatalf("expected success, got %#v", res)
	}
	return res
}

func mustFail(t *testing.T, res map[string]any) string {
	t.Helper()
	if res["status"] != StatusError {
		t.Fatalf("expected error, got %#v", res)
	}
	msg, _ := res["message"].(string)
	if msg == "" {
		t.Fatalf("error result without message: %#v", res)
	}
	return msg
}

func TestExecuteUnknownOperation(t *testing.T) {
	f := newTestFramework(t, Deps{})
	msg := mustFail(t, f.Execute(context.Background(), "nope", nil))
	if msg != "unknown operation: nope" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestOperationsListed(t *testing.T) {
	f := newTestFramework(t, Deps{})
	ops := f.Operations()
	if len(ops) != 39 {
		t.Fatalf("expected 39 operations, got %d", len(ops))
	}
	for i := 1; i < len(ops); i++ {
		if ops[i-1] >= ops[i] {
			t.Fatalf("operations not sorted: %v", ops)
		}
	}
}

func TestGoalOperations(t *testing.T) {
	ctx := context.Background()
	f := newTestFramework(t, Deps{})

	res := mustSucceed(t, f.Execute(ctx, "set_revenue_goal", map[string]any{
		"name":         "Q3",
		"target_value": 1000,
		"start_date":   "2025-07-01",
		"end_date":     "2025-07-31",
		"channel":      "email",
	}))
	id, _ := res["goal_id"].(string)
	if id == "" {
		t.Fatalf("missing goal_id: %#v", res)
	}
	goal := res["goal"].(map[string]any)
	if goal["description"] != "Revenue goal for Q3" {
		t.Fatalf("unexpected default description %v", goal["description"])
	}

	res = mustSucceed(t, f.Execute(ctx, "update_goal_value", map[string]any{"goal_id": id, "value": "1000"}))
	if status := res["goal"].(map[string]any)["status"]; status != "achieved" {
		t.Fatalf("expected achieved, got %v", status)
	}

	mustFail(t, f.Execute(ctx, "update_goal_value", map[string]any{"goal_id": "missing", "value": 1}))
	mustFail(t, f.Execute(ctx, "update_goal_value", map[string]any{"goal_id": id}))
	mustFail(t, f.Execute(ctx, "set_revenue_goal", map[string]any{"target_value": 10, "end_date": "2025-08-01"}))
	mustFail(t, f.Execute(ctx, "set_revenue_goal", map[string]any{"name": "bad", "end_date": "not a date"}))
	mustFail(t, f.Execute(ctx, "list_goals", map[string]any{"status": "sleeping"}))

	res = mustSucceed(t, f.Execute(ctx, "list_goals", map[string]any{"status": "achieved"}))
	if res["count"] != 1 {
		t.Fatalf("expected one achieved goal, got %v", res["count"])
	}

	mustSucceed(t, f.Execute(ctx, "delete_goal", map[string]any{"goal_id": id}))
	mustFail(t, f.Execute(ctx, "get_goal", map[string]any{"goal_id": id}))
}

func TestConversionCreditsGoal(t *testing.T) {
	ctx := context.Background()
	f := newTestFramework(t, Deps{})

	res := mustSucceed(t, f.Execute(ctx, "set_revenue_goal", map[string]any{
		"name":         "Email",
		"target_value": 1000,
		"start_date":   "2025-07-01",
		"end_date":     "2025-07-31",
	}))
	goalID := res["goal_id"].(string)

	mustSucceed(t, f.Execute(ctx, "track_touchpoint", map[string]any{
		"customer_id": "c1",
		"channel":     "email",
		"cost":        10,
		"timestamp":   "2025-07-02T10:00:00Z",
	}))
	res = mustSucceed(t, f.Execute(ctx, "record_conversion", map[string]any{
		"customer_id": "c1",
		"value":       250,
		"goal_id":     goalID,
	}))
	if v := res["goal"].(map[string]any)["current_value"]; v != 250.0 {
		t.Fatalf("expected goal credited with 250, got %v", v)
	}
	journey := res["journey"].(map[string]any)
	tps := journey["touchpoints"].([]any)
	if c := tps[0].(map[string]any)["revenue_contribution"]; c != 250.0 {
		t.Fatalf("expected full credit on single touchpoint, got %v", c)
	}

	mustFail(t, f.Execute(ctx, "record_conversion", map[string]any{"customer_id": "c1", "value": 1, "attribution_model": "magic"}))
	mustFail(t, f.Execute(ctx, "record_conversion", map[string]any{"customer_id": "c2", "value": 1, "goal_id": "missing"}))
	if _, err := f.attribution.Journey("c2"); err == nil {
		t.Fatal("conversion for unknown goal should not create a journey")
	}
}

func loadConstantHistory(t *testing.T, f *Framework) {
	t.Helper()
	data := make([]any, 0, 6)
	for i := 0; i < 6; i++ {
		data = append(data, map[string]any{
			"timestamp": time.Date(2025, time.Month(1+i), 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
			"value":     100,
		})
	}
	data = append(data, map[string]any{"timestamp": "garbage", "value": 1})
	res := mustSucceed(t, f.Execute(context.Background(), "load_history", map[string]any{"data": data}))
	if res["points"] != 6.0 || res["skipped"] != 1 {
		t.Fatalf("unexpected load result %#v", res)
	}
}

func TestForecastAndMonitorOperations(t *testing.T) {
	ctx := context.Background()
	f := newTestFramework(t, Deps{})
	loadConstantHistory(t, f)

	res := mustSucceed(t, f.Execute(ctx, "forecast_revenue", map[string]any{"periods": 3}))
	fcID := res["forecast_id"].(string)
	preds := res["forecast"].(map[string]any)["predictions"].([]any)
	if len(preds) != 3 {
		t.Fatalf("expected 3 predictions, got %d", len(preds))
	}
	for _, p := range preds {
		if v := p.(map[string]any)["value"].(float64); math.Abs(v-100) > 1e-9 {
			t.Fatalf("constant history should forecast 100, got %v", v)
		}
	}

	mustSucceed(t, f.Execute(ctx, "revenue_gaps", map[string]any{"forecast_id": fcID, "targets": []any{110, 110, 110}}))
	mustFail(t, f.Execute(ctx, "revenue_gaps", map[string]any{"forecast_id": fcID, "targets": []any{1, 2}}))
	mustFail(t, f.Execute(ctx, "forecast_revenue", map[string]any{"periods": 3, "granularity": "hourly"}))

	res = mustSucceed(t, f.Execute(ctx, "monitor_forecast", map[string]any{
		"forecast_id":   fcID,
		"actual_values": []any{100, 40, 100},
	}))
	alerts := res["alerts"].([]any)
	if len(alerts) != 1 {
		t.Fatalf("expected one deviation alert, got %d", len(alerts))
	}
	alert := alerts[0].(map[string]any)
	if alert["severity"] != "critical" || alert["entity_id"] != fcID {
		t.Fatalf("unexpected alert %#v", alert)
	}

	res = mustSucceed(t, f.Execute(ctx, "get_alerts", map[string]any{"severity": "critical"}))
	if res["count"] != 1 {
		t.Fatalf("expected 1 active critical alert, got %v", res["count"])
	}
	mustSucceed(t, f.Execute(ctx, "resolve_alert", map[string]any{"alert_id": alert["id"]}))
	res = mustSucceed(t, f.Execute(ctx, "get_alerts", nil))
	if res["count"] != 0 {
		t.Fatalf("expected no active alerts, got %v", res["count"])
	}
	res = mustSucceed(t, f.Execute(ctx, "get_alerts", map[string]any{"include_resolved": true}))
	if res["count"] != 1 {
		t.Fatalf("expected resolved alert listed, got %v", res["count"])
	}
}

func TestRecordMetricsIgnoresNonNumeric(t *testing.T) {
	ctx := context.Background()
	f := newTestFramework(t, Deps{})

	res := mustSucceed(t, f.Execute(ctx, "record_metrics", map[string]any{
		"metrics": map[string]any{"revenue": "1200.5", "note": "n/a"},
		"source":  "shop",
	}))
	metrics := res["entry"].(map[string]any)["metrics"].(map[string]any)
	if len(metrics) != 1 || metrics["revenue"] != 1200.5 {
		t.Fatalf("unexpected recorded metrics %#v", metrics)
	}
	mustFail(t, f.Execute(ctx, "record_metrics", map[string]any{"metrics": map[string]any{"note": "n/a"}}))
}

func TestOptimizeAllocation(t *testing.T) {
	metrics := map[string]*attribution.Metrics{
		"search":  {Touchpoints: 10, Cost: 100, ROI: 200},
		"social":  {Touchpoints: 5, Cost: 1000, ROI: 100},
		"display": {Touchpoints: 3, Cost: 50, ROI: -50},
		"organic": {Touchpoints: 8, Cost: 0, ROI: 0},
	}
	plan := OptimizeAllocation(metrics, 600)

	if len(plan.Allocations) != 2 {
		t.Fatalf("expected 2 funded channels, got %+v", plan.Allocations)
	}
	want := []Allocation{
		{Channel: "search", Allocation: 150, Percentage: 25, CurrentSpend: 100, ROI: 200, ExpectedRevenue: 450},
		{Channel: "social", Allocation: 450, Percentage: 75, CurrentSpend: 1000, ROI: 100, ExpectedRevenue: 900},
	}
	for i, w := range want {
		if plan.Allocations[i] != w {
			t.Fatalf("allocation %d: want %+v got %+v", i, w, plan.Allocations[i])
		}
	}
	if plan.ExpectedTotalRevenue != 1350 || plan.ExpectedROI != 125 {
		t.Fatalf("unexpected totals %+v", plan)
	}

	empty := OptimizeAllocation(nil, 100)
	if len(empty.Allocations) != 0 || empty.ExpectedTotalRevenue != 0 {
		t.Fatalf("expected empty plan, got %+v", empty)
	}
}

func TestRunTasks(t *testing.T) {
	ctx := context.Background()
	f := newTestFramework(t, Deps{})

	res := mustSucceed(t, f.Execute(ctx, "run_tasks", map[string]any{
		"cycle_id": "cycle-1",
		"tasks": []any{
			map[string]any{"type": "goal_report"},
			map[string]any{"type": "generate_report", "parameters": map[string]any{"include_forecasts": false}},
			map[string]any{"type": "bogus"},
			map[string]any{"type": "run_tasks"},
		},
	}))
	if res["cycle_id"] != "cycle-1" || res["completed"] != 2 || res["failed"] != 2 {
		t.Fatalf("unexpected summary %#v", res)
	}
	results := res["task_results"].([]any)
	report := results[1].(map[string]any)["result"].(map[string]any)["report"].(map[string]any)
	if _, ok := report["forecasts"]; ok {
		t.Fatal("forecasts section should be excluded")
	}
	if _, ok := report["goals"]; !ok {
		t.Fatal("goals section should be included by default")
	}
	bogus := results[2].(map[string]any)
	if bogus["status"] != StatusError || bogus["result"].(map[string]any)["message"] != "Unknown revenue task type: bogus" {
		t.Fatalf("unexpected unknown-task result %#v", bogus)
	}

	mustFail(t, f.Execute(ctx, "run_tasks", map[string]any{"tasks": []any{map[string]any{}}}))
}

type fakeLocker struct {
	acquired bool
	err      error
	calls    int
}

func (l *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	l.calls++
	return func() {}, l.acquired, l.err
}

func seedLaggingGoal(t *testing.T, f *Framework) {
	t.Helper()
	mustSucceed(t, f.Execute(context.Background(), "set_revenue_goal", map[string]any{
		"name":         "Sprint",
		"target_value": 1000,
		"start_date":   "2025-07-01",
		"end_date":     "2025-07-05",
	}))
}

func TestTickRaisesGoalAlerts(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetrics(prometheus.NewRegistry())
	locker := &fakeLocker{acquired: true}
	f := newTestFramework(t, Deps{Metrics: metrics, Locker: locker, LockKey: 7})
	seedLaggingGoal(t, f)

	if err := f.Tick(ctx, testNow); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if locker.calls != 1 {
		t.Fatalf("expected lock attempt, got %d", locker.calls)
	}
	alerts := f.monitor.ActiveAlerts(monitor.AlertFilter{})
	if len(alerts) != 1 || alerts[0].Severity != "critical" {
		t.Fatalf("expected one critical goal alert, got %+v", alerts)
	}
	if got := testutil.ToFloat64(metrics.ticks); got != 1 {
		t.Fatalf("expected tick counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.alerts.WithLabelValues("goal_at_risk", "critical")); got != 1 {
		t.Fatalf("expected alert counted, got %v", got)
	}
}

func TestTickSkippedWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	f := newTestFramework(t, Deps{Locker: &fakeLocker{acquired: false}, LockKey: 7})
	seedLaggingGoal(t, f)

	if err := f.Tick(ctx, testNow); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n := len(f.monitor.Alerts()); n != 0 {
		t.Fatalf("expected skipped cycle, got %d alerts", n)
	}

	failing := newTestFramework(t, Deps{Locker: &fakeLocker{err: errors.New("db down")}, LockKey: 7})
	if err := failing.Tick(ctx, testNow); err == nil {
		t.Fatal("expected lock error")
	}
}
