package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"revenue-analytics/internal/config"
	"revenue-analytics/internal/series"
	"revenue-analytics/internal/service"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	a.Progress = io.Discard
	return a, &out
}

func openRuntime(t *testing.T, a *App) *Runtime {
	t.Helper()
	rt, err := a.Open(context.Background())
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func TestOpenWiresFramework(t *testing.T) {
	a, _ := newTestApp(t)
	rt := openRuntime(t, a)

	if got := len(rt.Framework.Operations()); got == 0 {
		t.Fatal("expected registered operations")
	}
	res := rt.Framework.Execute(context.Background(), "set_revenue_goal", map[string]any{
		"name":         "Q3",
		"target_value": 1000,
		"end_date":     "2030-09-30",
	})
	if res["status"] != service.StatusSuccess {
		t.Fatalf("unexpected result %v", res)
	}

	families, err := rt.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "revenue_operations_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected operation counter in registry")
	}
}

func TestExecUnknownOperation(t *testing.T) {
	a, _ := newTestApp(t)
	res, err := a.Exec(context.Background(), "nope", nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res["status"] != service.StatusError || res["message"] != "unknown operation: nope" {
		t.Fatalf("unexpected result %v", res)
	}
}

func TestWriteReportFormats(t *testing.T) {
	a, _ := newTestApp(t)
	rt := openRuntime(t, a)
	ctx := context.Background()
	rt.Framework.Execute(ctx, "set_revenue_goal", map[string]any{
		"name":         "Annual",
		"target_value": 1000,
		"end_date":     "2030-12-31",
	})

	var yml bytes.Buffer
	if err := writeReport(ctx, rt.Framework, &yml, ReportOptions{Format: "yaml"}); err != nil {
		t.Fatalf("yaml report: %v", err)
	}
	if !strings.Contains(yml.String(), "total_target_value: 1000") {
		t.Fatalf("unexpected yaml report:\n%s", yml.String())
	}

	var js bytes.Buffer
	if err := writeReport(ctx, rt.Framework, &js, ReportOptions{}); err != nil {
		t.Fatalf("json report: %v", err)
	}
	if !strings.Contains(js.String(), `"total_target_value": 1000`) {
		t.Fatalf("unexpected json report:\n%s", js.String())
	}

	if err := writeReport(ctx, rt.Framework, io.Discard, ReportOptions{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestIngestHistory(t *testing.T) {
	a, _ := newTestApp(t)
	rt := openRuntime(t, a)

	csvData := "timestamp,value\n2025-01-01,100\n2025-02-01,110.5\nnot-a-date,1\n"
	res, err := a.ingest(context.Background(), rt.Framework, strings.NewReader(csvData), IngestOptions{Kind: IngestHistory, Channel: "search"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Rows != 3 || res.Applied != 2 || res.Rejected != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	hist := rt.Framework.Forecasting().History("search:all")
	if len(hist) != 2 || hist[1].Value != 110.5 {
		t.Fatalf("unexpected history %v", hist)
	}
}

func TestIngestTouchpointsAndConversions(t *testing.T) {
	a, _ := newTestApp(t)
	rt := openRuntime(t, a)
	ctx := context.Background()

	touches := "customer_id,channel,cost,timestamp\nc1,search,10,2025-01-01T00:00:00Z\n,search,5,\n"
	res, err := a.ingest(ctx, rt.Framework, strings.NewReader(touches), IngestOptions{Kind: IngestTouchpoints})
	if err != nil {
		t.Fatalf("ingest touchpoints: %v", err)
	}
	if res.Applied != 1 || res.Rejected != 1 {
		t.Fatalf("unexpected touchpoint result %+v", res)
	}

	conversions := "customer_id,value\nc1,200\n"
	res, err = a.ingest(ctx, rt.Framework, strings.NewReader(conversions), IngestOptions{Kind: IngestConversions})
	if err != nil {
		t.Fatalf("ingest conversions: %v", err)
	}
	if res.Applied != 1 {
		t.Fatalf("unexpected conversion result %+v", res)
	}

	m := rt.Framework.Attribution().ChannelMetrics(nil, nil)["search"]
	if m == nil || m.Conversions != 1 || math.Abs(m.RevenueContribution-200) > 1e-9 {
		t.Fatalf("unexpected channel metrics %+v", m)
	}

	if _, err := a.ingest(ctx, rt.Framework, strings.NewReader(conversions), IngestOptions{Kind: "orders"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := a.ingest(ctx, rt.Framework, strings.NewReader("customer_id\n"), IngestOptions{Kind: IngestTouchpoints}); err == nil {
		t.Fatal("expected error for csv without rows")
	}
}

func TestSimulateIsReproducible(t *testing.T) {
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	opts := SimulateOptions{Customers: 40, Days: 14, Seed: 7}

	run := func() SimulationSummary {
		a, _ := newTestApp(t)
		rt := openRuntime(t, a)
		summary, err := a.simulate(context.Background(), rt.Framework, opts, end)
		if err != nil {
			t.Fatalf("simulate: %v", err)
		}
		if got := len(rt.Framework.Forecasting().History("all:all")); got != opts.Days {
			t.Fatalf("expected %d history points, got %d", opts.Days, got)
		}
		return summary
	}

	first, second := run(), run()
	if first != second {
		t.Fatalf("expected identical summaries, got %+v and %+v", first, second)
	}
	if first.Touchpoints < opts.Customers || first.HistoryDays != opts.Days {
		t.Fatalf("unexpected summary %+v", first)
	}
}

func TestSimulateRejectsEmptyPopulation(t *testing.T) {
	a, _ := newTestApp(t)
	rt := openRuntime(t, a)
	if _, err := a.simulate(context.Background(), rt.Framework, SimulateOptions{Days: 3}, time.Now()); err == nil {
		t.Fatal("expected error for zero customers")
	}
}

func TestShowTables(t *testing.T) {
	a, out := newTestApp(t)
	rt := openRuntime(t, a)
	ctx := context.Background()
	rt.Framework.Execute(ctx, "track_touchpoint", map[string]any{"customer_id": "c1", "channel": "email", "cost": 12.5})

	if err := a.showTable(rt.Framework, ShowOptions{What: "channels"}); err != nil {
		t.Fatalf("show channels: %v", err)
	}
	if !strings.Contains(out.String(), "email") || !strings.Contains(out.String(), "12.50") {
		t.Fatalf("unexpected table:\n%s", out.String())
	}

	out.Reset()
	if err := a.showTable(rt.Framework, ShowOptions{What: "alerts"}); err != nil {
		t.Fatalf("show alerts: %v", err)
	}
	if !strings.Contains(out.String(), "no active alerts") {
		t.Fatalf("unexpected table:\n%s", out.String())
	}

	if err := a.showTable(rt.Framework, ShowOptions{What: "samples"}); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestExportCSV(t *testing.T) {
	a, _ := newTestApp(t)
	rt := openRuntime(t, a)
	ctx := context.Background()

	data := []map[string]any{}
	for i := 0; i < 6; i++ {
		data = append(data, map[string]any{
			"timestamp": time.Date(2025, time.Month(i+1), 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
			"value":     100,
		})
	}
	rt.Framework.Execute(ctx, "load_history", map[string]any{"data": data})
	fc := rt.Framework.Execute(ctx, "forecast_revenue", map[string]any{"periods": 3})
	if fc["status"] != service.StatusSuccess {
		t.Fatalf("forecast failed: %v", fc)
	}

	lines, err := collectExport(rt.Framework.Forecasting(), ExportOptions{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(lines) != 2 || lines[0].Kind != kindHistory || lines[1].Kind != kindForecast {
		t.Fatalf("unexpected lines %+v", lines)
	}

	path := filepath.Join(t.TempDir(), "out", "revenue.csv")
	if err := writeSeriesCSV(path, lines); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 1+6+3 {
		t.Fatalf("expected 10 records, got %d", len(records))
	}
	if records[1][0] != "history" || records[1][3] != "100.00" {
		t.Fatalf("unexpected first row %v", records[1])
	}
}

func TestDownsampleKeepsEndpoints(t *testing.T) {
	points := make([]series.Point, 10)
	for i := range points {
		points[i] = series.Point{Value: float64(i)}
	}
	got := downsample(points, 4)
	if len(got) != 4 || got[0].Value != 0 || got[3].Value != 9 {
		t.Fatalf("unexpected downsample %v", got)
	}
	if len(downsample(points, 0)) != 10 {
		t.Fatal("expected no downsampling without a limit")
	}
}
