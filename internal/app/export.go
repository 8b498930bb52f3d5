package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"revenue-analytics/internal/forecast"
	"revenue-analytics/internal/series"
)

// Series kinds written by the exporter.
const (
	kindHistory  = "history"
	kindForecast = "forecast"
)

// exportSeries is one named line of the export.
type exportSeries struct {
	Kind   string
	Name   string
	Points []series.Point
}

// Export renders a series' history with a forecast and its scenarios as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	rt, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	lines, err := collectExport(rt.Framework.Forecasting(), opts)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		a.Logger.Info().Msg("nothing to export")
		return nil
	}
	for i := range lines {
		lines[i].Points = downsample(lines[i].Points, opts.MaxPoints)
	}
	a.Logger.Info().Int("series", len(lines)).Msg("exporting revenue series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, lines); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, lines); err != nil {
			return err
		}
	}
	return nil
}

func collectExport(engine *forecast.Engine, opts ExportOptions) ([]exportSeries, error) {
	var lines []exportSeries
	key := forecast.SeriesKey(opts.Channel, opts.Segment)
	if hist := engine.History(key); len(hist) > 0 {
		lines = append(lines, exportSeries{Kind: kindHistory, Name: key, Points: hist})
	}

	var fc *forecast.Forecast
	if opts.ForecastID != "" {
		found, err := engine.Forecast(opts.ForecastID)
		if err != nil {
			return nil, err
		}
		fc = found
	} else if latest, ok := engine.LatestForecast(); ok {
		fc = latest
	}
	if fc == nil {
		return lines, nil
	}

	lines = append(lines, exportSeries{Kind: kindForecast, Name: fc.Model.Name, Points: toPoints(fc.Predictions)})
	for _, s := range engine.Scenarios() {
		if s.BaseForecastID != fc.ID {
			continue
		}
		lines = append(lines, exportSeries{Kind: "scenario", Name: s.Name, Points: toPoints(s.Predictions)})
	}
	return lines, nil
}

func toPoints(preds []forecast.Prediction) []series.Point {
	out := make([]series.Point, len(preds))
	for i, p := range preds {
		out[i] = series.Point{Timestamp: p.Timestamp, Value: p.Value}
	}
	return out
}

func downsample(points []series.Point, max int) []series.Point {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]series.Point, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeSeriesCSV(path string, lines []exportSeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"kind", "name", "timestamp", "value"}); err != nil {
		return err
	}
	for _, line := range lines {
		for _, p := range line.Points {
			record := []string{
				line.Kind,
				line.Name,
				p.Timestamp.UTC().Format(time.RFC3339),
				formatMoney(p.Value),
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path string, lines []exportSeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	moneyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Revenue",
			ValueFormatter: moneyFormatter,
		},
	}
	for _, line := range lines {
		if len(line.Points) < 2 {
			continue
		}
		x := make([]time.Time, len(line.Points))
		y := make([]float64, len(line.Points))
		for i, p := range line.Points {
			x[i] = p.Timestamp
			y[i] = p.Value
		}
		ts := chart.TimeSeries{Name: line.Kind + ": " + line.Name, XValues: x, YValues: y}
		if line.Kind != kindHistory {
			ts.Style = chart.Style{StrokeDashArray: []float64{5, 5}, StrokeWidth: 2}
		}
		graph.Series = append(graph.Series, ts)
	}
	if len(graph.Series) == 0 {
		return errors.New("chart needs at least one series with two points")
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatMoney(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
