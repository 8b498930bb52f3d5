package forecast

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"revenue-analytics/internal/dict"
	"revenue-analytics/internal/series"
)

// Autocorrelation is the correlation of a series with itself at a lag.
type Autocorrelation struct {
	Lag   int     `json:"lag"`
	Value float64 `json:"value"`
}

// SeasonalPeriod is a detected autocorrelation peak.
type SeasonalPeriod struct {
	Periods     int     `json:"periods"`
	Strength    float64 `json:"strength"`
	Description string  `json:"description"`
}

// SeasonalityAnalysis is the result of DetectSeasonality.
type SeasonalityAnalysis struct {
	DataKey          string            `json:"data_key"`
	DataPoints       int               `json:"data_points"`
	Autocorrelations []Autocorrelation `json:"autocorrelations"`
	SeasonalPeriods  []SeasonalPeriod  `json:"seasonal_periods"`
	SeasonalFactors  []float64         `json:"seasonal_factors"`
	HasSeasonality   bool              `json:"has_seasonality"`
}

const peakThreshold = 0.3

func describePeriod(p int) string {
	switch p {
	case 4:
		return "Quarterly seasonality"
	case 12:
		return "Monthly seasonality"
	case 52, 53:
		return "Weekly seasonality"
	case 7:
		return "Day-of-week seasonality"
	case 24:
		return "Hourly seasonality"
	case 365, 366:
		return "Daily seasonality"
	}
	return fmt.Sprintf("%d-period seasonality", p)
}

// Autocorrelations computes lags 1..min(n/2, 24) using the population variance.
func Autocorrelations(values []float64) []Autocorrelation {
	n := len(values)
	mean := series.Mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance = series.SafeDiv(variance, float64(n))

	maxLag := n / 2
	if maxLag > 24 {
		maxLag = 24
	}
	out := make([]Autocorrelation, 0, maxLag)
	for lag := 1; lag <= maxLag; lag++ {
		num := 0.0
		for i := lag; i < n; i++ {
			num += (values[i] - mean) * (values[i-lag] - mean)
		}
		den := variance * float64(n-lag)
		v := 0.0
		if den > 0 {
			v = num / den
		}
		out = append(out, Autocorrelation{Lag: lag, Value: v})
	}
	return out
}

// DetectSeasonality looks for autocorrelation peaks in the series stored under key.
func (e *Engine) DetectSeasonality(key string, minPeriods int) (*SeasonalityAnalysis, error) {
	if key == "" {
		key = SeriesKey("", "")
	}
	if minPeriods <= 0 {
		minPeriods = 12
	}
	pts, err := e.historyFor(key)
	if err != nil {
		return nil, err
	}
	if len(pts) < minPeriods {
		return nil, fmt.Errorf("%w for seasonality detection (need at least %d)", ErrInsufficientData, minPeriods)
	}

	values := series.Values(series.Sorted(pts))
	acs := Autocorrelations(values)

	var peaks []Autocorrelation
	for i := 1; i < len(acs)-1; i++ {
		if acs[i].Value > acs[i-1].Value && acs[i].Value > acs[i+1].Value && acs[i].Value > peakThreshold {
			peaks = append(peaks, acs[i])
		}
	}
	sort.SliceStable(peaks, func(a, b int) bool { return peaks[a].Value > peaks[b].Value })

	res := &SeasonalityAnalysis{
		DataKey:          key,
		DataPoints:       len(values),
		Autocorrelations: acs,
		SeasonalPeriods:  []SeasonalPeriod{},
		SeasonalFactors:  []float64{},
	}
	for i, p := range peaks {
		if i == 3 {
			break
		}
		res.SeasonalPeriods = append(res.SeasonalPeriods, SeasonalPeriod{
			Periods:     p.Lag,
			Strength:    p.Value,
			Description: describePeriod(p.Lag),
		})
	}

	if len(res.SeasonalPeriods) > 0 {
		primary := res.SeasonalPeriods[0].Periods
		sums := make([]float64, primary)
		counts := make([]int, primary)
		for i, v := range values {
			sums[i%primary] += v
			counts[i%primary]++
		}
		avgs := make([]float64, primary)
		for i := range avgs {
			avgs[i] = series.SafeDiv(sums[i], float64(counts[i]))
		}
		overall := series.Mean(avgs)
		for _, a := range avgs {
			f := 1.0
			if overall > 0 {
				f = a / overall
			}
			res.SeasonalFactors = append(res.SeasonalFactors, f)
		}
	}
	res.HasSeasonality = len(res.SeasonalPeriods) > 0

	e.logger.Info().Str("key", key).Int("patterns", len(res.SeasonalPeriods)).Msg("seasonality detected")
	return res, nil
}

// Gap statuses.
const (
	Surplus = "surplus"
	Deficit = "deficit"
)

func gapStatus(gap float64) string {
	if gap <= 0 {
		return Surplus
	}
	return Deficit
}

// PeriodGap compares one forecast period against its target.
type PeriodGap struct {
	Period        int       `json:"period"`
	Timestamp     time.Time `json:"timestamp"`
	ForecastValue float64   `json:"forecast_value"`
	TargetValue   float64   `json:"target_value"`
	Gap           float64   `json:"gap"`
	GapPercentage float64   `json:"gap_percentage"`
	Status        string    `json:"status"`
}

// GapSummary totals a gap analysis.
type GapSummary struct {
	TotalGap             float64 `json:"total_gap"`
	TotalTarget          float64 `json:"total_target"`
	TotalForecast        float64 `json:"total_forecast"`
	OverallGapPercentage float64 `json:"overall_gap_percentage"`
	Status               string  `json:"status"`
}

// GapAnalysis compares a forecast against per-period targets.
type GapAnalysis struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	ForecastID string      `json:"forecast_id"`
	Gaps       []PeriodGap `json:"gaps"`
	Summary    GapSummary  `json:"summary"`
}

// AnalyzeGaps computes target-minus-forecast gaps for aligned periods.
func AnalyzeGaps(preds []Prediction, targets []float64) ([]PeriodGap, GapSummary, error) {
	if len(targets) != len(preds) {
		return nil, GapSummary{}, fmt.Errorf("%w: target values count (%d) does not match forecast periods (%d)", ErrLengthMismatch, len(targets), len(preds))
	}
	gaps := make([]PeriodGap, len(preds))
	var sum GapSummary
	for i, p := range preds {
		target := targets[i]
		gap := target - p.Value
		pct := 0.0
		if target > 0 {
			pct = gap / target * 100
		}
		gaps[i] = PeriodGap{
			Period:        i,
			Timestamp:     p.Timestamp,
			ForecastValue: p.Value,
			TargetValue:   target,
			Gap:           gap,
			GapPercentage: pct,
			Status:        gapStatus(gap),
		}
		sum.TotalGap += gap
		sum.TotalTarget += target
		sum.TotalForecast += p.Value
	}
	if sum.TotalTarget > 0 {
		sum.OverallGapPercentage = sum.TotalGap / sum.TotalTarget * 100
	}
	sum.Status = gapStatus(sum.TotalGap)
	return gaps, sum, nil
}

// IdentifyGaps runs and stores a gap analysis for a forecast.
func (e *Engine) IdentifyGaps(ctx context.Context, forecastID string, targets []float64) (*GapAnalysis, error) {
	f, err := e.Forecast(forecastID)
	if err != nil {
		return nil, err
	}
	gaps, sum, err := AnalyzeGaps(f.Predictions, targets)
	if err != nil {
		return nil, err
	}
	a := &GapAnalysis{ID: uuid.NewString(), Timestamp: e.now(), ForecastID: forecastID, Gaps: gaps, Summary: sum}
	e.gaps.Put(a.ID, a)
	e.save(ctx)

	e.logger.Info().
		Str("forecast_id", forecastID).
		Float64("total_gap", sum.TotalGap).
		Float64("gap_pct", sum.OverallGapPercentage).
		Msg("revenue gaps identified")
	return a, nil
}

// Warning levels, most to least severe.
const (
	LevelCritical = "critical"
	LevelHigh     = "high"
	LevelMedium   = "medium"
	LevelLow      = "low"
	LevelInfo     = "info"
)

// Thresholds are the |gap%| cut-offs for each warning level.
type Thresholds struct {
	Low      float64 `json:"low" mapstructure:"low"`
	Medium   float64 `json:"medium" mapstructure:"medium"`
	High     float64 `json:"high" mapstructure:"high"`
	Critical float64 `json:"critical" mapstructure:"critical"`
}

// DefaultThresholds are 5/10/20/30 percent.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 5, Medium: 10, High: 20, Critical: 30}
}

// Level classifies an absolute gap percentage.
func (t Thresholds) Level(gapPct float64) string {
	switch {
	case gapPct >= t.Critical:
		return LevelCritical
	case gapPct >= t.High:
		return LevelHigh
	case gapPct >= t.Medium:
		return LevelMedium
	case gapPct >= t.Low:
		return LevelLow
	}
	return LevelInfo
}

// Warning flags a deficit period.
type Warning struct {
	Period        int       `json:"period"`
	Timestamp     time.Time `json:"timestamp"`
	Level         string    `json:"level"`
	Gap           float64   `json:"gap"`
	GapPercentage float64   `json:"gap_percentage"`
	Message       string    `json:"message"`
}

// WarningSummary counts warnings per level.
type WarningSummary struct {
	TotalWarnings int            `json:"total_warnings"`
	ByLevel       map[string]int `json:"by_level"`
}

// WarningReport is the output of EarlyWarnings.
type WarningReport struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	ForecastID    string         `json:"forecast_id"`
	GapAnalysisID string         `json:"gap_analysis_id"`
	Thresholds    Thresholds     `json:"thresholds"`
	Warnings      []Warning      `json:"warnings"`
	Summary       WarningSummary `json:"summary"`
}

// ClassifyWarnings turns deficit periods into leveled warnings; surplus periods never warn.
func ClassifyWarnings(gaps []PeriodGap, t Thresholds) []Warning {
	out := []Warning{}
	for _, g := range gaps {
		if g.Status != Deficit {
			continue
		}
		out = append(out, Warning{
			Period:        g.Period,
			Timestamp:     g.Timestamp,
			Level:         t.Level(math.Abs(g.GapPercentage)),
			Gap:           g.Gap,
			GapPercentage: g.GapPercentage,
			Message:       fmt.Sprintf("Revenue shortfall of %.2f (%.2f%%)", g.Gap, g.GapPercentage),
		})
	}
	return out
}

// EarlyWarnings runs a gap analysis and classifies its deficit periods. A nil
// thresholds value selects DefaultThresholds.
func (e *Engine) EarlyWarnings(ctx context.Context, forecastID string, targets []float64, thresholds *Thresholds) (*WarningReport, error) {
	t := DefaultThresholds()
	if thresholds != nil {
		t = *thresholds
	}
	analysis, err := e.IdentifyGaps(ctx, forecastID, targets)
	if err != nil {
		return nil, err
	}

	warnings := ClassifyWarnings(analysis.Gaps, t)
	byLevel := map[string]int{LevelInfo: 0, LevelLow: 0, LevelMedium: 0, LevelHigh: 0, LevelCritical: 0}
	for _, w := range warnings {
		byLevel[w.Level]++
	}
	r := &WarningReport{
		ID:            uuid.NewString(),
		Timestamp:     e.now(),
		ForecastID:    forecastID,
		GapAnalysisID: analysis.ID,
		Thresholds:    t,
		Warnings:      warnings,
		Summary:       WarningSummary{TotalWarnings: len(warnings), ByLevel: byLevel},
	}
	e.warnings.Put(r.ID, r)
	e.save(ctx)

	e.logger.Info().Str("forecast_id", forecastID).Int("warnings", len(warnings)).Msg("early warnings generated")
	return r, nil
}

// PeriodResources are the resource needs of one forecast period.
type PeriodResources struct {
	Period    int                `json:"period"`
	Timestamp time.Time          `json:"timestamp"`
	Revenue   float64            `json:"revenue"`
	Resources map[string]float64 `json:"resources"`
}

// ResourceForecast scales forecast revenue into resource requirements.
type ResourceForecast struct {
	ID              string             `json:"id"`
	Timestamp       time.Time          `json:"timestamp"`
	ForecastID      string             `json:"forecast_id"`
	ResourceFactors map[string]float64 `json:"resource_factors"`
	Resources       []PeriodResources  `json:"resources"`
	Summary         struct {
		TotalRevenue   float64            `json:"total_revenue"`
		TotalResources map[string]float64 `json:"total_resources"`
	} `json:"summary"`
}

// ResourceRequirements multiplies each period's revenue by every resource factor.
func (e *Engine) ResourceRequirements(ctx context.Context, forecastID string, factors map[string]float64) (*ResourceForecast, error) {
	f, err := e.Forecast(forecastID)
	if err != nil {
		return nil, err
	}
	r := &ResourceForecast{
		ID:              uuid.NewString(),
		Timestamp:       e.now(),
		ForecastID:      forecastID,
		ResourceFactors: factors,
		Resources:       make([]PeriodResources, len(f.Predictions)),
	}
	for i, p := range f.Predictions {
		res := make(map[string]float64, len(factors))
		for kind, factor := range factors {
			res[kind] = p.Value * factor
		}
		r.Resources[i] = PeriodResources{Period: i, Timestamp: p.Timestamp, Revenue: p.Value, Resources: res}
		r.Summary.TotalRevenue += p.Value
	}
	r.Summary.TotalResources = make(map[string]float64, len(factors))
	for kind, factor := range factors {
		r.Summary.TotalResources[kind] = r.Summary.TotalRevenue * factor
	}
	e.resources.Put(r.ID, r)
	e.save(ctx)

	e.logger.Info().Str("forecast_id", forecastID).Int("resource_types", len(factors)).Msg("resource requirements forecast")
	return r, nil
}

// PeriodAccuracy compares one forecast period with the realised value.
type PeriodAccuracy struct {
	Period          int       `json:"period"`
	Timestamp       time.Time `json:"timestamp"`
	ForecastValue   float64   `json:"forecast_value"`
	ActualValue     float64   `json:"actual_value"`
	Error           float64   `json:"error"`
	AbsoluteError   float64   `json:"absolute_error"`
	SquaredError    float64   `json:"squared_error"`
	PercentageError float64   `json:"percentage_error"`
}

// AccuracyMetrics are the aggregate error statistics.
type AccuracyMetrics struct {
	MAE  float64 `json:"mae"`
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
	Bias float64 `json:"bias"`
}

// AccuracySummary totals actual against forecast.
type AccuracySummary struct {
	TotalActual            float64 `json:"total_actual"`
	TotalForecast          float64 `json:"total_forecast"`
	OverallError           float64 `json:"overall_error"`
	OverallErrorPercentage float64 `json:"overall_error_percentage"`
}

// AccuracyReport evaluates a past forecast.
type AccuracyReport struct {
	ID         string           `json:"id"`
	Timestamp  time.Time        `json:"timestamp"`
	ForecastID string           `json:"forecast_id"`
	Periods    []PeriodAccuracy `json:"periods"`
	Metrics    AccuracyMetrics  `json:"metrics"`
	Summary    AccuracySummary  `json:"summary"`
}

// MeasureAccuracy compares predictions with actuals. Extra actuals are ignored;
// too few is an error. MAPE only counts periods whose actual is positive.
func MeasureAccuracy(preds []Prediction, actual []float64) ([]PeriodAccuracy, AccuracyMetrics, AccuracySummary, error) {
	if len(actual) < len(preds) {
		return nil, AccuracyMetrics{}, AccuracySummary{}, fmt.Errorf("%w: not enough actual values (%d) to evaluate forecast (%d periods)", ErrLengthMismatch, len(actual), len(preds))
	}
	actual = actual[:len(preds)]

	periods := make([]PeriodAccuracy, len(preds))
	var sum AccuracySummary
	var absTotal, sqTotal, mapeSum float64
	mapeCount := 0
	for i, p := range preds {
		a := actual[i]
		diff := a - p.Value
		pa := PeriodAccuracy{
			Period:        i,
			Timestamp:     p.Timestamp,
			ForecastValue: p.Value,
			ActualValue:   a,
			Error:         diff,
			AbsoluteError: math.Abs(diff),
			SquaredError:  diff * diff,
		}
		if a > 0 {
			pa.PercentageError = pa.AbsoluteError / a * 100
			mapeSum += pa.PercentageError
			mapeCount++
		}
		periods[i] = pa
		sum.TotalActual += a
		sum.TotalForecast += p.Value
		absTotal += pa.AbsoluteError
		sqTotal += pa.SquaredError
	}

	var m AccuracyMetrics
	n := float64(len(preds))
	m.MAE = series.SafeDiv(absTotal, n)
	m.MSE = series.SafeDiv(sqTotal, n)
	m.RMSE = math.Sqrt(m.MSE)
	m.MAPE = series.SafeDiv(mapeSum, float64(mapeCount))
	if sum.TotalActual > 0 {
		m.Bias = (sum.TotalForecast - sum.TotalActual) / sum.TotalActual * 100
		sum.OverallErrorPercentage = (sum.TotalActual - sum.TotalForecast) / sum.TotalActual * 100
	}
	sum.OverallError = sum.TotalActual - sum.TotalForecast
	return periods, m, sum, nil
}

// Accuracy evaluates a stored forecast against realised values and refreshes the
// fit statistics of the model that produced it.
func (e *Engine) Accuracy(ctx context.Context, forecastID string, actual []float64) (*AccuracyReport, error) {
	f, err := e.Forecast(forecastID)
	if err != nil {
		return nil, err
	}
	periods, metrics, summary, err := MeasureAccuracy(f.Predictions, actual)
	if err != nil {
		return nil, err
	}
	if m, ok := e.models.Get(f.Model.ID); ok {
		if _, err := m.Info().Evaluate(actual[:len(f.Predictions)], f.Values(), e.now()); err != nil {
			e.logger.Warn().Err(err).Str("model_id", f.Model.ID).Msg("model evaluation skipped")
		}
	}

	r := &AccuracyReport{
		ID:         uuid.NewString(),
		Timestamp:  e.now(),
		ForecastID: forecastID,
		Periods:    periods,
		Metrics:    metrics,
		Summary:    summary,
	}
	e.accuracy.Put(r.ID, r)
	e.save(ctx)

	e.logger.Info().Str("forecast_id", forecastID).Float64("mape", metrics.MAPE).Msg("forecast accuracy calculated")
	return r, nil
}

// Report bundles a forecast with selected scenarios, a warning report and a gap
// analysis. Unknown ids are logged and left out.
type Report struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Title       string         `json:"title"`
	Forecast    *Forecast      `json:"forecast"`
	Scenarios   []*Scenario    `json:"scenarios"`
	Warnings    *WarningReport `json:"warnings"`
	GapAnalysis *GapAnalysis   `json:"gap_analysis"`
}

// ForecastReport assembles a Report.
func (e *Engine) ForecastReport(forecastID string, scenarioIDs []string, warningID, gapID string) (*Report, error) {
	f, err := e.Forecast(forecastID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	r := &Report{
		ID:        uuid.NewString(),
		Timestamp: now,
		Title:     "Revenue Forecast Report - " + now.Format("2006-01-02"),
		Forecast:  f,
		Scenarios: []*Scenario{},
	}
	for _, id := range scenarioIDs {
		s, ok := e.scenarios.Get(id)
		if !ok {
			e.logger.Warn().Str("scenario_id", id).Msg("scenario not found")
			continue
		}
		r.Scenarios = append(r.Scenarios, s)
	}
	if warningID != "" {
		if w, ok := e.warnings.Get(warningID); ok {
			r.Warnings = w
		} else {
			e.logger.Warn().Str("warning_id", warningID).Msg("warning report not found")
		}
	}
	if gapID != "" {
		if g, ok := e.gaps.Get(gapID); ok {
			r.GapAnalysis = g
		} else {
			e.logger.Warn().Str("gap_analysis_id", gapID).Msg("gap analysis not found")
		}
	}
	return r, nil
}

// ToDict exports the forecast for the graph-store collaborator.
func (f *Forecast) ToDict() (map[string]any, error) {
	return dict.From(f)
}

// ForecastFromDict rebuilds a forecast exported with ToDict.
func ForecastFromDict(m map[string]any) (*Forecast, error) {
	return dict.Into[*Forecast](m)
}
