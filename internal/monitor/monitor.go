package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"revenue-analytics/internal/series"
	"revenue-analytics/internal/storage"
)

// ErrAlertNotFound indicates an unknown alert id.
var ErrAlertNotFound = errors.New("alert not found")

// Trend is the direction of the last three observations.
type Trend string

const (
	Increasing Trend = "increasing"
	Declining  Trend = "declining"
	Stable     Trend = "stable"
)

// Thresholds tune the detectors.
type Thresholds struct {
	ZScore               float64
	DeviationPct         float64
	CriticalDeviationPct float64
	UnderperformRatio    float64
	ForecastDeviationPct float64
}

// DefaultThresholds are the stock detector settings.
var DefaultThresholds = Thresholds{
	ZScore:               2.0,
	DeviationPct:         20,
	CriticalDeviationPct: 50,
	UnderperformRatio:    0.7,
	ForecastDeviationPct: 20,
}

// trendMetrics are the metric names whose trends raise alerts.
var trendMetrics = map[string]struct{}{
	"revenue":         {},
	"conversion_rate": {},
	"roi":             {},
}

// MetricsEntry is one recorded snapshot of named metric values.
type MetricsEntry struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Source    string             `json:"source,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Query filters the metrics history. Zero fields match everything.
type Query struct {
	Metric string
	Start  *time.Time
	End    *time.Time
	Source string
}

// GoalProgress is the view of a goal the at-risk detector needs.
type GoalProgress struct {
	ID           string
	Name         string
	TargetValue  float64
	CurrentValue float64
	Progress     float64
	EndDate      *time.Time
}

// ForecastCheck pairs a forecast's predictions with observed values.
type ForecastCheck struct {
	ForecastID  string
	Metric      string
	Predictions []series.Point
	Actual      []float64
}

// MetricSummary describes one metric over the summary period.
type MetricSummary struct {
	Latest        float64 `json:"latest"`
	Average       float64 `json:"average"`
	Minimum       float64 `json:"minimum"`
	Maximum       float64 `json:"maximum"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
}

// AlertCounts tallies active alerts by severity.
type AlertCounts struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Info     int `json:"info"`
}

// Summary is the performance summary over a period.
type Summary struct {
	Period struct {
		StartDate time.Time `json:"start_date"`
		EndDate   time.Time `json:"end_date"`
	} `json:"period"`
	Metrics map[string]MetricSummary `json:"metrics"`
	Trends  map[string]Trend         `json:"trends"`
	Alerts  AlertCounts              `json:"alerts"`
}

// Sink receives every alert the monitor raises.
type Sink interface {
	Deliver(ctx context.Context, alert Alert)
}

type metricsSnapshot struct {
	Entries []*MetricsEntry `json:"entries"`
}

type alertsSnapshot struct {
	Alerts []*Alert `json:"alerts"`
}

// Monitor tracks metric history and the alerts derived from it.
type Monitor struct {
	entries       []*MetricsEntry
	alerts        []*Alert
	thresholds    Thresholds
	sink          Sink
	metricPersist *storage.Persister
	alertPersist  *storage.Persister
	logger        zerolog.Logger
	now           func() time.Time
}

// New builds a monitor. Either persister may be nil.
func New(thresholds Thresholds, metricPersist, alertPersist *storage.Persister, logger zerolog.Logger) *Monitor {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds
	}
	return &Monitor{
		thresholds:    thresholds,
		metricPersist: metricPersist,
		alertPersist:  alertPersist,
		logger:        logger.With().Str("component", "monitor").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the monitor clock.
func (m *Monitor) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// SetSink attaches an alert delivery target.
func (m *Monitor) SetSink(s Sink) {
	m.sink = s
}

// Thresholds returns the active detector settings.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Load restores metrics history and alerts. It reports whether either snapshot was applied.
func (m *Monitor) Load(ctx context.Context) bool {
	loaded := false
	var ms metricsSnapshot
	if m.metricPersist.Load(ctx, &ms) {
		m.entries = m.entries[:0]
		for _, e := range ms.Entries {
			if e != nil && e.ID != "" {
				m.entries = append(m.entries, e)
			}
		}
		loaded = true
	}
	var as alertsSnapshot
	if m.alertPersist.Load(ctx, &as) {
		m.alerts = m.alerts[:0]
		for _, a := range as.Alerts {
			if a != nil && a.ID != "" {
				m.alerts = append(m.alerts, a)
			}
		}
		loaded = true
	}
	if loaded {
		m.logger.Info().Int("entries", len(m.entries)).Int("alerts", len(m.alerts)).Msg("monitor state restored")
	}
	return loaded
}

func (m *Monitor) saveMetrics(ctx context.Context) {
	m.metricPersist.Save(ctx, metricsSnapshot{Entries: m.entries})
}

func (m *Monitor) saveAlerts(ctx context.Context) {
	m.alertPersist.Save(ctx, alertsSnapshot{Alerts: m.alerts})
}

// RecordMetrics stores a metrics snapshot and analyses each value against its
// history. It returns the entry and any alerts raised.
func (m *Monitor) RecordMetrics(ctx context.Context, values map[string]float64, ts *time.Time, source string) (*MetricsEntry, []Alert) {
	at := m.now()
	if ts != nil {
		at = *ts
	}
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	entry := &MetricsEntry{ID: shortID("metrics"), Timestamp: at, Source: source, Metrics: copied}

	// history is taken before the entry is appended
	raised := m.analyze(ctx, entry)

	m.entries = append(m.entries, entry)
	m.saveMetrics(ctx)
	m.logger.Debug().Str("entry_id", entry.ID).Int("metrics", len(copied)).Int("alerts", len(raised)).Msg("metrics recorded")
	return entry, raised
}

func (m *Monitor) analyze(ctx context.Context, entry *MetricsEntry) []Alert {
	names := make([]string, 0, len(entry.Metrics))
	for name := range entry.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var raised []Alert
	for _, name := range names {
		value := entry.Metrics[name]
		history := m.Series(Query{Metric: name})
		if len(history) < 3 {
			continue
		}
		anomalous, deviation := DetectAnomaly(series.Values(history), value, m.thresholds)
		if anomalous {
			sev := Warning
			if deviation > m.thresholds.CriticalDeviationPct {
				sev = Critical
			}
			raised = append(raised, m.raise(ctx, AnomalyDetected, sev,
				fmt.Sprintf("Anomaly detected in %s: %g (deviation: %.2f%%)", name, value, deviation),
				map[string]float64{name: value}, "", EntityMetric))
		}

		lower := strings.ToLower(name)
		if _, watched := trendMetrics[lower]; !watched {
			continue
		}
		withCurrent := append(append([]series.Point(nil), history...), series.Point{Timestamp: entry.Timestamp, Value: value})
		switch DetectTrend(withCurrent) {
		case Declining:
			kind := RevenueDecline
			if strings.Contains(lower, "conversion") {
				kind = ConversionDecline
			}
			raised = append(raised, m.raise(ctx, kind, Warning,
				fmt.Sprintf("Declining trend detected in %s", name),
				map[string]float64{name: value}, "", EntityMetric))
		case Increasing:
			raised = append(raised, m.raise(ctx, OpportunityIdentified, Info,
				fmt.Sprintf("Positive trend detected in %s", name),
				map[string]float64{name: value}, "", EntityMetric))
		}
	}
	return raised
}

// DetectAnomaly compares current against the history's mean and population
// standard deviation. It returns whether both the z-score and the percentage
// deviation exceed their thresholds, along with the percentage deviation.
func DetectAnomaly(history []float64, current float64, t Thresholds) (bool, float64) {
	if len(history) == 0 {
		return false, 0
	}
	mean := series.Mean(history)
	sd := series.StdDev(history)
	z := 0.0
	if sd > 0 {
		z = math.Abs(current-mean) / sd
	}
	deviation := 0.0
	if mean > 0 {
		deviation = math.Abs(current-mean) / mean * 100
	}
	return z > t.ZScore && deviation > t.DeviationPct, deviation
}

// DetectTrend inspects the last three points in time order.
func DetectTrend(points []series.Point) Trend {
	if len(points) < 3 {
		return Stable
	}
	sorted := series.Sorted(points)
	last := sorted[len(sorted)-3:]
	a, b, c := last[0].Value, last[1].Value, last[2].Value
	switch {
	case a < b && b < c:
		return Increasing
	case a > b && b > c:
		return Declining
	}
	return Stable
}

// MonitorGoals raises an alert for each goal behind its straight-line pace.
func (m *Monitor) MonitorGoals(ctx context.Context, goals []GoalProgress) []Alert {
	now := m.now()
	var raised []Alert
	for _, g := range goals {
		if g.EndDate == nil {
			continue
		}
		daysRemaining := int(math.Floor(g.EndDate.Sub(now).Hours() / 24))
		if daysRemaining <= 0 || g.Progress >= float64(100-daysRemaining) {
			continue
		}
		sev := Warning
		if g.Progress < 25 && daysRemaining < 7 {
			sev = Critical
		}
		name := g.Name
		if name == "" {
			name = "Unknown Goal"
		}
		raised = append(raised, m.raise(ctx, GoalAtRisk, sev,
			fmt.Sprintf("Goal '%s' is at risk: %.1f%% complete with %d days remaining", name, g.Progress, daysRemaining),
			map[string]float64{
				"target_value":   g.TargetValue,
				"current_value":  g.CurrentValue,
				"progress":       g.Progress,
				"days_remaining": float64(daysRemaining),
			}, g.ID, EntityGoal))
	}
	return raised
}

// MonitorChannels raises an alert for each channel with at least one metric
// below the configured fraction of the cross-channel average.
func (m *Monitor) MonitorChannels(ctx context.Context, channels map[string]map[string]float64) []Alert {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, metrics := range channels {
		for name, v := range metrics {
			sums[name] += v
			counts[name]++
		}
	}

	names := make([]string, 0, len(channels))
	for ch := range channels {
		names = append(names, ch)
	}
	sort.Strings(names)

	var raised []Alert
	for _, ch := range names {
		under := make(map[string]float64)
		for name, v := range channels[ch] {
			avg := series.SafeDiv(sums[name], float64(counts[name]))
			if avg > 0 && v < avg*m.thresholds.UnderperformRatio {
				under[name] = v
			}
		}
		if len(under) == 0 {
			continue
		}
		raised = append(raised, m.raise(ctx, ChannelUnderperforming, Warning,
			fmt.Sprintf("Channel '%s' is underperforming in %d metrics", ch, len(under)),
			under, ch, EntityChannel))
	}
	return raised
}

// MonitorForecast compares predictions to actual values period by period.
func (m *Monitor) MonitorForecast(ctx context.Context, check ForecastCheck) []Alert {
	metric := check.Metric
	if metric == "" {
		metric = "revenue"
	}
	n := min(len(check.Predictions), len(check.Actual))
	var raised []Alert
	for i := 0; i < n; i++ {
		predicted := check.Predictions[i].Value
		actual := check.Actual[i]
		deviation := 0.0
		if predicted > 0 {
			deviation = math.Abs(actual-predicted) / predicted * 100
		}
		if deviation <= m.thresholds.ForecastDeviationPct {
			continue
		}
		sev := Warning
		if deviation > m.thresholds.CriticalDeviationPct {
			sev = Critical
		}
		direction := "above"
		if actual < predicted {
			direction = "below"
		}
		raised = append(raised, m.raise(ctx, ForecastDeviation, sev,
			fmt.Sprintf("%s is %.1f%% %s forecast for %s", capitalize(metric), deviation, direction,
				check.Predictions[i].Timestamp.Format("2006-01-02")),
			map[string]float64{
				"forecast_value":    predicted,
				"actual_value":      actual,
				"deviation_percent": deviation,
			}, check.ForecastID, EntityForecast))
	}
	return raised
}

func (m *Monitor) raise(ctx context.Context, kind AlertType, sev Severity, msg string, metrics map[string]float64, entityID, entityType string) Alert {
	if metrics == nil {
		metrics = map[string]float64{}
	}
	a := &Alert{
		ID:         shortID("alert"),
		Type:       kind,
		Severity:   sev,
		Message:    msg,
		Metrics:    metrics,
		EntityID:   entityID,
		EntityType: entityType,
		Timestamp:  m.now(),
		Status:     StatusActive,
	}
	m.alerts = append(m.alerts, a)
	m.saveAlerts(ctx)
	m.logger.Info().Str("alert_id", a.ID).Str("type", string(kind)).Str("severity", string(sev)).Msg(msg)
	if m.sink != nil {
		m.sink.Deliver(ctx, *a)
	}
	return *a
}

// Resolve marks an alert resolved.
func (m *Monitor) Resolve(ctx context.Context, id string) (Alert, error) {
	for _, a := range m.alerts {
		if a.ID != id {
			continue
		}
		now := m.now()
		a.Status = StatusResolved
		a.ResolvedAt = &now
		m.saveAlerts(ctx)
		m.logger.Info().Str("alert_id", id).Msg("alert resolved")
		return *a, nil
	}
	return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// ActiveAlerts lists open alerts matching f in creation order.
func (m *Monitor) ActiveAlerts(f AlertFilter) []Alert {
	out := make([]Alert, 0)
	for _, a := range m.alerts {
		if a.Active() && f.Match(a) {
			out = append(out, *a)
		}
	}
	return out
}

// Alerts lists every alert, resolved ones included.
func (m *Monitor) Alerts() []Alert {
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, *a)
	}
	return out
}

// History returns entries matching q in time order. With q.Metric set, each
// returned entry carries only that metric.
func (m *Monitor) History(q Query) []MetricsEntry {
	out := make([]MetricsEntry, 0)
	for _, e := range m.entries {
		if q.Start != nil && e.Timestamp.Before(*q.Start) {
			continue
		}
		if q.End != nil && e.Timestamp.After(*q.End) {
			continue
		}
		if q.Source != "" && e.Source != q.Source {
			continue
		}
		if q.Metric == "" {
			out = append(out, *e)
			continue
		}
		v, ok := e.Metrics[q.Metric]
		if !ok {
			continue
		}
		out = append(out, MetricsEntry{ID: e.ID, Timestamp: e.Timestamp, Source: e.Source, Metrics: map[string]float64{q.Metric: v}})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Series returns q.Metric as a time series.
func (m *Monitor) Series(q Query) []series.Point {
	if q.Metric == "" {
		return nil
	}
	entries := m.History(q)
	out := make([]series.Point, 0, len(entries))
	for _, e := range entries {
		out = append(out, series.Point{Timestamp: e.Timestamp, Value: e.Metrics[q.Metric]})
	}
	return out
}

// Summary describes every metric recorded in [start, end]; nil bounds default
// to the last 30 days.
func (m *Monitor) Summary(start, end *time.Time) Summary {
	now := m.now()
	from := now.AddDate(0, 0, -30)
	if start != nil {
		from = *start
	}
	to := now
	if end != nil {
		to = *end
	}

	var s Summary
	s.Period.StartDate = from
	s.Period.EndDate = to
	s.Metrics = make(map[string]MetricSummary)
	s.Trends = make(map[string]Trend)

	names := make(map[string]struct{})
	for _, e := range m.History(Query{Start: &from, End: &to}) {
		for name := range e.Metrics {
			names[name] = struct{}{}
		}
	}
	for name := range names {
		points := m.Series(Query{Metric: name, Start: &from, End: &to})
		if len(points) == 0 {
			continue
		}
		values := series.Values(points)
		ms := MetricSummary{
			Latest:  values[len(values)-1],
			Average: series.Mean(values),
			Minimum: values[0],
			Maximum: values[0],
		}
		for _, v := range values {
			ms.Minimum = math.Min(ms.Minimum, v)
			ms.Maximum = math.Max(ms.Maximum, v)
		}
		if len(values) >= 2 {
			ms.Change = ms.Latest - values[0]
			ms.PercentChange = series.SafeDiv(ms.Change, values[0]) * 100
		}
		s.Metrics[name] = ms
		s.Trends[name] = DetectTrend(points)
	}

	for _, a := range m.ActiveAlerts(AlertFilter{}) {
		s.Alerts.Total++
		switch a.Severity {
		case Critical:
			s.Alerts.Critical++
		case Warning:
			s.Alerts.Warning++
		case Info:
			s.Alerts.Info++
		}
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
