package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"revenue-analytics/internal/series"
	"revenue-analytics/internal/storage"
)

// Defaults configures the model created when none is registered.
type Defaults struct {
	Method      Method
	Granularity series.Granularity
	WindowSize  int
	Alpha       float64
}

// ModelRef identifies the model behind a forecast.
type ModelRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Method Method `json:"method"`
}

// Parameters echoes the request that produced a forecast.
type Parameters struct {
	Periods     int                `json:"periods"`
	Granularity series.Granularity `json:"granularity"`
	StartDate   *time.Time         `json:"start_date"`
	Channel     string             `json:"channel,omitempty"`
	Segment     string             `json:"segment,omitempty"`
}

// Metadata records which series a forecast was derived from.
type Metadata struct {
	DataKey    string `json:"data_key"`
	DataPoints int    `json:"data_points"`
}

// Forecast is an immutable set of predictions produced by one model.
type Forecast struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	Model       ModelRef     `json:"model"`
	Parameters  Parameters   `json:"parameters"`
	Predictions []Prediction `json:"predictions"`
	Metadata    Metadata     `json:"metadata"`
}

// Values returns the predicted values in period order.
func (f *Forecast) Values() []float64 {
	out := make([]float64, len(f.Predictions))
	for i, p := range f.Predictions {
		out[i] = p.Value
	}
	return out
}

// PredictRequest selects the series, model and horizon of a forecast.
type PredictRequest struct {
	Periods     int
	ModelID     string
	Granularity series.Granularity
	StartDate   *time.Time
	Channel     string
	Segment     string
}

// HistoryLoad summarises a LoadHistory call.
type HistoryLoad struct {
	Key       string     `json:"key"`
	Points    int        `json:"points"`
	DateRange TimeWindow `json:"date_range"`
}

// TimeWindow is an optional [start, end] range.
type TimeWindow struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// TrainResult reports the outcome of one model's training.
type TrainResult struct {
	Status string `json:"status"`
	Name   string `json:"name"`
	Method Method `json:"method"`
	Error  string `json:"error,omitempty"`
}

// Training summarises a TrainModels call.
type Training struct {
	DataKey     string                 `json:"data_key"`
	DataPoints  int                    `json:"data_points"`
	ModelsCount int                    `json:"models_trained"`
	Results     map[string]TrainResult `json:"results"`
}

// SeriesKey builds the "channel:segment" history key; blanks mean "all".
func SeriesKey(channel, segment string) string {
	if channel == "" {
		channel = "all"
	}
	if segment == "" {
		segment = "all"
	}
	return channel + ":" + segment
}

type storedModel struct {
	Info     ModelInfo      `json:"info"`
	Training []series.Point `json:"training,omitempty"`
}

type snapshot struct {
	Models      []storedModel             `json:"models"`
	History     map[string][]series.Point `json:"historical_data"`
	Forecasts   []*Forecast               `json:"forecasts"`
	Scenarios   []*Scenario               `json:"scenarios"`
	GapAnalyses []*GapAnalysis            `json:"gap_analyses"`
	Warnings    []*WarningReport          `json:"warnings"`
	Accuracy    []*AccuracyReport         `json:"accuracy_reports"`
	Resources   []*ResourceForecast       `json:"resource_forecasts"`
}

// Engine owns historical series, models and everything derived from their forecasts.
type Engine struct {
	defaults  Defaults
	models    *storage.MemoryRepository[Model]
	history   map[string][]series.Point
	forecasts *storage.MemoryRepository[*Forecast]
	scenarios *storage.MemoryRepository[*Scenario]
	gaps      *storage.MemoryRepository[*GapAnalysis]
	warnings  *storage.MemoryRepository[*WarningReport]
	accuracy  *storage.MemoryRepository[*AccuracyReport]
	resources *storage.MemoryRepository[*ResourceForecast]
	persist   *storage.Persister
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine builds a forecasting engine. persist may be nil.
func NewEngine(defaults Defaults, persist *storage.Persister, logger zerolog.Logger) *Engine {
	if defaults.Method == "" {
		defaults.Method = ExponentialSmoothingMethod
	}
	if defaults.Granularity == "" {
		defaults.Granularity = series.Monthly
	}
	return &Engine{
		defaults:  defaults,
		models:    storage.NewMemoryRepository[Model](),
		history:   make(map[string][]series.Point),
		forecasts: storage.NewMemoryRepository[*Forecast](),
		scenarios: storage.NewMemoryRepository[*Scenario](),
		gaps:      storage.NewMemoryRepository[*GapAnalysis](),
		warnings:  storage.NewMemoryRepository[*WarningReport](),
		accuracy:  storage.NewMemoryRepository[*AccuracyReport](),
		resources: storage.NewMemoryRepository[*ResourceForecast](),
		persist:   persist,
		logger:    logger.With().Str("component", "forecasting").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Load restores engine state from the persistence collaborator. Trained models
// are refitted from their stored training series.
func (e *Engine) Load(ctx context.Context) bool {
	var snap snapshot
	if !e.persist.Load(ctx, &snap) {
		return false
	}

	e.models.Reset()
	for _, sm := range snap.Models {
		m, err := NewModel(sm.Info.Name, sm.Info.Method, sm.Info.Config, sm.Info.CreationDate)
		if err != nil {
			e.logger.Warn().Err(err).Str("model_id", sm.Info.ID).Msg("skipping stored model")
			continue
		}
		if len(sm.Training) > 0 {
			if err := m.Train(sm.Training, sm.Info.LastUpdated); err != nil {
				e.logger.Warn().Err(err).Str("model_id", sm.Info.ID).Msg("stored model failed to refit")
			}
		}
		*m.Info() = sm.Info
		e.models.Put(sm.Info.ID, m)
	}

	e.history = make(map[string][]series.Point)
	for k, pts := range snap.History {
		e.history[k] = pts
	}
	restore(e.forecasts, snap.Forecasts, func(f *Forecast) string { return f.ID })
	restore(e.scenarios, snap.Scenarios, func(s *Scenario) string { return s.ID })
	restore(e.gaps, snap.GapAnalyses, func(g *GapAnalysis) string { return g.ID })
	restore(e.warnings, snap.Warnings, func(w *WarningReport) string { return w.ID })
	restore(e.accuracy, snap.Accuracy, func(a *AccuracyReport) string { return a.ID })
	restore(e.resources, snap.Resources, func(r *ResourceForecast) string { return r.ID })

	e.logger.Info().
		Int("models", e.models.Len()).
		Int("series", len(e.history)).
		Int("forecasts", e.forecasts.Len()).
		Msg("forecasting state restored")
	return true
}

func restore[T any](repo *storage.MemoryRepository[T], items []T, id func(T) string) {
	repo.Reset()
	for _, item := range items {
		repo.Put(id(item), item)
	}
}

func (e *Engine) save(ctx context.Context) {
	snap := snapshot{
		History:     e.history,
		Forecasts:   e.forecasts.List(),
		Scenarios:   e.scenarios.List(),
		GapAnalyses: e.gaps.List(),
		Warnings:    e.warnings.List(),
		Accuracy:    e.accuracy.List(),
		Resources:   e.resources.List(),
	}
	for _, m := range e.models.List() {
		snap.Models = append(snap.Models, storedModel{Info: *m.Info(), Training: m.History()})
	}
	e.persist.Save(ctx, snap)
}

// RegisterModel creates and stores an untrained model.
func (e *Engine) RegisterModel(ctx context.Context, name string, method Method, cfg Config) (*ModelInfo, error) {
	m, err := NewModel(name, method, cfg, e.now())
	if err != nil {
		return nil, fmt.Errorf("register model: %w", err)
	}
	e.models.Put(m.Info().ID, m)
	e.save(ctx)

	e.logger.Info().Str("model_id", m.Info().ID).Str("method", string(method)).Str("name", name).Msg("model registered")
	return m.Info(), nil
}

// Model returns a registered model.
func (e *Engine) Model(id string) (Model, error) {
	m, ok := e.models.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

// Models lists registered models in registration order.
func (e *Engine) Models() []Model {
	return e.models.List()
}

// LoadHistory replaces the series stored under channel:segment.
func (e *Engine) LoadHistory(ctx context.Context, channel, segment string, points []series.Point) HistoryLoad {
	key := SeriesKey(channel, segment)
	sorted := series.Sorted(points)
	e.history[key] = sorted
	e.save(ctx)

	res := HistoryLoad{Key: key, Points: len(sorted)}
	if first, last, ok := series.Span(sorted); ok {
		res.DateRange = TimeWindow{Start: &first, End: &last}
	}
	e.logger.Info().Str("key", key).Int("points", len(sorted)).Msg("historical data loaded")
	return res
}

// History returns the series stored under key.
func (e *Engine) History(key string) []series.Point {
	return e.history[key]
}

// SeriesKeys lists the keys of loaded series.
func (e *Engine) SeriesKeys() []string {
	keys := make([]string, 0, len(e.history))
	for k := range e.history {
		keys = append(keys, k)
	}
	return keys
}

func (e *Engine) historyFor(key string) ([]series.Point, error) {
	pts := e.history[key]
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoHistory, key)
	}
	return pts, nil
}

// TrainModels fits the selected models (all when ids is empty) on one series.
// Unknown ids are logged and skipped; per-model failures are reported in the results.
func (e *Engine) TrainModels(ctx context.Context, ids []string, channel, segment string) (*Training, error) {
	key := SeriesKey(channel, segment)
	pts, err := e.historyFor(key)
	if err != nil {
		return nil, err
	}

	var selected []Model
	if len(ids) > 0 {
		for _, id := range ids {
			m, ok := e.models.Get(id)
			if !ok {
				e.logger.Warn().Str("model_id", id).Msg("model not found")
				continue
			}
			selected = append(selected, m)
		}
	} else {
		selected = e.models.List()
	}
	if len(selected) == 0 {
		return nil, errors.New("no models to train")
	}

	res := &Training{DataKey: key, DataPoints: len(pts), ModelsCount: len(selected), Results: make(map[string]TrainResult)}
	now := e.now()
	for _, m := range selected {
		info := m.Info()
		tr := TrainResult{Status: "success", Name: info.Name, Method: info.Method}
		if err := m.Train(pts, now); err != nil {
			e.logger.Error().Err(err).Str("model_id", info.ID).Msg("model training failed")
			tr.Status = "error"
			tr.Error = err.Error()
		}
		res.Results[info.ID] = tr
	}
	e.save(ctx)

	e.logger.Info().Str("key", key).Int("models", len(selected)).Msg("models trained")
	return res, nil
}

// Predict produces and stores a forecast. Without a model id the first registered
// model is used; with none registered a default model is created and trained.
func (e *Engine) Predict(ctx context.Context, req PredictRequest) (*Forecast, error) {
	if req.Periods <= 0 {
		return nil, ErrInvalidPeriodCount
	}
	g := req.Granularity
	if g == "" {
		g = e.defaults.Granularity
	}
	key := SeriesKey(req.Channel, req.Segment)
	pts, err := e.historyFor(key)
	if err != nil {
		return nil, err
	}

	var model Model
	fresh := false
	switch {
	case req.ModelID != "":
		if model, err = e.Model(req.ModelID); err != nil {
			return nil, err
		}
	case e.models.Len() > 0:
		model = e.models.List()[0]
	default:
		cfg := Config{WindowSize: e.defaults.WindowSize, Alpha: e.defaults.Alpha}
		name := fmt.Sprintf("Default %s Model", e.defaults.Method)
		if model, err = NewModel(name, e.defaults.Method, cfg, e.now()); err != nil {
			return nil, err
		}
		if err := model.Train(pts, e.now()); err != nil {
			return nil, fmt.Errorf("train default model: %w", err)
		}
		fresh = true
	}

	preds, err := model.Predict(req.Periods, g, req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("generate predictions: %w", err)
	}
	for i, p := range preds {
		if err := series.CheckFinite(p.Value); err != nil {
			return nil, fmt.Errorf("generate predictions: period %d: %w", i, err)
		}
	}
	// a default model is registered only once it has produced a usable forecast
	if fresh {
		e.models.Put(model.Info().ID, model)
	}

	info := model.Info()
	f := &Forecast{
		ID:        uuid.NewString(),
		Timestamp: e.now(),
		Model:     ModelRef{ID: info.ID, Name: info.Name, Method: info.Method},
		Parameters: Parameters{
			Periods:     req.Periods,
			Granularity: g,
			StartDate:   req.StartDate,
			Channel:     req.Channel,
			Segment:     req.Segment,
		},
		Predictions: preds,
		Metadata:    Metadata{DataKey: key, DataPoints: len(pts)},
	}
	e.forecasts.Put(f.ID, f)
	e.save(ctx)

	e.logger.Info().
		Str("forecast_id", f.ID).
		Int("periods", req.Periods).
		Str("granularity", string(g)).
		Str("model", info.Name).
		Msg("revenue forecast generated")
	return f, nil
}

// Forecast returns a stored forecast.
func (e *Engine) Forecast(id string) (*Forecast, error) {
	f, ok := e.forecasts.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrForecastNotFound, id)
	}
	return f, nil
}

// Forecasts lists forecasts oldest first.
func (e *Engine) Forecasts() []*Forecast {
	return e.forecasts.List()
}

// LatestForecast returns the most recently produced forecast.
func (e *Engine) LatestForecast() (*Forecast, bool) {
	all := e.forecasts.List()
	if len(all) == 0 {
		return nil, false
	}
	return all[len(all)-1], true
}
