// Package forecast trains statistical revenue models over historical series and
// derives scenarios, gap analyses, warnings and accuracy reports from their output.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"revenue-analytics/internal/series"
)

var (
	ErrNotTrained         = errors.New("model has not been trained with historical data")
	ErrNoData             = errors.New("no data provided for training")
	ErrInsufficientData   = errors.New("not enough data points")
	ErrUnsupportedMethod  = errors.New("unsupported forecasting method")
	ErrInvalidConfig      = errors.New("invalid model configuration")
	ErrLengthMismatch     = errors.New("length mismatch")
	ErrModelNotFound      = errors.New("model not found")
	ErrForecastNotFound   = errors.New("forecast not found")
	ErrNoHistory          = errors.New("no historical data found")
	ErrUnsupportedType    = errors.New("unsupported scenario type")
	ErrMissingParameter   = errors.New("missing scenario parameter")
	ErrInvalidPeriodCount = errors.New("periods must be greater than zero")
)

// Method names a forecasting algorithm.
type Method string

const (
	MovingAverageMethod        Method = "moving_average"
	ExponentialSmoothingMethod Method = "exponential_smoothing"
	LinearRegressionMethod     Method = "linear_regression"
)

// ParseMethod validates a method tag.
func ParseMethod(v string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(v)))
	switch m {
	case MovingAverageMethod, ExponentialSmoothingMethod, LinearRegressionMethod:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, v)
}

// Prediction is one forecast period. ConfidenceInterval is always null.
type Prediction struct {
	Timestamp          time.Time   `json:"timestamp"`
	Value              float64     `json:"value"`
	ConfidenceInterval *[2]float64 `json:"confidence_interval"`
}

// Config carries the tunables of every model kind; each model reads its own subset.
type Config struct {
	WindowSize         int      `json:"window_size,omitempty" mapstructure:"window_size" validate:"omitempty,gt=0"`
	Alpha              float64  `json:"alpha,omitempty" mapstructure:"alpha" validate:"omitempty,gt=0,lte=1"`
	Beta               *float64 `json:"beta,omitempty" mapstructure:"beta" validate:"omitempty,gte=0,lte=1"`
	Gamma              *float64 `json:"gamma,omitempty" mapstructure:"gamma" validate:"omitempty,gte=0,lte=1"`
	SeasonalPeriods    int      `json:"seasonal_periods,omitempty" mapstructure:"seasonal_periods" validate:"omitempty,gt=0"`
	IncludeSeasonality bool     `json:"include_seasonality,omitempty" mapstructure:"include_seasonality"`
}

// Evaluation holds fit statistics; MAPE and R2 are nil when undefined.
type Evaluation struct {
	MAPE *float64 `json:"mape"`
	RMSE *float64 `json:"rmse"`
	MAE  *float64 `json:"mae"`
	R2   *float64 `json:"r2"`
}

// ModelInfo is the serialisable identity of a model.
type ModelInfo struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Method       Method     `json:"method"`
	Config       Config     `json:"config"`
	CreationDate time.Time  `json:"creation_date"`
	LastUpdated  time.Time  `json:"last_updated"`
	LastTrained  *time.Time `json:"last_trained"`
	Metrics      Evaluation `json:"metrics"`
}

// Evaluate compares aligned actual and predicted values and stores the result on the model.
func (m *ModelInfo) Evaluate(actual, predicted []float64, now time.Time) (Evaluation, error) {
	if len(actual) != len(predicted) {
		return Evaluation{}, fmt.Errorf("evaluate %s: %w: %d actual vs %d predicted", m.Name, ErrLengthMismatch, len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return Evaluation{}, fmt.Errorf("evaluate %s: %w", m.Name, ErrNoData)
	}
	ev := evaluate(actual, predicted)
	m.Metrics = ev
	m.LastUpdated = now
	return ev, nil
}

func evaluate(actual, predicted []float64) Evaluation {
	n := float64(len(actual))
	var mapeSum, absSum, sqSum float64
	mapeCount := 0
	for i, a := range actual {
		diff := a - predicted[i]
		if a != 0 {
			mapeSum += math.Abs(diff / a)
			mapeCount++
		}
		absSum += math.Abs(diff)
		sqSum += diff * diff
	}

	var ev Evaluation
	if mapeCount > 0 {
		v := mapeSum / float64(mapeCount) * 100
		ev.MAPE = &v
	}
	rmse := math.Sqrt(sqSum / n)
	mae := absSum / n
	ev.RMSE = &rmse
	ev.MAE = &mae

	mean := series.Mean(actual)
	ssTotal := 0.0
	for _, a := range actual {
		ssTotal += (a - mean) * (a - mean)
	}
	if ssTotal != 0 {
		r2 := 1 - sqSum/ssTotal
		ev.R2 = &r2
	}
	return ev
}

// Model is the train/predict contract shared by every forecasting method.
type Model interface {
	Info() *ModelInfo
	// Train stores the sorted history and fits the model's state.
	Train(points []series.Point, now time.Time) error
	// Predict returns periods points; the first lands on start, which defaults to the last trained timestamp.
	Predict(periods int, g series.Granularity, start *time.Time) ([]Prediction, error)
	History() []series.Point
}

// NewModel builds an untrained model of the given method, applying defaults to cfg.
func NewModel(name string, method Method, cfg Config, now time.Time) (Model, error) {
	info := ModelInfo{
		ID:           uuid.NewString(),
		Name:         name,
		Method:       method,
		CreationDate: now,
		LastUpdated:  now,
	}
	switch method {
	case MovingAverageMethod:
		if cfg.WindowSize <= 0 {
			cfg.WindowSize = 3
		}
		info.Config = cfg
		return &MovingAverage{ModelInfo: info}, nil
	case ExponentialSmoothingMethod:
		if cfg.Alpha <= 0 {
			cfg.Alpha = 0.3
		}
		if cfg.Gamma != nil && cfg.SeasonalPeriods <= 0 {
			return nil, fmt.Errorf("%w: seasonal_periods must be provided when gamma is specified", ErrInvalidConfig)
		}
		info.Config = cfg
		return &ExponentialSmoothing{ModelInfo: info}, nil
	case LinearRegressionMethod:
		if cfg.IncludeSeasonality && cfg.SeasonalPeriods <= 0 {
			return nil, fmt.Errorf("%w: seasonal_periods must be provided when include_seasonality is true", ErrInvalidConfig)
		}
		info.Config = cfg
		return &LinearRegression{ModelInfo: info}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
}

// trainedSeries is the history bookkeeping embedded by every model.
type trainedSeries struct {
	history []series.Point
}

func (t *trainedSeries) History() []series.Point {
	return t.history
}

func (t *trainedSeries) setHistory(points []series.Point) error {
	if len(points) == 0 {
		return ErrNoData
	}
	t.history = series.Sorted(points)
	return nil
}

func (t *trainedSeries) startOr(start *time.Time) time.Time {
	if start != nil {
		return start.UTC()
	}
	return t.history[len(t.history)-1].Timestamp
}

func markTrained(info *ModelInfo, now time.Time) {
	ts := now
	info.LastTrained = &ts
	info.LastUpdated = now
}

func predictions(timeline []time.Time, value func(i int) float64) []Prediction {
	out := make([]Prediction, len(timeline))
	for i, ts := range timeline {
		out[i] = Prediction{Timestamp: ts, Value: value(i)}
	}
	return out
}
