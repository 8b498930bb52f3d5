package service

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"revenue-analytics/internal/dict"
	"revenue-analytics/internal/forecast"
	"revenue-analytics/internal/goals"
	"revenue-analytics/internal/series"
)

type setGoalRequest struct {
	Name         string            `mapstructure:"name" validate:"required"`
	Description  string            `mapstructure:"description"`
	TargetValue  float64           `mapstructure:"target_value" validate:"gte=0"`
	CurrentValue float64           `mapstructure:"current_value" validate:"gte=0"`
	Period       string            `mapstructure:"period"`
	StartDate    *time.Time        `mapstructure:"start_date"`
	EndDate      *time.Time        `mapstructure:"end_date" validate:"required"`
	Channel      string            `mapstructure:"channel"`
	Source       string            `mapstructure:"source"`
	Segment      string            `mapstructure:"segment"`
	ParentGoalID string            `mapstructure:"parent_goal_id"`
	Milestones   []goals.Milestone `mapstructure:"milestones"`
}

type goalValueRequest struct {
	GoalID string   `mapstructure:"goal_id" validate:"required"`
	Value  *float64 `mapstructure:"value" validate:"required"`
}

type goalIncrementRequest struct {
	GoalID string   `mapstructure:"goal_id" validate:"required"`
	Amount *float64 `mapstructure:"amount" validate:"required"`
}

type adjustTargetRequest struct {
	GoalID    string   `mapstructure:"goal_id" validate:"required"`
	NewTarget *float64 `mapstructure:"new_target" validate:"required,gte=0"`
	Reason    string   `mapstructure:"reason"`
}

type goalIDRequest struct {
	GoalID string `mapstructure:"goal_id" validate:"required"`
}

type listGoalsRequest struct {
	Status   string `mapstructure:"status"`
	Channel  string `mapstructure:"channel"`
	Source   string `mapstructure:"source"`
	TopLevel bool   `mapstructure:"top_level"`
}

type touchpointRequest struct {
	CustomerID      string         `mapstructure:"customer_id" validate:"required"`
	Channel         string         `mapstructure:"channel" validate:"required"`
	Campaign        string         `mapstructure:"campaign"`
	Content         string         `mapstructure:"content"`
	InteractionType string         `mapstructure:"interaction_type"`
	Cost            float64        `mapstructure:"cost" validate:"gte=0"`
	Timestamp       *time.Time     `mapstructure:"timestamp"`
	Metadata        map[string]any `mapstructure:"metadata"`
}

type conversionRequest struct {
	CustomerID string         `mapstructure:"customer_id" validate:"required"`
	Value      float64        `mapstructure:"value" validate:"gte=0"`
	Date       *time.Time     `mapstructure:"conversion_date"`
	Model      string         `mapstructure:"attribution_model"`
	GoalID     string         `mapstructure:"goal_id"`
	Metadata   map[string]any `mapstructure:"metadata"`
}

type customerRequest struct {
	CustomerID string `mapstructure:"customer_id" validate:"required"`
}

type windowRequest struct {
	StartDate *time.Time `mapstructure:"start_date"`
	EndDate   *time.Time `mapstructure:"end_date"`
}

type ltvRequest struct {
	CustomerID       string `mapstructure:"customer_id" validate:"required"`
	PredictionMonths int    `mapstructure:"prediction_months" validate:"gte=0"`
}

type attributionReportRequest struct {
	StartDate *time.Time `mapstructure:"start_date"`
	EndDate   *time.Time `mapstructure:"end_date"`
	Model     string     `mapstructure:"attribution_model"`
}

type loadHistoryRequest struct {
	Data    []map[string]any `mapstructure:"data" validate:"required"`
	Channel string           `mapstructure:"channel"`
	Segment string           `mapstructure:"segment"`
}

type registerModelRequest struct {
	Name   string          `mapstructure:"name" validate:"required"`
	Method string          `mapstructure:"method" validate:"required"`
	Config forecast.Config `mapstructure:"config"`
}

type trainModelsRequest struct {
	ModelIDs []string `mapstructure:"model_ids"`
	Channel  string   `mapstructure:"channel"`
	Segment  string   `mapstructure:"segment"`
}

type forecastRequest struct {
	Periods     int        `mapstructure:"periods" validate:"gte=0"`
	Granularity string     `mapstructure:"granularity"`
	ModelID     string     `mapstructure:"model_id"`
	StartDate   *time.Time `mapstructure:"start_date"`
	Channel     string     `mapstructure:"channel"`
	Segment     string     `mapstructure:"segment"`
}

type seasonalityRequest struct {
	Channel    string `mapstructure:"channel"`
	Segment    string `mapstructure:"segment"`
	MinPeriods int    `mapstructure:"min_periods" validate:"gte=0"`
}

type scenarioRequest struct {
	Name           string         `mapstructure:"name"`
	Type           string         `mapstructure:"scenario_type" validate:"required"`
	BaseForecastID string         `mapstructure:"base_forecast_id" validate:"required"`
	Parameters     map[string]any `mapstructure:"parameters"`
}

type gapRequest struct {
	ForecastID string    `mapstructure:"forecast_id" validate:"required"`
	Targets    []float64 `mapstructure:"targets" validate:"required"`
}

type warningsRequest struct {
	ForecastID string               `mapstructure:"forecast_id" validate:"required"`
	Targets    []float64            `mapstructure:"targets" validate:"required"`
	Thresholds *forecast.Thresholds `mapstructure:"thresholds"`
}

type accuracyRequest struct {
	ForecastID string    `mapstructure:"forecast_id" validate:"required"`
	Actual     []float64 `mapstructure:"actual_values" validate:"required"`
}

type resourcesRequest struct {
	ForecastID string             `mapstructure:"forecast_id" validate:"required"`
	Factors    map[string]float64 `mapstructure:"resource_factors"`
}

type forecastReportRequest struct {
	ForecastID    string   `mapstructure:"forecast_id" validate:"required"`
	ScenarioIDs   []string `mapstructure:"scenario_ids"`
	WarningID     string   `mapstructure:"warning_id"`
	GapAnalysisID string   `mapstructure:"gap_analysis_id"`
}

type recordMetricsRequest struct {
	Metrics   map[string]any `mapstructure:"metrics" validate:"required"`
	Timestamp *time.Time     `mapstructure:"timestamp"`
	Source    string         `mapstructure:"source"`
}

type metricSeriesRequest struct {
	Metric    string     `mapstructure:"metric_name" validate:"required"`
	StartDate *time.Time `mapstructure:"start_date"`
	EndDate   *time.Time `mapstructure:"end_date"`
	Source    string     `mapstructure:"source"`
}

type monitorGoalsRequest struct {
	GoalIDs []string `mapstructure:"goal_ids"`
}

type monitorChannelsRequest struct {
	ChannelMetrics map[string]map[string]float64 `mapstructure:"channel_metrics"`
	StartDate      *time.Time                    `mapstructure:"start_date"`
	EndDate        *time.Time                    `mapstructure:"end_date"`
}

type monitorForecastRequest struct {
	ForecastID string    `mapstructure:"forecast_id" validate:"required"`
	Actual     []float64 `mapstructure:"actual_values" validate:"required"`
	Metric     string    `mapstructure:"metric"`
}

type alertIDRequest struct {
	AlertID string `mapstructure:"alert_id" validate:"required"`
}

type getAlertsRequest struct {
	Severity        string `mapstructure:"severity"`
	Type            string `mapstructure:"alert_type"`
	EntityID        string `mapstructure:"entity_id"`
	IncludeResolved bool   `mapstructure:"include_resolved"`
}

type optimizeRequest struct {
	Budget     float64 `mapstructure:"budget" validate:"gte=0"`
	ForecastID string  `mapstructure:"forecast_id"`
}

type revenueReportRequest struct {
	StartDate          *time.Time `mapstructure:"start_date"`
	EndDate            *time.Time `mapstructure:"end_date"`
	IncludeForecasts   *bool      `mapstructure:"include_forecasts"`
	IncludeGoals       *bool      `mapstructure:"include_goals"`
	IncludeAttribution *bool      `mapstructure:"include_attribution"`
}

type taskSpec struct {
	Type       string         `mapstructure:"type" validate:"required"`
	Parameters map[string]any `mapstructure:"parameters"`
}

type runTasksRequest struct {
	CycleID string     `mapstructure:"cycle_id"`
	Tasks   []taskSpec `mapstructure:"tasks" validate:"required,dive"`
}

var timeType = reflect.TypeOf(time.Time{})

// timeHook parses RFC3339 and date-only strings into time.Time.
func timeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != timeType || from.Kind() != reflect.String {
		return data, nil
	}
	s := reflect.ValueOf(data).String()
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return series.ParseTime(s)
}

// finiteHook rejects NaN and infinite numbers bound for float fields.
func finiteHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Float64 && to.Kind() != reflect.Float32 {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Float32, reflect.Float64:
		if err := series.CheckFinite(reflect.ValueOf(data).Float()); err != nil {
			return nil, err
		}
	case reflect.String:
		s := strings.TrimSpace(reflect.ValueOf(data).String())
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if err := series.CheckFinite(f); err != nil {
				return nil, err
			}
		}
	}
	return data, nil
}

// encodable rejects free-form maps that could not be persisted, such as metadata holding NaN.
func encodable(field string, m map[string]any) error {
	if _, err := dict.From(m); err != nil {
		return fmt.Errorf("invalid parameters: %s: %w", field, err)
	}
	return nil
}

// decode fills req from a loosely-typed parameter map and validates it.
func decode(v *validator.Validate, params map[string]any, req any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           req,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(timeHook, finiteHook, mapstructure.StringToTimeDurationHookFunc()),
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := v.Struct(req); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
