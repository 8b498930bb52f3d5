package forecast

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"revenue-analytics/internal/dict"
	"revenue-analytics/internal/series"
)

// ScenarioType names a deterministic transformation of a base forecast.
type ScenarioType string

const (
	Baseline         ScenarioType = "baseline"
	Optimistic       ScenarioType = "optimistic"
	Pessimistic      ScenarioType = "pessimistic"
	Seasonal         ScenarioType = "seasonal"
	Campaign         ScenarioType = "campaign"
	MarketShift      ScenarioType = "market_shift"
	CompetitorAction ScenarioType = "competitor_action"
	CustomScenario   ScenarioType = "custom"
)

// ParseScenarioType validates a scenario tag.
func ParseScenarioType(v string) (ScenarioType, error) {
	t := ScenarioType(strings.ToLower(strings.TrimSpace(v)))
	switch t {
	case Baseline, Optimistic, Pessimistic, Seasonal, Campaign, MarketShift, CompetitorAction, CustomScenario:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, v)
}

// ScenarioParams are the recognised scenario parameters. Nil pointers take the documented defaults.
type ScenarioParams struct {
	GrowthFactor     *float64  `mapstructure:"growth_factor"`
	DeclineFactor    *float64  `mapstructure:"decline_factor"`
	SeasonalFactors  []float64 `mapstructure:"seasonal_factors"`
	CampaignStart    *int      `mapstructure:"campaign_start"`
	CampaignDuration *int      `mapstructure:"campaign_duration"`
	CampaignImpact   *float64  `mapstructure:"campaign_impact"`
	ShiftStart       *int      `mapstructure:"shift_start"`
	ShiftFactor      *float64  `mapstructure:"shift_factor"`
	ActionStart      *int      `mapstructure:"action_start"`
	ActionDuration   *int      `mapstructure:"action_duration"`
	ActionImpact     *float64  `mapstructure:"action_impact"`
	RecoveryRate     *float64  `mapstructure:"recovery_rate"`
	Modifications    []float64 `mapstructure:"modifications"`
}

// DecodeScenarioParams decodes a loosely-typed parameter map; unknown keys are ignored.
func DecodeScenarioParams(raw map[string]any) (ScenarioParams, error) {
	var p ScenarioParams
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       finiteParamHook,
	})
	if err != nil {
		return p, fmt.Errorf("build parameter decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return p, fmt.Errorf("decode scenario parameters: %w", err)
	}
	return p, nil
}

// finiteParamHook rejects NaN and infinities bound for float parameters.
func finiteParamHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Float64 {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return data, series.CheckFinite(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return data, series.CheckFinite(f)
		}
	}
	return data, nil
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// ScenarioMetadata links a scenario back to its base forecast.
type ScenarioMetadata struct {
	Model              ModelRef   `json:"model"`
	OriginalParameters Parameters `json:"original_parameters"`
}

// Scenario is a transformed copy of a base forecast.
type Scenario struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Timestamp      time.Time        `json:"timestamp"`
	Type           ScenarioType     `json:"type"`
	BaseForecastID string           `json:"base_forecast_id"`
	Parameters     map[string]any   `json:"parameters"`
	Predictions    []Prediction     `json:"predictions"`
	Metadata       ScenarioMetadata `json:"metadata"`
}

// multipliers returns the per-period factor applied to the base forecast.
func multipliers(t ScenarioType, p ScenarioParams, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	switch t {
	case Baseline:
	case Optimistic:
		g := floatOr(p.GrowthFactor, 1.1)
		for i := range out {
			out[i] = g
		}
	case Pessimistic:
		d := floatOr(p.DeclineFactor, 0.9)
		for i := range out {
			out[i] = d
		}
	case Seasonal:
		if len(p.SeasonalFactors) == 0 {
			return nil, fmt.Errorf("%w: seasonal_factors not provided for seasonal scenario", ErrMissingParameter)
		}
		for i := range out {
			out[i] = p.SeasonalFactors[i%len(p.SeasonalFactors)]
		}
	case Campaign:
		start := intOr(p.CampaignStart, 0)
		end := start + intOr(p.CampaignDuration, 3)
		impact := floatOr(p.CampaignImpact, 1.2)
		for i := range out {
			if i >= start && i < end {
				out[i] = impact
			}
		}
	case MarketShift:
		start := intOr(p.ShiftStart, 0)
		factor := floatOr(p.ShiftFactor, 1.15)
		for i := range out {
			if i >= start {
				out[i] = factor
			}
		}
	case CompetitorAction:
		start := intOr(p.ActionStart, 0)
		end := start + intOr(p.ActionDuration, 3)
		impact := floatOr(p.ActionImpact, 0.9)
		rate := floatOr(p.RecoveryRate, 0.05)
		for i := range out {
			switch {
			case i >= start && i < end:
				out[i] = impact
			case i >= end:
				out[i] = math.Min(1, impact+float64(i-end)*rate)
			}
		}
	case CustomScenario:
		if len(p.Modifications) == 0 {
			return nil, fmt.Errorf("%w: modifications not provided for custom scenario", ErrMissingParameter)
		}
		for i := range out {
			if i < len(p.Modifications) {
				out[i] = p.Modifications[i]
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
	return out, nil
}

// ApplyScenario transforms base predictions without touching the base slice.
func ApplyScenario(t ScenarioType, params ScenarioParams, base []Prediction) ([]Prediction, error) {
	factors, err := multipliers(t, params, len(base))
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, len(base))
	for i, p := range base {
		v := p.Value * factors[i]
		if err := series.CheckFinite(v); err != nil {
			return nil, fmt.Errorf("scenario period %d: %w", i, err)
		}
		out[i] = Prediction{Timestamp: p.Timestamp, Value: v, ConfidenceInterval: p.ConfidenceInterval}
	}
	return out, nil
}

// CreateScenario derives and stores a scenario from a stored forecast.
func (e *Engine) CreateScenario(ctx context.Context, name string, t ScenarioType, baseID string, raw map[string]any) (*Scenario, error) {
	base, err := e.Forecast(baseID)
	if err != nil {
		return nil, fmt.Errorf("base forecast: %w", err)
	}
	params, err := DecodeScenarioParams(raw)
	if err != nil {
		return nil, err
	}
	preds, err := ApplyScenario(t, params, base.Predictions)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if _, err := dict.From(raw); err != nil {
		return nil, fmt.Errorf("scenario parameters: %w", err)
	}

	s := &Scenario{
		ID:             uuid.NewString(),
		Name:           name,
		Timestamp:      e.now(),
		Type:           t,
		BaseForecastID: baseID,
		Parameters:     raw,
		Predictions:    preds,
		Metadata:       ScenarioMetadata{Model: base.Model, OriginalParameters: base.Parameters},
	}
	e.scenarios.Put(s.ID, s)
	e.save(ctx)

	e.logger.Info().Str("scenario_id", s.ID).Str("type", string(t)).Str("name", name).Msg("scenario created")
	return s, nil
}

// Scenario returns a stored scenario.
func (e *Engine) Scenario(id string) (*Scenario, bool) {
	return e.scenarios.Get(id)
}

// Scenarios lists stored scenarios.
func (e *Engine) Scenarios() []*Scenario {
	return e.scenarios.List()
}
