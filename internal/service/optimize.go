package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"revenue-analytics/internal/attribution"
	"revenue-analytics/internal/dict"
	"revenue-analytics/internal/goals"
	"revenue-analytics/internal/series"
)

// Allocation tuning.
const (
	highPerformerROI   = 50.0
	underfundedRatio   = 0.8
	highPerformerBoost = 1.2
)

// Allocation is the budget share proposed for one channel.
type Allocation struct {
	Channel         string  `json:"channel"`
	Allocation      float64 `json:"allocation"`
	Percentage      float64 `json:"percentage"`
	CurrentSpend    float64 `json:"current_spend"`
	ROI             float64 `json:"roi"`
	ExpectedRevenue float64 `json:"expected_revenue"`
}

// AllocationPlan is the result of OptimizeAllocation.
type AllocationPlan struct {
	TotalBudget          float64      `json:"total_budget"`
	Allocations          []Allocation `json:"allocations"`
	ExpectedTotalRevenue float64      `json:"expected_total_revenue"`
	ExpectedROI          float64      `json:"expected_roi"`
}

// OptimizeAllocation splits budget across channels in proportion to their
// positive ROI. A channel above the high-performer ROI whose share would fall
// below 80% of its current spend is lifted to 120% of that spend; the plan is
// then rescaled so allocations sum to the budget.
func OptimizeAllocation(metrics map[string]*attribution.Metrics, budget float64) AllocationPlan {
	type candidate struct {
		name string
		m    *attribution.Metrics
	}
	var ranked []candidate
	for name, m := range metrics {
		if m.Touchpoints > 0 && m.Cost > 0 {
			ranked = append(ranked, candidate{name: name, m: m})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].m.ROI != ranked[j].m.ROI {
			return ranked[i].m.ROI > ranked[j].m.ROI
		}
		return ranked[i].name < ranked[j].name
	})

	positive := 0.0
	for _, c := range ranked {
		if c.m.ROI > 0 {
			positive += c.m.ROI
		}
	}

	plan := AllocationPlan{TotalBudget: budget, Allocations: []Allocation{}}
	allocated := 0.0
	for _, c := range ranked {
		if c.m.ROI <= 0 {
			continue
		}
		amount := c.m.ROI / positive * budget
		if amount < underfundedRatio*c.m.Cost && c.m.ROI > highPerformerROI {
			amount = highPerformerBoost * c.m.Cost
		}
		allocated += amount
		plan.Allocations = append(plan.Allocations, Allocation{
			Channel:      c.name,
			Allocation:   amount,
			CurrentSpend: c.m.Cost,
			ROI:          c.m.ROI,
		})
	}

	scale := series.SafeDiv(budget, allocated)
	for i := range plan.Allocations {
		a := &plan.Allocations[i]
		a.Allocation = cents(a.Allocation * scale)
		a.Percentage = series.SafeDiv(a.Allocation, budget) * 100
		a.ExpectedRevenue = cents(a.Allocation * (a.ROI/100 + 1))
		plan.ExpectedTotalRevenue += a.ExpectedRevenue
	}
	plan.ExpectedTotalRevenue = cents(plan.ExpectedTotalRevenue)
	plan.ExpectedROI = series.SafeDiv(plan.ExpectedTotalRevenue-budget, budget) * 100
	return plan
}

func cents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func (f *Framework) optimizeAllocation(_ context.Context, params map[string]any) (map[string]any, error) {
	var req optimizeRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	plan := OptimizeAllocation(f.attribution.ChannelMetrics(nil, nil), req.Budget)
	res := dict.MustFrom(plan)
	res["timestamp"] = f.now()

	if req.ForecastID != "" {
		fc, err := f.forecasting.Forecast(req.ForecastID)
		if err != nil {
			return nil, err
		}
		res["forecasted_revenue"] = series.Sum(fc.Values())
	}
	f.logger.Info().Float64("budget", req.Budget).Int("channels", len(plan.Allocations)).Msg("budget allocation optimised")
	return res, nil
}

func flag(v *bool) bool {
	return v == nil || *v
}

func (f *Framework) revenueReport(_ context.Context, params map[string]any) (map[string]any, error) {
	var req revenueReportRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}

	report := map[string]any{
		"timestamp": f.now(),
		"period":    map[string]any{"start_date": req.StartDate, "end_date": req.EndDate},
	}

	if flag(req.IncludeGoals) {
		all := f.goals.Goals(goals.Filter{})
		active := make([]any, 0)
		completed := make([]any, 0)
		var target, current float64
		for _, g := range all {
			target += g.TargetValue
			current += g.CurrentValue
			switch g.Status {
			case goals.Active:
				active = append(active, dict.MustFrom(g))
			case goals.Achieved:
				completed = append(completed, dict.MustFrom(g))
			}
		}
		report["goals"] = map[string]any{
			"active":              active,
			"completed":           completed,
			"total_active":        len(active),
			"total_completed":     len(completed),
			"total_target_value":  target,
			"total_current_value": current,
			"overall_progress":    series.SafeDiv(current, target) * 100,
		}
	}

	if flag(req.IncludeAttribution) {
		channels := f.attribution.ChannelMetrics(req.StartDate, req.EndDate)
		var revenue, cost float64
		for _, m := range channels {
			revenue += m.RevenueContribution
			cost += m.Cost
		}
		report["attribution"] = map[string]any{
			"channel_metrics":  dict.MustFrom(channels),
			"campaign_metrics": dict.MustFrom(f.attribution.CampaignMetrics(req.StartDate, req.EndDate)),
			"total_revenue":    revenue,
			"total_cost":       cost,
			"overall_roi":      series.SafeDiv(revenue-cost, cost) * 100,
		}
	}

	if flag(req.IncludeForecasts) {
		section := map[string]any{"latest": nil, "total_forecasted": 0.0}
		if fc, ok := f.forecasting.LatestForecast(); ok {
			section["latest"] = dict.MustFrom(fc)
			section["total_forecasted"] = series.Sum(fc.Values())
		}
		report["forecasts"] = section
	}

	return map[string]any{"report": report}, nil
}

// taskAliases maps orchestrator task names onto operation names.
var taskAliases = map[string]string{
	"generate_report": "revenue_report",
}

func (f *Framework) runTasks(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req runTasksRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	cycleID := req.CycleID
	if cycleID == "" {
		cycleID = uuid.NewString()
	}

	results := make([]any, 0, len(req.Tasks))
	failed := 0
	for _, task := range req.Tasks {
		name := task.Type
		if alias, ok := taskAliases[name]; ok {
			name = alias
		}

		var res map[string]any
		switch _, known := f.ops[name]; {
		case name == "run_tasks":
			res = errorResult(fmt.Errorf("nested task dispatch is not supported"))
		case !known:
			res = errorResult(fmt.Errorf("Unknown revenue task type: %s", task.Type))
		default:
			res = f.execute(ctx, name, task.Parameters)
		}
		if res["status"] != StatusSuccess {
			failed++
		}
		results = append(results, map[string]any{
			"task_type": task.Type,
			"status":    res["status"],
			"result":    res,
		})
	}

	f.logger.Info().Str("cycle_id", cycleID).Int("tasks", len(req.Tasks)).Int("failed", failed).Msg("revenue tasks executed")
	return map[string]any{
		"cycle_id":     cycleID,
		"task_results": results,
		"completed":    len(req.Tasks) - failed,
		"failed":       failed,
	}, nil
}
