package service

import (
	"context"
	"errors"
	"fmt"

	"revenue-analytics/internal/attribution"
	"revenue-analytics/internal/dict"
	"revenue-analytics/internal/forecast"
	"revenue-analytics/internal/goals"
	"revenue-analytics/internal/monitor"
	"revenue-analytics/internal/series"
)

// defaultForecastPeriods is used when forecast_revenue omits periods.
const defaultForecastPeriods = 12

func (f *Framework) operations() map[string]operation {
	return map[string]operation{
		"set_revenue_goal":      f.setRevenueGoal,
		"update_goal_value":     f.updateGoalValue,
		"increment_goal_value":  f.incrementGoalValue,
		"adjust_goal_target":    f.adjustGoalTarget,
		"delete_goal":           f.deleteGoal,
		"get_goal":              f.getGoal,
		"list_goals":            f.listGoals,
		"goal_hierarchy":        f.goalHierarchy,
		"goal_report":           f.goalReport,
		"track_touchpoint":      f.trackTouchpoint,
		"record_conversion":     f.recordConversion,
		"get_journey":           f.getJourney,
		"channel_metrics":       f.channelMetrics,
		"campaign_metrics":      f.campaignMetrics,
		"analyze_channels":      f.analyzeChannels,
		"customer_ltv":          f.customerLTV,
		"attribution_report":    f.attributionReport,
		"load_history":          f.loadHistory,
		"register_model":        f.registerModel,
		"train_models":          f.trainModels,
		"forecast_revenue":      f.forecastRevenue,
		"detect_seasonality":    f.detectSeasonality,
		"create_scenario":       f.createScenario,
		"revenue_gaps":          f.revenueGaps,
		"early_warnings":        f.earlyWarnings,
		"forecast_accuracy":     f.forecastAccuracy,
		"resource_requirements": f.resourceRequirements,
		"forecast_report":       f.forecastReport,
		"record_metrics":        f.recordMetrics,
		"metric_series":         f.metricSeries,
		"monitor_goals":         f.monitorGoals,
		"monitor_channels":      f.monitorChannels,
		"monitor_forecast":      f.monitorForecast,
		"resolve_alert":         f.resolveAlert,
		"get_alerts":            f.getAlerts,
		"performance_summary":   f.performanceSummary,
		"optimize_allocation":   f.optimizeAllocation,
		"revenue_report":        f.revenueReport,
		"run_tasks":             f.runTasks,
	}
}

// goals

func (f *Framework) setRevenueGoal(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req setGoalRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	period, err := goals.ParsePeriod(req.Period)
	if err != nil {
		return nil, err
	}
	start := f.now()
	if req.StartDate != nil && !req.StartDate.IsZero() {
		start = *req.StartDate
	}
	desc := req.Description
	if desc == "" {
		desc = "Revenue goal for " + req.Name
	}

	g, err := f.goals.CreateGoal(ctx, goals.Input{
		Name:         req.Name,
		Description:  desc,
		TargetValue:  req.TargetValue,
		CurrentValue: req.CurrentValue,
		StartDate:    start,
		EndDate:      *req.EndDate,
		Period:       period,
		Channel:      req.Channel,
		Source:       req.Source,
		Segment:      req.Segment,
		ParentGoalID: req.ParentGoalID,
		Milestones:   req.Milestones,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"goal_id": g.ID, "goal": dict.MustFrom(g)}, nil
}

func (f *Framework) updateGoalValue(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req goalValueRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	g, err := f.goals.UpdateValue(ctx, req.GoalID, *req.Value)
	if err != nil {
		return nil, err
	}
	return map[string]any{"goal": dict.MustFrom(g)}, nil
}

func (f *Framework) incrementGoalValue(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req goalIncrementRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	g, err := f.goals.IncrementValue(ctx, req.GoalID, *req.Amount)
	if err != nil {
		return nil, err
	}
	return map[string]any{"goal": dict.MustFrom(g)}, nil
}

func (f *Framework) adjustGoalTarget(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req adjustTargetRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	g, err := f.goals.AdjustTarget(ctx, req.GoalID, *req.NewTarget, req.Reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"goal": dict.MustFrom(g)}, nil
}

func (f *Framework) deleteGoal(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req goalIDRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	if err := f.goals.Delete(ctx, req.GoalID); err != nil {
		return nil, err
	}
	return map[string]any{"goal_id": req.GoalID}, nil
}

func (f *Framework) getGoal(_ context.Context, params map[string]any) (map[string]any, error) {
	var req goalIDRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	g, err := f.goals.Goal(req.GoalID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"goal": dict.MustFrom(g)}, nil
}

func (f *Framework) listGoals(_ context.Context, params map[string]any) (map[string]any, error) {
	var req listGoalsRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	filter := goals.Filter{Channel: req.Channel, Source: req.Source, TopLevel: req.TopLevel}
	if req.Status != "" {
		st, err := goals.ParseStatus(req.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = st
	}
	list := f.goals.Goals(filter)
	out := make([]any, 0, len(list))
	for _, g := range list {
		out = append(out, dict.MustFrom(g))
	}
	return map[string]any{"goals": out, "count": len(out)}, nil
}

func (f *Framework) goalHierarchy(_ context.Context, params map[string]any) (map[string]any, error) {
	var req goalIDRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	tree, err := f.goals.Hierarchy(req.GoalID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hierarchy": tree}, nil
}

func (f *Framework) goalReport(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"report": dict.MustFrom(f.goals.Report())}, nil
}

// attribution

func (f *Framework) trackTouchpoint(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req touchpointRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	if err := encodable("metadata", req.Metadata); err != nil {
		return nil, err
	}
	tp, err := f.attribution.RecordTouchpoint(ctx, attribution.TouchpointInput{
		CustomerID:      req.CustomerID,
		Channel:         req.Channel,
		Campaign:        req.Campaign,
		Content:         req.Content,
		InteractionType: req.InteractionType,
		Cost:            req.Cost,
		Timestamp:       req.Timestamp,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"touchpoint_id": tp.ID, "touchpoint": dict.MustFrom(tp)}, nil
}

func (f *Framework) recordConversion(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req conversionRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	if err := encodable("metadata", req.Metadata); err != nil {
		return nil, err
	}
	var model attribution.Model
	if req.Model != "" {
		m, err := attribution.ParseModel(req.Model)
		if err != nil {
			return nil, err
		}
		model = m
	}
	if req.GoalID != "" {
		if _, err := f.goals.Goal(req.GoalID); err != nil {
			return nil, err
		}
	}

	j, err := f.attribution.RecordConversion(ctx, req.CustomerID, req.Value, req.Date, model, req.Metadata)
	if err != nil {
		return nil, err
	}
	res := map[string]any{"journey": dict.MustFrom(j)}

	if req.GoalID != "" {
		g, err := f.goals.IncrementValue(ctx, req.GoalID, req.Value)
		if err != nil {
			return nil, fmt.Errorf("credit goal: %w", err)
		}
		res["goal"] = dict.MustFrom(g)
	}
	return res, nil
}

func (f *Framework) getJourney(_ context.Context, params map[string]any) (map[string]any, error) {
	var req customerRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	j, err := f.attribution.Journey(req.CustomerID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"journey": dict.MustFrom(j)}, nil
}

func (f *Framework) channelMetrics(_ context.Context, params map[string]any) (map[string]any, error) {
	var req windowRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	return map[string]any{"channel_metrics": dict.MustFrom(f.attribution.ChannelMetrics(req.StartDate, req.EndDate))}, nil
}

func (f *Framework) campaignMetrics(_ context.Context, params map[string]any) (map[string]any, error) {
	var req windowRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	return map[string]any{"campaign_metrics": dict.MustFrom(f.attribution.CampaignMetrics(req.StartDate, req.EndDate))}, nil
}

func (f *Framework) analyzeChannels(context.Context, map[string]any) (map[string]any, error) {
	return dict.MustFrom(f.attribution.HighROIChannels()), nil
}

func (f *Framework) customerLTV(_ context.Context, params map[string]any) (map[string]any, error) {
	var req ltvRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	p, err := f.attribution.CustomerLTV(req.CustomerID, req.PredictionMonths)
	if err != nil {
		return nil, err
	}
	return dict.MustFrom(p), nil
}

func (f *Framework) attributionReport(_ context.Context, params map[string]any) (map[string]any, error) {
	var req attributionReportRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	var model attribution.Model
	if req.Model != "" {
		m, err := attribution.ParseModel(req.Model)
		if err != nil {
			return nil, err
		}
		model = m
	}
	return map[string]any{"report": dict.MustFrom(f.attribution.Report(req.StartDate, req.EndDate, model))}, nil
}

// forecasting

func (f *Framework) loadHistory(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req loadHistoryRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	points, skipped := series.FromMaps(req.Data)
	if skipped > 0 {
		f.logger.Warn().Int("skipped", skipped).Msg("invalid historical data points skipped")
	}
	if len(points) == 0 {
		return nil, forecast.ErrNoData
	}
	load := f.forecasting.LoadHistory(ctx, req.Channel, req.Segment, points)
	res := dict.MustFrom(load)
	res["skipped"] = skipped
	return res, nil
}

func (f *Framework) registerModel(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req registerModelRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	method, err := forecast.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	info, err := f.forecasting.RegisterModel(ctx, req.Name, method, req.Config)
	if err != nil {
		return nil, err
	}
	return map[string]any{"model_id": info.ID, "model": dict.MustFrom(info)}, nil
}

func (f *Framework) trainModels(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req trainModelsRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	tr, err := f.forecasting.TrainModels(ctx, req.ModelIDs, req.Channel, req.Segment)
	if err != nil {
		return nil, err
	}
	return dict.MustFrom(tr), nil
}

func (f *Framework) forecastRevenue(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req forecastRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	if _, ok := params["periods"]; !ok {
		req.Periods = defaultForecastPeriods
	}
	var g series.Granularity
	if req.Granularity != "" {
		parsed, err := series.ParseGranularity(req.Granularity)
		if err != nil {
			return nil, err
		}
		g = parsed
	}
	fc, err := f.forecasting.Predict(ctx, forecast.PredictRequest{
		Periods:     req.Periods,
		ModelID:     req.ModelID,
		Granularity: g,
		StartDate:   req.StartDate,
		Channel:     req.Channel,
		Segment:     req.Segment,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"forecast_id": fc.ID, "forecast": dict.MustFrom(fc)}, nil
}

func (f *Framework) detectSeasonality(_ context.Context, params map[string]any) (map[string]any, error) {
	var req seasonalityRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	minPeriods := req.MinPeriods
	if minPeriods == 0 {
		minPeriods = f.minSeasonality
	}
	a, err := f.forecasting.DetectSeasonality(forecast.SeriesKey(req.Channel, req.Segment), minPeriods)
	if err != nil {
		return nil, err
	}
	return dict.MustFrom(a), nil
}

func (f *Framework) createScenario(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req scenarioRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	t, err := forecast.ParseScenarioType(req.Type)
	if err != nil {
		return nil, err
	}
	s, err := f.forecasting.CreateScenario(ctx, req.Name, t, req.BaseForecastID, req.Parameters)
	if err != nil {
		return nil, err
	}
	return map[string]any{"scenario_id": s.ID, "scenario": dict.MustFrom(s)}, nil
}

func (f *Framework) revenueGaps(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req gapRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	a, err := f.forecasting.IdentifyGaps(ctx, req.ForecastID, req.Targets)
	if err != nil {
		return nil, err
	}
	return map[string]any{"gap_analysis_id": a.ID, "gap_analysis": dict.MustFrom(a)}, nil
}

func (f *Framework) earlyWarnings(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req warningsRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	w, err := f.forecasting.EarlyWarnings(ctx, req.ForecastID, req.Targets, req.Thresholds)
	if err != nil {
		return nil, err
	}
	return map[string]any{"warning_id": w.ID, "warnings": dict.MustFrom(w)}, nil
}

func (f *Framework) forecastAccuracy(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req accuracyRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	a, err := f.forecasting.Accuracy(ctx, req.ForecastID, req.Actual)
	if err != nil {
		return nil, err
	}
	return map[string]any{"accuracy_id": a.ID, "accuracy": dict.MustFrom(a)}, nil
}

func (f *Framework) resourceRequirements(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req resourcesRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	r, err := f.forecasting.ResourceRequirements(ctx, req.ForecastID, req.Factors)
	if err != nil {
		return nil, err
	}
	return map[string]any{"resource_forecast_id": r.ID, "resources": dict.MustFrom(r)}, nil
}

func (f *Framework) forecastReport(_ context.Context, params map[string]any) (map[string]any, error) {
	var req forecastReportRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	r, err := f.forecasting.ForecastReport(req.ForecastID, req.ScenarioIDs, req.WarningID, req.GapAnalysisID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"report": dict.MustFrom(r)}, nil
}

// monitoring

func (f *Framework) recordMetrics(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req recordMetricsRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(req.Metrics))
	for name, raw := range req.Metrics {
		v, err := series.AsFloat(raw)
		if errors.Is(err, series.ErrNonFinite) {
			return nil, fmt.Errorf("metric %s: %w", name, err)
		}
		if err != nil {
			f.logger.Debug().Str("metric", name).Msg("ignoring non-numeric metric")
			continue
		}
		values[name] = v
	}
	if len(values) == 0 {
		return nil, errors.New("no numeric metrics provided")
	}
	entry, alerts := f.monitor.RecordMetrics(ctx, values, req.Timestamp, req.Source)
	f.metrics.countAlerts(alerts)
	return map[string]any{
		"entry_id": entry.ID,
		"entry":    dict.MustFrom(entry),
		"alerts":   alertList(alerts),
	}, nil
}

func (f *Framework) metricSeries(_ context.Context, params map[string]any) (map[string]any, error) {
	var req metricSeriesRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	points := f.monitor.Series(monitor.Query{Metric: req.Metric, Start: req.StartDate, End: req.EndDate, Source: req.Source})
	out := make([]any, 0, len(points))
	for _, p := range points {
		out = append(out, dict.MustFrom(p))
	}
	return map[string]any{"metric_name": req.Metric, "series": out}, nil
}

func (f *Framework) monitorGoals(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req monitorGoalsRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	var selected []*goals.RevenueGoal
	if len(req.GoalIDs) == 0 {
		selected = f.goals.Goals(goals.Filter{})
	} else {
		for _, id := range req.GoalIDs {
			g, err := f.goals.Goal(id)
			if err != nil {
				return nil, err
			}
			selected = append(selected, g)
		}
	}
	alerts := f.monitor.MonitorGoals(ctx, goalProgress(selected))
	f.metrics.countAlerts(alerts)
	return map[string]any{"goals_checked": len(selected), "alerts": alertList(alerts)}, nil
}

func (f *Framework) monitorChannels(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req monitorChannelsRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	values := req.ChannelMetrics
	if len(values) == 0 {
		values = channelValues(f.attribution.ChannelMetrics(req.StartDate, req.EndDate))
	}
	alerts := f.monitor.MonitorChannels(ctx, values)
	f.metrics.countAlerts(alerts)
	return map[string]any{"channels_checked": len(values), "alerts": alertList(alerts)}, nil
}

func (f *Framework) monitorForecast(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req monitorForecastRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	fc, err := f.forecasting.Forecast(req.ForecastID)
	if err != nil {
		return nil, err
	}
	preds := make([]series.Point, len(fc.Predictions))
	for i, p := range fc.Predictions {
		preds[i] = series.Point{Timestamp: p.Timestamp, Value: p.Value}
	}
	alerts := f.monitor.MonitorForecast(ctx, monitor.ForecastCheck{
		ForecastID:  fc.ID,
		Metric:      req.Metric,
		Predictions: preds,
		Actual:      req.Actual,
	})
	f.metrics.countAlerts(alerts)
	return map[string]any{"periods_checked": min(len(preds), len(req.Actual)), "alerts": alertList(alerts)}, nil
}

func (f *Framework) resolveAlert(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req alertIDRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	a, err := f.monitor.Resolve(ctx, req.AlertID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"alert": dict.MustFrom(a)}, nil
}

func (f *Framework) getAlerts(_ context.Context, params map[string]any) (map[string]any, error) {
	var req getAlertsRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	filter := monitor.AlertFilter{Type: monitor.AlertType(req.Type), EntityID: req.EntityID}
	if req.Severity != "" {
		sev, err := monitor.ParseSeverity(req.Severity)
		if err != nil {
			return nil, err
		}
		filter.Severity = sev
	}

	var alerts []monitor.Alert
	if req.IncludeResolved {
		for _, a := range f.monitor.Alerts() {
			if filter.Match(&a) {
				alerts = append(alerts, a)
			}
		}
	} else {
		alerts = f.monitor.ActiveAlerts(filter)
	}
	return map[string]any{"alerts": alertList(alerts), "count": len(alerts)}, nil
}

func (f *Framework) performanceSummary(_ context.Context, params map[string]any) (map[string]any, error) {
	var req windowRequest
	if err := decode(f.validate, params, &req); err != nil {
		return nil, err
	}
	return map[string]any{"summary": dict.MustFrom(f.monitor.Summary(req.StartDate, req.EndDate))}, nil
}

func alertList(alerts []monitor.Alert) []any {
	out := make([]any, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, dict.MustFrom(a))
	}
	return out
}
