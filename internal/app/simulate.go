package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"revenue-analytics/internal/service"
)

var defaultSimChannels = []string{"search", "social", "email", "display"}

var simInteractions = []string{"view", "click", "click", "download", "signup"}

// SimulationSummary reports what a simulation fed into the framework.
type SimulationSummary struct {
	Customers   int     `json:"customers"`
	Touchpoints int     `json:"touchpoints"`
	Conversions int     `json:"conversions"`
	Revenue     float64 `json:"revenue"`
	HistoryDays int     `json:"history_days"`
}

// Simulate generates a reproducible synthetic customer base, feeds it through
// the operation contract and runs one monitoring cycle.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	rt, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	end := time.Now().UTC().Truncate(24 * time.Hour)
	summary, err := a.simulate(ctx, rt.Framework, opts, end)
	if err != nil {
		return err
	}
	if err := rt.Framework.Tick(ctx, end); err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "customers: %d\ntouchpoints: %d\nconversions: %d\nrevenue: %s\nhistory days: %d\n",
		summary.Customers, summary.Touchpoints, summary.Conversions, formatMoney(summary.Revenue), summary.HistoryDays)
	return nil
}

func (a *App) simulate(ctx context.Context, fw *service.Framework, opts SimulateOptions, end time.Time) (SimulationSummary, error) {
	if opts.Customers <= 0 {
		return SimulationSummary{}, errors.New("customers must be greater than zero")
	}
	if opts.Days <= 0 {
		return SimulationSummary{}, errors.New("days must be greater than zero")
	}
	channels := opts.Channels
	if len(channels) == 0 {
		channels = defaultSimChannels
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	start := end.AddDate(0, 0, -opts.Days)
	daily := make(map[int64]float64, opts.Days)
	summary := SimulationSummary{Customers: opts.Customers}

	bar := a.newProgress(opts.Customers, "Simulating customers")
	for i := 0; i < opts.Customers; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		customerID := fmt.Sprintf("sim-%05d", i+1)
		ts := start.Add(time.Duration(rng.Int63n(int64(opts.Days) * int64(24*time.Hour))))

		touches := 1 + rng.Intn(4)
		for j := 0; j < touches; j++ {
			params := map[string]any{
				"customer_id":      customerID,
				"channel":          channels[rng.Intn(len(channels))],
				"campaign":         fmt.Sprintf("campaign-%d", 1+rng.Intn(3)),
				"interaction_type": simInteractions[rng.Intn(len(simInteractions))],
				"cost":             roundCents(5 + rng.Float64()*45),
				"timestamp":        ts.Format(time.RFC3339),
			}
			if err := check(fw.Execute(ctx, "track_touchpoint", params)); err != nil {
				return summary, fmt.Errorf("simulate touchpoint for %s: %w", customerID, err)
			}
			summary.Touchpoints++
			ts = ts.Add(time.Duration(1+rng.Intn(48)) * time.Hour)
		}

		if rng.Float64() < 0.35 {
			if ts.After(end) {
				ts = end.Add(-time.Minute)
			}
			value := roundCents(50 + rng.Float64()*450)
			params := map[string]any{
				"customer_id":     customerID,
				"value":           value,
				"conversion_date": ts.Format(time.RFC3339),
			}
			if err := check(fw.Execute(ctx, "record_conversion", params)); err != nil {
				return summary, fmt.Errorf("simulate conversion for %s: %w", customerID, err)
			}
			summary.Conversions++
			summary.Revenue += value
			daily[ts.Truncate(24*time.Hour).Unix()] += value
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	data := make([]map[string]any, 0, opts.Days)
	for d := 0; d < opts.Days; d++ {
		day := start.AddDate(0, 0, d)
		data = append(data, map[string]any{"timestamp": day.Format(time.RFC3339), "value": roundCents(daily[day.Unix()])})
	}
	if err := check(fw.Execute(ctx, "load_history", map[string]any{"data": data})); err != nil {
		return summary, fmt.Errorf("load simulated history: %w", err)
	}
	summary.HistoryDays = len(data)
	summary.Revenue = roundCents(summary.Revenue)

	a.Logger.Info().
		Int("customers", summary.Customers).
		Int("touchpoints", summary.Touchpoints).
		Int("conversions", summary.Conversions).
		Float64("revenue", summary.Revenue).
		Msg("simulation completed")
	return summary, nil
}

// check converts an error result of the operation contract into an error.
func check(res map[string]any) error {
	if res["status"] == service.StatusSuccess {
		return nil
	}
	msg, _ := res["message"].(string)
	return errors.New(msg)
}
