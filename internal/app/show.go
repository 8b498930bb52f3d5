package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"revenue-analytics/internal/goals"
	"revenue-analytics/internal/monitor"
	"revenue-analytics/internal/service"
)

// Show prints goals, active alerts, channel metrics or forecasts as a table.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	return a.showTable(rt.Framework, opts)
}

func (a *App) showTable(fw *service.Framework, opts ShowOptions) error {
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	defer writer.Flush()

	switch strings.ToLower(strings.TrimSpace(opts.What)) {
	case "", "goals":
		all := fw.Goals().Goals(goals.Filter{})
		sort.Slice(all, func(i, j int) bool { return all[i].CreationDate.Before(all[j].CreationDate) })
		all = limit(all, opts.Limit)
		fmt.Fprintln(writer, "ID\tName\tPeriod\tStatus\tCurrent\tTarget\tProgress%\tEnds")
		for _, g := range all {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				g.ID,
				sanitizeInline(g.Name),
				g.Period,
				g.Status,
				formatMoney(g.CurrentValue),
				formatMoney(g.TargetValue),
				formatDecimal(g.Metrics.ProgressPercentage, 1),
				g.EndDate.UTC().Format(time.DateOnly),
			)
		}
		if len(all) == 0 {
			fmt.Fprintln(writer, "no goals found")
		}
	case "alerts":
		active := fw.Monitor().ActiveAlerts(monitor.AlertFilter{})
		sort.Slice(active, func(i, j int) bool { return active[i].Timestamp.After(active[j].Timestamp) })
		active = limit(active, opts.Limit)
		fmt.Fprintln(writer, "Time (UTC)\tID\tSeverity\tType\tEntity\tMessage")
		for _, al := range active {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
				al.Timestamp.UTC().Format(time.RFC3339),
				al.ID,
				al.Severity,
				al.Type,
				al.EntityID,
				sanitizeInline(al.Message),
			)
		}
		if len(active) == 0 {
			fmt.Fprintln(writer, "no active alerts")
		}
	case "channels":
		metrics := fw.Attribution().ChannelMetrics(nil, nil)
		names := make([]string, 0, len(metrics))
		for name := range metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		names = limit(names, opts.Limit)
		fmt.Fprintln(writer, "Channel\tTouchpoints\tConversions\tCost\tRevenue\tROI%\tConv%")
		for _, name := range names {
			m := metrics[name]
			fmt.Fprintf(writer, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
				name,
				m.Touchpoints,
				m.Conversions,
				formatMoney(m.Cost),
				formatMoney(m.RevenueContribution),
				formatDecimal(m.ROI, 1),
				formatDecimal(m.ConversionRate, 1),
			)
		}
		if len(names) == 0 {
			fmt.Fprintln(writer, "no channel activity recorded")
		}
	case "forecasts":
		all := fw.Forecasting().Forecasts()
		sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
		all = limit(all, opts.Limit)
		fmt.Fprintln(writer, "Created (UTC)\tID\tModel\tMethod\tPeriods\tTotal")
		for _, fc := range all {
			total := 0.0
			for _, v := range fc.Values() {
				total += v
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\t%s\n",
				fc.Timestamp.UTC().Format(time.RFC3339),
				fc.ID,
				fc.Model.Name,
				fc.Model.Method,
				len(fc.Predictions),
				formatMoney(total),
			)
		}
		if len(all) == 0 {
			fmt.Fprintln(writer, "no forecasts found")
		}
	default:
		return fmt.Errorf("unknown table %q (want goals, alerts, channels or forecasts)", opts.What)
	}
	return nil
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func formatDecimal(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
