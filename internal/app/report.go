package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"revenue-analytics/internal/service"
)

// Report renders the consolidated revenue report as JSON or YAML.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	rt, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := a.Out
	if opts.Output != "" {
		if err := ensureDir(opts.Output); err != nil {
			return err
		}
		file, err := os.Create(opts.Output)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}
	return writeReport(ctx, rt.Framework, out, opts)
}

func writeReport(ctx context.Context, fw *service.Framework, out io.Writer, opts ReportOptions) error {
	params := map[string]any{}
	if opts.From != nil {
		params["start_date"] = opts.From.UTC().Format(time.RFC3339)
	}
	if opts.To != nil {
		params["end_date"] = opts.To.UTC().Format(time.RFC3339)
	}
	res := fw.Execute(ctx, "revenue_report", params)
	if err := check(res); err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	report := res["report"]

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown report format %q (want json or yaml)", opts.Format)
	}
}
