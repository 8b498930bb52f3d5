package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"revenue-analytics/internal/service"
)

// Ingest kinds.
const (
	IngestHistory     = "history"
	IngestTouchpoints = "touchpoints"
	IngestConversions = "conversions"
)

// IngestResult counts the rows applied and rejected by an ingestion.
type IngestResult struct {
	Rows     int `json:"rows"`
	Applied  int `json:"applied"`
	Rejected int `json:"rejected"`
}

// Ingest loads a CSV file with a header row into the framework.
//
// history rows need timestamp and value columns and are loaded as one series.
// touchpoints and conversions rows map their columns onto the parameters of
// track_touchpoint and record_conversion; empty cells are omitted.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	file, err := os.Open(opts.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.Path, err)
	}
	defer file.Close()

	rt, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := a.ingest(ctx, rt.Framework, file, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "rows: %d\napplied: %d\nrejected: %d\n", res.Rows, res.Applied, res.Rejected)
	return nil
}

func (a *App) ingest(ctx context.Context, fw *service.Framework, r io.Reader, opts IngestOptions) (IngestResult, error) {
	rows, err := readRecords(r)
	if err != nil {
		return IngestResult{}, err
	}
	res := IngestResult{Rows: len(rows)}
	if len(rows) == 0 {
		return res, errors.New("csv contains no data rows")
	}

	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case IngestHistory:
		data := make([]map[string]any, len(rows))
		for i, row := range rows {
			data[i] = map[string]any{"timestamp": row["timestamp"], "value": row["value"]}
		}
		out := fw.Execute(ctx, "load_history", map[string]any{
			"data":    data,
			"channel": opts.Channel,
			"segment": opts.Segment,
		})
		if err := check(out); err != nil {
			return res, fmt.Errorf("load history: %w", err)
		}
		skipped, _ := out["skipped"].(int)
		res.Rejected = skipped
		res.Applied = res.Rows - skipped
	case IngestTouchpoints, IngestConversions:
		op := "track_touchpoint"
		if strings.EqualFold(opts.Kind, IngestConversions) {
			op = "record_conversion"
		}
		bar := a.newProgress(len(rows), "Ingesting "+strings.ToLower(opts.Kind))
		for i, row := range rows {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			params := make(map[string]any, len(row))
			for k, v := range row {
				params[k] = v
			}
			if opts.Channel != "" {
				if _, ok := params["channel"]; !ok && op == "track_touchpoint" {
					params["channel"] = opts.Channel
				}
			}
			if err := check(fw.Execute(ctx, op, params)); err != nil {
				res.Rejected++
				a.Logger.Warn().Err(err).Int("row", i+2).Str("operation", op).Msg("row rejected")
			} else {
				res.Applied++
			}
			_ = bar.Add(1)
		}
		_ = bar.Finish()
	default:
		return res, fmt.Errorf("unknown ingest kind %q (want history, touchpoints or conversions)", opts.Kind)
	}

	a.Logger.Info().
		Str("kind", opts.Kind).
		Int("rows", res.Rows).
		Int("applied", res.Applied).
		Int("rejected", res.Rejected).
		Msg("ingestion completed")
	return res, nil
}

// readRecords parses a CSV with a header row into column maps. Empty cells are dropped.
func readRecords(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, cell := range record {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				row[header[i]] = cell
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
