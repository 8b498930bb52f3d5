package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"revenue-analytics/internal/alerting"
	"revenue-analytics/internal/api"
	"revenue-analytics/internal/attribution"
	"revenue-analytics/internal/config"
	"revenue-analytics/internal/forecast"
	"revenue-analytics/internal/goals"
	"revenue-analytics/internal/monitor"
	"revenue-analytics/internal/scheduler"
	"revenue-analytics/internal/series"
	"revenue-analytics/internal/service"
	"revenue-analytics/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives tables and reports; defaults to stdout.
	Out io.Writer
	// Progress receives progress bars; defaults to stderr.
	Progress io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout, Progress: os.Stderr}
}

// Runtime is a fully wired framework plus the resources backing it.
type Runtime struct {
	Framework *service.Framework
	Registry  *prometheus.Registry
	close     func()
}

// Close releases the storage backend.
func (r *Runtime) Close() {
	if r != nil && r.close != nil {
		r.close()
	}
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return nil
	}
	minSeverity, err := monitor.ParseSeverity(cfg.MinSeverity)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("invalid alerting.min_severity; delivering every alert")
		minSeverity = monitor.Info
	}

	d := alerting.NewDispatcher(minSeverity, a.Logger)
	for _, channel := range cfg.Channels {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case "log":
			d.Register("log", alerting.NewLogNotifier(a.Logger))
		case "telegram":
			if !cfg.Telegram.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			t := cfg.Telegram
			d.Register("telegram", alerting.NewTelegramNotifier(t.BotToken, t.ChatID, t.APIBase, 10*time.Second, a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alert channel ignored")
		}
	}
	return d
}

// Open wires storage, engines, alert dispatch and metrics, then restores
// persisted state.
func (a *App) Open(ctx context.Context) (*Runtime, error) {
	snapshots, closeStore, err := storage.Open(ctx, a.Config.Storage, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	persister := func(family string) *storage.Persister {
		return storage.NewPersister(snapshots, family, a.Logger)
	}

	model, err := attribution.ParseModel(a.Config.Attribution.DefaultModel)
	if err != nil {
		closeStore()
		return nil, err
	}
	method, err := forecast.ParseMethod(a.Config.Forecasting.DefaultMethod)
	if err != nil {
		closeStore()
		return nil, err
	}
	granularity, err := series.ParseGranularity(a.Config.Forecasting.DefaultGranularity)
	if err != nil {
		closeStore()
		return nil, err
	}

	mon := monitor.New(monitor.Thresholds{
		ZScore:               a.Config.Monitor.ZThreshold,
		DeviationPct:         a.Config.Monitor.DeviationPct,
		CriticalDeviationPct: a.Config.Monitor.CriticalDeviationPct,
		UnderperformRatio:    a.Config.Monitor.UnderperformRatio,
		ForecastDeviationPct: a.Config.Monitor.ForecastDeviationPct,
	}, persister(storage.FamilyMetrics), persister(storage.FamilyAlerts), a.Logger)
	if d := a.newDispatcher(); d != nil {
		mon.SetSink(d)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var locker storage.AdvisoryLocker
	if l, ok := snapshots.(storage.AdvisoryLocker); ok {
		locker = l
	}

	fw := service.New(service.Deps{
		Attribution: attribution.NewEngine(model, persister(storage.FamilyJourneys), a.Logger),
		Forecasting: forecast.NewEngine(forecast.Defaults{
			Method:      method,
			Granularity: granularity,
			WindowSize:  a.Config.Forecasting.WindowSize,
			Alpha:       a.Config.Forecasting.Alpha,
		}, persister(storage.FamilyForecasting), a.Logger),
		Goals:                 goals.NewManager(nil, persister(storage.FamilyGoals), a.Logger),
		Monitor:               mon,
		Metrics:               service.NewMetrics(registry),
		Locker:                locker,
		LockKey:               a.Config.Storage.AdvisoryLockKey,
		MinSeasonalityPeriods: a.Config.Forecasting.MinSeasonalityPeriods,
	}, a.Logger)
	fw.Load(ctx)

	return &Runtime{Framework: fw, Registry: registry, close: closeStore}, nil
}

func (a *App) newScheduler(runImmediately bool) *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToBucket:  a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: runImmediately,
	}, a.Logger)
}

// Run executes the monitoring cycle on the configured schedule, or once when
// once is set.
func (a *App) Run(ctx context.Context, once bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched := a.newScheduler(false)
	if once {
		return sched.Once(ctx, rt.Framework.Tick)
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting monitoring service")
	err = sched.Run(ctx, rt.Framework.Tick)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Serve exposes the operation contract over HTTP and runs the monitoring
// schedule alongside it.
func (a *App) Serve(ctx context.Context, withScheduler bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.Open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := api.New(a.Config.Server, rt.Framework, rt.Registry, a.Logger)

	var wg sync.WaitGroup
	if withScheduler {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.newScheduler(false).Run(ctx, rt.Framework.Tick); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("scheduler terminated with error")
			}
		}()
	}

	err = srv.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Exec runs a single operation and returns its result map.
func (a *App) Exec(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	rt, err := a.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.Framework.Execute(ctx, name, params), nil
}

// ExportOptions hold parameters for exporting a forecast alongside its history.
type ExportOptions struct {
	Channel    string
	Segment    string
	ForecastID string
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	What  string
	Limit int
}

// IngestOptions configure CSV ingestion.
type IngestOptions struct {
	Path    string
	Kind    string
	Channel string
	Segment string
}

// SimulateOptions configure synthetic data generation.
type SimulateOptions struct {
	Customers int
	Days      int
	Seed      int64
	Channels  []string
}

// ReportOptions configure the report command.
type ReportOptions struct {
	Format string
	Output string
	From   *time.Time
	To     *time.Time
}
