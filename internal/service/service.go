package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"revenue-analytics/internal/attribution"
	"revenue-analytics/internal/dict"
	"revenue-analytics/internal/forecast"
	"revenue-analytics/internal/goals"
	"revenue-analytics/internal/monitor"
	"revenue-analytics/internal/storage"
)

// Result status values of the operation contract.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type operation func(ctx context.Context, params map[string]any) (map[string]any, error)

// Deps are the collaborators of a Framework. Nil engines are replaced by
// in-memory instances without persistence.
type Deps struct {
	Attribution *attribution.Engine
	Forecasting *forecast.Engine
	Goals       *goals.Manager
	Monitor     *monitor.Monitor
	Metrics     *Metrics

	// Locker guards Tick across instances when LockKey is non-zero.
	Locker  storage.AdvisoryLocker
	LockKey int64

	MinSeasonalityPeriods int
}

// Framework is the single entry point of the orchestrator: it owns the engines,
// serialises every operation and converts results to {status,...} maps.
type Framework struct {
	attribution *attribution.Engine
	forecasting *forecast.Engine
	goals       *goals.Manager
	monitor     *monitor.Monitor
	metrics     *Metrics
	validate    *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time

	locker  storage.AdvisoryLocker
	lockKey int64

	minSeasonality int

	mu  sync.Mutex
	ops map[string]operation
}

// New wires a framework over deps.
func New(deps Deps, logger zerolog.Logger) *Framework {
	if deps.Attribution == nil {
		deps.Attribution = attribution.NewEngine(attribution.Linear, nil, logger)
	}
	if deps.Forecasting == nil {
		deps.Forecasting = forecast.NewEngine(forecast.Defaults{}, nil, logger)
	}
	if deps.Goals == nil {
		deps.Goals = goals.NewManager(nil, nil, logger)
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(monitor.Thresholds{}, nil, nil, logger)
	}
	if deps.MinSeasonalityPeriods <= 0 {
		deps.MinSeasonalityPeriods = 2
	}

	f := &Framework{
		attribution:    deps.Attribution,
		forecasting:    deps.Forecasting,
		goals:          deps.Goals,
		monitor:        deps.Monitor,
		metrics:        deps.Metrics,
		validate:       validator.New(),
		logger:         logger.With().Str("component", "service").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
		locker:         deps.Locker,
		lockKey:        deps.LockKey,
		minSeasonality: deps.MinSeasonalityPeriods,
	}
	f.ops = f.operations()
	return f
}

// SetClock overrides the clock of the framework and every engine it owns.
func (f *Framework) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	f.now = now
	f.attribution.SetClock(now)
	f.forecasting.SetClock(now)
	f.goals.SetClock(now)
	f.monitor.SetClock(now)
}

// Attribution returns the attribution engine.
func (f *Framework) Attribution() *attribution.Engine { return f.attribution }

// Forecasting returns the forecasting engine.
func (f *Framework) Forecasting() *forecast.Engine { return f.forecasting }

// Goals returns the goal manager.
func (f *Framework) Goals() *goals.Manager { return f.goals }

// Monitor returns the performance monitor.
func (f *Framework) Monitor() *monitor.Monitor { return f.monitor }

// Load restores every engine from its persistence collaborator.
func (f *Framework) Load(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attribution.Load(ctx)
	f.forecasting.Load(ctx)
	f.goals.Load(ctx)
	f.monitor.Load(ctx)
}

// Operations lists the supported operation names in sorted order.
func (f *Framework) Operations() []string {
	names := make([]string, 0, len(f.ops))
	for name := range f.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a named operation. The result always carries "status"; failures
// carry "message" instead of a payload.
func (f *Framework) Execute(ctx context.Context, name string, params map[string]any) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execute(ctx, name, params)
}

func (f *Framework) execute(ctx context.Context, name string, params map[string]any) map[string]any {
	started := time.Now()
	op, ok := f.ops[name]
	if !ok {
		f.metrics.observeOperation(name, StatusError, time.Since(started))
		return errorResult(fmt.Errorf("unknown operation: %s", name))
	}
	if params == nil {
		params = map[string]any{}
	}

	res, err := invoke(ctx, op, params)
	if err != nil {
		f.metrics.observeOperation(name, StatusError, time.Since(started))
		f.logger.Warn().Err(err).Str("operation", name).Msg("operation failed")
		return errorResult(err)
	}
	if res == nil {
		res = map[string]any{}
	}
	res["status"] = StatusSuccess
	f.metrics.observeOperation(name, StatusSuccess, time.Since(started))
	f.logger.Debug().Str("operation", name).Dur("elapsed", time.Since(started)).Msg("operation executed")
	return res
}

// invoke runs op, converting a payload encoding panic into an error.
func invoke(ctx context.Context, op operation, params map[string]any) (res map[string]any, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if encErr, ok := r.(*dict.EncodeError); ok {
			res, err = nil, fmt.Errorf("encode result: %w", encErr)
			return
		}
		panic(r)
	}()
	return op(ctx, params)
}

func errorResult(err error) map[string]any {
	return map[string]any{"status": StatusError, "message": err.Error()}
}

// Tick runs one scheduled monitoring cycle: goal refresh, goal pacing checks and
// channel underperformance checks. It is skipped when another instance holds the
// advisory lock.
func (f *Framework) Tick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := f.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		f.logger.Debug().Time("bucket", bucket).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executeTick(ctx, bucket)
}

func (f *Framework) executeTick(ctx context.Context, bucket time.Time) error {
	f.goals.UpdateAll(ctx)

	goalAlerts := f.monitor.MonitorGoals(ctx, goalProgress(f.goals.Goals(goals.Filter{})))
	channelAlerts := f.monitor.MonitorChannels(ctx, channelValues(f.attribution.ChannelMetrics(nil, nil)))

	f.metrics.countAlerts(goalAlerts)
	f.metrics.countAlerts(channelAlerts)
	f.metrics.tick()

	f.logger.Info().Time("bucket", bucket).
		Int("goal_alerts", len(goalAlerts)).
		Int("channel_alerts", len(channelAlerts)).
		Msg("monitoring cycle completed")
	return nil
}

func (f *Framework) acquireLock(ctx context.Context) (func(), bool, error) {
	if f.lockKey == 0 || f.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := f.locker.TryAdvisoryLock(ctx, f.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func goalProgress(all []*goals.RevenueGoal) []monitor.GoalProgress {
	out := make([]monitor.GoalProgress, 0, len(all))
	for _, g := range all {
		end := g.EndDate
		out = append(out, monitor.GoalProgress{
			ID:           g.ID,
			Name:         g.Name,
			TargetValue:  g.TargetValue,
			CurrentValue: g.CurrentValue,
			Progress:     g.Metrics.ProgressPercentage,
			EndDate:      &end,
		})
	}
	return out
}

func channelValues(metrics map[string]*attribution.Metrics) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(metrics))
	for ch, m := range metrics {
		out[ch] = map[string]float64{
			"roi":                  m.ROI,
			"conversion_rate":      m.ConversionRate,
			"revenue_contribution": m.RevenueContribution,
		}
	}
	return out
}
