package goals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"revenue-analytics/internal/series"
	"revenue-analytics/internal/storage"
)

var (
	// ErrGoalNotFound indicates an unknown goal id.
	ErrGoalNotFound = errors.New("goal not found")
	// ErrParentNotFound indicates a sub-goal referencing an unknown parent.
	ErrParentNotFound = errors.New("parent goal not found")
)

// Filter narrows goal listings. Zero fields match everything.
type Filter struct {
	Status   Status
	Channel  string
	Source   string
	TopLevel bool
}

func (f Filter) match(g *RevenueGoal) bool {
	if f.Status != "" && g.Status != f.Status {
		return false
	}
	if f.Channel != "" && g.Channel != f.Channel {
		return false
	}
	if f.Source != "" && g.Source != f.Source {
		return false
	}
	if f.TopLevel && g.ParentGoalID != "" {
		return false
	}
	return true
}

// Breakdown totals the goals sharing a channel, source or period.
type Breakdown struct {
	GoalCount          int     `json:"goal_count"`
	CurrentRevenue     float64 `json:"current_revenue"`
	TargetRevenue      float64 `json:"target_revenue"`
	ProgressPercentage float64 `json:"progress_percentage"`
}

// ChannelPerformance is one entry of the top channels list.
type ChannelPerformance struct {
	Channel            string  `json:"channel"`
	ProgressPercentage float64 `json:"progress_percentage"`
	CurrentRevenue     float64 `json:"current_revenue"`
}

// Report summarises every tracked goal.
type Report struct {
	Timestamp                 time.Time            `json:"timestamp"`
	TotalGoals                int                  `json:"total_goals"`
	StatusSummary             map[Status]int       `json:"status_summary"`
	TotalCurrentRevenue       float64              `json:"total_current_revenue"`
	TotalTargetRevenue        float64              `json:"total_target_revenue"`
	OverallProgressPercentage float64              `json:"overall_progress_percentage"`
	TopPerformingChannels     []ChannelPerformance `json:"top_performing_channels"`
	AtRiskGoals               []*RevenueGoal       `json:"at_risk_goals"`
	RecentlyAchievedGoals     []*RevenueGoal       `json:"recently_achieved_goals"`
	ChannelBreakdown          map[string]Breakdown `json:"channel_breakdown"`
	SourceBreakdown           map[string]Breakdown `json:"source_breakdown"`
	PeriodBreakdown           map[Period]Breakdown `json:"period_breakdown"`
}

type snapshot struct {
	Goals []*RevenueGoal `json:"goals"`
}

// Manager owns the goal tree.
type Manager struct {
	goals   storage.Repository[*RevenueGoal]
	persist *storage.Persister
	logger  zerolog.Logger
	now     func() time.Time
}

// NewManager builds a goal manager over repo. persist may be nil.
func NewManager(repo storage.Repository[*RevenueGoal], persist *storage.Persister, logger zerolog.Logger) *Manager {
	if repo == nil {
		repo = storage.NewMemoryRepository[*RevenueGoal]()
	}
	return &Manager{
		goals:   repo,
		persist: persist,
		logger:  logger.With().Str("component", "goals").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the manager clock.
func (m *Manager) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Load restores goals from the persistence collaborator.
func (m *Manager) Load(ctx context.Context) bool {
	var snap snapshot
	if !m.persist.Load(ctx, &snap) {
		return false
	}
	for _, g := range m.goals.List() {
		m.goals.Delete(g.ID)
	}
	for _, g := range snap.Goals {
		if g == nil || g.ID == "" {
			continue
		}
		m.goals.Put(g.ID, g)
	}
	m.logger.Info().Int("goals", m.goals.Len()).Msg("goals restored")
	return true
}

func (m *Manager) save(ctx context.Context) {
	m.persist.Save(ctx, snapshot{Goals: m.goals.List()})
}

// CreateGoal registers a new goal and links it under its parent.
func (m *Manager) CreateGoal(ctx context.Context, in Input) (*RevenueGoal, error) {
	var parent *RevenueGoal
	if in.ParentGoalID != "" {
		p, ok := m.goals.Get(in.ParentGoalID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, in.ParentGoalID)
		}
		parent = p
	}
	g, err := NewGoal(uuid.NewString(), in, m.now())
	if err != nil {
		return nil, err
	}
	m.goals.Put(g.ID, g)
	if parent != nil {
		parent.SubGoals = append(parent.SubGoals, g.ID)
	}
	m.save(ctx)
	m.logger.Info().
		Str("goal_id", g.ID).
		Str("name", g.Name).
		Float64("target", g.TargetValue).
		Msg("goal created")
	return g, nil
}

// Goal returns the goal with the given id.
func (m *Manager) Goal(id string) (*RevenueGoal, error) {
	g, ok := m.goals.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	return g, nil
}

// Goals lists goals matching f in creation order.
func (m *Manager) Goals(f Filter) []*RevenueGoal {
	out := make([]*RevenueGoal, 0)
	for _, g := range m.goals.List() {
		if f.match(g) {
			out = append(out, g)
		}
	}
	return out
}

// AtRiskGoals lists goals currently flagged at risk.
func (m *Manager) AtRiskGoals() []*RevenueGoal {
	return m.Goals(Filter{Status: AtRisk})
}

// UpdateValue sets a goal's current value and rolls the change up the tree.
func (m *Manager) UpdateValue(ctx context.Context, id string, value float64) (*RevenueGoal, error) {
	g, err := m.Goal(id)
	if err != nil {
		return nil, err
	}
	g.UpdateValue(value, m.now())
	m.propagate(g)
	m.save(ctx)
	m.logger.Debug().Str("goal_id", id).Float64("value", g.CurrentValue).Msg("goal value updated")
	return g, nil
}

// IncrementValue adds amount to a goal's current value and rolls the change up the tree.
func (m *Manager) IncrementValue(ctx context.Context, id string, amount float64) (*RevenueGoal, error) {
	g, err := m.Goal(id)
	if err != nil {
		return nil, err
	}
	g.IncrementValue(amount, m.now())
	m.propagate(g)
	m.save(ctx)
	m.logger.Debug().Str("goal_id", id).Float64("value", g.CurrentValue).Msg("goal value incremented")
	return g, nil
}

// AdjustTarget changes a goal's target value.
func (m *Manager) AdjustTarget(ctx context.Context, id string, target float64, reason string) (*RevenueGoal, error) {
	g, err := m.Goal(id)
	if err != nil {
		return nil, err
	}
	g.AdjustTarget(target, reason, m.now())
	m.save(ctx)
	m.logger.Info().Str("goal_id", id).Float64("target", target).Str("reason", reason).Msg("goal target adjusted")
	return g, nil
}

// Delete removes a goal and detaches it from its parent, whose value is then
// recomputed from the remaining sub-goals. Its own sub-goals are kept as roots.
func (m *Manager) Delete(ctx context.Context, id string) error {
	g, err := m.Goal(id)
	if err != nil {
		return err
	}
	for _, childID := range g.SubGoals {
		if child, ok := m.goals.Get(childID); ok && child.ParentGoalID == id {
			child.ParentGoalID = ""
		}
	}
	if g.ParentGoalID != "" {
		if parent, ok := m.goals.Get(g.ParentGoalID); ok {
			parent.SubGoals = removeID(parent.SubGoals, id)
			// g still points at parent, so this sums the remaining children.
			m.propagate(g)
		}
	}
	m.goals.Delete(id)
	m.save(ctx)
	m.logger.Info().Str("goal_id", id).Msg("goal deleted")
	return nil
}

// Hierarchy returns the goal's export form with sub_goals expanded recursively.
func (m *Manager) Hierarchy(id string) (map[string]any, error) {
	g, err := m.Goal(id)
	if err != nil {
		return nil, err
	}
	node, err := g.ToDict()
	if err != nil {
		return nil, err
	}
	children := make([]any, 0, len(g.SubGoals))
	for _, childID := range g.SubGoals {
		child, err := m.Hierarchy(childID)
		if err != nil {
			continue
		}
		children = append(children, child)
	}
	node["sub_goals"] = children
	return node, nil
}

// UpdateAll refreshes metrics and status of every goal.
func (m *Manager) UpdateAll(ctx context.Context) {
	now := m.now()
	for _, g := range m.goals.List() {
		g.Refresh(now)
	}
	m.save(ctx)
	m.logger.Debug().Int("goals", m.goals.Len()).Msg("goal metrics refreshed")
}

// Report builds the goal revenue report.
func (m *Manager) Report() Report {
	now := m.now()
	all := m.goals.List()
	r := Report{
		Timestamp:             now,
		TotalGoals:            len(all),
		StatusSummary:         make(map[Status]int, len(Statuses)),
		TopPerformingChannels: []ChannelPerformance{},
		AtRiskGoals:           []*RevenueGoal{},
		RecentlyAchievedGoals: []*RevenueGoal{},
		ChannelBreakdown:      make(map[string]Breakdown),
		SourceBreakdown:       make(map[string]Breakdown),
		PeriodBreakdown:       make(map[Period]Breakdown),
	}
	for _, s := range Statuses {
		r.StatusSummary[s] = 0
	}
	for _, g := range all {
		r.StatusSummary[g.Status]++
		r.TotalCurrentRevenue += g.CurrentValue
		r.TotalTargetRevenue += g.TargetValue
		if g.Status == AtRisk {
			r.AtRiskGoals = append(r.AtRiskGoals, g)
		}
		if g.Status == Achieved && math.Floor(now.Sub(g.LastUpdated).Hours()/24) <= 7 {
			r.RecentlyAchievedGoals = append(r.RecentlyAchievedGoals, g)
		}
		if g.Channel != "" {
			r.ChannelBreakdown[g.Channel] = addTo(r.ChannelBreakdown[g.Channel], g)
		}
		if g.Source != "" {
			r.SourceBreakdown[g.Source] = addTo(r.SourceBreakdown[g.Source], g)
		}
		r.PeriodBreakdown[g.Period] = addTo(r.PeriodBreakdown[g.Period], g)
	}
	r.OverallProgressPercentage = series.SafeDiv(r.TotalCurrentRevenue, r.TotalTargetRevenue) * 100

	for ch, b := range r.ChannelBreakdown {
		r.TopPerformingChannels = append(r.TopPerformingChannels, ChannelPerformance{
			Channel:            ch,
			ProgressPercentage: b.ProgressPercentage,
			CurrentRevenue:     b.CurrentRevenue,
		})
	}
	sort.Slice(r.TopPerformingChannels, func(i, j int) bool {
		a, b := r.TopPerformingChannels[i], r.TopPerformingChannels[j]
		if a.ProgressPercentage != b.ProgressPercentage {
			return a.ProgressPercentage > b.ProgressPercentage
		}
		return a.Channel < b.Channel
	})
	if len(r.TopPerformingChannels) > 3 {
		r.TopPerformingChannels = r.TopPerformingChannels[:3]
	}
	return r
}

// propagate sets each ancestor's value to the sum of its children's values.
func (m *Manager) propagate(g *RevenueGoal) {
	now := m.now()
	for g.ParentGoalID != "" {
		parent, ok := m.goals.Get(g.ParentGoalID)
		if !ok {
			return
		}
		var sum float64
		for _, childID := range parent.SubGoals {
			if child, ok := m.goals.Get(childID); ok {
				sum += child.CurrentValue
			}
		}
		parent.UpdateValue(sum, now)
		g = parent
	}
}

func addTo(b Breakdown, g *RevenueGoal) Breakdown {
	b.GoalCount++
	b.CurrentRevenue += g.CurrentValue
	b.TargetRevenue += g.TargetValue
	b.ProgressPercentage = series.SafeDiv(b.CurrentRevenue, b.TargetRevenue) * 100
	return b
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
