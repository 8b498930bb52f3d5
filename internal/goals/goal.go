// Package goals tracks monetary revenue targets, their pacing metrics and the
// parent/child roll-up between them.
package goals

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"revenue-analytics/internal/dict"
	"revenue-analytics/internal/series"
)

// Period is the cadence a goal is measured over.
type Period string

const (
	Daily     Period = "daily"
	Weekly    Period = "weekly"
	Monthly   Period = "monthly"
	Quarterly Period = "quarterly"
	Annual    Period = "annual"
	Custom    Period = "custom"
)

// Status is the pacing state of a goal.
type Status string

const (
	Pending  Status = "pending"
	Active   Status = "active"
	Achieved Status = "achieved"
	AtRisk   Status = "at_risk"
	Missed   Status = "missed"
	Adjusted Status = "adjusted"
)

// Statuses lists every status in declaration order.
var Statuses = []Status{Pending, Active, Achieved, AtRisk, Missed, Adjusted}

var (
	// ErrUnknownPeriod is returned for an unrecognised period tag.
	ErrUnknownPeriod = errors.New("unknown goal period")
	// ErrUnknownStatus is returned for an unrecognised status tag.
	ErrUnknownStatus = errors.New("unknown goal status")
	// ErrInvalidGoal is returned when goal input fails basic checks.
	ErrInvalidGoal = errors.New("invalid goal")
)

// ParsePeriod validates a period tag. An empty string yields Monthly.
func ParsePeriod(v string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(v)))
	switch p {
	case "":
		return Monthly, nil
	case Daily, Weekly, Monthly, Quarterly, Annual, Custom:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, v)
}

// ParseStatus validates a status tag.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range Statuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, v)
}

// Metrics are the pacing figures recomputed on every mutation.
type Metrics struct {
	ProgressPercentage    float64    `json:"progress_percentage"`
	TimeElapsedPercentage float64    `json:"time_elapsed_percentage"`
	Velocity              float64    `json:"velocity"`
	ProjectedCompletion   *time.Time `json:"projected_completion"`
	VarianceFromTarget    float64    `json:"variance_from_target"`
}

// Milestone is an intermediate checkpoint on the way to the target.
type Milestone struct {
	Name        string     `json:"name" mapstructure:"name"`
	TargetValue float64    `json:"target_value" mapstructure:"target_value"`
	Date        *time.Time `json:"date,omitempty" mapstructure:"date"`
}

// HistoryEntry records either a value change or a target adjustment.
type HistoryEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	Action         string    `json:"action,omitempty"`
	PreviousValue  *float64  `json:"previous_value,omitempty"`
	NewValue       *float64  `json:"new_value,omitempty"`
	Change         *float64  `json:"change,omitempty"`
	PreviousTarget *float64  `json:"previous_target,omitempty"`
	NewTarget      *float64  `json:"new_target,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// ActionTargetAdjustment marks history entries written by AdjustTarget.
const ActionTargetAdjustment = "target_adjustment"

// RevenueGoal is a monetary target over a date range.
type RevenueGoal struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	TargetValue  float64        `json:"target_value"`
	CurrentValue float64        `json:"current_value"`
	Period       Period         `json:"period"`
	Channel      string         `json:"channel,omitempty"`
	Source       string         `json:"source,omitempty"`
	Segment      string         `json:"segment,omitempty"`
	ParentGoalID string         `json:"parent_goal_id,omitempty"`
	Status       Status         `json:"status"`
	CreationDate time.Time      `json:"creation_date"`
	LastUpdated  time.Time      `json:"last_updated"`
	StartDate    time.Time      `json:"start_date"`
	EndDate      time.Time      `json:"end_date"`
	Metrics      Metrics        `json:"metrics"`
	Milestones   []Milestone    `json:"milestones"`
	History      []HistoryEntry `json:"history"`
	SubGoals     []string       `json:"sub_goals,omitempty"`
}

// Input carries the caller-supplied fields of a new goal.
type Input struct {
	Name         string
	Description  string
	TargetValue  float64
	CurrentValue float64
	StartDate    time.Time
	EndDate      time.Time
	Period       Period
	Channel      string
	Source       string
	Segment      string
	ParentGoalID string
	Milestones   []Milestone
}

// NewGoal builds a pending goal and computes its initial metrics. Status is left
// pending until the first value or target change.
func NewGoal(id string, in Input, now time.Time) (*RevenueGoal, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidGoal)
	}
	if in.EndDate.Before(in.StartDate) {
		return nil, fmt.Errorf("%w: end date before start date", ErrInvalidGoal)
	}
	period := in.Period
	if period == "" {
		period = Monthly
	}
	milestones := in.Milestones
	if milestones == nil {
		milestones = []Milestone{}
	}
	g := &RevenueGoal{
		ID:           id,
		Name:         in.Name,
		Description:  in.Description,
		TargetValue:  in.TargetValue,
		CurrentValue: in.CurrentValue,
		Period:       period,
		Channel:      in.Channel,
		Source:       in.Source,
		Segment:      in.Segment,
		ParentGoalID: in.ParentGoalID,
		Status:       Pending,
		CreationDate: now,
		LastUpdated:  now,
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		Milestones:   milestones,
		History:      []HistoryEntry{},
	}
	g.UpdateMetrics(now)
	return g, nil
}

// UpdateValue sets the current value, appends a history entry and recomputes
// metrics and status.
func (g *RevenueGoal) UpdateValue(value float64, now time.Time) {
	prev := g.CurrentValue
	change := value - prev
	g.History = append(g.History, HistoryEntry{
		Timestamp:     now,
		PreviousValue: &prev,
		NewValue:      &value,
		Change:        &change,
	})
	g.CurrentValue = value
	g.LastUpdated = now
	g.UpdateMetrics(now)
	g.UpdateStatus(now)
}

// IncrementValue adds amount to the current value.
func (g *RevenueGoal) IncrementValue(amount float64, now time.Time) {
	g.UpdateValue(g.CurrentValue+amount, now)
}

// AdjustTarget changes the target. The goal is marked adjusted and then
// immediately re-evaluated, so the adjusted status does not survive the call.
func (g *RevenueGoal) AdjustTarget(target float64, reason string, now time.Time) {
	prev := g.TargetValue
	g.History = append(g.History, HistoryEntry{
		Timestamp:      now,
		Action:         ActionTargetAdjustment,
		PreviousTarget: &prev,
		NewTarget:      &target,
		Reason:         reason,
	})
	g.TargetValue = target
	g.Status = Adjusted
	g.LastUpdated = now
	g.UpdateMetrics(now)
	g.UpdateStatus(now)
}

// UpdateMetrics recomputes the pacing metrics as of now.
func (g *RevenueGoal) UpdateMetrics(now time.Time) {
	m := &g.Metrics
	m.ProgressPercentage = series.SafeDiv(g.CurrentValue, g.TargetValue) * 100

	total := g.EndDate.Sub(g.StartDate).Seconds()
	if total > 0 {
		elapsed := now.Sub(g.StartDate).Seconds()
		m.TimeElapsedPercentage = math.Max(0, math.Min(100, elapsed/total*100))
	} else {
		m.TimeElapsedPercentage = 100
	}

	daysElapsed := math.Max(1, math.Floor(now.Sub(g.StartDate).Hours()/24))
	m.Velocity = g.CurrentValue / daysElapsed

	m.ProjectedCompletion = nil
	if m.Velocity > 0 {
		daysNeeded := (g.TargetValue - g.CurrentValue) / m.Velocity
		at := now.Add(time.Duration(daysNeeded * float64(24*time.Hour)))
		m.ProjectedCompletion = &at
	}

	expected := g.TargetValue * m.TimeElapsedPercentage / 100
	m.VarianceFromTarget = g.CurrentValue - expected
}

// UpdateStatus re-evaluates the status state machine as of now.
func (g *RevenueGoal) UpdateStatus(now time.Time) {
	switch {
	case now.Before(g.StartDate):
		g.Status = Pending
	case g.CurrentValue >= g.TargetValue:
		g.Status = Achieved
	case now.After(g.EndDate):
		g.Status = Missed
	case g.Metrics.TimeElapsedPercentage > 50 && g.Metrics.ProgressPercentage < 40:
		g.Status = AtRisk
	default:
		g.Status = Active
	}
}

// Refresh recomputes metrics then status.
func (g *RevenueGoal) Refresh(now time.Time) {
	g.UpdateMetrics(now)
	g.UpdateStatus(now)
}

// DaysRemaining is the number of whole days until the end date.
func (g *RevenueGoal) DaysRemaining(now time.Time) int {
	return int(math.Floor(g.EndDate.Sub(now).Hours() / 24))
}

// ToDict renders the goal in its export form.
func (g *RevenueGoal) ToDict() (map[string]any, error) {
	return dict.From(g)
}

// FromDict rebuilds a goal from its export form.
func FromDict(m map[string]any) (*RevenueGoal, error) {
	g, err := dict.Into[RevenueGoal](m)
	if err != nil {
		return nil, fmt.Errorf("decode goal: %w", err)
	}
	if g.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidGoal)
	}
	if g.Milestones == nil {
		g.Milestones = []Milestone{}
	}
	if g.History == nil {
		g.History = []HistoryEntry{}
	}
	return &g, nil
}
