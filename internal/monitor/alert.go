// Package monitor records performance metrics and raises alerts for anomalies,
// declining trends, goals behind pace, underperforming channels and forecast drift.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity grades an alert.
type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// Rank orders severities; unknown values rank below Info.
func (s Severity) Rank() int {
	switch s {
	case Info:
		return 1
	case Warning:
		return 2
	case Critical:
		return 3
	}
	return 0
}

// ParseSeverity validates a severity tag.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if s.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// AlertType classifies what triggered an alert.
type AlertType string

const (
	GoalAtRisk             AlertType = "goal_at_risk"
	RevenueDecline         AlertType = "revenue_decline"
	ConversionDecline      AlertType = "conversion_decline"
	ChannelUnderperforming AlertType = "channel_underperforming"
	ForecastDeviation      AlertType = "forecast_deviation"
	AnomalyDetected        AlertType = "anomaly_detected"
	OpportunityIdentified  AlertType = "opportunity_identified"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusActive   AlertStatus = "active"
	StatusResolved AlertStatus = "resolved"
)

// Entity types referenced by alerts.
const (
	EntityMetric   = "metric"
	EntityGoal     = "goal"
	EntityChannel  = "channel"
	EntityForecast = "forecast"
)

// Alert is a notification raised by the monitor.
type Alert struct {
	ID         string             `json:"id"`
	Type       AlertType          `json:"type"`
	Severity   Severity           `json:"severity"`
	Message    string             `json:"message"`
	Metrics    map[string]float64 `json:"metrics"`
	EntityID   string             `json:"entity_id,omitempty"`
	EntityType string             `json:"entity_type,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
	Status     AlertStatus        `json:"status"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
}

// Active reports whether the alert is still open.
func (a Alert) Active() bool {
	return a.Status == StatusActive
}

// AlertFilter narrows active alert listings. Zero fields match everything.
type AlertFilter struct {
	Severity Severity
	Type     AlertType
	EntityID string
}

// Match reports whether a satisfies every non-zero field of f.
func (f AlertFilter) Match(a *Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.EntityID != "" && a.EntityID != f.EntityID {
		return false
	}
	return true
}

func shortID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
