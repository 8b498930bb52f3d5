package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"revenue-analytics/internal/monitor"
)

// Dispatcher fans monitor alerts out to named notifiers, dropping alerts below
// the minimum severity.
type Dispatcher struct {
	minSeverity monitor.Severity
	notifiers   map[string]Notifier
	order       []string
	logger      zerolog.Logger
}

// NewDispatcher builds a dispatcher. An empty minSeverity delivers everything.
func NewDispatcher(minSeverity monitor.Severity, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		minSeverity: minSeverity,
		notifiers:   make(map[string]Notifier),
		logger:      logger.With().Str("component", "alerting").Logger(),
	}
}

// Register adds a notifier under a channel name, replacing any previous one.
func (d *Dispatcher) Register(channel string, n Notifier) {
	if n == nil {
		return
	}
	if _, ok := d.notifiers[channel]; !ok {
		d.order = append(d.order, channel)
	}
	d.notifiers[channel] = n
}

// Channels lists registered channel names in registration order.
func (d *Dispatcher) Channels() []string {
	return append([]string(nil), d.order...)
}

// Deliver sends the alert to every registered notifier. Failures are logged.
func (d *Dispatcher) Deliver(ctx context.Context, alert monitor.Alert) {
	if alert.Severity.Rank() < d.minSeverity.Rank() {
		return
	}
	note := FromAlert(alert)
	for _, channel := range d.order {
		if err := d.notifiers[channel].Notify(ctx, note); err != nil {
			d.logger.Error().Err(err).Str("channel", channel).Str("alert_id", alert.ID).Msg("alert delivery failed")
		}
	}
}

var _ monitor.Sink = (*Dispatcher)(nil)
