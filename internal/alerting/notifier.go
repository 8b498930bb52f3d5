package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"revenue-analytics/internal/monitor"
)

// Notification is the delivery form of a monitor alert.
type Notification struct {
	AlertID    string
	Type       string
	Severity   string
	Message    string
	EntityType string
	EntityID   string
	Timestamp  time.Time
	Metrics    map[string]decimal.Decimal
}

// FromAlert converts a monitor alert, rounding metric values to two decimals.
func FromAlert(a monitor.Alert) Notification {
	metrics := make(map[string]decimal.Decimal, len(a.Metrics))
	for k, v := range a.Metrics {
		metrics[k] = decimal.NewFromFloat(v).Round(2)
	}
	return Notification{
		AlertID:    a.ID,
		Type:       string(a.Type),
		Severity:   string(a.Severity),
		Message:    a.Message,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		Timestamp:  a.Timestamp,
		Metrics:    metrics,
	}
}

// Notifier delivers a notification to one channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts notifications through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("alert_id", note.AlertID).
		Str("severity", note.Severity).
		Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the notification at a level matching its severity.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	var ev *zerolog.Event
	switch monitor.Severity(note.Severity) {
	case monitor.Critical:
		ev = n.logger.Error()
	case monitor.Warning:
		ev = n.logger.Warn()
	default:
		ev = n.logger.Info()
	}
	ev.Str("alert_id", note.AlertID).
		Str("type", note.Type).
		Str("severity", note.Severity).
		Str("entity_type", note.EntityType).
		Str("entity_id", note.EntityID).
		Msg(note.Message)
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Revenue Alert] %s\n", strings.ToUpper(note.Severity)))
	builder.WriteString(fmt.Sprintf("Type: %s\n", note.Type))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	if note.EntityType != "" {
		builder.WriteString(fmt.Sprintf("Entity: %s %s\n", note.EntityType, note.EntityID))
	}
	builder.WriteString(note.Message)
	builder.WriteString("\n")

	keys := make([]string, 0, len(note.Metrics))
	for k := range note.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		builder.WriteString(fmt.Sprintf("%s: %s\n", k, note.Metrics[k].StringFixed(2)))
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
