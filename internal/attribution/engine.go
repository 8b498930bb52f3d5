package attribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"revenue-analytics/internal/storage"
)

var (
	// ErrCustomerNotFound indicates no journey exists for the customer.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrMissingChannel indicates a touchpoint without a channel.
	ErrMissingChannel = errors.New("channel is required")
)

// LTV model parameters.
const (
	RepeatRate = 0.3
	ChurnRate  = 0.1
)

// TouchpointInput carries the caller-supplied fields of a new touchpoint.
type TouchpointInput struct {
	CustomerID      string
	Channel         string
	Campaign        string
	Content         string
	InteractionType string
	Cost            float64
	Timestamp       *time.Time
	Metadata        map[string]any
}

// Metrics aggregates touchpoint activity for a channel or campaign.
type Metrics struct {
	Touchpoints         int      `json:"touchpoints"`
	Cost                float64  `json:"cost"`
	RevenueContribution float64  `json:"revenue_contribution"`
	Conversions         int      `json:"conversions"`
	ConversionRate      float64  `json:"conversion_rate"`
	ROI                 float64  `json:"roi"`
	CAC                 float64  `json:"cac"`
	Channels            []string `json:"channels,omitempty"`
}

// ChannelROI is one row of the high/low ROI partition.
type ChannelROI struct {
	Channel             string  `json:"channel"`
	ROI                 float64 `json:"roi"`
	RevenueContribution float64 `json:"revenue_contribution"`
	Cost                float64 `json:"cost"`
	ConversionRate      float64 `json:"conversion_rate"`
}

// Recommendation is an investment suggestion for one channel.
type Recommendation struct {
	Action          string `json:"action"`
	Channel         string `json:"channel"`
	Reason          string `json:"reason"`
	PotentialImpact string `json:"potential_impact"`
}

// ROIAnalysis partitions channels by ROI sign.
type ROIAnalysis struct {
	HighROIChannels []ChannelROI     `json:"high_roi_channels"`
	LowROIChannels  []ChannelROI     `json:"low_roi_channels"`
	Recommendations []Recommendation `json:"recommendations"`
}

// LTVProjection is a simple churn-decayed lifetime value projection.
type LTVProjection struct {
	CustomerID             string    `json:"customer_id"`
	InitialConversionValue float64   `json:"initial_conversion_value"`
	LTVProjection          float64   `json:"ltv_projection"`
	PredictionMonths       int       `json:"prediction_months"`
	MonthlyValues          []float64 `json:"monthly_values"`
	ModelParameters        struct {
		EstimatedRepeatRate float64 `json:"estimated_repeat_rate"`
		EstimatedChurnRate  float64 `json:"estimated_churn_rate"`
	} `json:"model_parameters"`
}

// JourneySummary condenses a converted journey for reports.
type JourneySummary struct {
	Touchpoints         int      `json:"touchpoints"`
	ChannelsUsed        []string `json:"channels_used"`
	ConversionValue     float64  `json:"conversion_value"`
	JourneyDurationDays *int     `json:"journey_duration_days"`
}

// Report is the full attribution report.
type Report struct {
	Timestamp           time.Time                 `json:"timestamp"`
	DateRange           DateRange                 `json:"date_range"`
	AttributionModel    Model                     `json:"attribution_model"`
	Summary             ReportSummary             `json:"summary"`
	ChannelAttribution  map[string]*Metrics       `json:"channel_attribution"`
	CampaignAttribution map[string]*Metrics       `json:"campaign_attribution"`
	CustomerJourneys    map[string]JourneySummary `json:"customer_journeys"`
	Recommendations     []Recommendation          `json:"recommendations"`
}

// DateRange echoes the optional report window.
type DateRange struct {
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// ReportSummary totals the channel attribution.
type ReportSummary struct {
	TotalRevenue     float64 `json:"total_revenue"`
	TotalCost        float64 `json:"total_cost"`
	TotalConversions int     `json:"total_conversions"`
	OverallROI       float64 `json:"overall_roi"`
}

type snapshot struct {
	AttributionModel Model              `json:"attribution_model"`
	Journeys         []*CustomerJourney `json:"journeys"`
}

// Engine owns customer journeys and assigns conversion credit to their touchpoints.
type Engine struct {
	journeys   *storage.MemoryRepository[*CustomerJourney]
	byCustomer map[string]string
	model      Model
	persist    *storage.Persister
	logger     zerolog.Logger
	now        func() time.Time
}

// NewEngine builds an attribution engine. persist may be nil.
func NewEngine(model Model, persist *storage.Persister, logger zerolog.Logger) *Engine {
	if model == "" {
		model = Linear
	}
	return &Engine{
		journeys:   storage.NewMemoryRepository[*CustomerJourney](),
		byCustomer: make(map[string]string),
		model:      model,
		persist:    persist,
		logger:     logger.With().Str("component", "attribution").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Model returns the default attribution model.
func (e *Engine) Model() Model {
	return e.model
}

// SetModel switches the default attribution model for future conversions.
func (e *Engine) SetModel(m Model) {
	e.model = m
}

// Load restores journeys from the persistence collaborator; it reports whether a snapshot was applied.
func (e *Engine) Load(ctx context.Context) bool {
	var snap snapshot
	if !e.persist.Load(ctx, &snap) {
		return false
	}
	e.journeys.Reset()
	e.byCustomer = make(map[string]string)
	for _, j := range snap.Journeys {
		if j == nil || j.ID == "" {
			continue
		}
		e.journeys.Put(j.ID, j)
		e.byCustomer[j.CustomerID] = j.ID
	}
	if snap.AttributionModel != "" {
		e.model = snap.AttributionModel
	}
	e.logger.Info().Int("journeys", e.journeys.Len()).Msg("journeys restored")
	return true
}

func (e *Engine) save(ctx context.Context) {
	e.persist.Save(ctx, snapshot{AttributionModel: e.model, Journeys: e.journeys.List()})
}

func (e *Engine) journeyFor(customerID string) (*CustomerJourney, bool) {
	id, ok := e.byCustomer[customerID]
	if !ok {
		return nil, false
	}
	return e.journeys.Get(id)
}

func (e *Engine) getOrCreate(customerID string) *CustomerJourney {
	if j, ok := e.journeyFor(customerID); ok {
		return j
	}
	now := e.now()
	j := &CustomerJourney{
		ID:           uuid.NewString(),
		CustomerID:   customerID,
		Touchpoints:  []*Touchpoint{},
		Metadata:     map[string]any{},
		CreationDate: now,
		LastUpdated:  now,
	}
	e.journeys.Put(j.ID, j)
	e.byCustomer[customerID] = j.ID
	return j
}

// RecordTouchpoint appends a touchpoint to the customer's journey, creating it on first use.
func (e *Engine) RecordTouchpoint(ctx context.Context, in TouchpointInput) (*Touchpoint, error) {
	if in.CustomerID == "" {
		return nil, fmt.Errorf("record touchpoint: customer_id is required")
	}
	if in.Channel == "" {
		return nil, fmt.Errorf("record touchpoint: %w", ErrMissingChannel)
	}
	now := e.now()
	ts := now
	if in.Timestamp != nil {
		ts = in.Timestamp.UTC()
	}
	tp := &Touchpoint{
		ID:              uuid.NewString(),
		Channel:         in.Channel,
		Campaign:        in.Campaign,
		Content:         in.Content,
		Timestamp:       ts,
		InteractionType: in.InteractionType,
		Cost:            in.Cost,
		Metadata:        in.Metadata,
	}
	j := e.getOrCreate(in.CustomerID)
	j.AddTouchpoint(tp, now)
	e.save(ctx)

	e.logger.Info().Str("customer_id", in.CustomerID).Str("channel", in.Channel).Msg("touchpoint recorded")
	return tp, nil
}

// RecordConversion sets the journey's conversion and re-attributes its touchpoints.
// model overrides the engine default for this call when non-empty.
func (e *Engine) RecordConversion(ctx context.Context, customerID string, value float64, date *time.Time, model Model, metadata map[string]any) (*CustomerJourney, error) {
	if customerID == "" {
		return nil, fmt.Errorf("record conversion: customer_id is required")
	}
	now := e.now()
	when := now
	if date != nil {
		when = date.UTC()
	}
	j := e.getOrCreate(customerID)
	j.SetConversion(value, when, now)
	if len(metadata) > 0 {
		if j.Metadata == nil {
			j.Metadata = map[string]any{}
		}
		for k, v := range metadata {
			j.Metadata[k] = v
		}
	}
	if model == "" {
		model = e.model
	}
	Attribute(j, model)
	e.save(ctx)

	e.logger.Info().
		Str("customer_id", customerID).
		Float64("value", value).
		Str("model", string(model)).
		Msg("conversion recorded")
	return j, nil
}

// Journey returns the customer's journey.
func (e *Engine) Journey(customerID string) (*CustomerJourney, error) {
	j, ok := e.journeyFor(customerID)
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", customerID, ErrCustomerNotFound)
	}
	return j, nil
}

// Journeys lists all journeys in creation order.
func (e *Engine) Journeys() []*CustomerJourney {
	return e.journeys.List()
}

func outside(ts time.Time, from, to *time.Time) bool {
	if from != nil && ts.Before(*from) {
		return true
	}
	if to != nil && ts.After(*to) {
		return true
	}
	return false
}

// aggregate folds touchpoints inside [from, to] into per-key metrics. Journeys
// converted outside the window are skipped; an in-window conversion is credited
// once, to the last touchpoint that survives the window filter.
func (e *Engine) aggregate(from, to *time.Time, key func(*Touchpoint) string, trackChannels bool) map[string]*Metrics {
	out := make(map[string]*Metrics)
	channelSets := make(map[string]map[string]struct{})

	for _, j := range e.journeys.List() {
		if j.ConversionDate != nil && outside(*j.ConversionDate, from, to) {
			continue
		}
		lastKey := ""
		for _, tp := range j.Touchpoints {
			if outside(tp.Timestamp, from, to) {
				continue
			}
			k := key(tp)
			if k == "" {
				continue
			}
			m, ok := out[k]
			if !ok {
				m = &Metrics{}
				out[k] = m
			}
			m.Touchpoints++
			m.Cost += tp.Cost
			m.RevenueContribution += tp.RevenueContribution
			if trackChannels {
				if channelSets[k] == nil {
					channelSets[k] = make(map[string]struct{})
				}
				channelSets[k][tp.Channel] = struct{}{}
			}
			lastKey = k
		}
		if j.Converted() && lastKey != "" {
			out[lastKey].Conversions++
		}
	}

	for k, m := range out {
		m.derive()
		if trackChannels {
			m.Channels = make([]string, 0, len(channelSets[k]))
			for ch := range channelSets[k] {
				m.Channels = append(m.Channels, ch)
			}
			sort.Strings(m.Channels)
		}
	}
	return out
}

func (m *Metrics) derive() {
	m.ConversionRate = 0
	m.ROI = 0
	m.CAC = 0
	if m.Touchpoints > 0 {
		m.ConversionRate = float64(m.Conversions) / float64(m.Touchpoints) * 100
	}
	if m.Cost > 0 {
		m.ROI = (m.RevenueContribution - m.Cost) / m.Cost * 100
	}
	if m.Conversions > 0 {
		m.CAC = m.Cost / float64(m.Conversions)
	}
}

// ChannelMetrics aggregates touchpoints per channel within an optional window.
func (e *Engine) ChannelMetrics(from, to *time.Time) map[string]*Metrics {
	return e.aggregate(from, to, func(tp *Touchpoint) string { return tp.Channel }, false)
}

// CampaignMetrics aggregates campaign-tagged touchpoints per campaign within an optional window.
func (e *Engine) CampaignMetrics(from, to *time.Time) map[string]*Metrics {
	return e.aggregate(from, to, func(tp *Touchpoint) string { return tp.Campaign }, true)
}

// HighROIChannels partitions channels by ROI and recommends investment changes.
func (e *Engine) HighROIChannels() ROIAnalysis {
	return analyzeROI(e.ChannelMetrics(nil, nil))
}

func analyzeROI(metrics map[string]*Metrics) ROIAnalysis {
	rows := make([]ChannelROI, 0, len(metrics))
	for ch, m := range metrics {
		rows = append(rows, ChannelROI{
			Channel:             ch,
			ROI:                 m.ROI,
			RevenueContribution: m.RevenueContribution,
			Cost:                m.Cost,
			ConversionRate:      m.ConversionRate,
		})
	}
	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].ROI != rows[b].ROI {
			return rows[a].ROI > rows[b].ROI
		}
		return rows[a].Channel < rows[b].Channel
	})

	res := ROIAnalysis{
		HighROIChannels: []ChannelROI{},
		LowROIChannels:  []ChannelROI{},
		Recommendations: []Recommendation{},
	}
	for _, r := range rows {
		if r.ROI > 0 {
			res.HighROIChannels = append(res.HighROIChannels, r)
		} else {
			res.LowROIChannels = append(res.LowROIChannels, r)
		}
	}

	for i, r := range res.HighROIChannels {
		if i == 3 {
			break
		}
		res.Recommendations = append(res.Recommendations, Recommendation{
			Action:          "increase_investment",
			Channel:         r.Channel,
			Reason:          fmt.Sprintf("High ROI of %.2f%%", r.ROI),
			PotentialImpact: "Increase revenue while maintaining efficiency",
		})
	}
	for _, r := range res.LowROIChannels {
		if r.ConversionRate > 0 {
			res.Recommendations = append(res.Recommendations, Recommendation{
				Action:          "optimize",
				Channel:         r.Channel,
				Reason:          fmt.Sprintf("Low ROI of %.2f%% despite conversions", r.ROI),
				PotentialImpact: "Improve efficiency and ROI",
			})
			continue
		}
		res.Recommendations = append(res.Recommendations, Recommendation{
			Action:          "reduce_investment",
			Channel:         r.Channel,
			Reason:          fmt.Sprintf("Negative ROI of %.2f%% with no conversions", r.ROI),
			PotentialImpact: "Reduce waste and reallocate budget",
		})
	}
	return res
}

// CustomerLTV projects lifetime value over months, starting from the conversion value.
func (e *Engine) CustomerLTV(customerID string, months int) (*LTVProjection, error) {
	j, err := e.Journey(customerID)
	if err != nil {
		return nil, err
	}
	if months <= 0 {
		months = 12
	}
	monthly := j.ConversionValue * RepeatRate
	ltv := j.ConversionValue
	values := []float64{j.ConversionValue}
	remaining := 1.0
	for m := 1; m < months; m++ {
		remaining *= 1 - ChurnRate
		v := monthly * remaining
		ltv += v
		values = append(values, v)
	}

	p := &LTVProjection{
		CustomerID:             customerID,
		InitialConversionValue: j.ConversionValue,
		LTVProjection:          ltv,
		PredictionMonths:       months,
		MonthlyValues:          values,
	}
	p.ModelParameters.EstimatedRepeatRate = RepeatRate
	p.ModelParameters.EstimatedChurnRate = ChurnRate
	return p, nil
}

// Report builds the attribution report for an optional window.
func (e *Engine) Report(from, to *time.Time, model Model) *Report {
	if model == "" {
		model = e.model
	}
	channels := e.ChannelMetrics(from, to)
	campaigns := e.CampaignMetrics(from, to)

	var summary ReportSummary
	for _, m := range channels {
		summary.TotalRevenue += m.RevenueContribution
		summary.TotalCost += m.Cost
		summary.TotalConversions += m.Conversions
	}
	if summary.TotalCost > 0 {
		summary.OverallROI = (summary.TotalRevenue - summary.TotalCost) / summary.TotalCost * 100
	}

	journeys := make(map[string]JourneySummary)
	for _, j := range e.journeys.List() {
		if !j.Converted() {
			continue
		}
		js := JourneySummary{
			Touchpoints:     len(j.Touchpoints),
			ChannelsUsed:    j.Channels(),
			ConversionValue: j.ConversionValue,
		}
		if d, ok := j.Duration(); ok {
			days := int(d / (24 * time.Hour))
			js.JourneyDurationDays = &days
		}
		journeys[j.CustomerID] = js
	}

	return &Report{
		Timestamp:           e.now(),
		DateRange:           DateRange{StartDate: from, EndDate: to},
		AttributionModel:    model,
		Summary:             summary,
		ChannelAttribution:  channels,
		CampaignAttribution: campaigns,
		CustomerJourneys:    journeys,
		Recommendations:     analyzeROI(channels).Recommendations,
	}
}
