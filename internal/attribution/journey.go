package attribution

import (
	"sort"
	"time"

	"revenue-analytics/internal/dict"
)

// Touchpoint is a single marketing interaction recorded on a customer journey.
// RevenueContribution is written only by attribution.
type Touchpoint struct {
	ID                  string         `json:"id"`
	Channel             string         `json:"channel"`
	Campaign            string         `json:"campaign,omitempty"`
	Content             string         `json:"content,omitempty"`
	Timestamp           time.Time      `json:"timestamp"`
	InteractionType     string         `json:"interaction_type,omitempty"`
	RevenueContribution float64        `json:"revenue_contribution"`
	Cost                float64        `json:"cost"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// CustomerJourney is the ordered set of touchpoints leading to a customer's conversion.
type CustomerJourney struct {
	ID              string         `json:"id"`
	CustomerID      string         `json:"customer_id"`
	Touchpoints     []*Touchpoint  `json:"touchpoints"`
	ConversionValue float64        `json:"conversion_value"`
	ConversionDate  *time.Time     `json:"conversion_date"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreationDate    time.Time      `json:"creation_date"`
	LastUpdated     time.Time      `json:"last_updated"`
}

// AddTouchpoint appends tp and keeps the journey ordered by timestamp.
func (j *CustomerJourney) AddTouchpoint(tp *Touchpoint, now time.Time) {
	j.Touchpoints = append(j.Touchpoints, tp)
	sort.SliceStable(j.Touchpoints, func(a, b int) bool {
		return j.Touchpoints[a].Timestamp.Before(j.Touchpoints[b].Timestamp)
	})
	j.LastUpdated = now
}

// SetConversion records the conversion value and date, replacing any earlier conversion.
func (j *CustomerJourney) SetConversion(value float64, date time.Time, now time.Time) {
	j.ConversionValue = value
	d := date
	j.ConversionDate = &d
	j.LastUpdated = now
}

// Converted reports whether a conversion has been recorded.
func (j *CustomerJourney) Converted() bool {
	return j.ConversionDate != nil
}

// Duration is the time from the first touchpoint to the conversion.
func (j *CustomerJourney) Duration() (time.Duration, bool) {
	if len(j.Touchpoints) == 0 || j.ConversionDate == nil {
		return 0, false
	}
	return j.ConversionDate.Sub(j.Touchpoints[0].Timestamp), true
}

// ChannelCount tallies touchpoints per channel.
func (j *CustomerJourney) ChannelCount() map[string]int {
	out := make(map[string]int)
	for _, tp := range j.Touchpoints {
		out[tp.Channel]++
	}
	return out
}

// Channels lists the distinct channels used, sorted.
func (j *CustomerJourney) Channels() []string {
	counts := j.ChannelCount()
	out := make([]string, 0, len(counts))
	for ch := range counts {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// TotalContribution sums the attributed revenue over all touchpoints.
func (j *CustomerJourney) TotalContribution() float64 {
	total := 0.0
	for _, tp := range j.Touchpoints {
		total += tp.RevenueContribution
	}
	return total
}

// ToDict exports the journey for the graph-store collaborator.
func (j *CustomerJourney) ToDict() (map[string]any, error) {
	return dict.From(j)
}

// JourneyFromDict rebuilds a journey exported with ToDict.
func JourneyFromDict(m map[string]any) (*CustomerJourney, error) {
	return dict.Into[*CustomerJourney](m)
}
