package attribution

import (
	"fmt"
	"strings"
)

// Model selects how conversion credit is split across a journey.
type Model string

const (
	FirstTouch    Model = "first_touch"
	LastTouch     Model = "last_touch"
	Linear        Model = "linear"
	TimeDecay     Model = "time_decay"
	PositionBased Model = "position_based"
	DataDriven    Model = "data_driven"
	Custom        Model = "custom"
)

// ParseModel validates an attribution model tag.
func ParseModel(v string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(v)))
	switch m {
	case FirstTouch, LastTouch, Linear, TimeDecay, PositionBased, DataDriven, Custom:
		return m, nil
	}
	return "", fmt.Errorf("unsupported attribution model: %q", v)
}

// interactionWeights is the fixed heuristic table behind the data-driven model.
var interactionWeights = map[string]float64{
	"view":        0.5,
	"click":       1.0,
	"engagement":  2.0,
	"add_to_cart": 3.0,
}

func interactionWeight(kind string) float64 {
	if w, ok := interactionWeights[kind]; ok {
		return w
	}
	return 1.0
}

// Attribute assigns RevenueContribution across the journey's touchpoints.
// Prior contributions are cleared first, so re-attribution replaces rather than accumulates.
// Journeys without touchpoints or with a non-positive conversion value are left untouched.
func Attribute(j *CustomerJourney, model Model) {
	n := len(j.Touchpoints)
	value := j.ConversionValue
	if n == 0 || value <= 0 {
		return
	}
	for _, tp := range j.Touchpoints {
		tp.RevenueContribution = 0
	}

	switch model {
	case FirstTouch:
		j.Touchpoints[0].RevenueContribution = value
	case LastTouch:
		j.Touchpoints[n-1].RevenueContribution = value
	case TimeDecay:
		total := float64(n*(n+1)) / 2
		for i, tp := range j.Touchpoints {
			tp.RevenueContribution = value * float64(i+1) / total
		}
	case PositionBased:
		if n == 1 {
			j.Touchpoints[0].RevenueContribution = value
			return
		}
		// with two touchpoints the 20% middle share has nowhere to go and is dropped
		j.Touchpoints[0].RevenueContribution = 0.4 * value
		j.Touchpoints[n-1].RevenueContribution = 0.4 * value
		if n > 2 {
			perMiddle := 0.2 * value / float64(n-2)
			for _, tp := range j.Touchpoints[1 : n-1] {
				tp.RevenueContribution = perMiddle
			}
		}
	case DataDriven:
		weights := make([]float64, n)
		total := 0.0
		for i, tp := range j.Touchpoints {
			weights[i] = interactionWeight(tp.InteractionType)
			total += weights[i]
		}
		if total <= 0 {
			attributeLinear(j)
			return
		}
		for i, tp := range j.Touchpoints {
			tp.RevenueContribution = weights[i] / total * value
		}
	default:
		attributeLinear(j)
	}
}

func attributeLinear(j *CustomerJourney) {
	per := j.ConversionValue / float64(len(j.Touchpoints))
	for _, tp := range j.Touchpoints {
		tp.RevenueContribution = per
	}
}
