package forecast

import (
	"fmt"
	"time"

	"revenue-analytics/internal/series"
)

// ExponentialSmoothing is simple smoothing, Holt's linear trend when Beta is set,
// or multiplicative Holt-Winters when Gamma is set as well.
type ExponentialSmoothing struct {
	ModelInfo
	trainedSeries

	level     float64
	trend     float64
	seasonals []float64
	fitted    bool
}

func (m *ExponentialSmoothing) Info() *ModelInfo { return &m.ModelInfo }

func (m *ExponentialSmoothing) Train(points []series.Point, now time.Time) error {
	if err := m.setHistory(points); err != nil {
		return err
	}
	values := series.Values(m.history)
	alpha := m.Config.Alpha

	switch {
	case m.Config.Gamma != nil:
		if err := m.fitHoltWinters(values); err != nil {
			return err
		}
	case m.Config.Beta != nil:
		if len(values) < 2 {
			return fmt.Errorf("%w: need at least 2 data points for trend model", ErrInsufficientData)
		}
		beta := *m.Config.Beta
		m.level = values[0]
		m.trend = values[1] - values[0]
		for _, v := range values[1:] {
			prev := m.level
			m.level = alpha*v + (1-alpha)*(m.level+m.trend)
			m.trend = beta*(m.level-prev) + (1-beta)*m.trend
		}
		m.seasonals = nil
	default:
		m.level = values[0]
		for _, v := range values[1:] {
			m.level = alpha*v + (1-alpha)*m.level
		}
		m.trend = 0
		m.seasonals = nil
	}

	m.fitted = true
	markTrained(&m.ModelInfo, now)
	return nil
}

// fitHoltWinters seeds level, trend and season from the first two cycles, then
// smooths through the rest of the series. The final seasonals are rotated so that
// index k mod sp is the factor of the k-th period after the last observation.
func (m *ExponentialSmoothing) fitHoltWinters(values []float64) error {
	sp := m.Config.SeasonalPeriods
	if len(values) < 2*sp {
		return fmt.Errorf("%w: need at least %d data points for seasonal model", ErrInsufficientData, 2*sp)
	}
	alpha := m.Config.Alpha
	beta := 0.0
	if m.Config.Beta != nil {
		beta = *m.Config.Beta
	}
	gamma := *m.Config.Gamma

	level := values[0]
	trend := 0.0
	for i := 0; i < sp; i++ {
		trend += values[sp+i] - values[i]
	}
	trend /= float64(sp * sp)

	seasonals := make([]float64, sp)
	for i := range seasonals {
		seasonals[i] = 1
		if level != 0 {
			seasonals[i] = values[i] / level
		}
	}
	if mean := series.Mean(seasonals); mean != 0 {
		for i := range seasonals {
			seasonals[i] /= mean
		}
	}

	for t := sp; t < len(values); t++ {
		idx := t % sp
		s := seasonals[idx]
		prev := level
		if s != 0 {
			level = alpha*(values[t]/s) + (1-alpha)*(level+trend)
		} else {
			level = alpha*values[t] + (1-alpha)*(level+trend)
		}
		trend = beta*(level-prev) + (1-beta)*trend
		if level != 0 {
			seasonals[idx] = gamma*(values[t]/level) + (1-gamma)*s
		}
	}

	last := len(values) - 1
	rotated := make([]float64, sp)
	for k := 0; k < sp; k++ {
		rotated[k] = seasonals[(last+k)%sp]
	}
	m.level = level
	m.trend = trend
	m.seasonals = rotated
	return nil
}

func (m *ExponentialSmoothing) Predict(periods int, g series.Granularity, start *time.Time) ([]Prediction, error) {
	if !m.fitted {
		return nil, ErrNotTrained
	}
	timeline := g.Timeline(m.startOr(start), periods)
	return predictions(timeline, func(k int) float64 {
		v := m.level + float64(k)*m.trend
		if len(m.seasonals) > 0 {
			v *= m.seasonals[k%len(m.seasonals)]
		}
		return v
	}), nil
}
