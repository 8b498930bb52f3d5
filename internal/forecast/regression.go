package forecast

import (
	"math"
	"time"

	"revenue-analytics/internal/series"
)

// LinearRegression fits value against whole days since the first observation,
// optionally adding zero-mean seasonal residuals.
type LinearRegression struct {
	ModelInfo
	trainedSeries

	slope           float64
	intercept       float64
	seasonalFactors []float64
	fitted          bool
}

func (m *LinearRegression) Info() *ModelInfo { return &m.ModelInfo }

// wholeDays floors d to days, so a start half a day before the first
// observation lands on day -1 rather than 0.
func wholeDays(d time.Duration) float64 {
	return math.Floor(d.Hours() / 24)
}

func (m *LinearRegression) Train(points []series.Point, now time.Time) error {
	if err := m.setHistory(points); err != nil {
		return err
	}
	first := m.history[0].Timestamp
	ys := series.Values(m.history)
	xs := make([]float64, len(m.history))
	for i, p := range m.history {
		xs[i] = wholeDays(p.Timestamp.Sub(first))
	}

	meanX, meanY := series.Mean(xs), series.Mean(ys)
	var num, den float64
	for i := range xs {
		num += (xs[i] - meanX) * (ys[i] - meanY)
		den += (xs[i] - meanX) * (xs[i] - meanX)
	}
	m.slope = series.SafeDiv(num, den)
	m.intercept = meanY - m.slope*meanX
	m.seasonalFactors = nil

	if m.Config.IncludeSeasonality && m.Config.SeasonalPeriods > 0 {
		sp := m.Config.SeasonalPeriods
		sums := make([]float64, sp)
		counts := make([]int, sp)
		for i := range xs {
			sums[i%sp] += ys[i] - (m.intercept + m.slope*xs[i])
			counts[i%sp]++
		}
		factors := make([]float64, sp)
		for i := range factors {
			factors[i] = series.SafeDiv(sums[i], float64(counts[i]))
		}
		mean := series.Mean(factors)
		for i := range factors {
			factors[i] -= mean
		}
		m.seasonalFactors = factors
	}

	m.fitted = true
	markTrained(&m.ModelInfo, now)
	return nil
}

func (m *LinearRegression) Predict(periods int, g series.Granularity, start *time.Time) ([]Prediction, error) {
	if !m.fitted {
		return nil, ErrNotTrained
	}
	first := m.history[0].Timestamp
	timeline := g.Timeline(m.startOr(start), periods)
	return predictions(timeline, func(i int) float64 {
		v := m.intercept + m.slope*wholeDays(timeline[i].Sub(first))
		if len(m.seasonalFactors) > 0 {
			v += m.seasonalFactors[i%len(m.seasonalFactors)]
		}
		return v
	}), nil
}
