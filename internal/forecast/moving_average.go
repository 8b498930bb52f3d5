package forecast

import (
	"time"

	"revenue-analytics/internal/series"
)

// MovingAverage predicts the mean of the trailing window, feeding each prediction back into the window.
type MovingAverage struct {
	ModelInfo
	trainedSeries
}

func (m *MovingAverage) Info() *ModelInfo { return &m.ModelInfo }

func (m *MovingAverage) Train(points []series.Point, now time.Time) error {
	if err := m.setHistory(points); err != nil {
		return err
	}
	markTrained(&m.ModelInfo, now)
	return nil
}

func (m *MovingAverage) Predict(periods int, g series.Granularity, start *time.Time) ([]Prediction, error) {
	if len(m.history) == 0 {
		return nil, ErrNotTrained
	}
	values := series.Values(m.history)
	w := m.Config.WindowSize
	if w <= 0 {
		w = 3
	}
	window := values
	if len(values) >= w {
		window = values[len(values)-w:]
	}
	window = append([]float64(nil), window...)

	timeline := g.Timeline(m.startOr(start), periods)
	return predictions(timeline, func(int) float64 {
		v := series.Mean(window)
		window = append(window, v)
		if len(window) > w {
			window = window[1:]
		}
		return v
	}), nil
}
