package engine

import (
	"context"
	"fmt"
	"math"

	"sensornet/internal/model"
)

// DetectAnomaly classifies a sensor's most recent reading against the
// baseline of up to `window` readings before it, using a rolling Z-score.
// The tested point is excluded from the baseline so it cannot inflate its
// own statistics. window and threshold fall back to the configured defaults
// when non-positive.
func (e *Engine) DetectAnomaly(ctx context.Context, sensorID string, window int, threshold float64) (model.AnomalyResult, error) {
	det := e.config().Detection
	if window <= 0 {
		window = det.Window
	}
	if threshold <= 0 {
		threshold = det.Threshold
	}
	if e.metrics != nil {
		e.metrics.AnomalyChecks.Inc()
	}

	rows, err := e.store.RecentReadings(ctx, sensorID, window+1)
	if err != nil {
		return model.AnomalyResult{}, err
	}
	if len(rows) < det.MinDataPoints {
		return model.AnomalyResult{
			SensorID:   sensorID,
			Anomaly:    false,
			Reason:     model.ReasonInsufficientData,
			DataPoints: len(rows),
		}, nil
	}

	latest := rows[0].CalibratedValue
	baseline := make([]float64, 0, len(rows)-1)
	for _, r := range rows[1:] {
		baseline = append(baseline, r.CalibratedValue)
	}
	mean, std := populationStats(baseline)

	// A zero-variance baseline yields z = 0, so it can never flag the
	// latest point no matter how far it sits from the mean.
	zScore := 0.0
	if std > 0 {
		zScore = (latest - mean) / std
	}
	anomalous := math.Abs(zScore) > threshold

	result := model.AnomalyResult{
		SensorID:    sensorID,
		Anomaly:     anomalous,
		LatestValue: latest,
		Mean:        round4(mean),
		Std:         round4(std),
		ZScore:      round4(zScore),
		Threshold:   threshold,
		Timestamp:   rows[0].Timestamp,
	}
	if anomalous {
		msg := fmt.Sprintf("Z-score %.2f exceeds threshold %g", zScore, threshold)
		if err := e.storeAlert(ctx, sensorID, model.AlertAnomaly, latest, msg); err != nil {
			return result, err
		}
	}
	return result, nil
}

// populationStats divides by n, not n-1.
func populationStats(values []float64) (mean, std float64) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return mean, std
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
