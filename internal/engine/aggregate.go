package engine

import (
	"context"
	"time"

	"sensornet/internal/model"
	"sensornet/internal/storage"
)

type ReadingSummary struct {
	Type    model.SensorType `json:"type"`
	Value   float64          `json:"value"`
	Unit    string           `json:"unit"`
	Quality model.Quality    `json:"quality"`
	TS      string           `json:"ts"`
}

type LocationSummary struct {
	Sensors  []string                  `json:"sensors"`
	Readings map[string]ReadingSummary `json:"readings"`
}

type LocationStats struct {
	Location   string           `json:"location"`
	SensorType model.SensorType `json:"sensor_type"`
	Count      int              `json:"count"`
	Mean       float64          `json:"mean"`
	Min        float64          `json:"min"`
	Max        float64          `json:"max"`
	Range      float64          `json:"range"`
}

// AggregateByLocation groups every registered sensor by location and attaches
// the latest reading summary where one exists. Sensors without readings still
// appear in the sensor list. Recomputed fully on each call.
func (e *Engine) AggregateByLocation(ctx context.Context) (map[string]LocationSummary, error) {
	sensors, err := e.store.ListSensors(ctx, storage.SensorQuery{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]LocationSummary)
	for _, sensor := range sensors {
		loc, ok := out[sensor.Location]
		if !ok {
			loc = LocationSummary{
				Sensors:  []string{},
				Readings: make(map[string]ReadingSummary),
			}
		}
		loc.Sensors = append(loc.Sensors, sensor.ID)
		latest, err := e.store.LatestReading(ctx, sensor.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			loc.Readings[sensor.ID] = ReadingSummary{
				Type:    sensor.Type,
				Value:   latest.CalibratedValue,
				Unit:    latest.Unit,
				Quality: latest.Quality,
				TS:      latest.Timestamp,
			}
		}
		out[sensor.Location] = loc
	}
	return out, nil
}

// LocationStats summarizes calibrated values for all sensors matching
// location and type within the trailing window. min/max stay exact; mean and
// range are rounded to 4 decimals.
func (e *Engine) LocationStats(ctx context.Context, location string, sensorType model.SensorType, since time.Duration) (LocationStats, error) {
	stats := LocationStats{Location: location, SensorType: sensorType}
	sensors, err := e.store.ListSensors(ctx, storage.SensorQuery{
		Location: location,
		Type:     string(sensorType),
	})
	if err != nil {
		return stats, err
	}
	sinceTS := model.FormatTime(time.Now().Add(-since))
	var values []float64
	for _, sensor := range sensors {
		readings, err := e.store.ReadingsSince(ctx, sensor.ID, sinceTS)
		if err != nil {
			return stats, err
		}
		for _, r := range readings {
			values = append(values, r.CalibratedValue)
		}
	}
	stats.Count = len(values)
	if len(values) == 0 {
		return stats, nil
	}
	mean, _ := populationStats(values)
	minVal, maxVal := values[0], values[0]
	for _, v := range values[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	stats.Mean = round4(mean)
	stats.Min = minVal
	stats.Max = maxVal
	stats.Range = round4(maxVal - minVal)
	return stats, nil
}
