package ingest

import (
	"context"
	"log/slog"
	"time"

	"sensornet/internal/metrics"
	"sensornet/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.RawReading, reading model.RawReading, m *metrics.Metrics, logger *slog.Logger) bool {
	select {
	case out <- reading:
		return true
	case <-ctx.Done():
		return false
	default:
		if m != nil {
			m.IngestDropped.Inc()
		}
		if logger != nil {
			logger.Warn("reading channel full, dropping payload", "sensor_id", reading.SensorID, "source", reading.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
