package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"sensornet/internal/config"
	"sensornet/internal/metrics"
	"sensornet/internal/model"
	"sensornet/internal/storage"
)

// ErrSensorNotFound is returned when an operation references a sensor id
// absent from the registry.
var ErrSensorNotFound = errors.New("sensor not found")

// Engine runs the reading pipeline: calibration, persistence, synchronous
// threshold checks, pull-based anomaly detection and location views.
type Engine struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     atomic.Value
}

func NewEngine(cfg *config.Config, logger *slog.Logger, store storage.Store, m *metrics.Metrics) *Engine {
	e := &Engine{store: store, logger: logger, metrics: m}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Start consumes ingested payloads until ctx is done. Unregistered sensors
// are dropped with a warning; the reading pipeline itself runs exactly as it
// does for direct API calls.
func (e *Engine) Start(ctx context.Context, in <-chan model.RawReading) {
	go func() {
		for {
			select {
			case raw := <-in:
				if _, err := e.RecordReading(ctx, raw.SensorID, raw.Value, raw.Timestamp); err != nil {
					if e.metrics != nil {
						e.metrics.ReadingsRejected.Inc()
					}
					if e.logger != nil {
						e.logger.Warn("reading dropped",
							"sensor_id", raw.SensorID,
							"source", raw.Source,
							"err", err,
						)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (e *Engine) RegisterSensor(ctx context.Context, sensor model.Sensor) (model.Sensor, error) {
	if sensor.ID == "" {
		return model.Sensor{}, errors.New("sensor id required")
	}
	if sensor.Firmware == "" {
		sensor.Firmware = "1.0.0"
	}
	if sensor.CreatedAt == "" {
		sensor.CreatedAt = model.Now()
	}
	if err := e.store.RegisterSensor(ctx, sensor); err != nil {
		return model.Sensor{}, err
	}
	if e.logger != nil {
		e.logger.Info("sensor registered",
			"sensor_id", sensor.ID,
			"type", sensor.Type,
			"location", sensor.Location,
		)
	}
	return sensor, nil
}

func (e *Engine) GetSensor(ctx context.Context, sensorID string) (model.Sensor, error) {
	sensor, err := e.store.GetSensor(ctx, sensorID)
	if err != nil {
		return model.Sensor{}, err
	}
	if sensor == nil {
		return model.Sensor{}, fmt.Errorf("sensor %q: %w", sensorID, ErrSensorNotFound)
	}
	return *sensor, nil
}

func (e *Engine) ListSensors(ctx context.Context, q storage.SensorQuery) ([]model.Sensor, error) {
	return e.store.ListSensors(ctx, q)
}

// RecordReading calibrates and persists a raw value, then evaluates the
// sensor's threshold rule in the same call. The reading is built from the
// sensor's calibration at this moment; later offset changes never rewrite it.
func (e *Engine) RecordReading(ctx context.Context, sensorID string, raw float64, ts string) (model.Reading, error) {
	sensor, err := e.store.GetSensor(ctx, sensorID)
	if err != nil {
		return model.Reading{}, err
	}
	if sensor == nil {
		return model.Reading{}, fmt.Errorf("sensor %q: %w", sensorID, ErrSensorNotFound)
	}
	reading := model.BuildReading(*sensor, raw, ts)
	if err := e.store.InsertReading(ctx, reading); err != nil {
		return model.Reading{}, err
	}
	if e.metrics != nil {
		e.metrics.ReadingsIngested.Inc()
	}
	if err := e.checkThreshold(ctx, sensorID, reading.CalibratedValue); err != nil {
		return reading, err
	}
	return reading, nil
}

func (e *Engine) Latest(ctx context.Context, sensorID string) (*model.Reading, error) {
	return e.store.LatestReading(ctx, sensorID)
}

// TimeSeries returns the sensor's readings within the trailing window,
// oldest first.
func (e *Engine) TimeSeries(ctx context.Context, sensorID string, since time.Duration) ([]model.Reading, error) {
	sinceTS := model.FormatTime(time.Now().Add(-since))
	return e.store.ReadingsSince(ctx, sensorID, sinceTS)
}

// SetThresholdRule installs or replaces the sensor's min/max rule. Either
// side may be nil, meaning unbounded.
func (e *Engine) SetThresholdRule(ctx context.Context, sensorID string, minVal, maxVal *float64) error {
	if sensorID == "" {
		return errors.New("sensor id required")
	}
	return e.store.UpsertThresholdRule(ctx, model.ThresholdRule{
		SensorID: sensorID,
		MinVal:   minVal,
		MaxVal:   maxVal,
	})
}

// checkThreshold evaluates both bounds independently with strict
// comparisons; a value exactly on a bound never alerts.
func (e *Engine) checkThreshold(ctx context.Context, sensorID string, value float64) error {
	rule, err := e.store.GetThresholdRule(ctx, sensorID)
	if err != nil {
		return err
	}
	if rule == nil {
		return nil
	}
	if rule.MinVal != nil && value < *rule.MinVal {
		msg := fmt.Sprintf("Value %g below min %g", value, *rule.MinVal)
		if err := e.storeAlert(ctx, sensorID, model.AlertThresholdLow, value, msg); err != nil {
			return err
		}
	}
	if rule.MaxVal != nil && value > *rule.MaxVal {
		msg := fmt.Sprintf("Value %g above max %g", value, *rule.MaxVal)
		if err := e.storeAlert(ctx, sensorID, model.AlertThresholdHigh, value, msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) storeAlert(ctx context.Context, sensorID string, alertType model.AlertType, value float64, message string) error {
	alert := model.Alert{
		SensorID:  sensorID,
		AlertType: alertType,
		Value:     value,
		Message:   message,
		TS:        model.Now(),
	}
	id, err := e.store.InsertAlert(ctx, alert)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.Alerts.WithLabelValues(string(alertType)).Inc()
	}
	if e.logger != nil {
		e.logger.Warn("alert stored",
			"alert_id", id,
			"alert_type", alertType,
			"sensor_id", sensorID,
			"message", message,
		)
	}
	return nil
}

func (e *Engine) Alerts(ctx context.Context, q storage.AlertQuery) ([]model.Alert, error) {
	return e.store.QueryAlerts(ctx, q)
}

// UnacknowledgedCount reports the alert backlog, used for the scrape-time
// gauge.
func (e *Engine) UnacknowledgedCount(ctx context.Context) (int64, error) {
	return e.store.CountUnacknowledged(ctx)
}

// AcknowledgeAlert is idempotent; acknowledging an unknown id is a no-op.
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID int64) error {
	found, err := e.store.AcknowledgeAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if !found && e.logger != nil {
		e.logger.Debug("acknowledge for unknown alert id", "alert_id", alertID)
	}
	return nil
}
