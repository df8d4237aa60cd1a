package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"sensornet/internal/config"
	"sensornet/internal/model"
)

// SensorQuery filters ListSensors. Empty fields match everything; the active
// flag is deliberately not a filter.
type SensorQuery struct {
	Location string
	Type     string
}

// AlertQuery filters QueryAlerts. Results are always most recent first.
type AlertQuery struct {
	SensorID           string
	UnacknowledgedOnly bool
}

// Store is the persistence boundary. All mutating methods serialize behind a
// single mutex owned by the implementation; reads run without it.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	RegisterSensor(ctx context.Context, sensor model.Sensor) error
	GetSensor(ctx context.Context, sensorID string) (*model.Sensor, error)
	ListSensors(ctx context.Context, q SensorQuery) ([]model.Sensor, error)

	InsertReading(ctx context.Context, reading model.Reading) error
	LatestReading(ctx context.Context, sensorID string) (*model.Reading, error)
	ReadingsSince(ctx context.Context, sensorID, sinceTS string) ([]model.Reading, error)
	RecentReadings(ctx context.Context, sensorID string, limit int) ([]model.Reading, error)

	UpsertThresholdRule(ctx context.Context, rule model.ThresholdRule) error
	GetThresholdRule(ctx context.Context, sensorID string) (*model.ThresholdRule, error)

	InsertAlert(ctx context.Context, alert model.Alert) (int64, error)
	QueryAlerts(ctx context.Context, q AlertQuery) ([]model.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID int64) (bool, error)
	CountUnacknowledged(ctx context.Context) (int64, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
	mu sync.Mutex
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSensor(r rowScanner) (*model.Sensor, error) {
	var s model.Sensor
	err := r.Scan(&s.ID, &s.Type, &s.Location, &s.Unit, &s.CalibrationOffset,
		&s.MinExpected, &s.MaxExpected, &s.Active, &s.Firmware, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanReading(r rowScanner) (*model.Reading, error) {
	var rd model.Reading
	err := r.Scan(&rd.SensorID, &rd.RawValue, &rd.CalibratedValue, &rd.Unit,
		&rd.Timestamp, &rd.Quality)
	if err != nil {
		return nil, err
	}
	return &rd, nil
}

func scanAlert(r rowScanner) (*model.Alert, error) {
	var a model.Alert
	err := r.Scan(&a.ID, &a.SensorID, &a.AlertType, &a.Value, &a.Message,
		&a.TS, &a.Acknowledged)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanThresholdRule(r rowScanner) (*model.ThresholdRule, error) {
	var rule model.ThresholdRule
	var minVal, maxVal sql.NullFloat64
	if err := r.Scan(&rule.SensorID, &minVal, &maxVal); err != nil {
		return nil, err
	}
	if minVal.Valid {
		v := minVal.Float64
		rule.MinVal = &v
	}
	if maxVal.Valid {
		v := maxVal.Float64
		rule.MaxVal = &v
	}
	return &rule, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

const (
	sensorColumns  = "id, type, location, unit, calibration_offset, min_expected, max_expected, active, firmware, created_at"
	readingColumns = "sensor_id, raw_value, calibrated_value, unit, timestamp, quality"
	alertColumns   = "id, sensor_id, alert_type, value, message, ts, acknowledged"
)
