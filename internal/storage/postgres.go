package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sensornet/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/sensornet?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensors (
			id                  TEXT PRIMARY KEY,
			type                TEXT NOT NULL,
			location            TEXT NOT NULL,
			unit                TEXT NOT NULL,
			calibration_offset  DOUBLE PRECISION NOT NULL DEFAULT 0.0,
			min_expected        DOUBLE PRECISION NOT NULL DEFAULT -999.0,
			max_expected        DOUBLE PRECISION NOT NULL DEFAULT 999.0,
			active              BOOLEAN NOT NULL DEFAULT TRUE,
			firmware            TEXT NOT NULL DEFAULT '1.0.0',
			created_at          TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id                  BIGSERIAL PRIMARY KEY,
			sensor_id           TEXT NOT NULL REFERENCES sensors(id),
			raw_value           DOUBLE PRECISION NOT NULL,
			calibrated_value    DOUBLE PRECISION NOT NULL,
			unit                TEXT NOT NULL,
			timestamp           TEXT NOT NULL,
			quality             TEXT NOT NULL DEFAULT 'good'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS threshold_rules (
			sensor_id   TEXT PRIMARY KEY,
			min_val     DOUBLE PRECISION,
			max_val     DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id              BIGSERIAL PRIMARY KEY,
			sensor_id       TEXT NOT NULL REFERENCES sensors(id),
			alert_type      TEXT NOT NULL,
			value           DOUBLE PRECISION NOT NULL,
			message         TEXT NOT NULL,
			ts              TEXT NOT NULL,
			acknowledged    BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_sensor_ts ON alerts(sensor_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) RegisterSensor(ctx context.Context, sensor model.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensors (`+sensorColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			location = EXCLUDED.location,
			unit = EXCLUDED.unit,
			calibration_offset = EXCLUDED.calibration_offset,
			min_expected = EXCLUDED.min_expected,
			max_expected = EXCLUDED.max_expected,
			active = EXCLUDED.active,
			firmware = EXCLUDED.firmware,
			created_at = EXCLUDED.created_at`,
		sensor.ID, sensor.Type, sensor.Location, sensor.Unit,
		sensor.CalibrationOffset, sensor.MinExpected, sensor.MaxExpected,
		sensor.Active, sensor.Firmware, sensor.CreatedAt,
	)
	return err
}

func (s *postgresStore) GetSensor(ctx context.Context, sensorID string) (*model.Sensor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE id = $1`, sensorID)
	sensor, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sensor, err
}

func (s *postgresStore) ListSensors(ctx context.Context, q SensorQuery) ([]model.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors`
	var conds []string
	var args []any
	if q.Location != "" {
		args = append(args, q.Location)
		conds = append(conds, fmt.Sprintf("location = $%d", len(args)))
	}
	if q.Type != "" {
		args = append(args, q.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sensor)
	}
	return out, rows.Err()
}

func (s *postgresStore) InsertReading(ctx context.Context, reading model.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (`+readingColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		reading.SensorID, reading.RawValue, reading.CalibratedValue,
		reading.Unit, reading.Timestamp, reading.Quality,
	)
	return err
}

func (s *postgresStore) LatestReading(ctx context.Context, sensorID string) (*model.Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE sensor_id = $1
		ORDER BY timestamp DESC LIMIT 1`, sensorID)
	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return reading, err
}

func (s *postgresStore) ReadingsSince(ctx context.Context, sensorID, sinceTS string) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings
		WHERE sensor_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC`, sensorID, sinceTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReadings(rows)
}

func (s *postgresStore) RecentReadings(ctx context.Context, sensorID string, limit int) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings
		WHERE sensor_id = $1
		ORDER BY timestamp DESC LIMIT $2`, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReadings(rows)
}

func (s *postgresStore) UpsertThresholdRule(ctx context.Context, rule model.ThresholdRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threshold_rules (sensor_id, min_val, max_val)
		VALUES ($1, $2, $3)
		ON CONFLICT (sensor_id) DO UPDATE SET
			min_val = EXCLUDED.min_val,
			max_val = EXCLUDED.max_val`,
		rule.SensorID, nullableFloat(rule.MinVal), nullableFloat(rule.MaxVal),
	)
	return err
}

func (s *postgresStore) GetThresholdRule(ctx context.Context, sensorID string) (*model.ThresholdRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sensor_id, min_val, max_val FROM threshold_rules WHERE sensor_id = $1`,
		sensorID)
	rule, err := scanThresholdRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rule, err
}

func (s *postgresStore) InsertAlert(ctx context.Context, alert model.Alert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO alerts (sensor_id, alert_type, value, message, ts, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		alert.SensorID, alert.AlertType, alert.Value, alert.Message,
		alert.TS, alert.Acknowledged,
	).Scan(&id)
	return id, err
}

func (s *postgresStore) QueryAlerts(ctx context.Context, q AlertQuery) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var conds []string
	var args []any
	if q.SensorID != "" {
		args = append(args, q.SensorID)
		conds = append(conds, fmt.Sprintf("sensor_id = $%d", len(args)))
	}
	if q.UnacknowledgedOnly {
		conds = append(conds, "acknowledged = FALSE")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (s *postgresStore) AcknowledgeAlert(ctx context.Context, alertID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = TRUE WHERE id = $1`, alertID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *postgresStore) CountUnacknowledged(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE acknowledged = FALSE`).Scan(&count)
	return count, err
}
