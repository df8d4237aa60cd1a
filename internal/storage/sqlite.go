package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"sensornet/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:sensornet.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sensors (
			id                  TEXT PRIMARY KEY,
			type                TEXT NOT NULL,
			location            TEXT NOT NULL,
			unit                TEXT NOT NULL,
			calibration_offset  REAL NOT NULL DEFAULT 0.0,
			min_expected        REAL NOT NULL DEFAULT -999.0,
			max_expected        REAL NOT NULL DEFAULT 999.0,
			active              INTEGER NOT NULL DEFAULT 1,
			firmware            TEXT NOT NULL DEFAULT '1.0.0',
			created_at          TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_id           TEXT NOT NULL,
			raw_value           REAL NOT NULL,
			calibrated_value    REAL NOT NULL,
			unit                TEXT NOT NULL,
			timestamp           TEXT NOT NULL,
			quality             TEXT NOT NULL DEFAULT 'good',
			FOREIGN KEY(sensor_id) REFERENCES sensors(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_sensor_ts ON readings(sensor_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS threshold_rules (
			sensor_id   TEXT PRIMARY KEY,
			min_val     REAL,
			max_val     REAL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_id       TEXT NOT NULL,
			alert_type      TEXT NOT NULL,
			value           REAL NOT NULL,
			message         TEXT NOT NULL,
			ts              TEXT NOT NULL,
			acknowledged    INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(sensor_id) REFERENCES sensors(id)
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

func (s *sqliteStore) RegisterSensor(ctx context.Context, sensor model.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sensors (`+sensorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sensor.ID, sensor.Type, sensor.Location, sensor.Unit,
		sensor.CalibrationOffset, sensor.MinExpected, sensor.MaxExpected,
		sensor.Active, sensor.Firmware, sensor.CreatedAt,
	)
	return err
}

func (s *sqliteStore) GetSensor(ctx context.Context, sensorID string) (*model.Sensor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sensorColumns+` FROM sensors WHERE id = ?`, sensorID)
	sensor, err := scanSensor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sensor, err
}

func (s *sqliteStore) ListSensors(ctx context.Context, q SensorQuery) ([]model.Sensor, error) {
	query := `SELECT ` + sensorColumns + ` FROM sensors`
	var conds []string
	var args []any
	if q.Location != "" {
		conds = append(conds, "location = ?")
		args = append(args, q.Location)
	}
	if q.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, q.Type)
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

func (s *sqliteStore) InsertReading(ctx context.Context, reading model.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (`+readingColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		reading.SensorID, reading.RawValue, reading.CalibratedValue,
		reading.Unit, reading.Timestamp, reading.Quality,
	)
	return err
}

func (s *sqliteStore) LatestReading(ctx context.Context, sensorID string) (*model.Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+readingColumns+` FROM readings WHERE sensor_id = ?
		ORDER BY timestamp DESC LIMIT 1`, sensorID)
	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return reading, err
}

func (s *sqliteStore) ReadingsSince(ctx context.Context, sensorID, sinceTS string) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings
		WHERE sensor_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC`, sensorID, sinceTS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReadings(rows)
}

func (s *sqliteStore) RecentReadings(ctx context.Context, sensorID string, limit int) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingColumns+` FROM readings
		WHERE sensor_id = ?
		ORDER BY timestamp DESC LIMIT ?`, sensorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReadings(rows)
}

func (s *sqliteStore) UpsertThresholdRule(ctx context.Context, rule model.ThresholdRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO threshold_rules (sensor_id, min_val, max_val)
		VALUES (?, ?, ?)`,
		rule.SensorID, nullableFloat(rule.MinVal), nullableFloat(rule.MaxVal),
	)
	return err
}

func (s *sqliteStore) GetThresholdRule(ctx context.Context, sensorID string) (*model.ThresholdRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sensor_id, min_val, max_val FROM threshold_rules WHERE sensor_id = ?`,
		sensorID)
	rule, err := scanThresholdRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rule, err
}

func (s *sqliteStore) InsertAlert(ctx context.Context, alert model.Alert) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (sensor_id, alert_type, value, message, ts, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?)`,
		alert.SensorID, alert.AlertType, alert.Value, alert.Message,
		alert.TS, alert.Acknowledged,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) QueryAlerts(ctx context.Context, q AlertQuery) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	var conds []string
	var args []any
	if q.SensorID != "" {
		conds = append(conds, "sensor_id = ?")
		args = append(args, q.SensorID)
	}
	if q.UnacknowledgedOnly {
		conds = append(conds, "acknowledged = 0")
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

func (s *sqliteStore) AcknowledgeAlert(ctx context.Context, alertID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged = 1 WHERE id = ?`, alertID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqliteStore) CountUnacknowledged(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE acknowledged = 0`).Scan(&count)
	return count, err
}

func collectReadings(rows *sql.Rows) ([]model.Reading, error) {
	var out []model.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reading)
	}
	return out, rows.Err()
}

func collectAlerts(rows *sql.Rows) ([]model.Alert, error) {
	var out []model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *alert)
	}
	return out, rows.Err()
}
