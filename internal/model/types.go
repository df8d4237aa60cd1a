package model

import "time"

type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
	SensorPressure    SensorType = "pressure"
	SensorCO2         SensorType = "co2"
	SensorMotion      SensorType = "motion"
	SensorLight       SensorType = "light"
)

type Quality string

const (
	QualityGood    Quality = "good"
	QualitySuspect Quality = "suspect"
	// QualityBad is reserved for future classifier logic and is never
	// assigned by the current pipeline.
	QualityBad Quality = "bad"
)

type AlertType string

const (
	AlertThresholdHigh AlertType = "threshold_high"
	AlertThresholdLow  AlertType = "threshold_low"
	AlertAnomaly       AlertType = "anomaly"
)

type Sensor struct {
	ID                string     `json:"id"`
	Type              SensorType `json:"type"`
	Location          string     `json:"location"`
	Unit              string     `json:"unit"`
	CalibrationOffset float64    `json:"calibration_offset"`
	MinExpected       float64    `json:"min_expected"`
	MaxExpected       float64    `json:"max_expected"`
	Active            bool       `json:"active"`
	Firmware          string     `json:"firmware"`
	CreatedAt         string     `json:"created_at"`
}

func (s Sensor) Calibrate(raw float64) float64 {
	return raw + s.CalibrationOffset
}

type Reading struct {
	SensorID        string  `json:"sensor_id"`
	RawValue        float64 `json:"raw_value"`
	CalibratedValue float64 `json:"calibrated_value"`
	Unit            string  `json:"unit"`
	Timestamp       string  `json:"timestamp"`
	Quality         Quality `json:"quality"`
}

// BuildReading stamps a raw value with the sensor's calibration and quality
// classification. The calibrated value and unit are snapshots; later changes
// to the sensor never touch stored readings.
func BuildReading(sensor Sensor, raw float64, ts string) Reading {
	cal := sensor.Calibrate(raw)
	quality := QualityGood
	if !(sensor.MinExpected <= cal && cal <= sensor.MaxExpected) {
		quality = QualitySuspect
	}
	if ts == "" {
		ts = Now()
	}
	return Reading{
		SensorID:        sensor.ID,
		RawValue:        raw,
		CalibratedValue: cal,
		Unit:            sensor.Unit,
		Timestamp:       ts,
		Quality:         quality,
	}
}

// ThresholdRule bounds a sensor's calibrated values. A nil side means no
// bound on that side. At most one rule exists per sensor.
type ThresholdRule struct {
	SensorID string   `json:"sensor_id"`
	MinVal   *float64 `json:"min_val"`
	MaxVal   *float64 `json:"max_val"`
}

type Alert struct {
	ID           int64     `json:"id"`
	SensorID     string    `json:"sensor_id"`
	AlertType    AlertType `json:"alert_type"`
	Value        float64   `json:"value"`
	Message      string    `json:"message"`
	TS           string    `json:"ts"`
	Acknowledged bool      `json:"acknowledged"`
}

const ReasonInsufficientData = "insufficient_data"

type AnomalyResult struct {
	SensorID    string  `json:"sensor_id"`
	Anomaly     bool    `json:"anomaly"`
	Reason      string  `json:"reason,omitempty"`
	DataPoints  int     `json:"data_points,omitempty"`
	LatestValue float64 `json:"latest_value"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	ZScore      float64 `json:"z_score"`
	Threshold   float64 `json:"threshold"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

// RawReading is an ingested payload before it passes through the pipeline.
type RawReading struct {
	SensorID  string  `json:"sensor_id"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp,omitempty"`
	Source    string  `json:"source,omitempty"`
}

// TimestampLayout keeps timestamps fixed-width and zero-padded so the
// lexicographic ordering used by range queries matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func Now() string {
	return FormatTime(time.Now())
}

func ParseTime(value string) (time.Time, error) {
	return time.Parse(TimestampLayout, value)
}
