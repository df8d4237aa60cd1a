package model

import (
	"testing"
	"time"
)

func TestCalibrate(t *testing.T) {
	s := Sensor{ID: "t1", CalibrationOffset: 0.5}
	if got := s.Calibrate(22.0); got != 22.5 {
		t.Fatalf("calibrate: got %v, want 22.5", got)
	}
	s.CalibrationOffset = -1.25
	if got := s.Calibrate(22.0); got != 20.75 {
		t.Fatalf("calibrate negative offset: got %v", got)
	}
}

func TestBuildReadingQuality(t *testing.T) {
	sensor := Sensor{
		ID: "t1", Unit: "°C",
		CalibrationOffset: 0.5,
		MinExpected:       -10,
		MaxExpected:       50,
	}
	cases := []struct {
		raw  float64
		want Quality
	}{
		{22.0, QualityGood},
		{49.5, QualityGood},  // calibrated lands exactly on max
		{-10.5, QualityGood}, // calibrated lands exactly on min
		{50.0, QualitySuspect},
		{-11.0, QualitySuspect},
	}
	for _, tc := range cases {
		r := BuildReading(sensor, tc.raw, "")
		if r.Quality != tc.want {
			t.Fatalf("raw %v: quality %s, want %s", tc.raw, r.Quality, tc.want)
		}
		if r.RawValue != tc.raw {
			t.Fatalf("raw value mutated: %v", r.RawValue)
		}
		if r.CalibratedValue != tc.raw+0.5 {
			t.Fatalf("calibrated: %v", r.CalibratedValue)
		}
	}
}

func TestBuildReadingStampsNow(t *testing.T) {
	before := Now()
	r := BuildReading(Sensor{ID: "t1"}, 1.0, "")
	after := Now()
	if r.Timestamp < before || r.Timestamp > after {
		t.Fatalf("timestamp %q outside [%q, %q]", r.Timestamp, before, after)
	}
}

func TestBuildReadingKeepsExplicitTimestamp(t *testing.T) {
	ts := "2026-03-01T12:00:00.000000Z"
	r := BuildReading(Sensor{ID: "t1"}, 1.0, ts)
	if r.Timestamp != ts {
		t.Fatalf("timestamp: got %q", r.Timestamp)
	}
}

func TestFormatTimeCanonical(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	in := time.Date(2026, 3, 1, 13, 0, 0, 250000000, loc)
	got := FormatTime(in)
	if got != "2026-03-01T12:00:00.250000Z" {
		t.Fatalf("format: got %q", got)
	}
	parsed, err := ParseTime(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(in) {
		t.Fatalf("round trip: %v vs %v", parsed, in)
	}
}

func TestTimestampsSortLexicographically(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 59, 59, 999999000, time.UTC)
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !(FormatTime(t0) < FormatTime(t1)) {
		t.Fatalf("ordering broken: %q vs %q", FormatTime(t0), FormatTime(t1))
	}
}
