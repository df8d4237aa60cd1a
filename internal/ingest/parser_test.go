package ingest

import (
	"testing"

	"sensornet/internal/model"
)

func TestParseJSONLine(t *testing.T) {
	p := NewParser("")
	reading, err := p.ParseLine(`{"sensor_id":"s-temp-01","value":22.4,"timestamp":"2026-03-01T12:00:00Z"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading == nil {
		t.Fatal("nil reading")
	}
	if reading.SensorID != "s-temp-01" {
		t.Fatalf("sensor id: %q", reading.SensorID)
	}
	if reading.Value != 22.4 {
		t.Fatalf("value: %v", reading.Value)
	}
	if reading.Timestamp != "2026-03-01T12:00:00.000000Z" {
		t.Fatalf("timestamp not normalized: %q", reading.Timestamp)
	}
}

func TestParseJSONFieldAliases(t *testing.T) {
	p := NewParser("")
	cases := []string{
		`{"sensor":"s1","val":1.5}`,
		`{"device":"s1","reading":1.5}`,
		`{"id":"s1","value":1.5}`,
	}
	for _, line := range cases {
		reading, err := p.ParseLine(line)
		if err != nil {
			t.Fatalf("parse %s: %v", line, err)
		}
		if reading.SensorID != "s1" || reading.Value != 1.5 {
			t.Fatalf("parse %s: %+v", line, reading)
		}
	}
}

func TestParseJSONMissingValue(t *testing.T) {
	p := NewParser("")
	if _, err := p.ParseLine(`{"sensor_id":"s1"}`); err == nil {
		t.Fatal("expected error for payload without value")
	}
}

func TestParseCSVWithHeader(t *testing.T) {
	p := NewParser("")
	reading, err := p.ParseLine("timestamp,sensor_id,value")
	if err != nil {
		t.Fatalf("header row: %v", err)
	}
	if reading != nil {
		t.Fatalf("header row produced a reading: %+v", reading)
	}
	reading, err = p.ParseLine("2026-03-01T12:00:00Z,s-temp-01,22.4")
	if err != nil {
		t.Fatalf("data row: %v", err)
	}
	if reading.SensorID != "s-temp-01" || reading.Value != 22.4 {
		t.Fatalf("data row: %+v", reading)
	}
}

func TestParseCSVHeaderless(t *testing.T) {
	p := NewParser("")
	reading, err := p.ParseLine("2026-03-01 12:00:00,s1,3.14")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.SensorID != "s1" || reading.Value != 3.14 {
		t.Fatalf("parsed: %+v", reading)
	}
	if reading.Timestamp != "2026-03-01T12:00:00.000000Z" {
		t.Fatalf("timestamp: %q", reading.Timestamp)
	}
}

func TestParseKeyValueLine(t *testing.T) {
	p := NewParser("")
	reading, err := p.ParseLine("2026-03-01T12:00:00Z sensor_id=s1 value=9.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.SensorID != "s1" || reading.Value != 9.5 {
		t.Fatalf("parsed: %+v", reading)
	}
}

func TestParsePositionalLine(t *testing.T) {
	p := NewParser("")
	reading, err := p.ParseLine("2026-03-01T12:00:00Z s1 7.25")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.SensorID != "s1" || reading.Value != 7.25 {
		t.Fatalf("parsed: %+v", reading)
	}
}

func TestParseUnixTimestamps(t *testing.T) {
	p := NewParser("")
	reading, err := p.ParseLine(`{"sensor_id":"s1","value":1,"timestamp":"1767225600"}`)
	if err != nil {
		t.Fatalf("seconds: %v", err)
	}
	if reading.Timestamp != "2026-01-01T00:00:00.000000Z" {
		t.Fatalf("seconds normalized: %q", reading.Timestamp)
	}
	reading, err = p.ParseLine(`{"sensor_id":"s1","value":1,"timestamp":"1767225600500"}`)
	if err != nil {
		t.Fatalf("millis: %v", err)
	}
	if reading.Timestamp != "2026-01-01T00:00:00.500000Z" {
		t.Fatalf("millis normalized: %q", reading.Timestamp)
	}
}

func TestParseEmptyTimestampStaysEmpty(t *testing.T) {
	p := NewParser("")
	reading, err := p.ParseLine(`{"sensor_id":"s1","value":1}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.Timestamp != "" {
		t.Fatalf("expected empty timestamp, got %q", reading.Timestamp)
	}
}

func TestParseBlankLine(t *testing.T) {
	p := NewParser("")
	reading, err := p.ParseLine("   ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading != nil {
		t.Fatalf("blank line produced reading: %+v", reading)
	}
}

func TestFromMapNumericValue(t *testing.T) {
	p := NewParser("")
	reading, err := p.FromMap(map[string]any{"sensor_id": "s1", "value": 42.0})
	if err != nil {
		t.Fatalf("from map: %v", err)
	}
	if reading.Value != 42.0 {
		t.Fatalf("value: %v", reading.Value)
	}
}

func TestNormalizedTimestampsSortChronologically(t *testing.T) {
	p := NewParser("")
	earlier, err := p.ParseLine(`{"sensor_id":"s1","value":1,"timestamp":"2026-03-01T09:59:59Z"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	later, err := p.ParseLine(`{"sensor_id":"s1","value":1,"timestamp":"2026-03-01T10:00:00Z"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !(earlier.Timestamp < later.Timestamp) {
		t.Fatalf("lexicographic order broken: %q vs %q", earlier.Timestamp, later.Timestamp)
	}
	if _, err := model.ParseTime(earlier.Timestamp); err != nil {
		t.Fatalf("canonical layout: %v", err)
	}
}
