package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sensornet/internal/model"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
)

// Parser turns one ingested line or decoded object into a RawReading.
// Accepted shapes: JSON objects, CSV rows (timestamp,sensor_id,value with an
// optional header), and key=value text lines. Timestamps are re-emitted in
// the canonical fixed-width UTC layout.
type Parser struct {
	csv *CSVParser
	loc *time.Location
}

func NewParser(timezone string) *Parser {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	return &Parser{csv: NewCSVParser(), loc: loc}
}

func (p *Parser) ParseLine(line string) (*model.RawReading, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trim), &obj); err != nil {
			return nil, err
		}
		return p.FromMap(obj)
	}
	if strings.Contains(trim, ",") {
		fields, err := p.csv.Parse(trim)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, nil
		}
		return p.fromFields(fields)
	}
	return p.parsePlain(trim)
}

// FromMap builds a RawReading from a decoded JSON object, tolerating the
// field name variations seen across device firmwares.
func (p *Parser) FromMap(obj map[string]any) (*model.RawReading, error) {
	extras := make(map[string]string, len(obj))
	for key, val := range obj {
		extras[strings.ToLower(key)] = fmt.Sprint(val)
	}
	return p.fromFields(map[string]string{
		"sensor_id": firstNonEmpty(extras, "sensor_id", "sensor", "device", "id"),
		"value":     firstNonEmpty(extras, "value", "val", "reading"),
		"timestamp": firstNonEmpty(extras, "timestamp", "time", "ts"),
	})
}

func (p *Parser) fromFields(fields map[string]string) (*model.RawReading, error) {
	valueStr := fields["value"]
	if valueStr == "" {
		return nil, errors.New("reading payload missing value")
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse value %q: %w", valueStr, err)
	}
	ts, err := p.normalizeTimestamp(fields["timestamp"])
	if err != nil {
		return nil, err
	}
	return &model.RawReading{
		SensorID:  strings.TrimSpace(fields["sensor_id"]),
		Value:     value,
		Timestamp: ts,
	}, nil
}

func (p *Parser) parsePlain(line string) (*model.RawReading, error) {
	fields := map[string]string{}
	ts, rest := extractTimestamp(line)
	fields["timestamp"] = ts

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields["sensor_id"] = firstNonEmpty(kv, "sensor_id", "sensor", "device", "id")
	fields["value"] = firstNonEmpty(kv, "value", "val", "reading")

	// Positional fallback: "<timestamp> <sensor_id> <value>".
	if fields["sensor_id"] == "" || fields["value"] == "" {
		tokens := strings.Fields(rest)
		if fields["sensor_id"] == "" && len(tokens) > 0 {
			fields["sensor_id"] = tokens[0]
		}
		if fields["value"] == "" && len(tokens) > 1 {
			fields["value"] = tokens[1]
		}
	}
	return p.fromFields(fields)
}

// normalizeTimestamp re-emits any accepted timestamp in the canonical
// layout; empty stays empty so the pipeline stamps the current time.
func (p *Parser) normalizeTimestamp(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	if isNumeric(value) {
		ts, err := parseUnix(value)
		if err != nil {
			return "", err
		}
		return model.FormatTime(ts), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return model.FormatTime(t), nil
		}
		if t, err := time.ParseInLocation(layout, value, p.loc); err == nil {
			return model.FormatTime(t), nil
		}
	}
	return "", fmt.Errorf("unsupported timestamp format: %q", value)
}

var timestampLayouts = []string{
	model.TimestampLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", strings.TrimSpace(line)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse handles one CSV row. The first header-looking row sets the column
// mapping; without one, columns are timestamp,sensor_id,value.
func (p *CSVParser) Parse(line string) (map[string]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := map[string]string{}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	if len(record) >= 1 {
		fields["timestamp"] = strings.TrimSpace(record[0])
	}
	if len(record) >= 2 {
		fields["sensor_id"] = strings.TrimSpace(record[1])
	}
	if len(record) >= 3 {
		fields["value"] = strings.TrimSpace(record[2])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "timestamp", "time", "ts", "sensor", "sensor_id", "device", "value", "val", "reading":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields map[string]string, name, value string) {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	switch name {
	case "timestamp", "time", "ts":
		fields["timestamp"] = value
	case "sensor", "sensor_id", "sensorid", "device", "id":
		fields["sensor_id"] = value
	case "value", "val", "reading":
		fields["value"] = value
	}
}
