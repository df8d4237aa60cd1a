package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sensornet/internal/model"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLite("file:" + filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	return store
}

func testSensor(id string, sensorType model.SensorType, location string) model.Sensor {
	return model.Sensor{
		ID: id, Type: sensorType, Location: location, Unit: "u",
		MinExpected: -999, MaxExpected: 999, Active: true,
		Firmware: "1.0.0", CreatedAt: model.Now(),
	}
}

func ts(i int) string {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return model.FormatTime(base.Add(time.Duration(i) * time.Second))
}

func TestRegisterSensorUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sensor := testSensor("t1", model.SensorTemperature, "room_a")
	sensor.CalibrationOffset = 0.5
	if err := store.RegisterSensor(ctx, sensor); err != nil {
		t.Fatalf("register: %v", err)
	}
	sensor.CalibrationOffset = 1.5
	sensor.Location = "room_b"
	if err := store.RegisterSensor(ctx, sensor); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	got, err := store.GetSensor(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CalibrationOffset != 1.5 || got.Location != "room_b" {
		t.Fatalf("upsert did not replace: %+v", got)
	}
	sensors, err := store.ListSensors(ctx, SensorQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sensors) != 1 {
		t.Fatalf("upsert duplicated row: %d sensors", len(sensors))
	}
}

func TestGetSensorAbsent(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetSensor(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListSensorsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, s := range []model.Sensor{
		testSensor("t1", model.SensorTemperature, "room_a"),
		testSensor("t2", model.SensorTemperature, "room_b"),
		testSensor("h1", model.SensorHumidity, "room_a"),
	} {
		if err := store.RegisterSensor(ctx, s); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	cases := []struct {
		q    SensorQuery
		want int
	}{
		{SensorQuery{}, 3},
		{SensorQuery{Location: "room_a"}, 2},
		{SensorQuery{Type: "temperature"}, 2},
		{SensorQuery{Location: "room_a", Type: "temperature"}, 1},
		{SensorQuery{Location: "room_z"}, 0},
	}
	for _, tc := range cases {
		got, err := store.ListSensors(ctx, tc.q)
		if err != nil {
			t.Fatalf("list %+v: %v", tc.q, err)
		}
		if len(got) != tc.want {
			t.Fatalf("list %+v: got %d, want %d", tc.q, len(got), tc.want)
		}
	}
}

func TestReadingQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.RegisterSensor(ctx, testSensor("t1", model.SensorTemperature, "room_a")); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 5; i++ {
		err := store.InsertReading(ctx, model.Reading{
			SensorID: "t1", RawValue: float64(i), CalibratedValue: float64(i),
			Unit: "u", Timestamp: ts(i), Quality: model.QualityGood,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	latest, err := store.LatestReading(ctx, "t1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.CalibratedValue != 4 {
		t.Fatalf("latest: got %v", latest.CalibratedValue)
	}

	recent, err := store.RecentReadings(ctx, "t1", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 || recent[0].CalibratedValue != 4 || recent[2].CalibratedValue != 2 {
		t.Fatalf("recent not newest-first: %+v", recent)
	}

	since, err := store.ReadingsSince(ctx, "t1", ts(2))
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(since) != 3 || since[0].CalibratedValue != 2 {
		t.Fatalf("since inclusive ascending: %+v", since)
	}
}

func TestThresholdRuleUpsertAndNullSides(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	maxVal := 30.0
	if err := store.UpsertThresholdRule(ctx, model.ThresholdRule{SensorID: "t1", MaxVal: &maxVal}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rule, err := store.GetThresholdRule(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rule.MinVal != nil {
		t.Fatalf("min should be unbounded: %v", *rule.MinVal)
	}
	if rule.MaxVal == nil || *rule.MaxVal != 30.0 {
		t.Fatalf("max: %+v", rule.MaxVal)
	}

	minVal := 5.0
	if err := store.UpsertThresholdRule(ctx, model.ThresholdRule{SensorID: "t1", MinVal: &minVal}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	rule, err = store.GetThresholdRule(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rule.MinVal == nil || *rule.MinVal != 5.0 || rule.MaxVal != nil {
		t.Fatalf("replace did not overwrite both sides: %+v", rule)
	}

	missing, err := store.GetThresholdRule(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil rule, got %+v", missing)
	}
}

func TestAlertLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := store.InsertAlert(ctx, model.Alert{
			SensorID: "t1", AlertType: model.AlertThresholdHigh,
			Value: float64(i), Message: "m", TS: ts(i),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, id)
	}

	alerts, err := store.QueryAlerts(ctx, AlertQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(alerts) != 3 || alerts[0].ID != ids[2] {
		t.Fatalf("newest-first ordering: %+v", alerts)
	}

	count, err := store.CountUnacknowledged(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("unacknowledged count: got %d", count)
	}

	found, err := store.AcknowledgeAlert(ctx, ids[0])
	if err != nil || !found {
		t.Fatalf("acknowledge: found=%v err=%v", found, err)
	}
	// Second acknowledge of the same id still reports the row.
	found, err = store.AcknowledgeAlert(ctx, ids[0])
	if err != nil || !found {
		t.Fatalf("re-acknowledge: found=%v err=%v", found, err)
	}
	found, err = store.AcknowledgeAlert(ctx, 99999)
	if err != nil {
		t.Fatalf("acknowledge unknown: %v", err)
	}
	if found {
		t.Fatalf("unknown id reported as found")
	}

	unacked, err := store.QueryAlerts(ctx, AlertQuery{UnacknowledgedOnly: true})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(unacked) != 2 {
		t.Fatalf("unacknowledged filter: got %d", len(unacked))
	}
	count, err = store.CountUnacknowledged(ctx)
	if err != nil || count != 2 {
		t.Fatalf("count after ack: %d, %v", count, err)
	}

	bySensor, err := store.QueryAlerts(ctx, AlertQuery{SensorID: "other"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(bySensor) != 0 {
		t.Fatalf("sensor filter: got %d", len(bySensor))
	}
}
