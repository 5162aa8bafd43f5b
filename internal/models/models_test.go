package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSensorViewWithoutReadingHasNullTimestamp(t *testing.T) {
	view := SensorView{
		SensorID: "sensor1",
		Values:   map[Metric]*float64{MetricTemperature: nil},
		Statuses: map[Metric]Status{MetricTemperature: StatusUnknown},
		Status:   StatusUnknown,
	}
	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got := string(raw["timestamp"]); got != "null" {
		t.Errorf("timestamp = %s, want null", got)
	}

	var back SensorView
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal view: %v", err)
	}
	if !back.Timestamp.IsZero() || back.Values[MetricTemperature] != nil {
		t.Errorf("decoded view = %+v", back)
	}
}

func TestSensorViewKeepsTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := 75.5
	data, err := json.Marshal(SensorView{
		SensorID:  "sensor1",
		Timestamp: at,
		Values:    map[Metric]*float64{MetricTemperature: &v},
		Online:    true,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back SensorView
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Timestamp.Equal(at) || !back.Online || *back.Values[MetricTemperature] != 75.5 {
		t.Errorf("decoded view = %+v", back)
	}
}
