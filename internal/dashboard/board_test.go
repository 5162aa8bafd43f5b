package dashboard

import (
	"testing"
	"time"

	"turtle-monitor/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func val(v float64) *float64 { return &v }

func TestBoardDebouncesRapidUpdates(t *testing.T) {
	b := NewBoard(500 * time.Millisecond)
	b.SetLive(true)
	key := FieldKey{SensorID: "sensor1", Metric: models.MetricTemperature}

	if !b.Set(key, val(75), models.StatusOptimal, t0) {
		t.Fatal("first value must be shown immediately")
	}
	if b.Set(key, val(76), models.StatusOptimal, t0.Add(100*time.Millisecond)) {
		t.Error("update inside the window must wait")
	}
	b.Set(key, val(77), models.StatusOptimal, t0.Add(200*time.Millisecond))

	if got := b.Get(key); *got.Value != 75 {
		t.Errorf("shown value = %v, want 75 until the window closes", *got.Value)
	}
	due, ok := b.NextSettle()
	if !ok || !due.Equal(t0.Add(500*time.Millisecond)) {
		t.Errorf("NextSettle = %v, %v", due, ok)
	}
	if b.Settle(t0.Add(400 * time.Millisecond)) {
		t.Error("Settle applied before the window closed")
	}
	if !b.Settle(t0.Add(500 * time.Millisecond)) {
		t.Fatal("Settle did not apply the pending value")
	}
	if got := b.Get(key); *got.Value != 77 {
		t.Errorf("shown value = %v, want the last one (77)", *got.Value)
	}
	if _, ok := b.NextSettle(); ok {
		t.Error("nothing should remain pending")
	}
}

func TestBoardSameValueCancelsPending(t *testing.T) {
	b := NewBoard(time.Second)
	b.SetLive(true)
	key := FieldKey{SensorID: "sensor1", Metric: models.MetricHumidity}

	b.Set(key, val(60), models.StatusOptimal, t0)
	b.Set(key, val(61), models.StatusOptimal, t0.Add(100*time.Millisecond))
	b.Set(key, val(60), models.StatusOptimal, t0.Add(200*time.Millisecond))

	if _, ok := b.NextSettle(); ok {
		t.Error("returning to the shown value must drop the pending one")
	}
}

func TestBoardNoDataUntilLive(t *testing.T) {
	b := NewBoard(0)
	key := FieldKey{SensorID: "sensor2", Metric: models.MetricTemperature}

	if f := b.Get(key); !f.NoData {
		t.Error("unknown field must be no data")
	}
	b.Set(key, val(80), models.StatusOptimal, t0)
	if f := b.Get(key); !f.NoData {
		t.Error("values before the first successful poll must be no data")
	}

	b.SetLive(true)
	if f := b.Get(key); f.NoData || *f.Value != 80 {
		t.Errorf("live field = %+v", f)
	}

	b.SetLive(false)
	if f := b.Get(key); !f.NoData || f.Value != nil {
		t.Errorf("disconnected field must not show a stale value: %+v", f)
	}
}

func TestBoardNilValueIsNoData(t *testing.T) {
	b := NewBoard(0)
	b.SetLive(true)
	key := FieldKey{SensorID: "sensor1", Metric: models.MetricHumidity}
	b.Set(key, nil, models.StatusUnknown, t0)

	if f := b.Get(key); !f.NoData {
		t.Error("missing value must be no data")
	}
	if keys := b.Keys(); len(keys) != 1 || keys[0] != key {
		t.Errorf("Keys = %v", keys)
	}
}

func TestBoardOfflineSensorIsNoData(t *testing.T) {
	b := NewBoard(0)
	b.SetLive(true)
	key := FieldKey{SensorID: "sensor1", Metric: models.MetricTemperature}
	other := FieldKey{SensorID: "sensor2", Metric: models.MetricTemperature}
	b.Set(key, val(80), models.StatusOptimal, t0)
	b.Set(other, val(81), models.StatusOptimal, t0)

	b.SetOffline("sensor1", true)
	if f := b.Get(key); !f.NoData || !f.Offline || f.Value != nil {
		t.Errorf("offline sensor field = %+v", f)
	}
	if f := b.Get(other); f.NoData || f.Offline {
		t.Errorf("other sensor must stay live: %+v", f)
	}

	b.SetOffline("sensor1", false)
	if f := b.Get(key); f.NoData || *f.Value != 80 {
		t.Errorf("field after sensor came back = %+v", f)
	}
}
