package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"turtle-monitor/internal/cache"
	"turtle-monitor/internal/ingest"
	"turtle-monitor/internal/models"
	"turtle-monitor/internal/query"
	"turtle-monitor/internal/schedule"
	"turtle-monitor/internal/status"
	"turtle-monitor/internal/store"
)

type nopTransport struct{}

func (nopTransport) Connect(context.Context, func(error)) error    { return nil }
func (nopTransport) Subscribe(string, ingest.MessageHandler) error { return nil }
func (nopTransport) Disconnect()                                   {}

type testEnv struct {
	mux    *http.ServeMux
	bridge *ingest.Bridge
	store  *store.Store
	clock  *schedule.Manual
	redis  *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	history, err := cache.NewRedisHistory(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedisHistory: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	clock := schedule.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.New(history, 168*time.Hour)
	sensors := []string{"sensor1", "sensor2"}

	bridge, err := ingest.NewBridge(ingest.Config{
		Topics: ingest.Topics{
			Prefix:  "turtle",
			Sensors: sensors,
			Metrics: []models.Metric{models.MetricTemperature, models.MetricHumidity},
		},
		CoalesceWindow: 300 * time.Millisecond,
		AppendAttempts: 1,
	}, nopTransport{}, st, clock)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	classifier, err := status.NewClassifier(models.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	svc := query.NewService(st, classifier, bridge, sensors)
	svc.SetClock(clock.Now)

	h := NewHandler(svc, func() map[string]interface{} {
		return map[string]interface{}{"ingest": bridge.Stats(), "redis": history.GetStats()}
	})
	h.now = clock.Now
	mux := http.NewServeMux()
	h.Register(mux)

	return &testEnv{mux: mux, bridge: bridge, store: st, clock: clock, redis: mr}
}

func (e *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	if out != nil && rec.Code < 500 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func (e *testEnv) publish(topic, payload string) {
	e.bridge.HandleMessage(topic, []byte(payload))
}

func TestLatestScenarioAllOptimal(t *testing.T) {
	e := newTestEnv(t)
	e.publish("turtle/sensor1/temperature", "75.5")
	e.publish("turtle/sensor1/humidity", "68.2")
	e.publish("turtle/sensor2/temperature", "72.8")
	e.publish("turtle/sensor2/humidity", "71.5")
	e.clock.Advance(time.Second)

	var snap models.Snapshot
	if code := e.get(t, "/latest", &snap); code != http.StatusOK {
		t.Fatalf("GET /latest = %d", code)
	}
	if snap.OverallStatus != models.StatusOptimal {
		t.Errorf("overall status = %s", snap.OverallStatus)
	}
	for _, id := range []string{"sensor1", "sensor2"} {
		view, ok := snap.Readings[id]
		if !ok {
			t.Fatalf("%s missing from /latest", id)
		}
		if view.Status != models.StatusOptimal {
			t.Errorf("%s status = %s", id, view.Status)
		}
	}
	if v := snap.Readings["sensor1"].Values[models.MetricTemperature]; v == nil || *v != 75.5 {
		t.Errorf("sensor1 temperature = %v", v)
	}
}

func TestLatestNoDataIs200(t *testing.T) {
	e := newTestEnv(t)
	var snap models.Snapshot
	if code := e.get(t, "/latest", &snap); code != http.StatusOK {
		t.Fatalf("GET /latest = %d", code)
	}
	if snap.OverallStatus != models.StatusUnknown {
		t.Errorf("overall = %s", snap.OverallStatus)
	}
	if v := snap.Readings["sensor1"].Values[models.MetricTemperature]; v != nil {
		t.Errorf("expected null temperature, got %v", *v)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.publish("turtle/sensor1/temperature", "93")
	e.clock.Advance(time.Second)
	e.publish("turtle/sensor2/temperature", "74")
	e.clock.Advance(time.Second)

	var resp models.HistoryResponse
	if code := e.get(t, "/history/24", &resp); code != http.StatusOK {
		t.Fatalf("GET /history/24 = %d", code)
	}
	if resp.Hours != 24 || resp.DataPoints != 2 || len(resp.Data) != 2 {
		t.Fatalf("history response: %+v", resp)
	}
	if resp.Data[0].SensorID != "sensor1" || resp.Data[0].Statuses[models.MetricTemperature] != models.StatusWarning {
		t.Errorf("first point: %+v", resp.Data[0])
	}

	var filtered models.HistoryResponse
	e.get(t, "/history/1?sensor=sensor2", &filtered)
	if filtered.DataPoints != 1 || filtered.Data[0].SensorID != "sensor2" {
		t.Errorf("filtered history: %+v", filtered)
	}
}

func TestHistoryBadHours(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/history/0", "/history/169", "/history/-3", "/history/abc"} {
		if code := e.get(t, path, nil); code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, code)
		}
	}
}

func TestHistoryEmptyIs200(t *testing.T) {
	e := newTestEnv(t)
	var resp models.HistoryResponse
	if code := e.get(t, "/history/1", &resp); code != http.StatusOK {
		t.Fatalf("GET /history/1 = %d", code)
	}
	if resp.DataPoints != 0 {
		t.Errorf("expected no data points, got %d", resp.DataPoints)
	}
}

func TestStoreUnavailableIs503(t *testing.T) {
	e := newTestEnv(t)
	e.publish("turtle/sensor1/temperature", "75.5")
	e.clock.Advance(time.Second)
	e.redis.Close()

	var snap models.Snapshot
	if code := e.get(t, "/latest", &snap); code != http.StatusOK {
		t.Fatalf("GET /latest = %d, latest readings must not depend on Redis", code)
	}
	if v := snap.Readings["sensor1"].Values[models.MetricTemperature]; v == nil || *v != 75.5 {
		t.Errorf("sensor1 temperature = %v", v)
	}

	if code := e.get(t, "/history/1", nil); code != http.StatusServiceUnavailable {
		t.Errorf("GET /history/1 = %d, want 503", code)
	}
	if code := e.get(t, "/health", nil); code != http.StatusServiceUnavailable {
		t.Errorf("GET /health = %d, want 503", code)
	}
}

func TestHealthReportsTransportState(t *testing.T) {
	e := newTestEnv(t)
	e.publish("turtle/sensor1/temperature", "75")
	e.clock.Advance(time.Second)

	var health models.Health
	if code := e.get(t, "/health", &health); code != http.StatusOK {
		t.Fatalf("GET /health = %d", code)
	}
	if health.TransportConnected {
		t.Error("bridge was never started, transport must be reported disconnected")
	}
	if health.Status != "degraded" || health.ReadingCount != 1 || health.LastUpdate == nil {
		t.Errorf("health: %+v", health)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/latest", "/history/1", "/health", "/stats"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		e.mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s = %d", path, rec.Code)
		}
	}
}

func TestStatsReportsIngestCounters(t *testing.T) {
	e := newTestEnv(t)
	e.publish("turtle/sensor1/temperature", "-999")
	e.publish("turtle/sensor1/humidity", "wet")

	var body struct {
		Ingest ingest.Stats           `json:"ingest"`
		Redis  map[string]interface{} `json:"redis"`
	}
	if code := e.get(t, "/stats", &body); code != http.StatusOK {
		t.Fatalf("GET /stats = %d", code)
	}
	if body.Ingest.ValidationErrors != 1 || body.Ingest.DecodeErrors != 1 {
		t.Errorf("ingest stats: %+v", body.Ingest)
	}
	if _, ok := body.Redis["total_conns"]; !ok {
		t.Errorf("redis stats: %v", body.Redis)
	}
}
