package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"turtle-monitor/internal/models"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestHubSendsSnapshotThenReadings(t *testing.T) {
	hub := NewHub(func() models.Snapshot {
		return models.Snapshot{
			GeneratedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Readings:      map[string]models.SensorView{},
			OverallStatus: models.StatusUnknown,
		}
	})
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	first := readMessage(t, conn)
	if first.Type != "snapshot" || first.Snapshot == nil || first.Snapshot.OverallStatus != models.StatusUnknown {
		t.Fatalf("first message: %+v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	temp := 75.5
	hub.PublishReading(models.SensorView{
		SensorID: "sensor1",
		Values:   map[models.Metric]*float64{models.MetricTemperature: &temp},
		Status:   models.StatusOptimal,
	})

	msg := readMessage(t, conn)
	if msg.Type != "reading" || msg.Reading == nil {
		t.Fatalf("reading message: %+v", msg)
	}
	if v := msg.Reading.Values[models.MetricTemperature]; v == nil || *v != 75.5 {
		t.Errorf("temperature = %v", v)
	}
	if msg.Reading.Status != models.StatusOptimal {
		t.Errorf("status = %s", msg.Reading.Status)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub(func() models.Snapshot { return models.Snapshot{} })
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	readMessage(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Clients() != 0 {
		t.Errorf("expected closed client to be removed, have %d", hub.Clients())
	}
}
