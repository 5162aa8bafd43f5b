package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"turtle-monitor/internal/models"
	"turtle-monitor/internal/schedule"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	c := NewClient(testConfig("http://127.0.0.1:0"), nil, schedule.NewManual(t0))
	m := NewModel(context.Background(), c)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func TestViewShowsNoDataBeforeFirstPoll(t *testing.T) {
	view := newTestModel(t).View()
	if !strings.Contains(view, "no data") {
		t.Errorf("view must show no data:\n%s", view)
	}
	if !strings.Contains(view, "CONNECTING") {
		t.Errorf("view must show connecting state:\n%s", view)
	}
}

func TestViewRendersValuesAndStatus(t *testing.T) {
	m := newTestModel(t)
	next, _ := m.Update(updateMsg{
		State:   StateConnected,
		Overall: models.StatusWarning,
		Fields: map[FieldKey]Field{
			tempKey:     {Value: val(93.2), Status: models.StatusWarning},
			humidityKey: {Status: models.StatusUnknown, NoData: true},
		},
	})
	view := next.(Model).View()

	for _, want := range []string{"sensor1", "93.2", "Warning", "no data", "CONNECTED"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewShowsDisconnectedAndFailed(t *testing.T) {
	m := newTestModel(t)
	next, _ := m.Update(updateMsg{
		State:    StateDisconnected,
		Failures: 1,
		Err:      errors.New("connection refused"),
		Fields: map[FieldKey]Field{
			tempKey: {Status: models.StatusUnknown, NoData: true},
		},
	})
	view := next.(Model).View()
	if !strings.Contains(view, "disconnected") || !strings.Contains(view, "no data") {
		t.Errorf("disconnected view:\n%s", view)
	}

	next, _ = next.Update(updateMsg{State: StateFailed, Failures: 3, Err: errors.New("connection refused")})
	next, _ = next.Update(runDoneMsg{err: ErrConnectionFailed})
	view = next.(Model).View()
	if !strings.Contains(view, "connection failed") {
		t.Errorf("failed view:\n%s", view)
	}

	_, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	if cmd == nil {
		t.Error("r must restart polling after a failure")
	}
}

func TestViewMarksOfflineSensor(t *testing.T) {
	m := newTestModel(t)
	next, _ := m.Update(updateMsg{
		State: StateConnected,
		Fields: map[FieldKey]Field{
			tempKey: {Status: models.StatusUnknown, NoData: true, Offline: true},
		},
	})
	view := next.(Model).View()
	if !strings.Contains(view, "no data (offline)") {
		t.Errorf("offline sensor must be marked:\n%s", view)
	}
}
