package schedule

import (
	"testing"
	"time"
)

func TestManualAdvanceRunsDueTimersInOrder(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []int
	m.AfterFunc(200*time.Millisecond, func() { order = append(order, 2) })
	m.AfterFunc(100*time.Millisecond, func() { order = append(order, 1) })
	late := m.AfterFunc(time.Second, func() { order = append(order, 3) })

	m.Advance(250 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order: %v", order)
	}
	if !m.Now().Equal(start.Add(250 * time.Millisecond)) {
		t.Errorf("clock at %v", m.Now())
	}

	if !late.Stop() {
		t.Error("Stop on pending timer should return true")
	}
	m.Advance(time.Second)
	if len(order) != 2 {
		t.Errorf("stopped timer fired: %v", order)
	}
	if m.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", m.Pending())
	}
}

func TestManualAfterChannel(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	ch := m.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("fired before Advance")
	default:
	}

	m.Advance(time.Minute)
	select {
	case at := <-ch:
		if !at.Equal(time.Unix(60, 0)) {
			t.Errorf("fired at %v", at)
		}
	default:
		t.Fatal("expected channel to fire")
	}
}

func TestManualTimerScheduledFromCallback(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	fired := 0
	m.AfterFunc(time.Second, func() {
		fired++
		m.AfterFunc(time.Second, func() { fired++ })
	})

	m.Advance(3 * time.Second)
	if fired != 2 {
		t.Errorf("expected chained timers to fire, got %d", fired)
	}
}
