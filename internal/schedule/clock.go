// Package schedule абстрагирует таймеры, чтобы тесты управляли временем сами.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Timer отложенная задача
type Timer interface {
	Stop() bool
}

// Clock источник времени и таймеров
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	After(d time.Duration) <-chan time.Time
}

// Real системные часы
type Real struct{}

// Now текущее время
func (Real) Now() time.Time { return time.Now() }

// AfterFunc запускает f в отдельной goroutine через d
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// After канал, срабатывающий через d
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Manual часы, которые двигаются только через Advance
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock *Manual
	id    int
	at    time.Time
	fn    func()
	ch    chan time.Time
	done  bool
}

// NewManual создает ручные часы, начиная со start
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now текущее время часов
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc регистрирует f; она выполнится синхронно внутри Advance
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	return m.add(d, f, nil)
}

// After канал, в который Advance запишет время срабатывания
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.add(d, nil, ch)
	return ch
}

// Pending количество еще не сработавших таймеров
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance сдвигает часы на d и выполняет все наступившие таймеры по порядку
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		next.done = true
		m.now = next.at
		m.mu.Unlock()

		if next.fn != nil {
			next.fn()
		} else {
			next.ch <- next.at
		}
	}
}

func (m *Manual) add(d time.Duration, fn func(), ch chan time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{clock: m, id: m.seq, at: m.now.Add(d), fn: fn, ch: ch}
	m.timers = append(m.timers, t)
	return t
}

// nextDue самый ранний таймер не позже target; вызывается под mu
func (m *Manual) nextDue(target time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].id < m.timers[j].id
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	if len(m.timers) == 0 || m.timers[0].at.After(target) {
		return nil
	}
	return m.timers[0]
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}
