package ingest

import (
	"sync"
	"time"

	"turtle-monitor/internal/metrics"
	"turtle-monitor/internal/models"
	"turtle-monitor/internal/schedule"
)

// Update значение метрики, пережившее окно склейки
type Update struct {
	SensorID string
	Metric   models.Metric
	Value    float64
	At       time.Time
}

type coalesceKey struct {
	sensorID string
	metric   models.Metric
}

// Coalescer склеивает серию сообщений по (sensor, metric):
// применяется только последнее значение, пришедшее до закрытия окна.
type Coalescer struct {
	window time.Duration
	clock  schedule.Clock
	apply  func(Update)

	mu      sync.Mutex
	pending map[coalesceKey]Update
	timers  map[coalesceKey]schedule.Timer
	dropped int64
}

// NewCoalescer создает склейщик; apply вызывается из таймера
func NewCoalescer(window time.Duration, clock schedule.Clock, apply func(Update)) *Coalescer {
	return &Coalescer{
		window:  window,
		clock:   clock,
		apply:   apply,
		pending: make(map[coalesceKey]Update),
		timers:  make(map[coalesceKey]schedule.Timer),
	}
}

// Offer принимает значение; окно открывается первым сообщением
func (c *Coalescer) Offer(u Update) {
	key := coalesceKey{sensorID: u.SensorID, metric: u.Metric}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, open := c.pending[key]; open {
		c.dropped++
		metrics.ReadingsCoalesced.Inc()
	}
	c.pending[key] = u
	if _, ok := c.timers[key]; !ok {
		c.timers[key] = c.clock.AfterFunc(c.window, func() { c.flush(key) })
	}
}

// Coalesced количество значений, замененных более свежими внутри окна
func (c *Coalescer) Coalesced() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// FlushAll останавливает таймеры и применяет все ожидающие значения
func (c *Coalescer) FlushAll() {
	c.mu.Lock()
	updates := make([]Update, 0, len(c.pending))
	for key, u := range c.pending {
		if t, ok := c.timers[key]; ok {
			t.Stop()
		}
		updates = append(updates, u)
	}
	c.pending = make(map[coalesceKey]Update)
	c.timers = make(map[coalesceKey]schedule.Timer)
	c.mu.Unlock()

	for _, u := range updates {
		c.apply(u)
	}
}

func (c *Coalescer) flush(key coalesceKey) {
	c.mu.Lock()
	u, ok := c.pending[key]
	delete(c.pending, key)
	delete(c.timers, key)
	c.mu.Unlock()

	if ok {
		c.apply(u)
	}
}
