package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"turtle-monitor/internal/backoff"
	"turtle-monitor/internal/metrics"
	"turtle-monitor/internal/models"
	"turtle-monitor/internal/schedule"
	"turtle-monitor/internal/store"
)

// State состояние подключения к транспорту
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config параметры моста
type Config struct {
	Topics         Topics
	SanityBand     models.Band
	CoalesceWindow time.Duration
	Reconnect      backoff.Policy
	AppendAttempts int
	AppendTimeout  time.Duration
	RetryDelay     time.Duration
}

// Stats счетчики моста
type Stats struct {
	DecodeErrors     int64 `json:"decode_errors"`
	ValidationErrors int64 `json:"validation_errors"`
	Applied          int64 `json:"applied"`
	Coalesced        int64 `json:"coalesced"`
	WriteFailures    int64 `json:"write_failures"`
}

// Bridge подписка на транспорт -> склейка -> Store
type Bridge struct {
	cfg       Config
	transport Transport
	store     *store.Store
	clock     schedule.Clock
	coalescer *Coalescer
	metrics   map[models.Metric]bool

	state   atomic.Value
	onApply atomic.Value

	// retryCtx отменяется при остановке Run
	retryCtx    context.Context
	stopRetries context.CancelFunc

	// applyMu сериализует чтение-слияние-запись последнего показания
	applyMu sync.Mutex

	decodeErrors     atomic.Int64
	validationErrors atomic.Int64
	applied          atomic.Int64
	writeFailures    atomic.Int64
}

// NewBridge создает мост; Run запускает подписку
func NewBridge(cfg Config, transport Transport, st *store.Store, clock schedule.Clock) (*Bridge, error) {
	if cfg.CoalesceWindow <= 0 {
		return nil, fmt.Errorf("coalesce window must be positive, got %s", cfg.CoalesceWindow)
	}
	if len(cfg.Topics.Sensors) == 0 || len(cfg.Topics.Metrics) == 0 {
		return nil, fmt.Errorf("at least one sensor and one metric are required")
	}
	if cfg.SanityBand == (models.Band{}) {
		cfg.SanityBand = models.DefaultSanityBand
	}
	if cfg.Reconnect.Initial <= 0 {
		cfg.Reconnect = backoff.Default()
	}
	if cfg.AppendAttempts <= 0 {
		cfg.AppendAttempts = 3
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = 5 * time.Second
	}
	if clock == nil {
		clock = schedule.Real{}
	}

	b := &Bridge{
		cfg:       cfg,
		transport: transport,
		store:     st,
		clock:     clock,
		metrics:   make(map[models.Metric]bool, len(cfg.Topics.Metrics)),
	}
	for _, m := range cfg.Topics.Metrics {
		b.metrics[m] = true
	}
	b.retryCtx, b.stopRetries = context.WithCancel(context.Background())
	b.coalescer = NewCoalescer(cfg.CoalesceWindow, clock, b.apply)
	b.setState(StateDisconnected)
	return b, nil
}

// OnApply регистрирует обработчик каждого записанного показания
func (b *Bridge) OnApply(fn func(models.Reading)) {
	b.onApply.Store(fn)
}

// State текущее состояние подключения
func (b *Bridge) State() State {
	return b.state.Load().(State)
}

// Connected true если подписка активна
func (b *Bridge) Connected() bool {
	return b.State() == StateConnected
}

// ConnectionState состояние подключения строкой, для /health
func (b *Bridge) ConnectionState() string {
	return string(b.State())
}

// Stats снимок счетчиков
func (b *Bridge) Stats() Stats {
	return Stats{
		DecodeErrors:     b.decodeErrors.Load(),
		ValidationErrors: b.validationErrors.Load(),
		Applied:          b.applied.Load(),
		Coalesced:        b.coalescer.Coalesced(),
		WriteFailures:    b.writeFailures.Load(),
	}
}

func (b *Bridge) setState(s State) {
	b.state.Store(s)
	if s == StateConnected {
		metrics.TransportConnected.Set(1)
	} else {
		metrics.TransportConnected.Set(0)
	}
}

// Run держит подписку до отмены ctx, переподключаясь с экспоненциальной задержкой.
// Соединение, оборвавшееся раньше Reconnect.Initial, считается неудачной попыткой.
// При выходе применяет накопленные значения и отключается от транспорта.
func (b *Bridge) Run(ctx context.Context) error {
	context.AfterFunc(ctx, b.stopRetries)
	defer func() {
		b.stopRetries()
		b.coalescer.FlushAll()
		b.transport.Disconnect()
		b.setState(StateDisconnected)
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		b.setState(StateConnecting)
		lost := make(chan error, 1)
		if err := b.connect(ctx, lost); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			metrics.TransportReconnects.WithLabelValues("error").Inc()
			log.Printf("Transport connect failed (attempt %d): %v\n", failures, err)
			b.setState(StateDisconnected)
		} else {
			connectedAt := b.clock.Now()
			metrics.TransportReconnects.WithLabelValues("success").Inc()
			b.setState(StateConnected)
			log.Printf("Transport connected, subscribed to %d topics\n", len(b.cfg.Topics.All()))

			select {
			case <-ctx.Done():
				return nil
			case err := <-lost:
				b.setState(StateDisconnected)
				b.transport.Disconnect()
				if b.clock.Now().Sub(connectedAt) >= b.cfg.Reconnect.Initial {
					failures = 0
				}
				failures++
				log.Printf("Transport connection lost: %v\n", err)
			}
		}

		delay := b.cfg.Reconnect.Delay(failures)
		log.Printf("Reconnecting in %s\n", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-b.clock.After(delay):
		}
	}
}

// connect подключается и подписывается на все топики заново
func (b *Bridge) connect(ctx context.Context, lost chan error) error {
	err := b.transport.Connect(ctx, func(err error) {
		select {
		case lost <- err:
		default:
		}
	})
	if err != nil {
		return err
	}

	for _, topic := range b.cfg.Topics.All() {
		if err := b.transport.Subscribe(topic, b.HandleMessage); err != nil {
			b.transport.Disconnect()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// HandleMessage декодирует и проверяет сообщение; ошибки считаются и не передаются дальше
func (b *Bridge) HandleMessage(topic string, payload []byte) {
	sensorID, leaf, err := b.cfg.Topics.Parse(topic)
	if err != nil {
		b.dropDecode(topic, err)
		return
	}

	if leaf == AvailabilitySuffix {
		online, err := DecodeAvailability(payload)
		if err != nil {
			b.dropDecode(topic, err)
			return
		}
		metrics.MessagesReceived.WithLabelValues(sensorID, "availability").Inc()
		b.store.SetAvailability(sensorID, online)
		return
	}

	metric := models.Metric(leaf)
	if !b.metrics[metric] {
		b.dropDecode(topic, fmt.Errorf("unknown metric %q", leaf))
		return
	}

	value, err := DecodeValue(payload)
	if err != nil {
		b.dropDecode(topic, err)
		return
	}
	metrics.MessagesReceived.WithLabelValues(sensorID, "metric").Inc()

	if !models.Plausible(b.cfg.SanityBand, value) {
		b.validationErrors.Add(1)
		metrics.IngestErrors.WithLabelValues("validation").Inc()
		log.Printf("Dropping implausible value %v on %s (band [%.1f, %.1f])\n",
			value, topic, b.cfg.SanityBand.Min, b.cfg.SanityBand.Max)
		return
	}

	b.coalescer.Offer(Update{
		SensorID: sensorID,
		Metric:   metric,
		Value:    value,
		At:       b.clock.Now(),
	})
}

func (b *Bridge) dropDecode(topic string, err error) {
	b.decodeErrors.Add(1)
	metrics.IngestErrors.WithLabelValues("decode").Inc()
	log.Printf("Dropping message on %s: %v\n", topic, err)
}

// apply сливает значение с последним показанием, обновляет кэш и пишет в журнал
func (b *Bridge) apply(u Update) {
	b.applyMu.Lock()
	prev, _ := b.store.GetLatest(u.SensorID)
	reading := prev.With(u.Metric, u.Value, u.At)
	reading.SensorID = u.SensorID
	b.store.UpsertLatest(u.SensorID, reading)
	b.applyMu.Unlock()

	b.applied.Add(1)
	metrics.ReadingsApplied.WithLabelValues(u.SensorID, string(u.Metric)).Inc()
	metrics.CurrentValue.WithLabelValues(u.SensorID, string(u.Metric)).Set(u.Value)

	if err := b.appendWithRetry(reading); err != nil {
		b.writeFailures.Add(1)
		log.Printf("History write failed for %s at %s: %v\n",
			u.SensorID, u.At.Format(time.RFC3339Nano), err)
	}

	if fn, ok := b.onApply.Load().(func(models.Reading)); ok && fn != nil {
		fn(reading.Clone())
	}
}

// appendWithRetry повторяет запись с паузами по часам моста.
// Остановка Run прерывает паузы; начатая попытка доводится до AppendTimeout.
func (b *Bridge) appendWithRetry(r models.Reading) error {
	var err error
	attempt := 1
	for ; ; attempt++ {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.AppendTimeout)
		err = b.store.Append(ctx, r)
		cancel()

		if err == nil {
			metrics.RedisOperations.WithLabelValues("append", "success").Inc()
			metrics.HistoryWriteLatency.Observe(time.Since(start).Seconds())
			return nil
		}
		metrics.RedisOperations.WithLabelValues("append", "error").Inc()
		if attempt >= b.cfg.AppendAttempts {
			break
		}
		if b.cfg.RetryDelay > 0 {
			select {
			case <-b.retryCtx.Done():
				return fmt.Errorf("stopped after %d attempts: %w", attempt, err)
			case <-b.clock.After(b.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempt, err)
}
