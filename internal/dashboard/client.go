// Package dashboard опрашивает API монитора и готовит данные для терминального экрана.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"turtle-monitor/internal/backoff"
	"turtle-monitor/internal/models"
	"turtle-monitor/internal/schedule"
)

// State состояние связи с сервером
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// ErrConnectionFailed исчерпан лимит попыток подряд
var ErrConnectionFailed = errors.New("connection failed")

// Config параметры клиента
type Config struct {
	BaseURL     string
	Interval    time.Duration
	Timeout     time.Duration
	Backoff     backoff.Policy
	MaxAttempts int
	SanityBand  models.Band
	Debounce    time.Duration
	// StaleAfter возраст показания, после которого сенсор считается недоступным; 0 отключает проверку
	StaleAfter time.Duration
}

// DefaultConfig опрос раз в 30 секунд, 10 попыток переподключения
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		Backoff:     backoff.Policy{Initial: 2 * time.Second, Max: 30 * time.Second, Multiplier: 2},
		MaxAttempts: 10,
		SanityBand:  models.DefaultSanityBand,
		Debounce:    500 * time.Millisecond,
		StaleAfter:  10 * time.Minute,
	}
}

// Update состояние клиента для экрана
type Update struct {
	State       State
	Failures    int
	MaxAttempts int
	RetryIn     time.Duration
	LastSuccess time.Time
	Overall     models.Status
	Fields      map[FieldKey]Field
	Rejected    int
	Err         error
}

// Client периодически опрашивает GET /latest
type Client struct {
	cfg   Config
	http  *http.Client
	clock schedule.Clock
	board *Board

	mu          sync.Mutex
	state       State
	failures    int
	rejected    int
	lastErr     error
	lastSuccess time.Time

	updates chan Update
}

// NewClient создает клиента; httpClient может быть nil
func NewClient(cfg Config, httpClient *http.Client, clock schedule.Clock) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		clock:   clock,
		board:   NewBoard(cfg.Debounce),
		state:   StateConnecting,
		updates: make(chan Update, 1),
	}
}

// Updates канал обновлений; хранит только последнее непрочитанное
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Board доска отображаемых значений
func (c *Client) Board() *Board {
	return c.board
}

// State текущее состояние связи
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset возвращает клиента из failed в connecting для новой серии попыток
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateConnecting
	c.failures = 0
	c.lastErr = nil
}

// NextDelay интервал опроса при живой связи, иначе экспоненциальная задержка
func (c *Client) NextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextDelay()
}

func (c *Client) nextDelay() time.Duration {
	if c.failures == 0 {
		return c.cfg.Interval
	}
	return c.cfg.Backoff.Delay(c.failures)
}

// Poll выполняет один цикл опроса и обновляет состояние
func (c *Client) Poll(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.state = StateReconnecting
	}
	c.mu.Unlock()

	snapshot, err := c.fetch(ctx)
	if err != nil {
		c.markFailure(err)
		return err
	}

	now := c.clock.Now()
	rejected := c.apply(snapshot, now)

	c.mu.Lock()
	c.state = StateConnected
	c.failures = 0
	c.lastErr = nil
	c.lastSuccess = now
	c.rejected = rejected
	c.mu.Unlock()

	c.board.SetLive(true)
	return nil
}

// Run опрашивает сервер до отмены ctx или до состояния failed
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.Poll(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		c.publish()

		if c.State() == StateFailed {
			return ErrConnectionFailed
		}

		deadline := c.clock.Now().Add(c.NextDelay())
		for {
			now := c.clock.Now()
			if !now.Before(deadline) {
				break
			}
			wait := deadline.Sub(now)
			if due, ok := c.board.NextSettle(); ok && due.Before(deadline) {
				wait = due.Sub(now)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(wait):
			}

			if c.board.Settle(c.clock.Now()) {
				c.publish()
			}
		}
	}
}

// Snapshot текущее состояние без ожидания канала
func (c *Client) Snapshot() Update {
	fields := c.board.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	var statuses []models.Status
	for _, f := range fields {
		statuses = append(statuses, f.Status)
	}
	u := Update{
		State:       c.state,
		Failures:    c.failures,
		MaxAttempts: c.cfg.MaxAttempts,
		LastSuccess: c.lastSuccess,
		Overall:     models.Worst(statuses...),
		Fields:      fields,
		Rejected:    c.rejected,
		Err:         c.lastErr,
	}
	if c.state != StateConnected && c.state != StateFailed {
		u.RetryIn = c.nextDelay()
	}
	return u
}

func (c *Client) publish() {
	u := c.Snapshot()
	select {
	case c.updates <- u:
		return
	default:
	}
	// Непрочитанное обновление устарело, заменяем его
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- u:
	default:
	}
}

func (c *Client) fetch(ctx context.Context) (models.Snapshot, error) {
	var snapshot models.Snapshot

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/latest", nil)
	if err != nil {
		return snapshot, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return snapshot, fmt.Errorf("failed to fetch latest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snapshot, fmt.Errorf("latest returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return snapshot, fmt.Errorf("failed to decode latest: %w", err)
	}
	return snapshot, nil
}

// apply переносит снимок на доску, отбрасывая неправдоподобные значения.
// Сенсор не в сети или с устаревшим показанием показывается как "no data".
func (c *Client) apply(snapshot models.Snapshot, now time.Time) int {
	rejected := 0
	for sensorID, view := range snapshot.Readings {
		offline := c.offline(snapshot, view)
		if offline {
			log.Printf("Sensor %s is offline, last reading at %s\n", sensorID, view.Timestamp.Format(time.RFC3339))
		}
		c.board.SetOffline(sensorID, offline)

		for metric, value := range view.Values {
			key := FieldKey{SensorID: sensorID, Metric: metric}
			status := view.Statuses[metric]
			if status == "" {
				status = models.StatusUnknown
			}

			if offline {
				value = nil
				status = models.StatusUnknown
			} else if value != nil && !models.Plausible(c.cfg.SanityBand, *value) {
				log.Printf("Rejected implausible value %s/%s=%v\n", sensorID, metric, *value)
				rejected++
				value = nil
				status = models.StatusUnknown
			}
			c.board.Set(key, value, status, now)
		}
	}
	return rejected
}

// offline сенсор с данными, который сервер считает недоступным или чье показание старше StaleAfter.
// Возраст считается по часам сервера из GeneratedAt.
func (c *Client) offline(snapshot models.Snapshot, view models.SensorView) bool {
	if view.Timestamp.IsZero() {
		return false
	}
	if !view.Online {
		return true
	}
	if c.cfg.StaleAfter <= 0 || snapshot.GeneratedAt.IsZero() {
		return false
	}
	return snapshot.GeneratedAt.Sub(view.Timestamp) > c.cfg.StaleAfter
}

func (c *Client) markFailure(err error) {
	c.mu.Lock()
	c.failures++
	c.lastErr = err

	if c.state == StateConnected {
		c.state = StateDisconnected
	}
	if c.cfg.MaxAttempts > 0 && c.failures >= c.cfg.MaxAttempts {
		c.state = StateFailed
	}
	failures, state := c.failures, c.state
	c.mu.Unlock()

	c.board.SetLive(false)
	log.Printf("Poll failed (attempt %d, %s): %v\n", failures, state, err)
}
