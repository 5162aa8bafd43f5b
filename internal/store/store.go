package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"turtle-monitor/internal/models"
)

var (
	// ErrInvalidWindow окно истории задано неверно
	ErrInvalidWindow = errors.New("invalid history window")
	// ErrStorageFull хранилище истории переполнено
	ErrStorageFull = errors.New("history storage full")
	// ErrStorageUnavailable хранилище истории недоступно
	ErrStorageUnavailable = errors.New("history storage unavailable")
)

// HistoryLog долговременный журнал показаний.
// Запись с тем же (sensor_id, timestamp) перезаписывает предыдущую.
type HistoryLog interface {
	Append(ctx context.Context, r models.Reading) error
	Query(ctx context.Context, sensorID string, since, until time.Time) ([]models.Reading, error)
	Ping(ctx context.Context) error
}

// Store последние показания в памяти плюс журнал истории
type Store struct {
	mu           sync.RWMutex
	latest       map[string]models.Reading
	availability map[string]bool
	lastUpdate   time.Time

	history   HistoryLog
	maxWindow time.Duration
	appended  atomic.Int64
}

// New создает хранилище; maxWindow ограничивает окно запросов истории
func New(history HistoryLog, maxWindow time.Duration) *Store {
	return &Store{
		latest:       make(map[string]models.Reading),
		availability: make(map[string]bool),
		history:      history,
		maxWindow:    maxWindow,
	}
}

// UpsertLatest заменяет последнее показание сенсора
func (s *Store) UpsertLatest(sensorID string, r models.Reading) {
	r = r.Clone()
	r.SensorID = sensorID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[sensorID] = r
	if r.Timestamp.After(s.lastUpdate) {
		s.lastUpdate = r.Timestamp
	}
}

// GetLatest возвращает копию последнего показания сенсора
func (s *Store) GetLatest(sensorID string) (models.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.latest[sensorID]
	if !ok {
		return models.Reading{}, false
	}
	return r.Clone(), true
}

// GetAllLatest возвращает снимок последних показаний всех сенсоров
func (s *Store) GetAllLatest() map[string]models.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Reading, len(s.latest))
	for id, r := range s.latest {
		out[id] = r.Clone()
	}
	return out
}

// SetAvailability отмечает сенсор онлайн/оффлайн
func (s *Store) SetAvailability(sensorID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availability[sensorID] = online
}

// Availability возвращает флаг доступности; known=false если сенсор о себе не сообщал
func (s *Store) Availability(sensorID string) (online, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	online, known = s.availability[sensorID]
	return online, known
}

// LastUpdate время самого свежего показания
func (s *Store) LastUpdate() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate, !s.lastUpdate.IsZero()
}

// Append записывает показание в журнал истории.
// Ошибка журнала всегда возвращается вызывающему.
func (s *Store) Append(ctx context.Context, r models.Reading) error {
	if r.SensorID == "" {
		return fmt.Errorf("append: empty sensor id")
	}
	if err := s.history.Append(ctx, r); err != nil {
		return fmt.Errorf("append %s: %w", r.SensorID, err)
	}
	s.appended.Add(1)
	return nil
}

// ReadingCount количество показаний, записанных в журнал этим процессом
func (s *Store) ReadingCount() int64 {
	return s.appended.Load()
}

// MaxWindow максимальная длина окна истории
func (s *Store) MaxWindow() time.Duration {
	return s.maxWindow
}

// ValidateWindow проверяет окно без обращения к журналу
func (s *Store) ValidateWindow(since, until time.Time) error {
	if since.After(until) {
		return fmt.Errorf("%w: since %s is after until %s", ErrInvalidWindow,
			since.Format(time.RFC3339), until.Format(time.RFC3339))
	}
	if s.maxWindow > 0 && until.Sub(since) > s.maxWindow {
		return fmt.Errorf("%w: window %s exceeds maximum %s", ErrInvalidWindow,
			until.Sub(since), s.maxWindow)
	}
	return nil
}

// QueryHistory возвращает показания по возрастанию времени.
// Пустой sensorID означает все сенсоры. Пустой результат ошибкой не является.
func (s *Store) QueryHistory(ctx context.Context, sensorID string, since, until time.Time) ([]models.Reading, error) {
	if err := s.ValidateWindow(since, until); err != nil {
		return nil, err
	}
	readings, err := s.history.Query(ctx, sensorID, since, until)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return readings, nil
}

// Ping проверяет доступность журнала
func (s *Store) Ping(ctx context.Context) error {
	if err := s.history.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
