package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"turtle-monitor/internal/models"
	"turtle-monitor/internal/status"
	"turtle-monitor/internal/store"
)

var (
	// ErrBadRequest неверные параметры запроса
	ErrBadRequest = errors.New("bad request")
	// ErrUnavailable хранилище недоступно, запрос можно повторить
	ErrUnavailable = errors.New("storage unavailable")
)

// TransportStatus источник состояния транспорта
type TransportStatus interface {
	Connected() bool
	ConnectionState() string
}

// Window окно истории; пустой SensorID означает все сенсоры
type Window struct {
	SensorID string
	Since    time.Time
	Until    time.Time
}

// HoursWindow окно последних hours часов до now
func HoursWindow(sensorID string, hours int, now time.Time) Window {
	return Window{
		SensorID: sensorID,
		Since:    now.Add(-time.Duration(hours) * time.Hour),
		Until:    now,
	}
}

// Service чтение последних показаний и истории со статусами
type Service struct {
	store      *store.Store
	classifier *status.Classifier
	transport  TransportStatus
	sensors    []string
	started    time.Time
	now        func() time.Time
}

// NewService создает сервис. sensors перечисляет ожидаемые сенсоры,
// чтобы снимок показывал их даже до первого показания.
func NewService(st *store.Store, classifier *status.Classifier, transport TransportStatus, sensors []string) *Service {
	return &Service{
		store:      st,
		classifier: classifier,
		transport:  transport,
		sensors:    append([]string{}, sensors...),
		started:    time.Now(),
		now:        time.Now,
	}
}

// SetClock подменяет источник времени
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.started = now()
}

// GetSnapshot последние показания всех сенсоров и общий статус
func (s *Service) GetSnapshot() models.Snapshot {
	latest := s.store.GetAllLatest()

	ids := make(map[string]bool, len(s.sensors)+len(latest))
	for _, id := range s.sensors {
		ids[id] = true
	}
	for id := range latest {
		ids[id] = true
	}

	snap := models.Snapshot{
		GeneratedAt: s.now(),
		Readings:    make(map[string]models.SensorView, len(ids)),
	}

	var all []models.Status
	for id := range ids {
		view := s.View(id, latest[id])
		snap.Readings[id] = view
		for _, st := range view.Statuses {
			all = append(all, st)
		}
	}
	snap.OverallStatus = models.Worst(all...)
	return snap
}

// View строит представление одного сенсора; пустое показание дает Unknown
func (s *Service) View(sensorID string, r models.Reading) models.SensorView {
	statuses := s.classifier.ClassifyReading(r)
	values := make(map[models.Metric]*float64, len(statuses))
	for m := range statuses {
		values[m] = r.Value(m)
	}

	online := !r.Timestamp.IsZero()
	if avail, known := s.store.Availability(sensorID); known {
		online = avail
	}

	return models.SensorView{
		SensorID:  sensorID,
		Timestamp: r.Timestamp,
		Values:    values,
		Statuses:  statuses,
		Status:    status.SensorStatus(statuses),
		Online:    online,
	}
}

// GetHistory история за окно со статусами
func (s *Service) GetHistory(ctx context.Context, w Window) ([]models.HistoryPoint, error) {
	if err := s.store.ValidateWindow(w.Since, w.Until); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	readings, err := s.store.QueryHistory(ctx, w.SensorID, w.Since, w.Until)
	if err != nil {
		if errors.Is(err, store.ErrInvalidWindow) {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	points := make([]models.HistoryPoint, 0, len(readings))
	for _, r := range readings {
		statuses := s.classifier.ClassifyReading(r)
		points = append(points, models.HistoryPoint{
			SensorID:  r.SensorID,
			Timestamp: r.Timestamp,
			Values:    r.Values,
			Statuses:  statuses,
			Status:    status.SensorStatus(statuses),
		})
	}
	return points, nil
}

// MaxHistoryHours ограничение окна истории в часах
func (s *Service) MaxHistoryHours() int {
	return int(s.store.MaxWindow() / time.Hour)
}

// GetHealth диагностическая сводка, не зависящая от значений сенсоров
func (s *Service) GetHealth(ctx context.Context) models.Health {
	uptime := s.now().Sub(s.started)
	h := models.Health{
		Uptime:             uptime.Round(time.Second).String(),
		UptimeSeconds:      uptime.Seconds(),
		TransportConnected: s.transport.Connected(),
		TransportState:     s.transport.ConnectionState(),
		StoreAvailable:     s.store.Ping(ctx) == nil,
		ReadingCount:       s.store.ReadingCount(),
	}
	if last, ok := s.store.LastUpdate(); ok {
		h.LastUpdate = &last
	}

	switch {
	case !h.StoreAvailable:
		h.Status = "unavailable"
	case !h.TransportConnected:
		h.Status = "degraded"
	default:
		h.Status = "healthy"
	}
	return h
}
