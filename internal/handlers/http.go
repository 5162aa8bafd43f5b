package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"turtle-monitor/internal/metrics"
	"turtle-monitor/internal/models"
	"turtle-monitor/internal/query"
)

// StatsFunc источник диагностики для GET /stats
type StatsFunc func() map[string]interface{}

// Handler обработчик HTTP запросов
type Handler struct {
	service *query.Service
	stats   StatsFunc
	now     func() time.Time
}

// NewHandler создает новый обработчик; stats может быть nil
func NewHandler(service *query.Service, stats StatsFunc) *Handler {
	return &Handler{
		service: service,
		stats:   stats,
		now:     time.Now,
	}
}

// Register регистрирует маршруты API
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/latest", h.GetLatest)
	mux.HandleFunc("/history/{hours}", h.GetHistory)
	mux.HandleFunc("/stats", h.GetStats)
}

// GetLatest обрабатывает GET /latest
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/latest").Observe(duration)
	}()

	if r.Method != http.MethodGet {
		h.fail(w, r, "/latest", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Последние показания живут в памяти и не зависят от Redis:
	// при недоступной истории и без данных ответ все равно 200, сенсоры в Unknown
	snapshot := h.service.GetSnapshot()
	h.respond(w, r, "/latest", http.StatusOK, snapshot)
}

// GetHistory обрабатывает GET /history/{hours}?sensor=
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/history").Observe(duration)
	}()

	if r.Method != http.MethodGet {
		h.fail(w, r, "/history", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	maxHours := h.service.MaxHistoryHours()
	hours, err := strconv.Atoi(r.PathValue("hours"))
	if err != nil || hours < 1 || hours > maxHours {
		h.fail(w, r, "/history", http.StatusBadRequest,
			fmt.Sprintf("hours must be an integer between 1 and %d", maxHours))
		return
	}

	window := query.HoursWindow(r.URL.Query().Get("sensor"), hours, h.now())
	points, err := h.service.GetHistory(r.Context(), window)
	switch {
	case errors.Is(err, query.ErrBadRequest):
		h.fail(w, r, "/history", http.StatusBadRequest, err.Error())
		return
	case err != nil:
		metrics.RedisOperations.WithLabelValues("query_history", "error").Inc()
		log.Printf("History query failed: %v\n", err)
		h.fail(w, r, "/history", http.StatusServiceUnavailable, "History storage unavailable")
		return
	}
	metrics.RedisOperations.WithLabelValues("query_history", "success").Inc()

	h.respond(w, r, "/history", http.StatusOK, models.HistoryResponse{
		Hours:      hours,
		DataPoints: len(points),
		Data:       points,
	})
}

// HealthCheck обрабатывает GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/health").Observe(duration)
	}()

	if r.Method != http.MethodGet {
		h.fail(w, r, "/health", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	health := h.service.GetHealth(r.Context())

	// Отключенный транспорт дает degraded, недоступное хранилище дает 503
	httpStatus := http.StatusOK
	if !health.StoreAvailable {
		httpStatus = http.StatusServiceUnavailable
	}
	h.respond(w, r, "/health", httpStatus, health)
}

// GetStats обрабатывает GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		duration := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(r.Method, "/stats").Observe(duration)
	}()

	if r.Method != http.MethodGet {
		h.fail(w, r, "/stats", http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body := map[string]interface{}{}
	if h.stats != nil {
		body = h.stats()
	}
	body["timestamp"] = h.now()
	h.respond(w, r, "/stats", http.StatusOK, body)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, endpoint string, status int, body interface{}) {
	metrics.RequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to encode %s response: %v\n", endpoint, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, endpoint string, status int, message string) {
	h.respond(w, r, endpoint, status, map[string]string{"error": message})
}
