package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration продолжительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// MessagesReceived сообщения из транспорта
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_received_total",
			Help: "Total number of transport messages received",
		},
		[]string{"sensor_id", "kind"},
	)

	// IngestErrors отброшенные сообщения
	IngestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_errors_total",
			Help: "Messages dropped during ingestion",
		},
		[]string{"reason"},
	)

	// ReadingsApplied показания, записанные в хранилище
	ReadingsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_applied_total",
			Help: "Readings written to the store after coalescing",
		},
		[]string{"sensor_id", "metric"},
	)

	// ReadingsCoalesced значения, замененные более свежими внутри окна
	ReadingsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "readings_coalesced_total",
			Help: "Values superseded inside the coalescing window",
		},
	)

	// CurrentValue текущее значение метрики (gauge)
	CurrentValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensor_current_value",
			Help: "Latest accepted value per sensor and metric",
		},
		[]string{"sensor_id", "metric"},
	)

	// TransportConnected 1 если подписка на брокер активна
	TransportConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transport_connected",
			Help: "1 when the pub/sub transport is connected",
		},
	)

	// TransportReconnects попытки переподключения
	TransportReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_reconnect_attempts_total",
			Help: "Transport connection attempts",
		},
		[]string{"status"},
	)

	// RedisOperations операции с Redis
	RedisOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	// HistoryWriteLatency задержка записи в журнал
	HistoryWriteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "history_write_latency_seconds",
			Help:    "History append latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// StreamClients подключенные websocket клиенты
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_clients",
			Help: "Number of connected websocket clients",
		},
	)

	// PrunedReadings удаленные политикой хранения записи
	PrunedReadings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_pruned_total",
			Help: "History entries removed by the retention policy",
		},
	)
)
