package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turtle-monitor/internal/backoff"
	"turtle-monitor/internal/cache"
	"turtle-monitor/internal/config"
	"turtle-monitor/internal/handlers"
	"turtle-monitor/internal/ingest"
	"turtle-monitor/internal/metrics"
	"turtle-monitor/internal/models"
	"turtle-monitor/internal/query"
	"turtle-monitor/internal/schedule"
	"turtle-monitor/internal/status"
	"turtle-monitor/internal/store"
	"turtle-monitor/internal/stream"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.Println("Starting turtle enclosure monitor...")

	// Конфигурация из environment variables и файла порогов
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация Redis
	history, err := cache.NewRedisHistory(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer history.Close()
	log.Println("Connected to Redis")

	classifier, err := status.NewClassifier(cfg.Thresholds)
	if err != nil {
		log.Fatalf("Invalid thresholds: %v", err)
	}
	st := store.New(history, time.Duration(cfg.MaxHistoryHours)*time.Hour)

	// Подписка на MQTT
	transport := ingest.NewMQTTTransport(ingest.MQTTConfig{
		BrokerURL:      cfg.MQTTBroker,
		ClientIDPrefix: cfg.MQTTClientID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		QoS:            1,
	})
	bridge, err := ingest.NewBridge(ingest.Config{
		Topics: ingest.Topics{
			Prefix:  cfg.TopicPrefix,
			Sensors: cfg.Sensors,
			Metrics: classifier.Metrics(),
		},
		SanityBand:     cfg.SanityBand,
		CoalesceWindow: cfg.CoalesceWindow,
		Reconnect:      backoff.Policy{Initial: cfg.ReconnectMin, Max: cfg.ReconnectMax, Multiplier: 2},
	}, transport, st, schedule.Real{})
	if err != nil {
		log.Fatalf("Failed to create ingestion bridge: %v", err)
	}
	log.Printf("Ingesting %d sensors from %s, coalesce window %s\n",
		len(cfg.Sensors), cfg.MQTTBroker, cfg.CoalesceWindow)

	svc := query.NewService(st, classifier, bridge, cfg.Sensors)

	// Примененные показания сразу уходят подписчикам /stream
	hub := stream.NewHub(svc.GetSnapshot)
	bridge.OnApply(func(r models.Reading) {
		hub.PublishReading(svc.View(r.SensorID, r))
	})

	handler := handlers.NewHandler(svc, func() map[string]interface{} {
		return map[string]interface{}{
			"ingest":          bridge.Stats(),
			"redis":           history.GetStats(),
			"transport_state": bridge.ConnectionState(),
			"stream_clients":  hub.Clients(),
		}
	})

	// Настройка HTTP router
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("/stream", hub)

	// Prometheus metrics endpoint
	mux.Handle("/prometheus", promhttp.Handler())

	// HTTP сервер
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on port %s\n", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		if err := bridge.Run(ctx); err != nil {
			log.Printf("Ingestion stopped: %v\n", err)
		}
	}()

	// Периодическая очистка истории
	go pruneHistory(ctx, history, cfg.Retention, cfg.PruneInterval)

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v\n", err)
	}

	// Мост дописывает накопленные значения в историю до закрытия Redis
	select {
	case <-bridgeDone:
	case <-shutdownCtx.Done():
		log.Println("Ingestion did not stop within the grace period")
	}

	log.Println("Server stopped gracefully")
}

// pruneHistory удаляет записи старше retention раз в interval
func pruneHistory(ctx context.Context, history *cache.RedisHistory, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		removed, err := history.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			metrics.RedisOperations.WithLabelValues("prune", "error").Inc()
			log.Printf("History prune failed: %v\n", err)
			continue
		}
		metrics.RedisOperations.WithLabelValues("prune", "success").Inc()
		metrics.PrunedReadings.Add(float64(removed))
		if removed > 0 {
			log.Printf("Pruned %d readings older than %s\n", removed, retention)
		}
	}
}
