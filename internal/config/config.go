package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"turtle-monitor/internal/models"
	"turtle-monitor/internal/status"
)

// Config конфигурация сервера
type Config struct {
	ServerPort      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	MQTTBroker      string
	MQTTUsername    string
	MQTTPassword    string
	MQTTClientID    string
	TopicPrefix     string
	Sensors         []string
	SanityBand      models.Band
	CoalesceWindow  time.Duration
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	MaxHistoryHours int
	Retention       time.Duration
	PruneInterval   time.Duration
	ThresholdsFile  string
	Thresholds      models.Thresholds
}

// Load загружает конфигурацию из environment и файла порогов
func Load() (Config, error) {
	cfg := Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvAsInt("REDIS_DB", 0),
		MQTTBroker:      getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTUsername:    getEnv("MQTT_USERNAME", ""),
		MQTTPassword:    getEnv("MQTT_PASSWORD", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "turtle-monitor"),
		TopicPrefix:     getEnv("TOPIC_PREFIX", "turtle"),
		Sensors:         getEnvAsList("SENSORS", []string{"sensor1", "sensor2"}),
		CoalesceWindow:  getEnvAsDuration("COALESCE_WINDOW", 300*time.Millisecond),
		ReconnectMin:    getEnvAsDuration("RECONNECT_MIN", time.Second),
		ReconnectMax:    getEnvAsDuration("RECONNECT_MAX", time.Minute),
		MaxHistoryHours: getEnvAsInt("MAX_HISTORY_HOURS", 168),
		Retention:       time.Duration(getEnvAsInt("HISTORY_RETENTION_HOURS", 720)) * time.Hour,
		PruneInterval:   getEnvAsDuration("PRUNE_INTERVAL", time.Hour),
		ThresholdsFile:  getEnv("THRESHOLDS_FILE", ""),
	}
	cfg.SanityBand = models.Band{
		Min: getEnvAsFloat("SANITY_MIN", models.DefaultSanityBand.Min),
		Max: getEnvAsFloat("SANITY_MAX", models.DefaultSanityBand.Max),
	}

	thresholds, err := LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		return cfg, err
	}
	cfg.Thresholds = thresholds

	return cfg, cfg.Validate()
}

// Validate проверяет согласованность параметров
func (c Config) Validate() error {
	if c.CoalesceWindow <= 0 {
		return fmt.Errorf("COALESCE_WINDOW must be positive, got %s", c.CoalesceWindow)
	}
	if c.MaxHistoryHours < 1 {
		return fmt.Errorf("MAX_HISTORY_HOURS must be at least 1, got %d", c.MaxHistoryHours)
	}
	if c.SanityBand.Min >= c.SanityBand.Max {
		return fmt.Errorf("sanity band [%.1f, %.1f] is empty", c.SanityBand.Min, c.SanityBand.Max)
	}
	if len(c.Sensors) == 0 {
		return fmt.Errorf("SENSORS must list at least one sensor")
	}
	if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
		return fmt.Errorf("reconnect backoff [%s, %s] is invalid", c.ReconnectMin, c.ReconnectMax)
	}
	return nil
}

// LoadThresholds читает JSON вида
//
//	{"temperature": {"optimal": [70, 90], "warning": [65, 95]}}
//
// и накладывает его на встроенные пороги. Пустой path дает встроенные пороги.
func LoadThresholds(path string) (models.Thresholds, error) {
	thresholds := models.DefaultThresholds()
	if path == "" {
		return thresholds, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read thresholds: %w", err)
	}
	var fromFile models.Thresholds
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds %s: %w", path, err)
	}
	for m, t := range fromFile {
		thresholds[m] = t
	}
	if err := status.Validate(thresholds); err != nil {
		return nil, err
	}
	return thresholds, nil
}

// getEnv получает environment variable или возвращает default
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt получает environment variable как int
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat получает environment variable как float64
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var value float64
	if _, err := fmt.Sscanf(valueStr, "%f", &value); err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration получает environment variable как time.Duration ("300ms", "1m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList получает список через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
