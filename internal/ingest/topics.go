package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"turtle-monitor/internal/models"
)

// AvailabilitySuffix последний сегмент топика доступности
const AvailabilitySuffix = "availability"

// Topics схема топиков: {prefix}/{sensor}/{metric} и {prefix}/{sensor}/availability
type Topics struct {
	Prefix  string
	Sensors []string
	Metrics []models.Metric
}

// Metric топик метрики сенсора
func (t Topics) Metric(sensorID string, m models.Metric) string {
	return t.join(sensorID, string(m))
}

// Availability топик доступности сенсора
func (t Topics) Availability(sensorID string) string {
	return t.join(sensorID, AvailabilitySuffix)
}

// All все топики, на которые нужно подписаться
func (t Topics) All() []string {
	out := make([]string, 0, len(t.Sensors)*(len(t.Metrics)+1))
	for _, s := range t.Sensors {
		for _, m := range t.Metrics {
			out = append(out, t.Metric(s, m))
		}
		out = append(out, t.Availability(s))
	}
	return out
}

// Parse разбирает топик на сенсор и последний сегмент
func (t Topics) Parse(topic string) (sensorID, leaf string, err error) {
	rest := topic
	if t.Prefix != "" {
		p := strings.TrimSuffix(t.Prefix, "/") + "/"
		if !strings.HasPrefix(topic, p) {
			return "", "", fmt.Errorf("topic %q outside prefix %q", topic, t.Prefix)
		}
		rest = strings.TrimPrefix(topic, p)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("topic %q: expected {sensor}/{metric}", topic)
	}
	return parts[0], parts[1], nil
}

func (t Topics) join(parts ...string) string {
	if t.Prefix == "" {
		return strings.Join(parts, "/")
	}
	return strings.TrimSuffix(t.Prefix, "/") + "/" + strings.Join(parts, "/")
}

// DecodeValue разбирает десятичное число из payload
func DecodeValue(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("empty payload")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("payload %q is not a number", s)
	}
	return v, nil
}

// DecodeAvailability разбирает online/offline
func DecodeAvailability(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "online", "1", "true":
		return true, nil
	case "offline", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("availability payload %q", string(payload))
	}
}
