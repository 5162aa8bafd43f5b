package models

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Metric физическая величина, которую измеряет сенсор
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
)

// Band включительный диапазон значений [Min, Max]
type Band struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// UnmarshalJSON принимает диапазон в виде [min, max]
func (b *Band) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	b.Min, b.Max = pair[0], pair[1]
	return nil
}

// MarshalJSON записывает диапазон в виде [min, max]
func (b Band) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{b.Min, b.Max})
}

// Contains проверяет попадание значения в диапазон
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// ContainsBand проверяет что other целиком лежит внутри b
func (b Band) ContainsBand(other Band) bool {
	return other.Min >= b.Min && other.Max <= b.Max
}

// DefaultSanityBand физически правдоподобный диапазон для всех метрик
var DefaultSanityBand = Band{Min: -50, Max: 100}

// Plausible возвращает false для нечисловых значений и значений вне band
func Plausible(band Band, v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return band.Contains(v)
}

// Reading одно наблюдение сенсора: все метрики на один момент времени
type Reading struct {
	SensorID  string             `json:"sensor_id"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[Metric]float64 `json:"values"`
}

// Value возвращает значение метрики или nil если сенсор ее не прислал
func (r Reading) Value(m Metric) *float64 {
	v, ok := r.Values[m]
	if !ok {
		return nil
	}
	return &v
}

// Clone возвращает глубокую копию
func (r Reading) Clone() Reading {
	out := Reading{SensorID: r.SensorID, Timestamp: r.Timestamp}
	if r.Values != nil {
		out.Values = make(map[Metric]float64, len(r.Values))
		for k, v := range r.Values {
			out.Values[k] = v
		}
	}
	return out
}

// With возвращает копию с обновленной метрикой и временем
func (r Reading) With(m Metric, v float64, at time.Time) Reading {
	out := r.Clone()
	if out.Values == nil {
		out.Values = make(map[Metric]float64, 1)
	}
	out.Values[m] = v
	out.Timestamp = at
	return out
}

// Status качественная оценка значения
type Status string

const (
	StatusUnknown  Status = "Unknown"
	StatusOptimal  Status = "Optimal"
	StatusWarning  Status = "Warning"
	StatusCritical Status = "Critical"
)

// Severity порядок тяжести: Unknown < Optimal < Warning < Critical
func (s Status) Severity() int {
	switch s {
	case StatusOptimal:
		return 1
	case StatusWarning:
		return 2
	case StatusCritical:
		return 3
	default:
		return 0
	}
}

// Worst возвращает самый тяжелый статус; пустой список дает Unknown
func Worst(statuses ...Status) Status {
	worst := StatusUnknown
	for _, s := range statuses {
		if s.Severity() > worst.Severity() {
			worst = s
		}
	}
	return worst
}

// Threshold пороги одной метрики; Warning содержит Optimal
type Threshold struct {
	Optimal Band `json:"optimal"`
	Warning Band `json:"warning"`
}

// Thresholds пороги по имени метрики
type Thresholds map[Metric]Threshold

// Metrics возвращает отсортированный список метрик
func (t Thresholds) Metrics() []Metric {
	out := make([]Metric, 0, len(t))
	for m := range t {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultThresholds пороги для террариума (°F и %RH)
func DefaultThresholds() Thresholds {
	return Thresholds{
		MetricTemperature: {
			Optimal: Band{Min: 70, Max: 90},
			Warning: Band{Min: 65, Max: 95},
		},
		MetricHumidity: {
			Optimal: Band{Min: 60, Max: 80},
			Warning: Band{Min: 50, Max: 90},
		},
	}
}

// SensorView последнее показание сенсора со статусами
type SensorView struct {
	SensorID  string
	Timestamp time.Time
	Values    map[Metric]*float64
	Statuses  map[Metric]Status
	Status    Status
	Online    bool
}

// MarshalJSON раскладывает метрики в плоский объект:
// {"temperature": 75.5, "humidity": null, "timestamp": ..., "status": ...}
// Сенсор без показаний получает "timestamp": null.
func (v SensorView) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(v.Values)+5)
	for m, val := range v.Values {
		out[string(m)] = val
	}
	out["sensor_id"] = v.SensorID
	out["timestamp"] = nil
	if !v.Timestamp.IsZero() {
		out["timestamp"] = v.Timestamp
	}
	out["status"] = v.Status
	out["statuses"] = v.Statuses
	out["online"] = v.Online
	return json.Marshal(out)
}

// UnmarshalJSON обратная операция для клиентов API
func (v *SensorView) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Values = make(map[Metric]*float64)
	for key, msg := range raw {
		var err error
		switch key {
		case "timestamp":
			err = json.Unmarshal(msg, &v.Timestamp)
		case "status":
			err = json.Unmarshal(msg, &v.Status)
		case "statuses":
			err = json.Unmarshal(msg, &v.Statuses)
		case "online":
			err = json.Unmarshal(msg, &v.Online)
		case "sensor_id":
			err = json.Unmarshal(msg, &v.SensorID)
		default:
			var val *float64
			err = json.Unmarshal(msg, &val)
			v.Values[Metric(key)] = val
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Snapshot ответ GET /latest
type Snapshot struct {
	GeneratedAt   time.Time             `json:"timestamp"`
	Readings      map[string]SensorView `json:"readings"`
	OverallStatus Status                `json:"status"`
}

// HistoryPoint запись истории со статусом
type HistoryPoint struct {
	SensorID  string             `json:"sensor_id"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[Metric]float64 `json:"values"`
	Statuses  map[Metric]Status  `json:"statuses"`
	Status    Status             `json:"status"`
}

// HistoryResponse ответ GET /history/{hours}
type HistoryResponse struct {
	Hours      int            `json:"hours"`
	DataPoints int            `json:"data_points"`
	Data       []HistoryPoint `json:"data"`
}

// Health ответ GET /health
type Health struct {
	Status             string     `json:"status"`
	Uptime             string     `json:"uptime"`
	UptimeSeconds      float64    `json:"uptime_seconds"`
	LastUpdate         *time.Time `json:"last_update"`
	TransportConnected bool       `json:"transport_connected"`
	TransportState     string     `json:"transport_state"`
	StoreAvailable     bool       `json:"store_available"`
	ReadingCount       int64      `json:"reading_count"`
}
