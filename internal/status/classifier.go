package status

import (
	"fmt"
	"math"

	"turtle-monitor/internal/models"
)

// Classifier переводит значения метрик в статусы по таблице порогов
type Classifier struct {
	thresholds models.Thresholds
}

// NewClassifier создает классификатор; пороги копируются
func NewClassifier(thresholds models.Thresholds) (*Classifier, error) {
	if err := Validate(thresholds); err != nil {
		return nil, err
	}
	copied := make(models.Thresholds, len(thresholds))
	for m, t := range thresholds {
		copied[m] = t
	}
	return &Classifier{thresholds: copied}, nil
}

// Validate проверяет что пороги корректны и warning содержит optimal
func Validate(thresholds models.Thresholds) error {
	for m, t := range thresholds {
		if m == "" {
			return fmt.Errorf("thresholds: empty metric name")
		}
		if t.Optimal.Min > t.Optimal.Max {
			return fmt.Errorf("thresholds %s: optimal min %.2f > max %.2f", m, t.Optimal.Min, t.Optimal.Max)
		}
		if t.Warning.Min > t.Warning.Max {
			return fmt.Errorf("thresholds %s: warning min %.2f > max %.2f", m, t.Warning.Min, t.Warning.Max)
		}
		if !t.Warning.ContainsBand(t.Optimal) {
			return fmt.Errorf("thresholds %s: warning range must contain optimal range", m)
		}
	}
	return nil
}

// Metrics возвращает известные классификатору метрики
func (c *Classifier) Metrics() []models.Metric {
	return c.thresholds.Metrics()
}

// Classify возвращает статус значения метрики.
// nil, NaN и неизвестная метрика дают Unknown.
func (c *Classifier) Classify(metric models.Metric, value *float64) models.Status {
	if value == nil || math.IsNaN(*value) {
		return models.StatusUnknown
	}
	t, ok := c.thresholds[metric]
	if !ok {
		return models.StatusUnknown
	}

	v := *value
	switch {
	case t.Optimal.Contains(v):
		return models.StatusOptimal
	case t.Warning.Contains(v):
		return models.StatusWarning
	default:
		return models.StatusCritical
	}
}

// ClassifyReading возвращает статус каждой настроенной метрики показания.
// Метрики без значения получают Unknown.
func (c *Classifier) ClassifyReading(r models.Reading) map[models.Metric]models.Status {
	out := make(map[models.Metric]models.Status, len(c.thresholds))
	for m := range c.thresholds {
		out[m] = c.Classify(m, r.Value(m))
	}
	for m := range r.Values {
		if _, ok := out[m]; !ok {
			out[m] = models.StatusUnknown
		}
	}
	return out
}

// SensorStatus самый тяжелый статус среди метрик
func SensorStatus(statuses map[models.Metric]models.Status) models.Status {
	list := make([]models.Status, 0, len(statuses))
	for _, s := range statuses {
		list = append(list, s)
	}
	return models.Worst(list...)
}
