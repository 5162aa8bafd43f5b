package dashboard

import (
	"sort"
	"sync"
	"time"

	"turtle-monitor/internal/models"
)

// FieldKey отображаемое поле: метрика конкретного сенсора
type FieldKey struct {
	SensorID string
	Metric   models.Metric
}

// Field значение поля на экране
type Field struct {
	Value   *float64
	Status  models.Status
	Changed time.Time
	NoData  bool
	// Offline сенсор не в сети или его данные устарели
	Offline bool
}

type pendingField struct {
	field Field
	due   time.Time
}

// Board отображаемые значения с подавлением мерцания.
// Поле меняется не чаще одного раза за debounce, промежуточные
// значения схлопываются в последнее.
type Board struct {
	mu       sync.Mutex
	debounce time.Duration
	live     bool
	fields   map[FieldKey]Field
	pending  map[FieldKey]pendingField
	offline  map[string]bool
}

// NewBoard создает доску; до первого успешного опроса все поля "no data"
func NewBoard(debounce time.Duration) *Board {
	return &Board{
		debounce: debounce,
		fields:   make(map[FieldKey]Field),
		pending:  make(map[FieldKey]pendingField),
		offline:  make(map[string]bool),
	}
}

// Set предлагает новое значение поля. Возвращает true, если экран изменился сразу.
func (b *Board) Set(key FieldKey, value *float64, st models.Status, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := Field{Value: copyValue(value), Status: st, Changed: now}
	cur, ok := b.fields[key]
	if ok && sameField(cur, next) {
		delete(b.pending, key)
		return false
	}
	if !ok || b.debounce <= 0 || now.Sub(cur.Changed) >= b.debounce {
		b.fields[key] = next
		delete(b.pending, key)
		return true
	}
	b.pending[key] = pendingField{field: next, due: cur.Changed.Add(b.debounce)}
	return false
}

// Settle применяет отложенные значения, чье окно истекло к now
func (b *Board) Settle(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := false
	for key, p := range b.pending {
		if now.Before(p.due) {
			continue
		}
		p.field.Changed = now
		b.fields[key] = p.field
		delete(b.pending, key)
		changed = true
	}
	return changed
}

// NextSettle ближайший момент, когда Settle что-то применит
func (b *Board) NextSettle() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var next time.Time
	for _, p := range b.pending {
		if next.IsZero() || p.due.Before(next) {
			next = p.due
		}
	}
	return next, !next.IsZero()
}

// SetLive переключает доску между живыми данными и "no data".
// При потере связи отложенные значения отбрасываются.
func (b *Board) SetLive(live bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live = live
	if !live {
		b.pending = make(map[FieldKey]pendingField)
	}
}

// SetOffline помечает сенсор как недоступный; его поля показываются как "no data"
func (b *Board) SetOffline(sensorID string, offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offline {
		b.offline[sensorID] = true
		return
	}
	delete(b.offline, sensorID)
}

// Live true, если значения доски актуальны
func (b *Board) Live() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Get текущее отображение поля
func (b *Board) Get(key FieldKey) Field {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.display(key)
}

// Snapshot копия всех полей для отрисовки
func (b *Board) Snapshot() map[FieldKey]Field {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[FieldKey]Field, len(b.fields))
	for key := range b.fields {
		out[key] = b.display(key)
	}
	return out
}

// Keys поля в порядке сенсор, метрика
func (b *Board) Keys() []FieldKey {
	b.mu.Lock()
	keys := make([]FieldKey, 0, len(b.fields))
	for key := range b.fields {
		keys = append(keys, key)
	}
	b.mu.Unlock()

	sortKeys(keys)
	return keys
}

func (b *Board) display(key FieldKey) Field {
	f, ok := b.fields[key]
	offline := b.offline[key.SensorID]
	if !ok || !b.live || offline || f.Value == nil {
		return Field{Status: models.StatusUnknown, Changed: f.Changed, NoData: true, Offline: b.live && offline}
	}
	f.Value = copyValue(f.Value)
	return f
}

func sortKeys(keys []FieldKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SensorID != keys[j].SensorID {
			return keys[i].SensorID < keys[j].SensorID
		}
		return keys[i].Metric < keys[j].Metric
	})
}

func sameField(a, b Field) bool {
	if a.Status != b.Status {
		return false
	}
	if a.Value == nil || b.Value == nil {
		return a.Value == nil && b.Value == nil
	}
	return *a.Value == *b.Value
}

func copyValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
