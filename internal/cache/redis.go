package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"turtle-monitor/internal/models"
	"turtle-monitor/internal/store"
)

const (
	sensorsKey = "history:sensors"
)

// RedisHistory журнал истории показаний в Redis.
// Для каждого сенсора: sorted set history:{id} (score = unix ms, member = unix ns)
// и hash history:data:{id} (unix ns -> JSON показания).
type RedisHistory struct {
	client *redis.Client
}

// NewRedisHistory подключается к Redis и проверяет соединение
func NewRedisHistory(ctx context.Context, addr, password string, db int) (*RedisHistory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisHistory{client: client}, nil
}

// NewRedisHistoryFromClient оборачивает готовый клиент
func NewRedisHistoryFromClient(client *redis.Client) *RedisHistory {
	return &RedisHistory{client: client}
}

func indexKey(sensorID string) string { return "history:" + sensorID }
func dataKey(sensorID string) string  { return "history:data:" + sensorID }

// Append атомарно записывает показание (MULTI/EXEC).
// Повторная запись с тем же временем перезаписывает данные.
func (r *RedisHistory) Append(ctx context.Context, reading models.Reading) error {
	jsonData, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	member := strconv.FormatInt(reading.Timestamp.UnixNano(), 10)
	score := float64(reading.Timestamp.UnixMilli())

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, dataKey(reading.SensorID), member, jsonData)
		pipe.ZAdd(ctx, indexKey(reading.SensorID), redis.Z{Score: score, Member: member})
		pipe.SAdd(ctx, sensorsKey, reading.SensorID)
		return nil
	})
	return classify(err)
}

// Query возвращает показания в [since, until] по возрастанию времени.
// Пустой sensorID означает все сенсоры.
func (r *RedisHistory) Query(ctx context.Context, sensorID string, since, until time.Time) ([]models.Reading, error) {
	sensors := []string{sensorID}
	if sensorID == "" {
		all, err := r.client.SMembers(ctx, sensorsKey).Result()
		if err != nil {
			return nil, classify(err)
		}
		sensors = all
	}

	var out []models.Reading
	for _, id := range sensors {
		readings, err := r.querySensor(ctx, id, since, until)
		if err != nil {
			return nil, err
		}
		out = append(out, readings...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].SensorID < out[j].SensorID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (r *RedisHistory) querySensor(ctx context.Context, sensorID string, since, until time.Time) ([]models.Reading, error) {
	members, err := r.client.ZRangeByScore(ctx, indexKey(sensorID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: strconv.FormatInt(until.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, classify(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, dataKey(sensorID), members...).Result()
	if err != nil {
		return nil, classify(err)
	}

	out := make([]models.Reading, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// индекс без данных: запись удалена между ZRANGE и HMGET
			continue
		}
		var reading models.Reading
		if err := json.Unmarshal([]byte(raw), &reading); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reading %s: %w", sensorID, err)
		}
		// score хранится в миллисекундах, точная граница проверяется здесь
		if reading.Timestamp.Before(since) || reading.Timestamp.After(until) {
			continue
		}
		out = append(out, reading)
	}
	return out, nil
}

// Prune удаляет записи старше olderThan, возвращает количество удаленных
func (r *RedisHistory) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	sensors, err := r.client.SMembers(ctx, sensorsKey).Result()
	if err != nil {
		return 0, classify(err)
	}

	removed := 0
	for _, id := range sensors {
		members, err := r.client.ZRangeByScore(ctx, indexKey(id), &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + strconv.FormatInt(olderThan.UnixMilli(), 10),
		}).Result()
		if err != nil {
			return removed, classify(err)
		}
		if len(members) == 0 {
			continue
		}

		zMembers := make([]interface{}, len(members))
		for i, m := range members {
			zMembers[i] = m
		}
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, indexKey(id), zMembers...)
			pipe.HDel(ctx, dataKey(id), members...)
			return nil
		})
		if err != nil {
			return removed, classify(err)
		}
		removed += len(members)
	}
	return removed, nil
}

// Close закрывает соединение с Redis
func (r *RedisHistory) Close() error {
	return r.client.Close()
}

// Ping проверяет доступность Redis
func (r *RedisHistory) Ping(ctx context.Context) error {
	return classify(r.client.Ping(ctx).Err())
}

// GetStats возвращает статистику пула соединений
func (r *RedisHistory) GetStats() map[string]interface{} {
	stats := r.client.PoolStats()

	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}

// classify переводит ошибки Redis в ошибки хранилища
func classify(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	if strings.Contains(err.Error(), "OOM") {
		return fmt.Errorf("%w: %v", store.ErrStorageFull, err)
	}
	return fmt.Errorf("%w: %v", store.ErrStorageUnavailable, err)
}
