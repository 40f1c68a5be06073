package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Ключ снимка журнала для дашбордов
	snapshotKey = "billing:snapshot"
	// Версия хранилища, из которой снят закэшированный снимок
	snapshotVersionKey = "billing:snapshot:version"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// storeIfNewer пишет снимок, только если его версия больше закэшированной.
// KEYS: снимок, версия. ARGV: версия, данные, TTL в миллисекундах.
var storeIfNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[3])
return 1
`)

// SnapshotCache хранит последний снимок журнала в Redis, чтобы внешние
// дашборды могли читать его, не обращаясь к планировщику
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewSnapshotCache подключается к Redis и проверяет соединение
func NewSnapshotCache(redisAddr, redisPassword string, redisDB int, ttl time.Duration, log *logger.Logger) (*SnapshotCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return NewSnapshotCacheWithClient(client, ttl, log), nil
}

// NewSnapshotCacheWithClient оборачивает уже созданный клиент
func NewSnapshotCacheWithClient(client *redis.Client, ttl time.Duration, log *logger.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &SnapshotCache{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// Close закрывает соединение с Redis
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

// Store сохраняет снимок, если в кэше нет снимка той же или более новой версии.
// Возвращает false, когда снимок устарел и не был записан.
func (c *SnapshotCache) Store(ctx context.Context, snap Snapshot) (bool, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	stored, err := storeIfNewer.Run(ctx, c.client,
		[]string{snapshotKey, snapshotVersionKey},
		snap.Version, data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to cache snapshot: %w", err)
	}
	if stored == 0 {
		c.log.Debugw("Cached snapshot is newer, skipping", "version", snap.Version)
		return false, nil
	}

	c.log.Debugw("Snapshot cached",
		"version", snap.Version, "subscriptions", len(snap.Subscriptions), "transactions", len(snap.Transactions))
	return true, nil
}

// Load возвращает снимок из кэша; (nil, nil) если его там нет
func (c *SnapshotCache) Load(ctx context.Context) (*Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot from cache: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached snapshot: %w", err)
	}
	return &snap, nil
}

// Invalidate удаляет снимок из кэша
func (c *SnapshotCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, snapshotKey, snapshotVersionKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshot: %w", err)
	}
	return nil
}
