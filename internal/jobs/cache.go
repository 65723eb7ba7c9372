package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/virtshift/virtshift-api/internal/models"
)

// Cache is the volatile job view. It is advisory: the durable store is
// authoritative and a lost or stale cache entry is rebuilt on the next read.
// Implementations must be safe for concurrent use.
type Cache interface {
	SetJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, jobID string) (models.Job, bool, error)
	DeleteJob(ctx context.Context, jobID string) error
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// MemoryCache is the in-process default. Entries are stored serialized so
// readers never alias a job the executor is still mutating.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) SetJob(_ context.Context, job models.Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[jobKey(job.ID)] = encoded
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) GetJob(_ context.Context, jobID string) (models.Job, bool, error) {
	c.mu.RLock()
	encoded, ok := c.entries[jobKey(jobID)]
	c.mu.RUnlock()
	if !ok {
		return models.Job{}, false, nil
	}
	var job models.Job
	if err := json.Unmarshal(encoded, &job); err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

func (c *MemoryCache) DeleteJob(_ context.Context, jobID string) error {
	c.mu.Lock()
	delete(c.entries, jobKey(jobID))
	c.mu.Unlock()
	return nil
}

// Clear drops every entry. Reads fall back to the durable record afterwards.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string][]byte)
	c.mu.Unlock()
}

// RedisCache shares the job view across API replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetJob(ctx context.Context, job models.Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, jobKey(job.ID), encoded, c.ttl).Err()
}

func (c *RedisCache) GetJob(ctx context.Context, jobID string) (models.Job, bool, error) {
	encoded, err := c.client.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	var job models.Job
	if err := json.Unmarshal(encoded, &job); err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

func (c *RedisCache) DeleteJob(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, jobKey(jobID)).Err()
}
