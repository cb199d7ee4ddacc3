package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nubank/calma-backend/internal"
)

const (
	archivePrefix = "archive:"
	archiveTTL    = 30 * 24 * time.Hour
)

// RedisArchive keeps one JSON-encoded list per session ID. Every save pushes
// an entry and refreshes the key TTL.
type RedisArchive struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisArchive(rdb *redis.Client) *RedisArchive {
	return &RedisArchive{rdb: rdb, ttl: archiveTTL}
}

func NewRedisArchiveFromURL(ctx context.Context, url string) (*RedisArchive, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisArchive(rdb), nil
}

func archiveKey(sessionID string) string {
	return archivePrefix + sessionID
}

func (a *RedisArchive) Save(ctx context.Context, sessionID string, entry internal.ArchivedSession) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal archive: %w", err)
	}
	key := archiveKey(sessionID)
	pipe := a.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	if a.ttl > 0 {
		pipe.Expire(ctx, key, a.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save archive: %w", err)
	}
	return nil
}

func (a *RedisArchive) List(ctx context.Context, sessionID string) ([]internal.ArchivedSession, error) {
	raw, err := a.rdb.LRange(ctx, archiveKey(sessionID), 0, -1).Result()
	if err == redis.Nil {
		return []internal.ArchivedSession{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load archives: %w", err)
	}
	out := make([]internal.ArchivedSession, 0, len(raw))
	for _, item := range raw {
		var entry internal.ArchivedSession
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal archive: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (a *RedisArchive) Close() error { return a.rdb.Close() }
