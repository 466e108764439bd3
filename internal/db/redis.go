package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps snapshots as JSON strings and read state as hashes
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server at redisURL
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "inbox:"}
}

func (s *RedisStore) snapshotKey(instanceID string) string {
	return s.prefix + "snapshot:" + instanceID
}

func (s *RedisStore) unreadKey(instanceID string) string {
	return s.prefix + "unread:" + instanceID
}

// LoadSnapshot gets the stored snapshot of an instance
func (s *RedisStore) LoadSnapshot(ctx context.Context, instanceID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(instanceID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// SaveSnapshot stores the snapshot of an instance
func (s *RedisStore) SaveSnapshot(ctx context.Context, instanceID string, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.snapshotKey(instanceID), data, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadUnread gets the unread flags of an instance
func (s *RedisStore) LoadUnread(ctx context.Context, instanceID string) (map[string]bool, error) {
	fields, err := s.client.HGetAll(ctx, s.unreadKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load unread state: %w", err)
	}

	unread := make(map[string]bool, len(fields))
	for itemID, value := range fields {
		flag, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("parse unread flag for %s: %w", itemID, err)
		}
		unread[itemID] = flag
	}
	return unread, nil
}

// SaveUnread replaces the unread hash of an instance atomically
func (s *RedisStore) SaveUnread(ctx context.Context, instanceID string, unread map[string]bool) error {
	key := s.unreadKey(instanceID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(unread) == 0 {
			return nil
		}
		values := make(map[string]interface{}, len(unread))
		for itemID, flag := range unread {
			values[itemID] = strconv.FormatBool(flag)
		}
		pipe.HSet(ctx, key, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save unread state: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
