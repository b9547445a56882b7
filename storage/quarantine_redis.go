package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"warden/core"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisKeyQuarantinePrefix = "warden:quarantine:"
	redisKeyActiveSet        = "warden:quarantine:active"
	redisKeySandboxPrefix    = "warden:quarantine:sandbox:"
)

// RedisQuarantineStore keeps quarantine records in Redis so multiple
// broker instances can see the same sandbox isolation state. Records
// are JSON values keyed by ID, with set indexes for active records
// and per-sandbox lookups.
type RedisQuarantineStore struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisQuarantineStore connects to Redis and verifies the
// connection before returning.
func NewRedisQuarantineStore(ctx context.Context, addr, password string, db int, logger *zap.SugaredLogger) (*RedisQuarantineStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisQuarantineStore{client: client, logger: logger}, nil
}

// NewRedisQuarantineStoreFromClient wraps an existing client. Used by
// tests running against miniredis.
func NewRedisQuarantineStoreFromClient(client *redis.Client, logger *zap.SugaredLogger) *RedisQuarantineStore {
	return &RedisQuarantineStore{client: client, logger: logger}
}

func recordKey(id string) string {
	return redisKeyQuarantinePrefix + id
}

func sandboxKey(sandboxID string) string {
	return redisKeySandboxPrefix + sandboxID
}

func (s *RedisQuarantineStore) Insert(ctx context.Context, record *core.QuarantineRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode quarantine record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(record.ID), data, 0)
	pipe.SAdd(ctx, sandboxKey(record.SandboxID), record.ID)
	if record.Active() {
		pipe.SAdd(ctx, redisKeyActiveSet, record.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert quarantine record: %w", err)
	}
	return nil
}

func (s *RedisQuarantineStore) Get(ctx context.Context, id string) (*core.QuarantineRecord, error) {
	data, err := s.client.Get(ctx, recordKey(id)).Result()
	if err == redis.Nil {
		return nil, core.ErrQuarantineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quarantine record: %w", err)
	}
	var record core.QuarantineRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to decode quarantine record: %w", err)
	}
	return &record, nil
}

func (s *RedisQuarantineStore) Release(ctx context.Context, id string, endTime time.Time) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.EndTime != nil {
		return core.ErrAlreadyReleased
	}
	record.EndTime = &endTime

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode quarantine record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(id), data, 0)
	pipe.SRem(ctx, redisKeyActiveSet, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to release quarantine record: %w", err)
	}
	return nil
}

func (s *RedisQuarantineStore) ActiveForSandbox(ctx context.Context, sandboxID string) (bool, error) {
	records, err := s.ListBySandbox(ctx, sandboxID)
	if err != nil {
		return false, err
	}
	for _, record := range records {
		if record.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (s *RedisQuarantineStore) ListActive(ctx context.Context) ([]core.QuarantineRecord, error) {
	ids, err := s.client.SMembers(ctx, redisKeyActiveSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active quarantines: %w", err)
	}
	return s.fetchAll(ctx, ids)
}

func (s *RedisQuarantineStore) ListBySandbox(ctx context.Context, sandboxID string) ([]core.QuarantineRecord, error) {
	ids, err := s.client.SMembers(ctx, sandboxKey(sandboxID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox quarantines: %w", err)
	}
	return s.fetchAll(ctx, ids)
}

func (s *RedisQuarantineStore) fetchAll(ctx context.Context, ids []string) ([]core.QuarantineRecord, error) {
	var records []core.QuarantineRecord
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err == core.ErrQuarantineNotFound {
			// Index entry outlived the record; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})
	return records, nil
}

func (s *RedisQuarantineStore) Close() error {
	return s.client.Close()
}
