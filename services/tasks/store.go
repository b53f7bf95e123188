package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"task-execution-service/pkg/config"
	"task-execution-service/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=tasks

// StatusStore persists task records. Implementations must make Update an
// atomic read-modify-write of a single record.
type StatusStore interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, taskID string) (*Record, error)
	Update(ctx context.Context, taskID string, fn func(*Record) error) error
	Delete(ctx context.Context, taskID string) error
}

const maxUpdateRetries = 10

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, cfg *config.Config) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: cfg.Redis.TaskTTL,
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Create stores a new record, failing with ErrTaskExists when the id is taken.
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", record.TaskID, err)
	}

	ok, err := s.rdb.SetNX(ctx, rediskey.BuildTaskKey(record.TaskID), b, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskExists, record.TaskID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*Record, error) {
	b, err := s.rdb.Get(ctx, rediskey.BuildTaskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(taskID, b)
}

// Update runs fn against the current record inside WATCH/MULTI and writes the
// result back keeping the key's TTL. fn errors abort the write and are returned.
func (s *RedisStore) Update(ctx context.Context, taskID string, fn func(*Record) error) error {
	key := rediskey.BuildTaskKey(taskID)

	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		record, err := decodeRecord(taskID, b)
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}

		updated, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", taskID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update task %s: %w", taskID, redis.TxFailedErr)
}

func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	return s.rdb.Del(ctx, rediskey.BuildTaskKey(taskID)).Err()
}

func decodeRecord(taskID string, b []byte) (*Record, error) {
	var record Record
	if err := json.Unmarshal(b, &record); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &record, nil
}
