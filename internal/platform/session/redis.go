package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "mediscan:session:"

// RedisStore keeps sessions in Redis so that several server replicas can
// serve the same intake session. Writers are serialized with redislock.
type RedisStore struct {
	client  redis.UniversalClient
	locker  *redislock.Client
	ttl     time.Duration
	lockTTL time.Duration
	retry   redislock.RetryStrategy
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 6
	return redis.NewClient(opts), nil
}

func NewRedisStore(client redis.UniversalClient, ttl, lockTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		locker:  redislock.New(client),
		ttl:     ttl,
		lockTTL: lockTTL,
		retry:   redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	}
}

func (s *RedisStore) key(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return b, nil
}

func (s *RedisStore) Put(ctx context.Context, id string, data []byte) error {
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("put session %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Lock(ctx context.Context, id string) (Unlock, error) {
	lock, err := s.locker.Obtain(ctx, "lock:"+s.key(id), s.lockTTL, &redislock.Options{RetryStrategy: s.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockTaken
	}
	if err != nil {
		return nil, fmt.Errorf("lock session %s: %w", id, err)
	}
	return func() error {
		// The request context may already be done when the handler returns.
		err := lock.Release(context.Background())
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}

// Ping reports whether the backing Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
