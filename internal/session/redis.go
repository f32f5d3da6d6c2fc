package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noxd/nox/internal/errors"
)

const redisKeyPrefix = "nox:session:"

// RedisStore persists sessions in Redis, letting the server enforce
// expiry through key TTLs.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (r *RedisStore) Get(id string) (*Session, error) {
	ctx := context.Background()
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.KindDatabase, "failed to load session from redis")
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.KindSerialization, "corrupt session data")
	}
	return &s, nil
}

func (r *RedisStore) Save(s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, errors.KindSerialization, "failed to encode session")
	}

	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := r.client.Set(context.Background(), redisKey(s.ID), data, ttl).Err(); err != nil {
		return errors.Wrap(err, errors.KindDatabase, "failed to save session to redis")
	}
	return nil
}

func (r *RedisStore) Delete(id string) error {
	if err := r.client.Del(context.Background(), redisKey(id)).Err(); err != nil {
		return errors.Wrap(err, errors.KindDatabase, "failed to delete session from redis")
	}
	return nil
}

// CleanupExpired is a no-op for Redis; key TTLs handle expiry.
func (r *RedisStore) CleanupExpired() (int, error) {
	return 0, nil
}

func (r *RedisStore) List() ([]*Session, error) {
	ctx := context.Background()
	var out []*Session

	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue // key may have expired between scan and get
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		out = append(out, &s)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindDatabase, "failed to scan sessions in redis")
	}
	return out, nil
}

func (r *RedisStore) Count() (int, error) {
	sessions, err := r.List()
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
