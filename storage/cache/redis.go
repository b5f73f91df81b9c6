package cachestore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/fatracker/core"
)

const redisKeyPrefix = "fatracker:"

// Redis is a core.Cache backed by a Redis server; expiry is left to Redis.
// Use it when several API instances must share challenges & trusted origins.
type Redis struct {
	client *redis.Client
}

var _ core.Cache = (*Redis)(nil)

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// OpenRedis connects to the server described by conf and pings it.
func OpenRedis(ctx context.Context, conf core.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "pinging redis at %s", conf.Addr)
	}
	return client, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Wrap(r.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(), "redis SET")
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrCacheMiss
		}
		return nil, errors.Wrap(err, "redis GET")
	}
	return value, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return errors.Wrap(r.client.Del(ctx, redisKeyPrefix+key).Err(), "redis DEL")
}

func (r *Redis) Close() error {
	return r.client.Close()
}
