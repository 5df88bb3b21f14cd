package kv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type Redis struct {
	Client *redis.Client
	Prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{Client: client, Prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.Prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.Client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.Client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.Client.Del(ctx, r.key(key)).Err()
}
