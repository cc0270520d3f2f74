package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const keyPrefix = "powerdash:view:"

// Redis shares cached views between instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl, log: zap.L().With(zap.String("component", "cache"))}
}

// DialRedis connects to addr and checks the server answers.
func DialRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrapf(err, "cache: ping redis %s", addr)
	}
	return NewRedis(client, ttl), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, bool) {
	b, err := r.client.Get(ctx, keyPrefix+key.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("redis get failed", zap.String("key", key.String()), zap.Error(err))
		}
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key Key, value []byte) {
	if err := r.client.Set(ctx, keyPrefix+key.String(), value, r.ttl).Err(); err != nil {
		r.log.Warn("redis set failed", zap.String("key", key.String()), zap.Error(err))
	}
}

func (r *Redis) Invalidate(ctx context.Context, view string) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+viewPrefix(view)+"*", 100).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := r.client.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := flush(); err != nil {
				return eris.Wrap(err, "cache: delete keys")
			}
		}
	}
	if err := iter.Err(); err != nil {
		return eris.Wrap(err, "cache: scan keys")
	}
	if err := flush(); err != nil {
		return eris.Wrap(err, "cache: delete keys")
	}
	return nil
}
