package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"moff.io/moff-wallet/internal/config"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

const defaultPrefix = "moff-wallet:"

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client. Keys are namespaced with prefix, a
// default prefix is used when empty.
func NewRedis(client *redis.Client, prefix string) Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &redisStore{client: client, prefix: prefix}
}

// DialRedis connects to the configured redis and checks it answers.
func DialRedis(ctx context.Context, cred *config.DBCredential) (*redis.Client, error) {
	db, _ := strconv.ParseInt(cred.Database, 10, 64)
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%v:%v", cred.Address, cred.Port),
		Password: cred.Password,
		DB:       int(db),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WrapAndReport(err, "ping to redis")
	}
	log.Infof("redis connected at %v", cred.GetRedisAddress())
	return client, nil
}

func (r *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapAndReport(err, "get redis key")
	}
	return v, nil
}

func (r *redisStore) Set(ctx context.Context, key, value string) error {
	return errors.WrapAndReport(r.client.Set(ctx, r.prefix+key, value, 0).Err(), "set redis key")
}

func (r *redisStore) Delete(ctx context.Context, key string) error {
	return errors.WrapAndReport(r.client.Del(ctx, r.prefix+key).Err(), "delete redis key")
}
