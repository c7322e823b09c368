package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const defaultConnectTimeout = 20 * time.Second

// only the holder that wrote the value may delete the key
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	redis redis.UniversalClient
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(redis redis.UniversalClient) *RedisStore {
	return &RedisStore{
		redis: redis,
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}

	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return r.redis.Set(ctx, key, value, expiration).Err()
}

func (r *RedisStore) SetNX(ctx context.Context, key string, value string, expiration time.Duration) (bool, error) {
	return r.redis.SetNX(ctx, key, value, expiration).Result()
}

func (r *RedisStore) CompareAndDelete(ctx context.Context, key string, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, r.redis, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.redis.Del(ctx, key).Err()
}

func (r *RedisStore) ZAdd(ctx context.Context, set string, score int64, member string) error {
	return r.redis.ZAdd(ctx, set, redis.Z{
		Score:  float64(score),
		Member: member,
	}).Err()
}

func (r *RedisStore) ZRangeByScore(ctx context.Context, set string, min, max int64) ([]Z, error) {
	zs, err := r.redis.ZRangeByScoreWithScores(ctx, set, &redis.ZRangeBy{
		Min: strconv.FormatInt(min, 10),
		Max: strconv.FormatInt(max, 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	rsp := make([]Z, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		rsp = append(rsp, Z{Score: int64(z.Score), Member: member})
	}
	return rsp, nil
}

func (r *RedisStore) ZRem(ctx context.Context, set string, member string) error {
	return r.redis.ZRem(ctx, set, member).Err()
}

// Connect parses a redis url ("redis://<user>:<pass>@localhost:6379/<db>") and waits until the server answers,
// retrying with exponential backoff for at most timeout.
func Connect(ctx context.Context, url string, timeout time.Duration) (redis.UniversalClient, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	client := redis.NewClient(opt)

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = timeout / 4
	eb.MaxElapsedTime = timeout

	err = backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(eb, ctx))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opt.Addr, err)
	}

	return client, nil
}
