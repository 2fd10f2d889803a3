package downloader

import (
	"context"
	"errors"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
)

// Caches downloaded files in redis, shared between all processes
// serving the same feeds.
type Redis struct {
	prefix string
	cache  *cache.Cache[string]
}

// Keys are the URL prefixed by prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{
		prefix: prefix,
		cache:  cache.New[string](redisstore.NewRedis(client)),
	}
}

func (r *Redis) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	return cachedGet(ctx, r, url, headers, options)
}

func (r *Redis) load(ctx context.Context, url string) ([]byte, bool, error) {
	body, err := r.cache.Get(ctx, r.prefix+url)
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, store.NotFound{}) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(body), true, nil
}

func (r *Redis) store(ctx context.Context, url string, body []byte, ttl time.Duration) error {
	return r.cache.Set(ctx, r.prefix+url, string(body), store.WithExpiration(ttl))
}
