package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/JonMunkholm/auditimport/internal/config"
	"github.com/JonMunkholm/auditimport/internal/core"
)

const rateLimitPrefix = "auditimport:ratelimit"

// RateStore is the counter backend shared by every rate limit of a server.
type RateStore struct {
	limiter.Store
	close func() error
}

// Close releases the backend connection, if any.
func (s *RateStore) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// NewRateStore builds the limiter store named by cfg.Storage. A Redis store
// that cannot be created falls back to memory so a Redis outage does not
// take the API down.
func NewRateStore(cfg config.RateLimitConfig) (*RateStore, error) {
	if strings.ToLower(cfg.Storage) != "redis" {
		return newMemoryRateStore(), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	store, err := NewRedisRateStore(client)
	if err != nil {
		_ = client.Close()
		slog.Warn("failed to create Redis store for rate limiting, falling back to memory", "error", err)
		return newMemoryRateStore(), nil
	}
	return store, nil
}

// NewRedisRateStore keeps counters in Redis, so limits hold across
// replicas.
func NewRedisRateStore(client *redis.Client) (*RateStore, error) {
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: rateLimitPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate store: %w", err)
	}
	return &RateStore{Store: store, close: client.Close}, nil
}

func newMemoryRateStore() *RateStore {
	return &RateStore{Store: memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          rateLimitPrefix,
		CleanUpInterval: time.Minute,
	})}
}

// rateLimit limits requests per client IP to perMinute. name separates the
// counters of different limits sharing one store.
func rateLimit(store limiter.Store, name string, perMinute int64) func(http.Handler) http.Handler {
	rate := limiter.Rate{Period: time.Minute, Limit: perMinute}
	instance := limiter.New(store, rate)

	mw := stdlib.NewMiddleware(instance,
		stdlib.WithKeyGetter(func(r *http.Request) string {
			return name + ":" + clientIP(r)
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			respondErrorJSON(w, core.MapError(errRateLimited), http.StatusTooManyRequests)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("rate limiter store error", "error", err, "limit", name)
			respondErrorJSON(w, core.MapError(err), http.StatusServiceUnavailable)
		}),
	)
	return mw.Handler
}

// errRateLimited carries the text core.MapError recognises as RATE001.
var errRateLimited = errors.New("rate limit exceeded")
