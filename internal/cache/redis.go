package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"navigator/internal/search"
)

const seqField = "#seq"

// Redis keeps result pages in a hash per session so several navigator
// instances behind a load balancer share one cache. Page recency lives in a
// sorted set next to the hash. Redis errors are logged and behave as misses.
type Redis struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	maxPages int
	logger   *zap.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string, ttl time.Duration, maxPages int, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, ttl, maxPages, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, maxPages int, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Redis{
		client:   client,
		prefix:   "navigator:search:",
		ttl:      ttl,
		maxPages: maxPages,
		logger:   logger,
	}
}

// ForSession returns the cache view for sid.
func (r *Redis) ForSession(sid string) search.Cache {
	return &redisPages{store: r, dataKey: r.prefix + sid, orderKey: r.prefix + sid + ":order"}
}

// Drop deletes everything cached for sid.
func (r *Redis) Drop(ctx context.Context, sid string) error {
	return r.client.Del(ctx, r.prefix+sid, r.prefix+sid+":order").Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisPages struct {
	store    *Redis
	dataKey  string
	orderKey string
}

func (p *redisPages) Get(ctx context.Context, key string) (search.Result, bool) {
	raw, err := p.store.client.HGet(ctx, p.dataKey, key).Bytes()
	if err == redis.Nil {
		return search.Result{}, false
	}
	if err != nil {
		p.store.logger.Warn("result cache get", zap.String("key", p.dataKey), zap.Error(err))
		return search.Result{}, false
	}

	var result search.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		p.store.logger.Warn("result cache decode", zap.String("key", p.dataKey), zap.Error(err))
		return search.Result{}, false
	}
	p.touch(ctx, key)
	return result, true
}

func (p *redisPages) Put(ctx context.Context, key string, result search.Result) {
	payload, err := json.Marshal(result)
	if err != nil {
		p.store.logger.Warn("result cache encode", zap.Error(err))
		return
	}

	_, err = p.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.dataKey, key, payload)
		pipe.Expire(ctx, p.dataKey, p.store.ttl)
		return nil
	})
	if err != nil {
		p.store.logger.Warn("result cache put", zap.String("key", p.dataKey), zap.Error(err))
		return
	}
	p.touch(ctx, key)
	p.trim(ctx)
}

func (p *redisPages) Reset(ctx context.Context) {
	if err := p.store.client.Del(ctx, p.dataKey, p.orderKey).Err(); err != nil {
		p.store.logger.Warn("result cache reset", zap.String("key", p.dataKey), zap.Error(err))
	}
}

// touch marks key as most recently used.
func (p *redisPages) touch(ctx context.Context, key string) {
	seq, err := p.store.client.HIncrBy(ctx, p.dataKey, seqField, 1).Result()
	if err != nil {
		p.store.logger.Warn("result cache touch", zap.String("key", p.dataKey), zap.Error(err))
		return
	}
	_, err = p.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, p.orderKey, redis.Z{Score: float64(seq), Member: key})
		pipe.Expire(ctx, p.orderKey, p.store.ttl)
		return nil
	})
	if err != nil {
		p.store.logger.Warn("result cache touch", zap.String("key", p.orderKey), zap.Error(err))
	}
}

// trim drops the least recently used pages beyond the cap.
func (p *redisPages) trim(ctx context.Context) {
	n, err := p.store.client.ZCard(ctx, p.orderKey).Result()
	if err != nil || n <= int64(p.store.maxPages) {
		return
	}
	victims, err := p.store.client.ZRange(ctx, p.orderKey, 0, n-int64(p.store.maxPages)-1).Result()
	if err != nil || len(victims) == 0 {
		return
	}
	members := make([]any, len(victims))
	for i, v := range victims {
		members[i] = v
	}
	_, err = p.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, p.dataKey, victims...)
		pipe.ZRem(ctx, p.orderKey, members...)
		return nil
	})
	if err != nil {
		p.store.logger.Warn("result cache trim", zap.String("key", p.dataKey), zap.Error(err))
	}
}
