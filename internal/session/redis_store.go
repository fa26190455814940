// Package session caches resolved KBase identities so a username is not
// fetched from the auth service on every request.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("identity not found or expired")

// Identity is what we remember about a KBase token.
type Identity struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the identity cache used by the auth client.
type Store interface {
	SaveIdentity(ctx context.Context, tokenHash, username string, ttl time.Duration) error
	LookupIdentity(ctx context.Context, tokenHash string) (Identity, error)
	RevokeIdentity(ctx context.Context, tokenHash string) error
}

// RedisStore implements Store using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed identity store
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "navigator:identity:",
	}
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + tokenHash
}

// SaveIdentity remembers the username for a token hash for ttl.
func (s *RedisStore) SaveIdentity(ctx context.Context, tokenHash, username string, ttl time.Duration) error {
	data, err := json.Marshal(Identity{Username: username, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := s.client.Set(ctx, s.key(tokenHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// LookupIdentity returns the cached identity or ErrNotFound.
func (s *RedisStore) LookupIdentity(ctx context.Context, tokenHash string) (Identity, error) {
	raw, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err == redis.Nil {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("lookup identity: %w", err)
	}

	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return Identity{}, fmt.Errorf("unmarshal identity: %w", err)
	}
	if id.Username == "" {
		return Identity{}, ErrNotFound
	}
	return id, nil
}

// RevokeIdentity forgets a token, used on sign-out.
func (s *RedisStore) RevokeIdentity(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("revoke identity: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
