package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	denyKeyPrefix    = "deny:"
	apiKeyHashPrefix = "apikey:hash:"
	apiKeyIDPrefix   = "apikey:id:"
)

// RedisDenyList is the shared deny-list: revocations become visible to every
// service instance, and Redis expiry enforces the TTL bound.
type RedisDenyList struct {
	client *redis.Client
}

func NewRedisDenyList(client *redis.Client) *RedisDenyList {
	return &RedisDenyList{client: client}
}

func (d *RedisDenyList) Revoke(ctx context.Context, id string, ttl time.Duration) error {
	if id == "" || ttl <= 0 {
		return nil
	}
	// KEEPTTL-like semantics by hand: never shorten an existing entry.
	cur, err := d.client.TTL(ctx, denyKeyPrefix+id).Result()
	if err == nil && cur > ttl {
		return nil
	}
	return d.client.Set(ctx, denyKeyPrefix+id, "1", ttl).Err()
}

func (d *RedisDenyList) IsRevoked(ctx context.Context, id string) (bool, error) {
	n, err := d.client.Exists(ctx, denyKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("deny-list exists: %w", err)
	}
	return n > 0, nil
}

// RedisAPIKeyStore keeps machine credentials in Redis with the key's own
// lifetime as TTL, addressable both by secret hash and by id.
type RedisAPIKeyStore struct {
	client *redis.Client
}

func NewRedisAPIKeyStore(client *redis.Client) *RedisAPIKeyStore {
	return &RedisAPIKeyStore{client: client}
}

type storedAPIKey struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Role      string    `json:"role"`
	KeyHash   string    `json:"key_hash"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *RedisAPIKeyStore) Create(ctx context.Context, key *APIKey) error {
	ttl := time.Until(key.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: api key already expired", ErrInvalidInput)
	}
	data, err := json.Marshal(storedAPIKey{
		ID:        key.ID,
		Owner:     key.Owner,
		Role:      string(key.Role),
		KeyHash:   key.KeyHash,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	})
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, apiKeyHashPrefix+key.KeyHash, data, ttl)
	pipe.Set(ctx, apiKeyIDPrefix+key.ID, key.KeyHash, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisAPIKeyStore) FindByHash(ctx context.Context, hash string) (*APIKey, error) {
	data, err := s.client.Get(ctx, apiKeyHashPrefix+hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var stored storedAPIKey
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	role, ok := ParseRole(stored.Role)
	if !ok {
		return nil, ErrNotFound
	}
	return &APIKey{
		ID:        stored.ID,
		Owner:     stored.Owner,
		Role:      role,
		KeyHash:   stored.KeyHash,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

func (s *RedisAPIKeyStore) Delete(ctx context.Context, id string) error {
	hash, err := s.client.Get(ctx, apiKeyIDPrefix+id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, apiKeyHashPrefix+hash)
	pipe.Del(ctx, apiKeyIDPrefix+id)
	_, err = pipe.Exec(ctx)
	return err
}
