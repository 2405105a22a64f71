package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"fraudnet.ai/internal/ids"
)

// API keys are the parallel, simpler credential type for machine clients.
// They carry a role like a token does and feed the same authorization guard;
// there is no refresh lifecycle, only issuance and revocation.

const apiKeyPrefix = "fnk_"

// IssueAPIKey mints a machine credential. The returned plaintext is shown
// exactly once; only its hash is stored.
func (s *Service) IssueAPIKey(ctx context.Context, owner string, role Role, ttl time.Duration) (string, *APIKey, error) {
	if s.apiKeys == nil {
		return "", nil, fmt.Errorf("%w: api keys are not enabled", ErrInvalidInput)
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return "", nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if ttl <= 0 || ttl > maxRefreshTTL {
		ttl = maxRefreshTTL
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))

	now := s.now().UTC()
	key := &APIKey{
		ID:        ids.New(),
		Owner:     owner,
		Role:      role,
		KeyHash:   hex.EncodeToString(sum[:]),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.apiKeys.Create(ctx, key); err != nil {
		return "", nil, err
	}
	return apiKeyPrefix + secret, key, nil
}

// ResolveAPIKey validates a presented key and resolves the caller it stands
// for.
func (s *Service) ResolveAPIKey(ctx context.Context, presented string) (CallerContext, error) {
	if s.apiKeys == nil {
		return CallerContext{}, ErrTokenInvalid
	}
	secret, ok := strings.CutPrefix(strings.TrimSpace(presented), apiKeyPrefix)
	if !ok || secret == "" {
		return CallerContext{}, ErrTokenInvalid
	}
	sum := sha256.Sum256([]byte(secret))
	key, err := s.apiKeys.FindByHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		return CallerContext{}, ErrTokenInvalid
	}
	if s.now().After(key.ExpiresAt) {
		return CallerContext{}, ErrTokenExpired
	}
	revoked, err := s.deny.IsRevoked(ctx, key.ID)
	if err != nil {
		return CallerContext{}, fmt.Errorf("deny-list lookup: %w", err)
	}
	if revoked {
		return CallerContext{}, ErrTokenRevoked
	}
	return CallerContext{
		UserID:    key.ID,
		Identity:  key.Owner,
		Role:      key.Role,
		TokenID:   key.ID,
		Method:    "apikey",
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// RevokeAPIKey deletes the key record and deny-lists its id for the key's
// remaining lifetime, so cached copies die too.
func (s *Service) RevokeAPIKey(ctx context.Context, id string) error {
	if s.apiKeys == nil {
		return ErrNotFound
	}
	if err := s.apiKeys.Delete(ctx, id); err != nil {
		return err
	}
	return s.deny.Revoke(ctx, id, maxRefreshTTL)
}
