package auth

import (
	"context"
	"sync"
	"time"

	"fraudnet.ai/internal/ids"
)

var (
	_ UserStore         = (*MemoryUserStore)(nil)
	_ RefreshTokenStore = (*MemoryRefreshTokenStore)(nil)
)

// MemoryUserStore is the development-mode UserStore. Accounts vanish on
// restart.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

func (s *MemoryUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrAlreadyExists
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
		u.UpdatedAt = u.CreatedAt
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryUserStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUserStore) FindActiveByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email && u.Active {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) List(_ context.Context) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryUserStore) UpdateRole(_ context.Context, userID string, role Role) error {
	return s.update(userID, func(u *User) { u.Role = role })
}

func (s *MemoryUserStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	return s.update(userID, func(u *User) { u.PasswordHash = passwordHash })
}

func (s *MemoryUserStore) Deactivate(_ context.Context, userID string) error {
	return s.update(userID, func(u *User) { u.Active = false })
}

func (s *MemoryUserStore) RecordLogin(_ context.Context, userID string, at time.Time) error {
	return s.update(userID, func(u *User) {
		t := at
		u.LastLoginAt = &t
		u.LoginCount++
	})
}

func (s *MemoryUserStore) update(userID string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryRefreshTokenStore is the development-mode RefreshTokenStore.
type MemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{tokens: make(map[string]*RefreshToken)}
}

func (s *MemoryRefreshTokenStore) Create(_ context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[tok.ID] = &cp
	return nil
}

func (s *MemoryRefreshTokenStore) Find(_ context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *MemoryRefreshTokenStore) Consume(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok || tok.ConsumedAt != nil || tok.Revoked {
		return ErrAlreadyConsumed
	}
	t := at
	tok.ConsumedAt = &t
	return nil
}

func (s *MemoryRefreshTokenStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[id]; ok {
		tok.Revoked = true
	}
	return nil
}

func (s *MemoryRefreshTokenStore) RevokeFamily(_ context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.FamilyID == familyID {
			tok.Revoked = true
		}
	}
	return nil
}
