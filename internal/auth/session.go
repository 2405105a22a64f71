package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fraudnet.ai/internal/ids"
)

const (
	defaultIssuer     = "fraudnet"
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour

	// Hard caps; configuration cannot extend lifetimes past these.
	maxAccessTTL  = time.Hour
	maxRefreshTTL = 30 * 24 * time.Hour
)

// dummyHash is compared against when the identity is unknown, so failed
// logins take the same approximate time whether or not the account exists.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Claims are the verified contents of an access token. The role claim is a
// snapshot taken at issuance; a later role change does not alter it.
type Claims struct {
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
	Family    string `json:"fam"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Service owns the credential/session lifecycle: issuance, verification,
// rotation and revocation of bearer credentials.
type Service struct {
	users   UserStore
	refresh RefreshTokenStore
	deny    DenyList
	apiKeys APIKeyStore

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSecret sets the HS256 signing secret. Required.
func WithSecret(secret []byte) ServiceOption {
	return func(s *Service) error {
		if len(secret) == 0 {
			return errors.New("auth: signing secret is empty")
		}
		s.secret = secret
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime, capped at one hour.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 || ttl > maxAccessTTL {
			return fmt.Errorf("auth: access ttl must be in (0, %s]", maxAccessTTL)
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime, capped at thirty days.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 || ttl > maxRefreshTTL {
			return fmt.Errorf("auth: refresh ttl must be in (0, %s]", maxRefreshTTL)
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithAPIKeys enables the machine-credential store.
func WithAPIKeys(store APIKeyStore) ServiceOption {
	return func(s *Service) error {
		s.apiKeys = store
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the session manager.
func NewService(users UserStore, refresh RefreshTokenStore, deny DenyList, opts ...ServiceOption) (*Service, error) {
	if users == nil || refresh == nil || deny == nil {
		return nil, errors.New("auth: user store, refresh store and deny list are required")
	}
	s := &Service{
		users:      users,
		refresh:    refresh,
		deny:       deny,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if len(s.secret) == 0 {
		return nil, errors.New("auth: signing secret is not configured")
	}
	return s, nil
}

// Login authenticates credentials and mints a fresh token family. All
// failure modes collapse into ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identity, password string) (TokenPair, *User, error) {
	identity = strings.TrimSpace(strings.ToLower(identity))
	if identity == "" || password == "" {
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	user, err := s.users.FindActiveByEmail(ctx, identity)
	if err != nil {
		// Burn a bcrypt compare anyway to level response latency.
		_ = VerifyPassword(dummyHash, password)
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	family := uuid.NewString()
	pair, err := s.mint(ctx, user, family)
	if err != nil {
		return TokenPair{}, nil, err
	}
	_ = s.users.RecordLogin(ctx, user.ID, s.now().UTC())
	return pair, user, nil
}

// Verify checks signature, expiry and deny-list membership and resolves the
// caller. CPU-only except for the deny-list lookup.
func (s *Service) Verify(ctx context.Context, accessToken string) (CallerContext, error) {
	claims, err := s.parseAccessToken(accessToken)
	if err != nil {
		return CallerContext{}, err
	}
	for _, id := range []string{claims.ID, claims.Family} {
		revoked, err := s.deny.IsRevoked(ctx, id)
		if err != nil {
			return CallerContext{}, fmt.Errorf("deny-list lookup: %w", err)
		}
		if revoked {
			return CallerContext{}, ErrTokenRevoked
		}
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return CallerContext{}, ErrTokenInvalid
	}
	return CallerContext{
		UserID:    claims.Subject,
		Identity:  claims.Email,
		Role:      role,
		TokenID:   claims.ID,
		FamilyID:  claims.Family,
		Method:    "token",
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates a refresh token: the old token is consumed atomically and
// a new pair is minted in the same family. Presenting a consumed token is a
// compromise signal and revokes the entire family.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *User, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, ErrTokenInvalid
	}
	rec, err := s.refresh.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrTokenInvalid
		}
		return TokenPair{}, nil, err
	}
	if rec.Revoked {
		return TokenPair{}, nil, ErrTokenRevoked
	}
	if rec.ConsumedAt != nil {
		if err := s.revokeFamily(ctx, rec); err != nil {
			return TokenPair{}, nil, err
		}
		return TokenPair{}, nil, ErrReplayDetected
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		_ = s.refresh.Revoke(ctx, rec.ID)
		return TokenPair{}, nil, ErrTokenInvalid
	}
	now := s.now()
	if now.After(rec.ExpiresAt) {
		return TokenPair{}, nil, ErrRefreshExpired
	}
	if err := s.refresh.Consume(ctx, rec.ID, now.UTC()); err != nil {
		if errors.Is(err, ErrAlreadyConsumed) {
			if rerr := s.revokeFamily(ctx, rec); rerr != nil {
				return TokenPair{}, nil, rerr
			}
			return TokenPair{}, nil, ErrReplayDetected
		}
		return TokenPair{}, nil, err
	}
	user, err := s.users.Find(ctx, rec.UserID)
	if err != nil {
		return TokenPair{}, nil, ErrTokenInvalid
	}
	if !user.Active {
		return TokenPair{}, nil, ErrTokenRevoked
	}
	pair, err := s.mintInFamily(ctx, user, rec.FamilyID, rec.ExpiresAt)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// RevokeToken adds a single token id to the deny-list for its remaining
// lifetime.
func (s *Service) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.deny.Revoke(ctx, tokenID, ttl)
}

// RevokeFamily revokes every credential descended from one login. The
// deny-list entry outlives the longest-lived access token the family could
// still have issued.
func (s *Service) RevokeFamily(ctx context.Context, familyID string) error {
	if familyID == "" {
		return fmt.Errorf("%w: family id is required", ErrInvalidInput)
	}
	if err := s.refresh.RevokeFamily(ctx, familyID); err != nil {
		return err
	}
	return s.deny.Revoke(ctx, familyID, s.refreshTTL+s.accessTTL)
}

// Logout revokes the presented access token and its family.
func (s *Service) Logout(ctx context.Context, caller CallerContext) error {
	if err := s.RevokeToken(ctx, caller.TokenID, caller.ExpiresAt); err != nil {
		return err
	}
	return s.RevokeFamily(ctx, caller.FamilyID)
}

func (s *Service) revokeFamily(ctx context.Context, rec *RefreshToken) error {
	if err := s.refresh.RevokeFamily(ctx, rec.FamilyID); err != nil {
		return err
	}
	ttl := rec.ExpiresAt.Sub(s.now()) + s.accessTTL
	if ttl < s.accessTTL {
		ttl = s.accessTTL
	}
	return s.deny.Revoke(ctx, rec.FamilyID, ttl)
}

func (s *Service) mint(ctx context.Context, user *User, familyID string) (TokenPair, error) {
	return s.mintInFamily(ctx, user, familyID, s.now().Add(s.refreshTTL))
}

// mintInFamily issues an access+refresh pair. The refresh expiry never
// extends past the family's original horizon.
func (s *Service) mintInFamily(ctx context.Context, user *User, familyID string, refreshHorizon time.Time) (TokenPair, error) {
	now := s.now().UTC()

	accessExp := now.Add(s.accessTTL)
	claims := Claims{
		Role:      string(user.Role),
		Email:     user.Email,
		Family:    familyID,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshExp := now.Add(s.refreshTTL)
	if refreshExp.After(refreshHorizon) {
		refreshExp = refreshHorizon
	}
	refreshString, rec, err := newRefreshToken(user.ID, familyID, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.refresh.Create(ctx, rec); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Service) parseAccessToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != "access" || strings.TrimSpace(claims.Subject) == "" || claims.Family == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func newRefreshToken(userID, familyID string, now, expiresAt time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	return tokenID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
