package auth

import (
	"context"
	"database/sql"
	"time"

	"fraudnet.ai/internal/ids"
)

var (
	_ UserStore         = (*PGUserStore)(nil)
	_ RefreshTokenStore = (*PGRefreshTokenStore)(nil)
)

// PGUserStore implements UserStore on PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userColumns = `id, name, email, password_hash, role, active, created_at, updated_at, last_login_at, login_count`

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, name, email, password_hash, role, active) values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.Active,
	)
	return err
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGUserStore) FindActiveByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1 and active`, email)
	return scanUser(row)
}

func (s *PGUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PGUserStore) UpdateRole(ctx context.Context, userID string, role Role) error {
	return s.exec(ctx,
		`update users set role=$2, updated_at=now() where id=$1`, userID, string(role))
}

func (s *PGUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return s.exec(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, userID, passwordHash)
}

func (s *PGUserStore) Deactivate(ctx context.Context, userID string) error {
	return s.exec(ctx,
		`update users set active=false, updated_at=now() where id=$1`, userID)
}

func (s *PGUserStore) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	return s.exec(ctx,
		`update users set last_login_at=$2, login_count=login_count+1 where id=$1`, userID, at)
}

func (s *PGUserStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		role      string
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Active,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin, &u.LoginCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// PGRefreshTokenStore implements RefreshTokenStore on PostgreSQL.
type PGRefreshTokenStore struct {
	db *sql.DB
}

func NewPGRefreshTokenStore(db *sql.DB) *PGRefreshTokenStore {
	return &PGRefreshTokenStore{db: db}
}

func (s *PGRefreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, family_id, token_hash, expires_at) values($1,$2,$3,$4,$5)`,
		tok.ID, tok.UserID, tok.FamilyID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *PGRefreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, family_id, token_hash, expires_at, created_at, consumed_at, revoked
		 from refresh_tokens where id=$1`, id)
	var (
		tok      RefreshToken
		consumed sql.NullTime
	)
	err := row.Scan(&tok.ID, &tok.UserID, &tok.FamilyID, &tok.TokenHash,
		&tok.ExpiresAt, &tok.CreatedAt, &consumed, &tok.Revoked)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if consumed.Valid {
		t := consumed.Time
		tok.ConsumedAt = &t
	}
	return &tok, nil
}

// Consume is the single-use gate: the conditional update makes concurrent
// rotations of the same token resolve to exactly one winner.
func (s *PGRefreshTokenStore) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set consumed_at=$2 where id=$1 and consumed_at is null and not revoked`,
		id, at,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyConsumed
	}
	return nil
}

func (s *PGRefreshTokenStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	return err
}

func (s *PGRefreshTokenStore) RevokeFamily(ctx context.Context, familyID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where family_id=$1`, familyID)
	return err
}
