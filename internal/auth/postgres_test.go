package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGConsumeSingleUse(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPGRefreshTokenStore(db)
	at := time.Now().UTC()

	mock.ExpectExec(`update refresh_tokens set consumed_at`).
		WithArgs("rt-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Consume(context.Background(), "rt-1", at); err != nil {
		t.Fatalf("first consume: %v", err)
	}

	// A second rotation matches no rows; that is the replay signal.
	mock.ExpectExec(`update refresh_tokens set consumed_at`).
		WithArgs("rt-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Consume(context.Background(), "rt-1", at); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("second consume = %v, want ErrAlreadyConsumed", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGFindRefreshTokenNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPGRefreshTokenStore(db)

	mock.ExpectQuery(`select id, user_id, family_id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "family_id", "token_hash", "expires_at", "created_at", "consumed_at", "revoked",
		}))
	if _, err := store.Find(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGFindRefreshTokenScansConsumed(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPGRefreshTokenStore(db)

	created := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	consumed := created.Add(time.Hour)
	mock.ExpectQuery(`select id, user_id, family_id`).
		WithArgs("rt-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "family_id", "token_hash", "expires_at", "created_at", "consumed_at", "revoked",
		}).AddRow("rt-1", "u-1", "fam-1", "abc", created.Add(24*time.Hour), created, consumed, false))

	tok, err := store.Find(context.Background(), "rt-1")
	if err != nil {
		t.Fatal(err)
	}
	if tok.ConsumedAt == nil || !tok.ConsumedAt.Equal(consumed) {
		t.Fatalf("consumed_at = %v, want %v", tok.ConsumedAt, consumed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGRecordLogin(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPGUserStore(db)
	at := time.Now().UTC()

	mock.ExpectExec(`update users set last_login_at`).
		WithArgs("u-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.RecordLogin(context.Background(), "u-1", at); err != nil {
		t.Fatal(err)
	}

	mock.ExpectExec(`update users set last_login_at`).
		WithArgs("ghost", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.RecordLogin(context.Background(), "ghost", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPGFindActiveByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewPGUserStore(db)

	created := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`select id, name, email, password_hash`).
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "email", "password_hash", "role", "active",
			"created_at", "updated_at", "last_login_at", "login_count",
		}).AddRow("u-1", "Ana", "ana@example.com", "hash", "analyst", true, created, created, nil, 0))

	u, err := store.FindActiveByEmail(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != RoleAnalyst || u.LastLoginAt != nil {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
