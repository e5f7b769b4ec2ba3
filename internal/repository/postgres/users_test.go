package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/repository"
)

var userRowColumns = []string{
	"id", "email", "hashed_password", "full_name", "role", "hospital_id", "department", "is_active",
	"created_at", "last_login", "last_login_ip", "failed_login_attempts", "locked_until", "password_changed_at",
}

func TestUserRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	createdAt := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	hospital := "hospital-1"
	user := domain.User{
		ID:                "user-1",
		Email:             " Nurse@StMary.example ",
		PasswordHash:      "argon2id$hash",
		FullName:          "Grace Hopper",
		Role:              domain.RoleNurse,
		HospitalID:        &hospital,
		IsActive:          true,
		CreatedAt:         createdAt,
		PasswordChangedAt: createdAt,
	}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(
			"user-1",
			"nurse@stmary.example",
			"argon2id$hash",
			"Grace Hopper",
			"nurse",
			hospital,
			nil,
			true,
			createdAt,
			nil,
			nil,
			0,
			nil,
			createdAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_CreateDuplicateEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err = repo.Create(context.Background(), domain.User{ID: "user-1", Email: "dup@example.com", Role: domain.RoleAdmin})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUserRepository_GetActiveByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	now := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	locked := now.Add(10 * time.Minute)
	rows := pgxmock.NewRows(userRowColumns).AddRow(
		"user-1", "nurse@stmary.example", "hash", "Grace Hopper", "nurse", "hospital-1", nil, true,
		now, nil, "10.0.0.1", 5, locked, now,
	)

	mock.ExpectQuery(`SELECT .*FROM users WHERE email = \$1 AND is_active = \$2 LIMIT 1`).
		WithArgs("nurse@stmary.example", true).
		WillReturnRows(rows)

	user, err := repo.GetActiveByEmail(context.Background(), "NURSE@stmary.example")
	if err != nil {
		t.Fatalf("GetActiveByEmail returned error: %v", err)
	}
	if user.Role != domain.RoleNurse || user.FailedLoginAttempts != 5 {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.LockedUntil == nil || !user.LockedUntil.Equal(locked) {
		t.Fatalf("expected locked_until %v, got %v", locked, user.LockedUntil)
	}
	if user.Department != nil || user.LastLogin != nil {
		t.Fatalf("expected null columns to stay nil")
	}
	if user.LastLoginIP == nil || *user.LastLoginIP != "10.0.0.1" {
		t.Fatalf("expected last login ip to be populated")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetActiveByEmailNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectQuery(`SELECT .*FROM users`).
		WithArgs("ghost@example.com", true).
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetActiveByEmail(context.Background(), "ghost@example.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_GetByIDForUpdateLocksRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	now := time.Now().UTC()
	rows := pgxmock.NewRows(userRowColumns).AddRow(
		"user-1", "a@example.com", "hash", "A", "admin", nil, nil, true,
		now, nil, nil, 0, nil, now,
	)

	mock.ExpectQuery(`SELECT .*FROM users WHERE id = \$1 LIMIT 1 FOR UPDATE`).
		WithArgs("user-1").
		WillReturnRows(rows)

	if _, err := repo.GetByIDForUpdate(context.Background(), "user-1"); err != nil {
		t.Fatalf("GetByIDForUpdate returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_EmailExists(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectQuery(`SELECT EXISTS \( SELECT 1 FROM users WHERE email = \$1 \)`).
		WithArgs("taken@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.EmailExists(context.Background(), "Taken@example.com")
	if err != nil {
		t.Fatalf("EmailExists returned error: %v", err)
	}
	if !exists {
		t.Fatalf("expected email to exist")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_UpdateLockout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	until := time.Date(2025, 11, 3, 8, 15, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE users SET failed_login_attempts = \$1, locked_until = \$2 WHERE id = \$3`).
		WithArgs(5, until, "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.UpdateLockout(context.Background(), "user-1", domain.LockoutState{FailedAttempts: 5, LockedUntil: &until}); err != nil {
		t.Fatalf("UpdateLockout returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_UpdatePasswordMissingUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectExec(`UPDATE users SET hashed_password`).
		WithArgs("new-hash", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.UpdatePassword(context.Background(), "missing", "new-hash", time.Now())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUserRepository_UpgradePasswordHashKeepsEpoch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewUserRepository(mock)

	mock.ExpectExec(`UPDATE users SET hashed_password = \$1 WHERE id = \$2`).
		WithArgs("rehashed", "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.UpgradePasswordHash(context.Background(), "user-1", "rehashed"); err != nil {
		t.Fatalf("UpgradePasswordHash: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
