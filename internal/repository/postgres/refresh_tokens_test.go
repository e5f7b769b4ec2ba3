package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/repository"
)

var refreshTokenRowColumns = []string{
	"id", "user_id", "token_hash", "created_at", "expires_at", "revoked", "revoked_at", "revoke_reason",
	"replaced_by_id", "ip_address", "user_agent",
}

func TestRefreshTokenRepository_CreateGeneratesID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewRefreshTokenRepository(mock)

	now := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	ip := "198.51.100.10"
	token := domain.RefreshToken{
		UserID:    "user-1",
		TokenHash: "hash-1",
		CreatedAt: now,
		ExpiresAt: now.Add(7 * 24 * time.Hour),
		IP:        &ip,
	}

	mock.ExpectExec(`INSERT INTO refresh_tokens`).
		WithArgs(
			pgxmock.AnyArg(),
			"user-1",
			"hash-1",
			now,
			now.Add(7*24*time.Hour),
			false,
			nil,
			nil,
			nil,
			ip,
			nil,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := repo.Create(context.Background(), token)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_FindActiveByHashLocksRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewRefreshTokenRepository(mock)

	now := time.Now().UTC()
	rows := pgxmock.NewRows(refreshTokenRowColumns).AddRow(
		"token-1", "user-1", "hash-1", now, now.Add(time.Hour), false, nil, nil, nil, nil, "curl/8",
	)

	mock.ExpectQuery(`SELECT .*FROM refresh_tokens WHERE revoked = \$1 AND token_hash = \$2 LIMIT 1 FOR UPDATE`).
		WithArgs(false, "hash-1").
		WillReturnRows(rows)

	token, err := repo.FindActiveByHash(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("FindActiveByHash returned error: %v", err)
	}
	if token.ID != "token-1" || token.Revoked {
		t.Fatalf("unexpected token %+v", token)
	}
	if token.UserAgent == nil || *token.UserAgent != "curl/8" {
		t.Fatalf("expected user agent to be populated")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_RevokeIsIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewRefreshTokenRepository(mock)

	at := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked = \$1, revoked_at = \$2, revoke_reason = \$3 WHERE id = \$4 AND revoked = \$5`).
		WithArgs(true, at, "logout", "token-1", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.Revoke(context.Background(), "token-1", domain.RevokeReasonLogout, at); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_RevokeAllForUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewRefreshTokenRepository(mock)

	mock.ExpectExec(`UPDATE refresh_tokens SET .* WHERE revoked = \$4 AND user_id = \$5`).
		WithArgs(true, pgxmock.AnyArg(), "reuse_detected", false, "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	count, err := repo.RevokeAllForUser(context.Background(), "user-1", domain.RevokeReasonReuseDetected, time.Now())
	if err != nil {
		t.Fatalf("RevokeAllForUser returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revoked tokens, got %d", count)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenRepository_LinkReplacementMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewRefreshTokenRepository(mock)

	mock.ExpectExec(`UPDATE refresh_tokens SET replaced_by_id = \$1 WHERE id = \$2`).
		WithArgs("token-2", "token-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.LinkReplacement(context.Background(), "token-1", "token-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
