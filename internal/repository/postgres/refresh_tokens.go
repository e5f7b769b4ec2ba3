package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	uuid "github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
	"github.com/AdithyaSrivastava01/Somnium/internal/repository"
)

const refreshTokensTable = "refresh_tokens"

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"token_hash",
	"created_at",
	"expires_at",
	"revoked",
	"revoked_at",
	"revoke_reason",
	"replaced_by_id",
	"ip_address",
	"user_agent",
}

// RefreshTokenRepository implements port.RefreshTokenStore using PostgreSQL.
type RefreshTokenRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRefreshTokenRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewRefreshTokenRepository(exec pgExecutor) *RefreshTokenRepository {
	repo := &RefreshTokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *RefreshTokenRepository) WithTx(tx pgx.Tx) *RefreshTokenRepository {
	if tx == nil {
		return r
	}
	return &RefreshTokenRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a refresh token hash and returns the row id, generating one when absent.
func (r *RefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) (string, error) {
	id := strings.TrimSpace(token.ID)
	if id == "" {
		id = uuid.NewString()
	}

	stmt, args, err := r.builder.Insert(refreshTokensTable).
		Columns(refreshTokenColumns...).
		Values(
			id,
			token.UserID,
			token.TokenHash,
			token.CreatedAt.UTC(),
			token.ExpiresAt.UTC(),
			token.Revoked,
			optionalTime(token.RevokedAt),
			optionalString(token.RevokeReason),
			optionalString(token.ReplacedByID),
			optionalString(token.IP),
			optionalString(token.UserAgent),
		).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return "", fmt.Errorf("insert refresh token: %w", mapUniqueViolation(err))
	}

	return id, nil
}

// FindActiveByHash returns the non-revoked token with the given hash and locks
// the row, so a concurrent rotation of the same token blocks until this one commits
// and then observes it as revoked.
func (r *RefreshTokenRepository) FindActiveByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.findOne(ctx, squirrel.Eq{"token_hash": hash, "revoked": false}, true)
}

// FindByHash returns the token with the given hash in any state.
func (r *RefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.findOne(ctx, squirrel.Eq{"token_hash": hash}, false)
}

func (r *RefreshTokenRepository) findOne(ctx context.Context, where squirrel.Eq, forUpdate bool) (*domain.RefreshToken, error) {
	query := r.builder.Select(refreshTokenColumns...).
		From(refreshTokensTable).
		Where(where).
		Limit(1)
	if forUpdate {
		query = query.Suffix("FOR UPDATE")
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	token, err := scanRefreshToken(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("select refresh token: %w", err)
	}
	return token, nil
}

// Revoke marks a token revoked. Revoking an already revoked token is a no-op
// and keeps the original revocation time and reason.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, reason string, at time.Time) error {
	stmt, args, err := r.builder.Update(refreshTokensTable).
		Set("revoked", true).
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", optionalString(&reason)).
		Where(squirrel.Eq{"id": id, "revoked": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every outstanding token of the user and returns how many changed.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, reason string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update(refreshTokensTable).
		Set("revoked", true).
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", optionalString(&reason)).
		Where(squirrel.Eq{"user_id": userID, "revoked": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke user refresh tokens sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// LinkReplacement records newID as the successor of oldID in the rotation chain.
func (r *RefreshTokenRepository) LinkReplacement(ctx context.Context, oldID string, newID string) error {
	stmt, args, err := r.builder.Update(refreshTokensTable).
		Set("replaced_by_id", newID).
		Where(squirrel.Eq{"id": oldID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build link refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("link refresh token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	var (
		token        domain.RefreshToken
		revokedAt    sql.NullTime
		revokeReason sql.NullString
		replacedByID sql.NullString
		ip           sql.NullString
		userAgent    sql.NullString
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Revoked,
		&revokedAt,
		&revokeReason,
		&replacedByID,
		&ip,
		&userAgent,
	); err != nil {
		return nil, mapNoRows(err)
	}

	token.CreatedAt = token.CreatedAt.UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()
	token.RevokedAt = nullableTimePtr(revokedAt)
	token.RevokeReason = nullableStringPtr(revokeReason)
	token.ReplacedByID = nullableStringPtr(replacedByID)
	token.IP = nullableStringPtr(ip)
	token.UserAgent = nullableStringPtr(userAgent)

	return &token, nil
}

var _ port.RefreshTokenStore = (*RefreshTokenRepository)(nil)
