package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
	"github.com/AdithyaSrivastava01/Somnium/internal/repository"
)

const usersTable = "users"

var userColumns = []string{
	"id",
	"email",
	"hashed_password",
	"full_name",
	"role",
	"hospital_id",
	"department",
	"is_active",
	"created_at",
	"last_login",
	"last_login_ip",
	"failed_login_attempts",
	"locked_until",
	"password_changed_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	repo := &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

// Create inserts a new user row. A duplicate email surfaces as repository.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Insert(usersTable).
		Columns(userColumns...).
		Values(
			user.ID,
			domain.NormalizeEmail(user.Email),
			user.PasswordHash,
			strings.TrimSpace(user.FullName),
			string(user.Role),
			optionalString(user.HospitalID),
			optionalString(user.Department),
			user.IsActive,
			user.CreatedAt.UTC(),
			optionalTime(user.LastLogin),
			optionalString(user.LastLoginIP),
			user.FailedLoginAttempts,
			optionalTime(user.LockedUntil),
			user.PasswordChangedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert user: %w", mapUniqueViolation(err))
	}

	return nil
}

// GetByID retrieves a user by identifier regardless of the active flag.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, false)
}

// GetActiveByEmail retrieves an active user by normalised email.
func (r *UserRepository) GetActiveByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"email": domain.NormalizeEmail(email), "is_active": true}, false)
}

// GetByIDForUpdate retrieves a user and locks the row for the rest of the transaction.
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id}, true)
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Eq, forUpdate bool) (*domain.User, error) {
	query := r.builder.Select(userColumns...).
		From(usersTable).
		Where(where).
		Limit(1)
	if forUpdate {
		query = query.Suffix("FOR UPDATE")
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

// EmailExists reports whether any user, active or not, holds the email.
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		Prefix("SELECT EXISTS (").
		From(usersTable).
		Where(squirrel.Eq{"email": domain.NormalizeEmail(email)}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build email exists sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check email exists: %w", err)
	}
	return exists, nil
}

// UpdateLockout persists the failure counter and lock expiry.
func (r *UserRepository) UpdateLockout(ctx context.Context, id string, state domain.LockoutState) error {
	stmt, args, err := r.builder.Update(usersTable).
		Set("failed_login_attempts", state.FailedAttempts).
		Set("locked_until", optionalTime(state.LockedUntil)).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update lockout sql: %w", err)
	}

	return r.execAffectingOne(ctx, "update lockout", stmt, args)
}

// RecordLogin stamps the last successful login time and client address.
func (r *UserRepository) RecordLogin(ctx context.Context, id string, at time.Time, ip *string) error {
	stmt, args, err := r.builder.Update(usersTable).
		Set("last_login", at.UTC()).
		Set("last_login_ip", optionalString(ip)).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build record login sql: %w", err)
	}

	return r.execAffectingOne(ctx, "record login", stmt, args)
}

// UpdatePassword replaces the password hash and moves the password epoch.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	stmt, args, err := r.builder.Update(usersTable).
		Set("hashed_password", passwordHash).
		Set("password_changed_at", changedAt.UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	return r.execAffectingOne(ctx, "update password", stmt, args)
}

// UpgradePasswordHash replaces the stored hash without moving the password epoch.
func (r *UserRepository) UpgradePasswordHash(ctx context.Context, id string, passwordHash string) error {
	stmt, args, err := r.builder.Update(usersTable).
		Set("hashed_password", passwordHash).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upgrade password hash sql: %w", err)
	}

	return r.execAffectingOne(ctx, "upgrade password hash", stmt, args)
}

func (r *UserRepository) execAffectingOne(ctx context.Context, op, stmt string, args []any) error {
	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		user        domain.User
		role        string
		hospitalID  sql.NullString
		department  sql.NullString
		lastLogin   sql.NullTime
		lastLoginIP sql.NullString
		lockedUntil sql.NullTime
	)

	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FullName,
		&role,
		&hospitalID,
		&department,
		&user.IsActive,
		&user.CreatedAt,
		&lastLogin,
		&lastLoginIP,
		&user.FailedLoginAttempts,
		&lockedUntil,
		&user.PasswordChangedAt,
	); err != nil {
		return nil, mapNoRows(err)
	}

	user.Role = domain.Role(role)
	user.HospitalID = nullableStringPtr(hospitalID)
	user.Department = nullableStringPtr(department)
	user.LastLogin = nullableTimePtr(lastLogin)
	user.LastLoginIP = nullableStringPtr(lastLoginIP)
	user.LockedUntil = nullableTimePtr(lockedUntil)
	user.CreatedAt = user.CreatedAt.UTC()
	user.PasswordChangedAt = user.PasswordChangedAt.UTC()

	return &user, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
