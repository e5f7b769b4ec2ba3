package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
)

// Transactor runs units of work in a single PostgreSQL transaction with the
// user and refresh token repositories bound to it.
type Transactor struct {
	db     Database
	users  *UserRepository
	tokens *RefreshTokenRepository
}

// NewTransactor builds a transactor over db.
func NewTransactor(db Database, users *UserRepository, tokens *RefreshTokenRepository) *Transactor {
	return &Transactor{db: db, users: users, tokens: tokens}
}

// WithinTransaction commits when fn returns nil and rolls back otherwise,
// including when fn panics.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos port.TxRepositories) error) (err error) {
	tx, err := t.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	repos := port.TxRepositories{
		Users:         t.users.WithTx(tx),
		RefreshTokens: t.tokens.WithTx(tx),
	}

	if fnErr := fn(ctx, repos); fnErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(fnErr, fmt.Errorf("rollback transaction: %w", rbErr))
		}
		return fnErr
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ port.Transactor = (*Transactor)(nil)
