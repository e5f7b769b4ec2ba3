package port

import "context"

// TxRepositories are the repositories bound to a single transaction.
type TxRepositories struct {
	Users         UserRepository
	RefreshTokens RefreshTokenStore
}

// Transactor runs fn inside one database transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
