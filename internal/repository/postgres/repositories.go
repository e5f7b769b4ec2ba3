package postgres

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Users         *UserRepository
	RefreshTokens *RefreshTokenRepository
	AuditLogs     *AuditLogRepository
	Transactor    *Transactor
}

// NewRepositories wires all repositories backed by the provided database.
func NewRepositories(db Database) *Repositories {
	users := NewUserRepository(db)
	tokens := NewRefreshTokenRepository(db)
	return &Repositories{
		Users:         users,
		RefreshTokens: tokens,
		AuditLogs:     NewAuditLogRepository(db),
		Transactor:    NewTransactor(db, users, tokens),
	}
}
