package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	uuid "github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
)

// AuditLogRepository appends audit entries to the audit_logs table.
type AuditLogRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditLogRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAuditLogRepository(exec pgExecutor) *AuditLogRepository {
	repo := &AuditLogRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// Record inserts the entry. Missing ids and timestamps are filled in.
func (r *AuditLogRepository) Record(ctx context.Context, entry domain.AuditLog) error {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	details, err := marshalDetails(entry.Details)
	if err != nil {
		return fmt.Errorf("prepare audit details: %w", err)
	}

	stmt, args, err := r.builder.Insert("audit_logs").
		Columns(
			"id",
			"timestamp",
			"user_id",
			"event_type",
			"resource_type",
			"resource_id",
			"action",
			"status",
			"ip_address",
			"user_agent",
			"details",
		).
		Values(
			id,
			ts.UTC(),
			optionalString(entry.UserID),
			entry.EventType,
			optionalString(entry.ResourceType),
			optionalString(entry.ResourceID),
			entry.Action,
			string(entry.Status),
			entry.IPAddress,
			optionalString(entry.UserAgent),
			details,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit log sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

var _ port.AuditSink = (*AuditLogRepository)(nil)
