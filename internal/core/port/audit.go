package port

import (
	"context"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
)

// AuditSink is an append-only destination for security events.
type AuditSink interface {
	Record(ctx context.Context, entry domain.AuditLog) error
}
