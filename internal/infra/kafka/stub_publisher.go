package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/logger"
)

// StubAuditSink logs audit entries instead of sending them to Kafka. Used when
// no brokers are configured.
type StubAuditSink struct {
	logger *zap.Logger
}

// NewStubAuditSink constructs a development-friendly audit sink.
func NewStubAuditSink(log *zap.Logger) *StubAuditSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &StubAuditSink{logger: log}
}

// Record logs the entry with the client address masked.
func (s *StubAuditSink) Record(ctx context.Context, entry domain.AuditLog) error {
	fields := []zap.Field{
		zap.String("event_type", entry.EventType),
		zap.String("action", entry.Action),
		zap.String("status", string(entry.Status)),
		zap.String("ip", logger.MaskIP(entry.IPAddress)),
		zap.Any("details", entry.Details),
	}
	if entry.UserID != nil {
		fields = append(fields, zap.String("user_id", *entry.UserID))
	}

	logger.FromContext(ctx, s.logger).Info("audit event", fields...)
	return nil
}

var _ port.AuditSink = (*StubAuditSink)(nil)
