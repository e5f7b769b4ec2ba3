package usecase

import (
	"context"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/logger"
)

const unknownIP = "unknown"

// AuditTarget names a sink so failures can be attributed in logs and metrics.
type AuditTarget struct {
	Name string
	Sink port.AuditSink
}

// AuditEvent is the input shared by the typed audit helpers.
type AuditEvent struct {
	EventType string
	UserID    string
	Status    domain.AuditStatus
	IP        string
	UserAgent string
	Details   map[string]any
}

// AuditService writes security events to every configured sink. Writes are
// best-effort: a failing sink is logged and counted, never returned.
type AuditService struct {
	targets []AuditTarget
	logger  *zap.Logger
	metrics port.AuthMetrics
	now     func() time.Time
}

// NewAuditService constructs an AuditService. Targets with a nil sink are skipped.
func NewAuditService(log *zap.Logger, metrics port.AuthMetrics, targets ...AuditTarget) *AuditService {
	if log == nil {
		log = zap.NewNop()
	}
	filtered := make([]AuditTarget, 0, len(targets))
	for _, target := range targets {
		if target.Sink != nil {
			filtered = append(filtered, target)
		}
	}
	return &AuditService{
		targets: filtered,
		logger:  log,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source.
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	if now != nil {
		s.now = now
	}
	return s
}

// LogEvent records entry on every sink, filling id, timestamp and origin IP when unset.
func (s *AuditService) LogEvent(ctx context.Context, entry domain.AuditLog) {
	if s == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if strings.TrimSpace(entry.IPAddress) == "" {
		entry.IPAddress = unknownIP
	}

	log := logger.FromContext(ctx, s.logger)
	for _, target := range s.targets {
		if err := target.Sink.Record(ctx, entry); err != nil {
			log.Warn("audit write failed",
				zap.String("sink", target.Name),
				zap.String("event_type", entry.EventType),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.ObserveAuditFailure(target.Name)
			}
		}
	}
}

// LogAuthentication records an authenticate action.
func (s *AuditService) LogAuthentication(ctx context.Context, event AuditEvent) {
	s.LogEvent(ctx, event.toLog(domain.AuditActionAuthenticate, event.Status))
}

// LogSecurityEvent records an alert such as a lockout or token reuse.
func (s *AuditService) LogSecurityEvent(ctx context.Context, event AuditEvent) {
	s.LogEvent(ctx, event.toLog(domain.AuditActionSecurityEvent, domain.AuditStatusAlert))
}

func (e AuditEvent) toLog(action string, status domain.AuditStatus) domain.AuditLog {
	return domain.AuditLog{
		UserID:    optional(e.UserID),
		EventType: e.EventType,
		Action:    action,
		Status:    status,
		IPAddress: e.IP,
		UserAgent: optional(e.UserAgent),
		Details:   e.Details,
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
