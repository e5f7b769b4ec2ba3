package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/config"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/logger"
)

const schemaVersion = "1.0"

// AuditPublisher streams audit entries to Kafka. Messages are keyed by user id
// so one user's events stay ordered within a partition.
type AuditPublisher struct {
	producer *Producer
	topic    string
	appCfg   config.AppSettings
	logger   *zap.Logger
}

// NewAuditPublisher constructs a Kafka-backed audit sink writing to topic.
func NewAuditPublisher(producer *Producer, topic string, appCfg config.AppSettings, logger *zap.Logger) *AuditPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditPublisher{producer: producer, topic: topic, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   auditPayload     `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type auditPayload struct {
	Action       string         `json:"action"`
	Status       string         `json:"status"`
	IPAddress    string         `json:"ip_address"`
	UserAgent    *string        `json:"user_agent,omitempty"`
	ResourceType *string        `json:"resource_type,omitempty"`
	ResourceID   *string        `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Record enqueues the entry on the producer. It returns once the message is
// handed to Sarama; delivery failures surface on Producer.Errors.
func (p *AuditPublisher) Record(ctx context.Context, entry domain.AuditLog) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}

	var userID string
	if entry.UserID != nil {
		userID = *entry.UserID
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: entry.EventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload: auditPayload{
			Action:       entry.Action,
			Status:       string(entry.Status),
			IPAddress:    entry.IPAddress,
			UserAgent:    entry.UserAgent,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			Details:      entry.Details,
		},
		Metadata: metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal audit envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(p.topic),
		Value: sarama.ByteEncoder(bytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(entry.EventType)},
		},
	}
	if userID != "" {
		message.Key = sarama.StringEncoder(userID)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ port.AuditSink = (*AuditPublisher)(nil)
