package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
)

// Sink receives audit log entries after they are stored.
type Sink interface {
	Publish(ctx context.Context, entry *models.AuditLogEntry) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventMessage is the JSON published for each audit log entry.
type EventMessage struct {
	ID             string         `json:"id"`
	OrganisationID int64          `json:"organisation_id"`
	UserID         string         `json:"user_id,omitempty"`
	Action         string         `json:"action"`
	ExecutionID    string         `json:"execution_id,omitempty"`
	Payload        map[string]any `json:"payload"`
	Timestamp      time.Time      `json:"timestamp"`
}

// KafkaSink publishes audit entries to a topic, keyed by organisation so
// one organisation's events stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	retry  *retry.Config
	logger *zap.Logger
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		// Allow the topic to be created on first publish in development.
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(writer, logger)
}

func newKafkaSink(writer messageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{
		writer: writer,
		retry: &retry.Config{
			MaxRetries:   3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		logger: logger.Named("audit-kafka"),
	}
}

// Publish writes one entry. Transient broker errors are retried.
func (s *KafkaSink) Publish(ctx context.Context, entry *models.AuditLogEntry) error {
	msg := EventMessage{
		ID:             entry.ID.String(),
		OrganisationID: entry.OrganisationID,
		Action:         entry.Action,
		Payload:        entry.Payload,
		Timestamp:      entry.CreatedAt.UTC(),
	}
	if entry.UserID != nil {
		msg.UserID = entry.UserID.String()
	}
	if entry.ExecutionID != nil {
		msg.ExecutionID = *entry.ExecutionID
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	kmsg := kafka.Message{
		Key:   []byte(strconv.FormatInt(entry.OrganisationID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	}

	err = retry.DoIfRetryable(ctx, s.retry, func() error {
		return s.writer.WriteMessages(ctx, kmsg)
	})
	if err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	s.logger.Debug("Published audit event",
		zap.String("action", entry.Action),
		zap.Int64("organisation_id", entry.OrganisationID))
	return nil
}

// Close flushes pending messages and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var _ Sink = (*KafkaSink)(nil)
