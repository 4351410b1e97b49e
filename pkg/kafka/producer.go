package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/tetradx/tetradx/pkg/models"
	"github.com/tetradx/tetradx/pkg/tracing"
)

// Producer handles Kafka event emission
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// ReferralEvent represents a lifecycle event for a referral
type ReferralEvent struct {
	EventType  string          `json:"event_type"` // referral.created, referral.status_changed, referral.completed
	ReferralID string          `json:"referral_id"`
	BranchID   int64           `json:"branch_id"`
	Status     string          `json:"status"`
	ActorID    string          `json:"actor_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

const (
	EventReferralCreated       = "referral.created"
	EventReferralStatusChanged = "referral.status_changed"
	EventReferralCompleted     = "referral.completed"
)

// PublishReferralEvent publishes a referral event to Kafka
func (p *Producer) PublishReferralEvent(ctx context.Context, event *ReferralEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishReferralEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.ReferralID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "status", Value: []byte(event.Status)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish referral event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":  event.EventType,
		"referral_id": event.ReferralID,
		"status":      event.Status,
	}).Debug("Published referral event")

	return nil
}

// PublishReferralCreated publishes a created event carrying the full referral
func (p *Producer) PublishReferralCreated(ctx context.Context, referral *models.Referral, actorID string) error {
	data, err := json.Marshal(referral)
	if err != nil {
		return err
	}

	return p.PublishReferralEvent(ctx, &ReferralEvent{
		EventType:  EventReferralCreated,
		ReferralID: referral.ID,
		BranchID:   referral.BranchID,
		Status:     string(referral.Status),
		ActorID:    actorID,
		Data:       data,
	})
}

// PublishReferralStatusChanged publishes a status change event. Completed
// referrals get the dedicated completed event type.
func (p *Producer) PublishReferralStatusChanged(ctx context.Context, referral *models.Referral, actorID string) error {
	eventType := EventReferralStatusChanged
	if referral.Status == models.StatusCompleted {
		eventType = EventReferralCompleted
	}

	return p.PublishReferralEvent(ctx, &ReferralEvent{
		EventType:  eventType,
		ReferralID: referral.ID,
		BranchID:   referral.BranchID,
		Status:     string(referral.Status),
		ActorID:    actorID,
	})
}
