package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/observability"
	"github.com/helixir/records-service/internal/repository"
)

// Message header keys.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderTenantID  = "tenant_id"
)

// Publisher writes messages to the broker. *kafka.Writer satisfies it.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Store runs fn with an outbox repository bound to one transaction.
type Store interface {
	InOutboxTx(ctx context.Context, fn func(ctx context.Context, repo repository.OutboxRepository) error) error
}

// RelayConfig holds the relay's polling parameters.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Envelope is the JSON body of a published event.
type Envelope struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	EventVersion  int                    `json:"event_version"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	TenantID      string                 `json:"tenant_id,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Payload       json.RawMessage        `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Relay publishes committed outbox events to Kafka. Events are claimed with
// FOR UPDATE SKIP LOCKED, so several relays can run side by side.
type Relay struct {
	store     Store
	publisher Publisher
	cfg       RelayConfig
	clock     func() time.Time
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewRelay creates a relay.
func NewRelay(store Store, publisher Publisher, cfg RelayConfig, logger zerolog.Logger, metrics *observability.Metrics) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		clock:     func() time.Time { return time.Now().UTC() },
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
		metrics:   metrics,
	}
}

// NewKafkaWriter creates the writer used as the relay's Publisher. Messages
// are keyed by document ID, so the hash balancer keeps one document's events
// in order on one partition.
func NewKafkaWriter(brokers []string, topic string, batchSize int, batchTimeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
}

// Run relays batches until ctx is cancelled. A full batch is followed
// immediately by the next one; otherwise the relay waits PollInterval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Int("batch_size", r.cfg.BatchSize).
		Msg("starting outbox relay")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		claimed, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("outbox relay batch failed")
		}
		if err == nil && claimed >= r.cfg.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped via context cancellation")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce claims one batch, publishes it and records the outcome of each
// event. It returns the number of events claimed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	started := time.Now()
	var claimed, published, failed int

	err := r.store.InOutboxTx(ctx, func(ctx context.Context, repo repository.OutboxRepository) error {
		events, err := repo.FetchPending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events)
		if claimed == 0 {
			return nil
		}

		sendable := make([]*domain.OutboxEvent, 0, len(events))
		msgs := make([]kafka.Message, 0, len(events))
		for _, e := range events {
			msg, err := ToMessage(e)
			if err != nil {
				if err := r.markFailed(ctx, repo, e, err); err != nil {
					return err
				}
				failed++
				continue
			}
			sendable = append(sendable, e)
			msgs = append(msgs, msg)
		}
		if len(msgs) == 0 {
			return nil
		}

		writeErr := r.publisher.WriteMessages(ctx, msgs...)
		var perMessage kafka.WriteErrors
		hasPerMessage := errors.As(writeErr, &perMessage) && len(perMessage) == len(msgs)

		now := r.clock()
		for i, e := range sendable {
			msgErr := writeErr
			if hasPerMessage {
				msgErr = perMessage[i]
			}
			if msgErr != nil {
				if err := r.markFailed(ctx, repo, e, msgErr); err != nil {
					return err
				}
				failed++
				continue
			}
			if err := repo.MarkPublished(ctx, e.EventID, now); err != nil {
				return err
			}
			published++
		}
		return nil
	})

	r.metrics.RecordOutboxBatch(published, failed, time.Since(started).Seconds())
	if err != nil {
		return claimed, fmt.Errorf("relay outbox batch: %w", err)
	}
	if claimed > 0 {
		r.logger.Debug().
			Int("claimed", claimed).
			Int("published", published).
			Int("failed", failed).
			Msg("relayed outbox batch")
	}
	return claimed, nil
}

func (r *Relay) markFailed(ctx context.Context, repo repository.OutboxRepository, e *domain.OutboxEvent, cause error) error {
	logger := observability.WithEventContext(r.logger, e.EventID, e.EventType)
	level := logger.Warn()
	if e.Attempts+1 >= r.cfg.MaxAttempts {
		level = logger.Error()
	}
	level.Err(cause).
		Int("attempt", e.Attempts+1).
		Int("max_attempts", r.cfg.MaxAttempts).
		Msg("failed to publish outbox event")

	return repo.MarkFailed(ctx, e.EventID, cause.Error())
}

// Close closes the publisher.
func (r *Relay) Close() error {
	r.logger.Info().Msg("closing outbox relay")
	return r.publisher.Close()
}

// ToMessage renders an outbox event as a Kafka message.
func ToMessage(e *domain.OutboxEvent) (kafka.Message, error) {
	payload := json.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return kafka.Message{}, fmt.Errorf("event %s has an invalid JSON payload", e.EventID)
	}

	body, err := json.Marshal(Envelope{
		EventID:       e.EventID,
		EventType:     e.EventType,
		EventVersion:  e.EventVersion,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		TenantID:      e.TenantID,
		OccurredAt:    e.CreatedAt,
		Payload:       payload,
		Metadata:      e.Metadata,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal envelope: %w", err)
	}

	return kafka.Message{
		Key:   []byte(e.AggregateID),
		Value: body,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(e.EventID)},
			{Key: HeaderEventType, Value: []byte(e.EventType)},
			{Key: HeaderTenantID, Value: []byte(e.TenantID)},
		},
	}, nil
}
