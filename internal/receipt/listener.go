// Package receipt provides a Kafka listener for recipient receipt and
// acknowledgement messages. Each message applies the matching lifecycle
// transition to a released document.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/lifecycle"
	"github.com/helixir/records-service/internal/observability"
)

// Message kinds.
const (
	KindReceipt      = "receipt"
	KindAcknowledged = "acknowledged"
)

// Outcomes used as metric labels.
const (
	resultApplied   = "applied"
	resultRejected  = "rejected"
	resultMalformed = "malformed"
	resultFailed    = "failed"
)

// Message is a recipient's confirmation for a released document.
type Message struct {
	TenantID   string    `json:"tenant_id"`
	DocumentID string    `json:"document_id"`
	Kind       string    `json:"kind"`
	Recipient  string    `json:"recipient,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Reader is the subset of *kafka.Reader the listener uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Transitioner applies lifecycle transitions. *lifecycle.Service satisfies it.
type Transitioner interface {
	Transition(ctx context.Context, in lifecycle.TransitionInput) (*domain.Document, error)
}

// Config holds configuration for the receipt listener.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic carries receipt messages.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
	// Actor is recorded as the updater of changed documents.
	Actor string
	// MaxRetries bounds redelivery of messages that failed transiently.
	MaxRetries int
	// RetryBackoff is the pause between retries.
	RetryBackoff time.Duration
}

// Listener consumes receipt messages and applies receipt transitions.
type Listener struct {
	reader       Reader
	transitioner Transitioner
	cfg          Config
	logger       zerolog.Logger
	metrics      *observability.Metrics
}

// NewKafkaReader creates the consumer-group reader for the receipts topic.
func NewKafkaReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
}

// NewListener creates a receipt listener reading from reader.
func NewListener(cfg Config, reader Reader, transitioner Transitioner, logger zerolog.Logger, metrics *observability.Metrics) *Listener {
	if cfg.Actor == "" {
		cfg.Actor = "receipt-listener"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Listener{
		reader:       reader,
		transitioner: transitioner,
		cfg:          cfg,
		logger:       logger.With().Str("component", "receipt_listener").Logger(),
		metrics:      metrics,
	}
}

// Run starts the listener loop. Blocks until context is cancelled.
// A message is committed once its outcome is final: applied, rejected,
// malformed, or failed after MaxRetries attempts.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Str("topic", l.cfg.Topic).Msg("starting receipt listener")

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("receipt listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received receipt message")

		result := l.process(ctx, msg)
		if ctx.Err() != nil && result == resultFailed {
			return ctx.Err()
		}
		l.metrics.RecordReceipt(result)

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("failed to commit receipt message")
		}
	}
}

func (l *Listener) process(ctx context.Context, msg kafka.Message) string {
	in, err := l.decode(msg.Value)
	if err != nil {
		l.logger.Error().Err(err).
			Str("raw_value", string(msg.Value)).
			Msg("failed to decode receipt message")
		return resultMalformed
	}
	logger := observability.WithDocumentContext(l.logger, in.TenantID, in.ID.String())

	for attempt := 1; ; attempt++ {
		err := l.Handle(ctx, in)
		switch {
		case err == nil:
			logger.Info().Str("transition", string(in.Name)).Msg("applied receipt")
			return resultApplied
		case isPermanent(err):
			logger.Warn().Err(err).Str("transition", string(in.Name)).Msg("receipt rejected")
			return resultRejected
		case attempt >= l.cfg.MaxRetries:
			logger.Error().Err(err).Int("attempts", attempt).Msg("failed to apply receipt")
			return resultFailed
		}

		logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying receipt")
		select {
		case <-ctx.Done():
			return resultFailed
		case <-time.After(l.cfg.RetryBackoff):
		}
	}
}

// Handle applies one decoded receipt.
func (l *Listener) Handle(ctx context.Context, in lifecycle.TransitionInput) error {
	if _, err := l.transitioner.Transition(ctx, in); err != nil {
		return fmt.Errorf("apply %s to document %s: %w", in.Name, in.ID, err)
	}
	return nil
}

func (l *Listener) decode(value []byte) (lifecycle.TransitionInput, error) {
	var m Message
	if err := json.Unmarshal(value, &m); err != nil {
		return lifecycle.TransitionInput{}, err
	}
	if m.TenantID == "" {
		return lifecycle.TransitionInput{}, errors.New("tenant_id is required")
	}
	id, err := uuid.Parse(m.DocumentID)
	if err != nil {
		return lifecycle.TransitionInput{}, fmt.Errorf("invalid document_id: %w", err)
	}

	var name lifecycle.Transition
	switch m.Kind {
	case KindReceipt:
		name = lifecycle.TransitionReceipt
	case KindAcknowledged:
		name = lifecycle.TransitionAcknowledge
	default:
		return lifecycle.TransitionInput{}, fmt.Errorf("unknown kind %q", m.Kind)
	}

	return lifecycle.TransitionInput{TenantID: m.TenantID, ID: id, Name: name, Actor: l.cfg.Actor}, nil
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing receipt listener")
	return l.reader.Close()
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrForbidden)
}
