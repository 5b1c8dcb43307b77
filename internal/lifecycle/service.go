// Package lifecycle implements the document lifecycle: creation,
// classification with control-number allocation, and the workflow
// transitions that follow it.
//
// Every state change runs in one store transaction together with its outbox
// event. Classification additionally takes the document row lock and the
// sequence bucket lock inside that transaction, so the allocated number is
// persisted before any other classification in the same bucket can read it.
// Derived search records are updated after commit on a best-effort basis.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/records-service/internal/controlnumber"
	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/observability"
	"github.com/helixir/records-service/internal/outbox"
	"github.com/helixir/records-service/internal/repository"
	"github.com/helixir/records-service/internal/sequence"
)

// Classification outcomes used as metric labels.
const (
	resultAllocated  = "allocated"
	resultIdempotent = "idempotent"
	resultRejected   = "rejected"
	resultConflict   = "conflict"
	resultFailed     = "failed"
	resultOK         = "ok"
)

// BucketLocker serializes classifications of one sequence bucket across
// processes. The returned function releases the lock.
type BucketLocker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. All window and calendar computations
// use the instant it returns.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithBucketLocker adds a process-external bucket lock around classification.
func WithBucketLocker(locker BucketLocker) Option {
	return func(s *Service) { s.locker = locker }
}

// WithDerivedUpdater enables propagation of classification fields to
// derived search records.
func WithDerivedUpdater(updater repository.SearchRecordRepository) Option {
	return func(s *Service) { s.derived = updater }
}

// WithEmitter replaces the default outbox event builder.
func WithEmitter(emitter *outbox.Emitter) Option {
	return func(s *Service) { s.emitter = emitter }
}

// Service runs lifecycle operations against a Store.
type Service struct {
	store    repository.Store
	registry *controlnumber.Registry
	composer *controlnumber.Composer
	derived  repository.SearchRecordRepository
	locker   BucketLocker
	emitter  *outbox.Emitter
	clock    func() time.Time
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// NewService creates a lifecycle service.
func NewService(
	store repository.Store,
	registry *controlnumber.Registry,
	composer *controlnumber.Composer,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	opts ...Option,
) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		composer: composer,
		emitter:  outbox.NewEmitter(outbox.EmitterConfig{}),
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "lifecycle").Logger(),
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput describes a new document.
type CreateInput struct {
	TenantID             string
	Subject              string
	Type                 domain.DocumentType
	Classification       string
	SubClassification    string
	ConfidentialityLevel *int
	AssignedTo           []string
	Actor                string
}

// Create stores a new unclassified document.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Document, error) {
	if in.TenantID == "" {
		return nil, domain.NewValidationError("tenant_id", "tenant ID is required")
	}
	if in.Subject == "" {
		return nil, domain.NewValidationError("subject", "subject is required")
	}
	if in.Actor == "" {
		return nil, domain.NewValidationError("actor", "actor is required")
	}
	if in.Type == "" {
		in.Type = domain.DocumentTypeNotDefined
	}
	if !in.Type.IsValid() {
		return nil, domain.NewValidationError("type", "unknown document type "+string(in.Type))
	}
	if in.ConfidentialityLevel != nil && *in.ConfidentialityLevel < 0 {
		return nil, domain.NewValidationError("confidentiality_level", "must not be negative")
	}

	now := s.clock()
	doc := &domain.Document{
		ID:                   uuid.New(),
		TenantID:             in.TenantID,
		Subject:              in.Subject,
		Type:                 in.Type,
		Classification:       in.Classification,
		SubClassification:    in.SubClassification,
		ConfidentialityLevel: in.ConfidentialityLevel,
		Status:               domain.DocumentStatusActive,
		AssignedTo:           union(nil, in.AssignedTo),
		CreatedBy:            in.Actor,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.Create(ctx, doc); err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, doc, domain.EventTypeDocumentCreated, domain.DocumentCreatedPayload{
			DocumentID: doc.ID,
			TenantID:   doc.TenantID,
			Type:       doc.Type,
			CreatedBy:  in.Actor,
		}, now)
	})
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	logger := observability.WithDocumentContext(s.logger, doc.TenantID, doc.ID.String())
	logger.Info().Str("type", string(doc.Type)).Msg("document created")
	return doc, nil
}

// Get returns a document visible at the given clearance.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID, clearance int) (*domain.Document, error) {
	doc, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(doc, &clearance); err != nil {
		return nil, err
	}
	return doc, nil
}

// authorize returns an error matching domain.ErrForbidden when clearance is
// set and below the document's confidentiality level.
func authorize(doc *domain.Document, clearance *int) error {
	if clearance == nil || doc.VisibleTo(*clearance) {
		return nil
	}
	return fmt.Errorf("%w: document %s requires a higher clearance", domain.ErrForbidden, doc.ID)
}

// List returns the documents of a tenant visible at the given clearance.
func (s *Service) List(ctx context.Context, filter repository.DocumentFilter, clearance int) ([]*domain.Document, int64, error) {
	filter.MaxConfidentiality = &clearance
	return s.store.List(ctx, filter)
}

// ClassifyInput identifies the document to classify and the fields to set.
type ClassifyInput struct {
	TenantID string
	ID       uuid.UUID
	Fields   domain.ClassificationFields
	Actor    string
	// Clearance is the caller's clearance level. Nil skips the
	// confidentiality check for trusted internal callers.
	Clearance *int
}

// ClassifyResult is the outcome of Classify.
type ClassifyResult struct {
	ControlNumber  string
	DateClassified time.Time
	// AlreadyClassified is true when the document already carried a control
	// number and nothing was allocated.
	AlreadyClassified bool
	Document          *domain.Document
}

// Classify allocates and persists a control number for an unclassified
// document. It is idempotent: a classified document returns its existing
// number without touching any sequence.
//
// A collision with an already issued number is retried once with the
// sequence reconciled against issued history. A second collision returns an
// error matching domain.ErrAllocationConflict.
func (s *Service) Classify(ctx context.Context, in ClassifyInput) (*ClassifyResult, error) {
	started := time.Now()
	result, err := s.classify(ctx, in, s.clock())

	outcome := resultAllocated
	switch {
	case err == nil && result.AlreadyClassified:
		outcome = resultIdempotent
	case errors.Is(err, domain.ErrAllocationConflict):
		outcome = resultConflict
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
		outcome = resultRejected
	case err != nil:
		outcome = resultFailed
	}
	s.metrics.RecordClassification(outcome, time.Since(started).Seconds())
	return result, err
}

func (s *Service) classify(ctx context.Context, in ClassifyInput, now time.Time) (*ClassifyResult, error) {
	if in.Actor == "" {
		return nil, domain.NewValidationError("actor", "actor is required")
	}
	if err := validateFields(in.Fields); err != nil {
		return nil, err
	}

	doc, err := s.store.Get(ctx, in.TenantID, in.ID)
	if err != nil {
		return nil, err
	}
	if err := authorize(doc, in.Clearance); err != nil {
		return nil, err
	}
	if doc.IsClassified() {
		return existing(doc), nil
	}
	if doc.IsDeleted() {
		return nil, domain.NewInvalidTransitionError(classifyTransition, preDeleted)
	}

	scheme := s.registry.For(in.TenantID)
	candidate := *doc
	in.Fields.Apply(&candidate)
	bucket, hasSequence, err := scheme.BucketFor(&candidate, now)
	if err != nil {
		return nil, err
	}
	logger := observability.WithDocumentContext(s.logger, in.TenantID, in.ID.String())
	if hasSequence {
		logger = observability.WithBucketContext(logger, bucket.Key())
		if s.locker != nil {
			release, err := s.locker.Acquire(ctx, bucket.Key())
			if err != nil {
				return nil, fmt.Errorf("acquire bucket lock: %w", err)
			}
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					logger.Warn().Err(err).Msg("failed to release bucket lock")
				}
			}()
		}
	}

	result, err := s.classifyOnce(ctx, in, scheme, now, false)
	if errors.Is(err, domain.ErrDuplicateControlNumber) {
		s.metrics.RecordAllocationRetry()
		logger.Warn().Err(err).Msg("control number collided, retrying with reconciled sequence")

		first := err
		result, err = s.classifyOnce(ctx, in, scheme, now, true)
		if errors.Is(err, domain.ErrDuplicateControlNumber) {
			s.metrics.RecordAllocationConflict()
			logger.Error().Err(err).AnErr("first_error", first).Msg("control number collided after retry")
			return nil, &domain.AllocationConflictError{Bucket: bucket.Key(), Attempts: 2, Cause: err}
		}
	}
	if err != nil {
		return nil, err
	}
	if result.AlreadyClassified {
		return result, nil
	}

	logger.Info().
		Str("control_number", result.ControlNumber).
		Time("date_classified", result.DateClassified).
		Msg("document classified")

	s.propagate(ctx, result.Document, classifyTransition)
	return result, nil
}

// classifyOnce runs one allocation attempt in its own transaction.
func (s *Service) classifyOnce(ctx context.Context, in ClassifyInput, scheme controlnumber.Scheme, now time.Time, reconcile bool) (*ClassifyResult, error) {
	var result *ClassifyResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		doc, err := tx.GetForUpdate(ctx, in.TenantID, in.ID)
		if err != nil {
			return err
		}
		if err := authorize(doc, in.Clearance); err != nil {
			return err
		}
		// A concurrent request may have classified it since the first read.
		if doc.IsClassified() {
			result = existing(doc)
			return nil
		}
		if doc.IsDeleted() {
			return domain.NewInvalidTransitionError(classifyTransition, preDeleted)
		}

		in.Fields.Apply(doc)
		var opts []controlnumber.GenerateOption
		if reconcile {
			opts = append(opts, controlnumber.WithReconcile())
		}
		code, err := s.composer.Generate(ctx, tx, scheme, doc, now, opts...)
		if err != nil {
			return fmt.Errorf("generate control number: %w", err)
		}
		bucket, hasSequence, err := scheme.BucketFor(doc, now)
		if err != nil {
			return err
		}
		var issued *sequence.Bucket
		if hasSequence {
			issued = &bucket
		}

		updated, err := tx.PersistClassification(ctx, in.TenantID, in.ID, code, issued, now, in.Fields)
		if err != nil {
			return err
		}
		updated.UpdatedBy = in.Actor
		updated.UpdatedAt = now
		if err := tx.Save(ctx, updated); err != nil {
			return err
		}

		if err := s.appendEvent(ctx, tx, updated, domain.EventTypeDocumentClassified, domain.DocumentClassifiedPayload{
			DocumentID:        updated.ID,
			TenantID:          updated.TenantID,
			ControlNumber:     code,
			DateClassified:    now,
			Type:              updated.Type,
			Classification:    updated.Classification,
			SubClassification: updated.SubClassification,
			ClassifiedBy:      in.Actor,
		}, now); err != nil {
			return err
		}

		result = &ClassifyResult{ControlNumber: code, DateClassified: now, Document: updated}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransitionInput names a lifecycle transition on a document.
type TransitionInput struct {
	TenantID  string
	ID        uuid.UUID
	Name      Transition
	Payload   TransitionPayload
	Actor     string
	Clearance *int
}

// Transition applies a named lifecycle transition and returns the updated document.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (*domain.Document, error) {
	if in.Actor == "" {
		return nil, domain.NewValidationError("actor", "actor is required")
	}
	if !in.Name.IsValid() {
		return nil, domain.NewValidationError("transition", "unknown transition "+string(in.Name))
	}

	now := s.clock()
	var doc *domain.Document
	var previousType domain.DocumentType
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		d, err := tx.GetForUpdate(ctx, in.TenantID, in.ID)
		if err != nil {
			return err
		}
		if err := authorize(d, in.Clearance); err != nil {
			return err
		}
		previousType = d.Type

		ch, err := apply(d, in.Name, in.Payload, in.Actor, now)
		if err != nil {
			return err
		}
		if err := tx.Save(ctx, d); err != nil {
			return err
		}
		if ch != nil {
			if err := s.appendEvent(ctx, tx, d, ch.eventType, ch.payload, now); err != nil {
				return err
			}
		}
		doc = d
		return nil
	})

	outcome := resultOK
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrForbidden):
		outcome = resultRejected
	case err != nil:
		outcome = resultFailed
	}
	s.metrics.RecordTransition(string(in.Name), outcome)
	if err != nil {
		return nil, err
	}

	logger := observability.WithDocumentContext(s.logger, in.TenantID, in.ID.String())
	logger.Info().
		Str("transition", string(in.Name)).
		Str("actor", in.Actor).
		Msg("document transitioned")

	if in.Name == TransitionChangeType && doc.Type != previousType {
		s.propagate(ctx, doc, string(in.Name))
	}
	return doc, nil
}

// propagate updates derived records after commit. Failures are logged and
// counted but never undo the committed change.
func (s *Service) propagate(ctx context.Context, doc *domain.Document, trigger string) {
	if s.derived == nil || doc == nil {
		return
	}
	if err := s.derived.UpdateDerivedRecords(ctx, doc.TenantID, doc.ID, domain.DerivedFieldsOf(doc)); err != nil {
		s.metrics.RecordPropagationFailure(trigger)
		logger := observability.WithDocumentContext(s.logger, doc.TenantID, doc.ID.String())
		logger.Warn().
			Err(err).
			Str("trigger", trigger).
			Msg("failed to update derived records")
	}
}

func (s *Service) appendEvent(ctx context.Context, tx repository.Tx, doc *domain.Document, eventType string, payload interface{}, now time.Time) error {
	actor := doc.UpdatedBy
	if actor == "" {
		actor = doc.CreatedBy
	}
	event, err := s.emitter.Emit(ctx, outbox.EmitParams{
		DocumentID: doc.ID.String(),
		TenantID:   doc.TenantID,
		EventType:  eventType,
		Payload:    payload,
		Actor:      actor,
		OccurredAt: now,
	})
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

func existing(doc *domain.Document) *ClassifyResult {
	r := &ClassifyResult{ControlNumber: *doc.ControlNumber, AlreadyClassified: true, Document: doc}
	if doc.DateClassified != nil {
		r.DateClassified = *doc.DateClassified
	}
	return r
}

func validateFields(f domain.ClassificationFields) error {
	if f.Type != nil && !f.Type.IsValid() {
		return domain.NewValidationError("type", "unknown document type "+string(*f.Type))
	}
	if f.ConfidentialityLevel != nil && *f.ConfidentialityLevel < 0 {
		return domain.NewValidationError("confidentiality_level", "must not be negative")
	}
	return nil
}
