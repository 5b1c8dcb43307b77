package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/repository"
	"github.com/helixir/records-service/internal/sequence"
)

// memStore is an in-memory repository.Store. Transactions stage their writes
// and apply them on commit; row and bucket locks are held until the
// transaction ends, and control numbers are unique per tenant and window.
type memStore struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]*domain.Document
	buckets  map[uuid.UUID]issuedBucket
	counters map[string]int64
	events   []*domain.OutboxEvent

	locks keyedMutex

	gets      int
	finds     int
	increment int

	appendErr error
}

var _ repository.Store = (*memStore)(nil)

// issuedBucket is the bucket a document's control number was drawn from.
type issuedBucket struct {
	kind, value, window string
}

func newMemStore() *memStore {
	return &memStore{
		docs:     map[uuid.UUID]*domain.Document{},
		buckets:  map[uuid.UUID]issuedBucket{},
		counters: map[string]int64{},
	}
}

// seed stores documents as already committed. Classified documents are
// recorded in the bucket scenarioScheme assigns them.
func (s *memStore) seed(docs ...*domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.docs[d.ID] = cloneDoc(d)
		if d.DateClassified == nil {
			continue
		}
		if b, ok, err := scenarioScheme().BucketFor(d, *d.DateClassified); err == nil && ok {
			s.buckets[d.ID] = issuedBucket{kind: b.CategoryKind, value: b.CategoryValue, window: b.Window.Key()}
		}
	}
}

func (s *memStore) doc(id uuid.UUID) *domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[id]; ok {
		return cloneDoc(d)
	}
	return nil
}

func (s *memStore) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *memStore) Get(_ context.Context, tenantID string, id uuid.UUID) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	d, ok := s.docs[id]
	if !ok || d.TenantID != tenantID {
		return nil, domain.NewNotFoundError("document", id.String())
	}
	return cloneDoc(d), nil
}

func (s *memStore) List(_ context.Context, filter repository.DocumentFilter) ([]*domain.Document, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Document
	for _, d := range s.docs {
		if d.TenantID != filter.TenantID {
			continue
		}
		if filter.MaxConfidentiality != nil && !d.VisibleTo(*filter.MaxConfidentiality) {
			continue
		}
		out = append(out, cloneDoc(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx := &memTx{
		s:        s,
		docs:     map[uuid.UUID]*domain.Document{},
		buckets:  map[uuid.UUID]issuedBucket{},
		counters: map[string]int64{},
		held:     map[string]bool{},
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s        *memStore
	docs     map[uuid.UUID]*domain.Document
	buckets  map[uuid.UUID]issuedBucket
	counters map[string]int64
	events   []*domain.OutboxEvent
	held     map[string]bool
	unlocks  []func()
}

func (tx *memTx) lock(key string) {
	if tx.held[key] {
		return
	}
	tx.unlocks = append(tx.unlocks, tx.s.locks.lock(key))
	tx.held[key] = true
}

func (tx *memTx) release() {
	for i := len(tx.unlocks) - 1; i >= 0; i-- {
		tx.unlocks[i]()
	}
}

func (tx *memTx) commit() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for id, d := range tx.docs {
		tx.s.docs[id] = d
	}
	for id, b := range tx.buckets {
		tx.s.buckets[id] = b
	}
	for k, v := range tx.counters {
		tx.s.counters[k] = v
	}
	tx.s.events = append(tx.s.events, tx.events...)
}

// view returns the document as seen by this transaction. Callers hold s.mu.
func (tx *memTx) view(id uuid.UUID) *domain.Document {
	if d, ok := tx.docs[id]; ok {
		return d
	}
	return tx.s.docs[id]
}

// bucketOf returns the bucket recorded for id. Callers hold s.mu.
func (tx *memTx) bucketOf(id uuid.UUID) issuedBucket {
	if b, ok := tx.buckets[id]; ok {
		return b
	}
	return tx.s.buckets[id]
}

// all returns every document as seen by this transaction. Callers hold s.mu.
func (tx *memTx) all() []*domain.Document {
	out := make([]*domain.Document, 0, len(tx.s.docs)+len(tx.docs))
	for id, d := range tx.s.docs {
		if _, staged := tx.docs[id]; !staged {
			out = append(out, d)
		}
	}
	for _, d := range tx.docs {
		out = append(out, d)
	}
	return out
}

func (tx *memTx) LockBucket(_ context.Context, bucket sequence.Bucket) error {
	tx.lock("bucket:" + bucket.Key())
	return nil
}

func (tx *memTx) FindLatestInBucket(_ context.Context, p sequence.BucketPredicate) (*domain.Document, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.finds++

	var latest *domain.Document
	for _, d := range tx.all() {
		if d.TenantID != p.TenantID || !d.IsClassified() || d.DateClassified == nil {
			continue
		}
		if p.ExcludeDeleted && d.IsDeleted() {
			continue
		}
		if b := tx.bucketOf(d.ID); b.kind != p.CategoryKind || b.value != p.CategoryValue {
			continue
		}
		if p.WindowStart != nil && d.DateClassified.Before(*p.WindowStart) {
			continue
		}
		if p.WindowEnd != nil && d.DateClassified.After(*p.WindowEnd) {
			continue
		}
		if latest == nil || d.DateClassified.After(*latest.DateClassified) ||
			(d.DateClassified.Equal(*latest.DateClassified) && *d.ControlNumber > *latest.ControlNumber) {
			latest = d
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneDoc(latest), nil
}

func (tx *memTx) counter(key string) (int64, bool) {
	if v, ok := tx.counters[key]; ok {
		return v, true
	}
	v, ok := tx.s.counters[key]
	return v, ok
}

func (tx *memTx) IncrementCounter(_ context.Context, bucket sequence.Bucket, start, increment int64) (int64, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	tx.s.increment++

	key := bucket.Key()
	v, ok := tx.counter(key)
	if !ok {
		v = start
	} else {
		v += increment
	}
	tx.counters[key] = v
	return v, nil
}

func (tx *memTx) RaiseCounter(_ context.Context, bucket sequence.Bucket, floor int64) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	key := bucket.Key()
	if v, ok := tx.counter(key); !ok || v < floor {
		tx.counters[key] = floor
	}
	return nil
}

func (tx *memTx) GetForUpdate(_ context.Context, tenantID string, id uuid.UUID) (*domain.Document, error) {
	tx.lock("doc:" + id.String())

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	d := tx.view(id)
	if d == nil || d.TenantID != tenantID {
		return nil, domain.NewNotFoundError("document", id.String())
	}
	return cloneDoc(d), nil
}

func (tx *memTx) Create(_ context.Context, doc *domain.Document) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.view(doc.ID) != nil {
		return domain.NewAlreadyExistsError("document", doc.ID.String())
	}
	tx.docs[doc.ID] = cloneDoc(doc)
	return nil
}

func (tx *memTx) Save(_ context.Context, doc *domain.Document) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	current := tx.view(doc.ID)
	if current == nil || current.TenantID != doc.TenantID {
		return domain.NewNotFoundError("document", doc.ID.String())
	}
	tx.docs[doc.ID] = cloneDoc(doc)
	return nil
}

func (tx *memTx) PersistClassification(_ context.Context, tenantID string, id uuid.UUID, controlNumber string, bucket *sequence.Bucket, dateClassified time.Time, fields domain.ClassificationFields) (*domain.Document, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()

	current := tx.view(id)
	if current == nil || current.TenantID != tenantID || current.IsClassified() {
		return nil, domain.NewNotFoundError("unclassified document", id.String())
	}
	var issued issuedBucket
	if bucket != nil {
		issued = issuedBucket{kind: bucket.CategoryKind, value: bucket.CategoryValue, window: bucket.Window.Key()}
	}
	for _, d := range tx.all() {
		if d.ID != id && d.TenantID == tenantID && d.ControlNumber != nil && *d.ControlNumber == controlNumber &&
			tx.bucketOf(d.ID).window == issued.window {
			return nil, &domain.DuplicateControlNumberError{TenantID: tenantID, ControlNumber: controlNumber}
		}
	}

	updated := cloneDoc(current)
	fields.Apply(updated)
	code, at := controlNumber, dateClassified
	updated.ControlNumber = &code
	updated.DateClassified = &at
	updated.UpdatedAt = dateClassified
	tx.docs[id] = updated
	tx.buckets[id] = issued
	return cloneDoc(updated), nil
}

func (tx *memTx) AppendEvent(_ context.Context, event *domain.OutboxEvent) error {
	if tx.s.appendErr != nil {
		return tx.s.appendErr
	}
	tx.events = append(tx.events, event)
	return nil
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = map[string]*sync.Mutex{}
	}
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func cloneDoc(d *domain.Document) *domain.Document {
	c := *d
	c.AssignedTo = append([]string(nil), d.AssignedTo...)
	c.Included = append([]string(nil), d.Included...)
	c.Excluded = append([]string(nil), d.Excluded...)
	if d.ControlNumber != nil {
		v := *d.ControlNumber
		c.ControlNumber = &v
	}
	if d.DateClassified != nil {
		v := *d.DateClassified
		c.DateClassified = &v
	}
	if d.ConfidentialityLevel != nil {
		v := *d.ConfidentialityLevel
		c.ConfidentialityLevel = &v
	}
	if d.PreviousStatus != nil {
		v := *d.PreviousStatus
		c.PreviousStatus = &v
	}
	if d.FinalStatus != nil {
		v := *d.FinalStatus
		c.FinalStatus = &v
	}
	return &c
}
