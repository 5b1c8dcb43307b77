package controlnumber

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/rules"
	"github.com/helixir/records-service/internal/sequence"
)

// memSource is an in-memory sequence.Source backed by a document list and a
// counter table. Each document keeps the bucket it was issued from.
type memSource struct {
	docs     []*domain.Document
	buckets  map[uuid.UUID]sequence.Bucket
	counters map[string]int64
	finds    int
}

func newMemSource() *memSource {
	return &memSource{buckets: map[uuid.UUID]sequence.Bucket{}, counters: map[string]int64{}}
}

func (m *memSource) LockBucket(context.Context, sequence.Bucket) error { return nil }

func (m *memSource) FindLatestInBucket(_ context.Context, p sequence.BucketPredicate) (*domain.Document, error) {
	m.finds++
	var latest *domain.Document
	for _, d := range m.docs {
		if d.TenantID != p.TenantID || !d.IsClassified() || d.DateClassified == nil {
			continue
		}
		if p.ExcludeDeleted && d.IsDeleted() {
			continue
		}
		if b := m.buckets[d.ID]; b.CategoryKind != p.CategoryKind || b.CategoryValue != p.CategoryValue {
			continue
		}
		if p.WindowStart != nil && d.DateClassified.Before(*p.WindowStart) {
			continue
		}
		if p.WindowEnd != nil && d.DateClassified.After(*p.WindowEnd) {
			continue
		}
		if latest == nil || d.DateClassified.After(*latest.DateClassified) {
			latest = d
		}
	}
	return latest, nil
}

func (m *memSource) IncrementCounter(_ context.Context, b sequence.Bucket, start, increment int64) (int64, error) {
	v, ok := m.counters[b.Key()]
	if !ok {
		m.counters[b.Key()] = start
		return start, nil
	}
	m.counters[b.Key()] = v + increment
	return v + increment, nil
}

func (m *memSource) RaiseCounter(_ context.Context, b sequence.Bucket, floor int64) error {
	if v, ok := m.counters[b.Key()]; !ok || v < floor {
		m.counters[b.Key()] = floor
	}
	return nil
}

// classify composes and records a control number like the lifecycle does.
func (m *memSource) classify(t *testing.T, c *Composer, scheme Scheme, doc *domain.Document, now time.Time) string {
	t.Helper()
	code, err := c.Generate(context.Background(), m, scheme, doc, now)
	require.NoError(t, err)
	m.issue(t, scheme, doc, code, now)
	return code
}

// issue records doc as classified with code at instant at.
func (m *memSource) issue(t *testing.T, scheme Scheme, doc *domain.Document, code string, at time.Time) {
	t.Helper()
	bucket, ok, err := scheme.BucketFor(doc, at)
	require.NoError(t, err)
	if ok {
		m.buckets[doc.ID] = bucket
	}
	doc.ControlNumber = &code
	doc.DateClassified = &at
	m.docs = append(m.docs, doc)
}

func newDoc(docType domain.DocumentType) *domain.Document {
	return &domain.Document{
		ID:       uuid.New(),
		TenantID: "tenant-1",
		Type:     docType,
		Status:   domain.DocumentStatusActive,
	}
}

// scenarioScheme: type letter, 3-digit monthly sequence bucketed by type, month.
func scenarioScheme() Scheme {
	return Scheme{
		Separator: "-",
		Segments: []Segment{
			{
				Kind:    SegmentField,
				Field:   domain.FieldType,
				Rules:   []rules.Rule{{When: rules.Equals(domain.FieldType, "Incoming"), Symbol: "R"}},
				Default: "X",
			},
			{Kind: SegmentSequence, Reset: sequence.ResetMonthly, PadWidth: 3, Increment: 1, Start: 1, BucketKey: domain.FieldType},
			{Kind: SegmentMonth},
		},
	}
}

func TestComposer_Scenarios(t *testing.T) {
	jan1 := time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC)
	jan2 := time.Date(2024, time.January, 11, 9, 0, 0, 0, time.UTC)
	feb := time.Date(2024, time.February, 3, 9, 0, 0, 0, time.UTC)

	for _, strategy := range []string{sequence.StrategyCounter, sequence.StrategyHistory} {
		t.Run(strategy, func(t *testing.T) {
			alloc, err := sequence.New(strategy, zerolog.Nop(), nil)
			require.NoError(t, err)
			c := NewComposer(alloc, zerolog.Nop())
			src := newMemSource()
			scheme := scenarioScheme()
			require.NoError(t, scheme.Validate())

			assert.Equal(t, "R-001-1", src.classify(t, c, scheme, newDoc(domain.DocumentTypeIncoming), jan1))
			assert.Equal(t, "R-002-1", src.classify(t, c, scheme, newDoc(domain.DocumentTypeIncoming), jan2))
			assert.Equal(t, "R-001-2", src.classify(t, c, scheme, newDoc(domain.DocumentTypeIncoming), feb))
			assert.Equal(t, "X-001-2", src.classify(t, c, scheme, newDoc(domain.DocumentTypeOutgoing), feb))
		})
	}
}

func TestComposer_TypesSharingASymbolShareASequence(t *testing.T) {
	now := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	for _, strategy := range []string{sequence.StrategyCounter, sequence.StrategyHistory} {
		t.Run(strategy, func(t *testing.T) {
			alloc, err := sequence.New(strategy, zerolog.Nop(), nil)
			require.NoError(t, err)
			c := NewComposer(alloc, zerolog.Nop())
			src := newMemSource()
			scheme := scenarioScheme()

			// Outgoing and Internal both fall through to the default symbol.
			assert.Equal(t, "X-001-3", src.classify(t, c, scheme, newDoc(domain.DocumentTypeOutgoing), now))
			assert.Equal(t, "X-002-3", src.classify(t, c, scheme, newDoc(domain.DocumentTypeInternal), now.Add(time.Minute)))
			assert.Equal(t, "X-003-3", src.classify(t, c, scheme, newDoc(domain.DocumentTypeOutgoing), now.Add(2*time.Minute)))
			assert.Equal(t, "R-001-3", src.classify(t, c, scheme, newDoc(domain.DocumentTypeIncoming), now.Add(3*time.Minute)))
		})
	}
}

func TestComposer_HistoryFollowsIssuedBucket(t *testing.T) {
	alloc, err := sequence.New(sequence.StrategyHistory, zerolog.Nop(), nil)
	require.NoError(t, err)
	c := NewComposer(alloc, zerolog.Nop())
	src := newMemSource()
	scheme := scenarioScheme()
	now := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "R-001-3", src.classify(t, c, scheme, newDoc(domain.DocumentTypeIncoming), now))
	moved := newDoc(domain.DocumentTypeIncoming)
	assert.Equal(t, "R-002-3", src.classify(t, c, scheme, moved, now.Add(time.Minute)))

	// The document keeps its number after its type changes.
	moved.Type = domain.DocumentTypeOutgoing

	assert.Equal(t, "R-003-3", src.classify(t, c, scheme, newDoc(domain.DocumentTypeIncoming), now.Add(2*time.Minute)))
}

func TestScheme_Stem(t *testing.T) {
	full := DefaultScheme()
	full.Segments = append(full.Segments, Segment{
		Kind:    SegmentField,
		Field:   domain.FieldSubClassification,
		Rules:   []rules.Rule{{When: rules.Equals(domain.FieldSubClassification, "Directive"), Symbol: "D"}},
		Default: "G",
	})

	directive := newDoc(domain.DocumentTypeIncoming)
	directive.SubClassification = "Directive"

	tests := []struct {
		name   string
		scheme Scheme
		doc    *domain.Document
		want   string
	}{
		{"incoming", scenarioScheme(), newDoc(domain.DocumentTypeIncoming), "R"},
		{"outgoing falls back to default", scenarioScheme(), newDoc(domain.DocumentTypeOutgoing), "X"},
		{"internal falls back to default", scenarioScheme(), newDoc(domain.DocumentTypeInternal), "X"},
		{"several field segments", full, directive, "R-D"},
		{"no field segments", Scheme{Separator: "/", Segments: []Segment{{Kind: SegmentYear2}}}, newDoc(domain.DocumentTypeIncoming), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.scheme.Stem(tt.doc))
		})
	}

	now := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	out, _, err := scenarioScheme().BucketFor(newDoc(domain.DocumentTypeOutgoing), now)
	require.NoError(t, err)
	internal, _, err := scenarioScheme().BucketFor(newDoc(domain.DocumentTypeInternal), now)
	require.NoError(t, err)
	assert.Equal(t, out.Key(), internal.Key())
	assert.Equal(t, "X", out.CategoryValue)
	assert.Equal(t, domain.FieldType, out.CategoryKind)
}

func TestComposer_WindowResetIgnoresLargePriorValue(t *testing.T) {
	alloc, err := sequence.New(sequence.StrategyHistory, zerolog.Nop(), nil)
	require.NoError(t, err)
	c := NewComposer(alloc, zerolog.Nop())
	src := newMemSource()

	src.issue(t, scenarioScheme(), newDoc(domain.DocumentTypeIncoming), "R-987-1", time.Date(2024, time.January, 31, 23, 59, 0, 0, time.UTC))

	got := src.classify(t, c, scenarioScheme(), newDoc(domain.DocumentTypeIncoming), time.Date(2024, time.February, 1, 0, 1, 0, 0, time.UTC))
	assert.Equal(t, "R-001-2", got)
}

func TestComposer_DeletedDocumentsLeaveBucketHistory(t *testing.T) {
	alloc, err := sequence.New(sequence.StrategyHistory, zerolog.Nop(), nil)
	require.NoError(t, err)
	c := NewComposer(alloc, zerolog.Nop())
	src := newMemSource()
	now := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	first := newDoc(domain.DocumentTypeIncoming)
	assert.Equal(t, "R-001-3", src.classify(t, c, scenarioScheme(), first, now))
	first.Status = domain.DocumentStatusDeleted

	assert.Equal(t, "R-001-3", src.classify(t, c, scenarioScheme(), newDoc(domain.DocumentTypeIncoming), now.Add(time.Minute)))

	retry, err := c.Generate(context.Background(), src, scenarioScheme(), newDoc(domain.DocumentTypeIncoming), now.Add(2*time.Minute), WithReconcile())
	require.NoError(t, err)
	assert.Equal(t, "R-002-3", retry)
}

func TestComposer_EmptySegmentKeepsPosition(t *testing.T) {
	alloc, err := sequence.New(sequence.StrategyHistory, zerolog.Nop(), nil)
	require.NoError(t, err)
	c := NewComposer(alloc, zerolog.Nop())
	src := newMemSource()

	scheme := Scheme{
		Separator: "-",
		Segments: []Segment{
			{Kind: SegmentField, Field: domain.FieldSubClassification, Default: ""},
			{Kind: SegmentSequence, Reset: sequence.ResetYearly, PadWidth: 4, Increment: 1, Start: 1, BucketKey: domain.FieldType},
			{Kind: SegmentYear2},
		},
	}
	require.NoError(t, scheme.Validate())
	now := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "-0001-24", src.classify(t, c, scheme, newDoc(domain.DocumentTypeInternal), now))
	assert.Equal(t, "-0002-24", src.classify(t, c, scheme, newDoc(domain.DocumentTypeInternal), now.Add(time.Hour)))
}

func TestComposer_FullLayout(t *testing.T) {
	alloc, err := sequence.New(sequence.StrategyCounter, zerolog.Nop(), nil)
	require.NoError(t, err)
	c := NewComposer(alloc, zerolog.Nop())
	src := newMemSource()

	scheme := DefaultScheme()
	scheme.Segments = append(scheme.Segments, Segment{
		Kind:    SegmentField,
		Field:   domain.FieldSubClassification,
		Rules:   []rules.Rule{{When: rules.In(domain.FieldSubClassification, "Directive", "Decree"), Symbol: "D"}},
		Default: "G",
	})
	require.NoError(t, scheme.Validate())

	doc := newDoc(domain.DocumentTypeIncoming)
	doc.SubClassification = "Directive"
	got := src.classify(t, c, scheme, doc, time.Date(2024, time.November, 14, 9, 0, 0, 0, time.UTC))
	assert.Equal(t, "R-001-11-24-D", got)
}

func TestComposer_Determinism(t *testing.T) {
	now := time.Date(2024, time.April, 2, 9, 0, 0, 0, time.UTC)
	scheme := DefaultScheme()

	gen := func() string {
		alloc, err := sequence.New(sequence.StrategyHistory, zerolog.Nop(), nil)
		require.NoError(t, err)
		src := newMemSource()
		code, err := NewComposer(alloc, zerolog.Nop()).Generate(context.Background(), src, scheme, newDoc(domain.DocumentTypeOutgoing), now)
		require.NoError(t, err)
		return code
	}

	assert.Equal(t, gen(), gen())
}

func TestComposer_RoundTrip(t *testing.T) {
	alloc, err := sequence.New(sequence.StrategyCounter, zerolog.Nop(), nil)
	require.NoError(t, err)
	c := NewComposer(alloc, zerolog.Nop())
	src := newMemSource()
	scheme := DefaultScheme()
	pos, ok := scheme.SequencePosition()
	require.True(t, ok)

	now := time.Date(2024, time.August, 8, 8, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 25; i++ {
		code := src.classify(t, c, scheme, newDoc(domain.DocumentTypeIncoming), now.Add(time.Duration(i)*time.Minute))
		parsed, err := sequence.ParseSegment(code, scheme.Separator, pos)
		require.NoError(t, err)
		assert.Equal(t, i, parsed)
	}
}

func TestComposer_ReconcileSkipsIssuedValues(t *testing.T) {
	alloc, err := sequence.New(sequence.StrategyCounter, zerolog.Nop(), nil)
	require.NoError(t, err)
	c := NewComposer(alloc, zerolog.Nop())
	src := newMemSource()
	now := time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC)

	// History issued before the counter table existed.
	src.issue(t, scenarioScheme(), newDoc(domain.DocumentTypeIncoming), "R-005-1", now.Add(-time.Hour))

	first, err := c.Generate(context.Background(), src, scenarioScheme(), newDoc(domain.DocumentTypeIncoming), now)
	require.NoError(t, err)
	assert.Equal(t, "R-001-1", first)

	retry, err := c.Generate(context.Background(), src, scenarioScheme(), newDoc(domain.DocumentTypeIncoming), now, WithReconcile())
	require.NoError(t, err)
	assert.Equal(t, "R-006-1", retry)
}

type failingAllocator struct{ err error }

func (f failingAllocator) Name() string { return "failing" }

func (f failingAllocator) Next(context.Context, sequence.Source, sequence.Request) (sequence.Allocation, error) {
	return sequence.Allocation{}, f.err
}

func TestComposer_AllocatorError(t *testing.T) {
	boom := errors.New("boom")
	c := NewComposer(failingAllocator{err: boom}, zerolog.Nop())

	_, err := c.Generate(context.Background(), newMemSource(), scenarioScheme(), newDoc(domain.DocumentTypeIncoming), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestComposer_NoSequenceSegmentNeverReads(t *testing.T) {
	c := NewComposer(failingAllocator{err: errors.New("must not be called")}, zerolog.Nop())
	src := newMemSource()
	scheme := Scheme{Separator: "/", Segments: []Segment{{Kind: SegmentMonth, PadWidth: 2}, {Kind: SegmentYear2}}}

	code, err := c.Generate(context.Background(), src, scheme, newDoc(domain.DocumentTypeIncoming), time.Date(2031, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "03/31", code)
	assert.Zero(t, src.finds)
}
