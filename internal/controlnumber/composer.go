package controlnumber

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/rules"
	"github.com/helixir/records-service/internal/sequence"
)

// GenerateOption adjusts a single Generate call.
type GenerateOption func(*generateOptions)

type generateOptions struct {
	reconcile bool
}

// WithReconcile asks the sequence allocator to resynchronize with issued
// history first. Used when retrying after a duplicate control number.
func WithReconcile() GenerateOption {
	return func(o *generateOptions) { o.reconcile = true }
}

// Composer runs a scheme's pipeline against a document.
type Composer struct {
	allocator sequence.Allocator
	logger    zerolog.Logger
}

// NewComposer creates a composer that allocates sequence segments with allocator.
func NewComposer(allocator sequence.Allocator, logger zerolog.Logger) *Composer {
	return &Composer{
		allocator: allocator,
		logger:    logger.With().Str("component", "composer").Logger(),
	}
}

// Generate composes the control number for doc at instant now. Segments are
// produced in declared order and joined with the scheme separator; a segment
// that renders empty still occupies its position.
//
// When the scheme has a sequence segment, src must be scoped to the unit of
// work that will persist the returned code.
func (c *Composer) Generate(ctx context.Context, src sequence.Source, scheme Scheme, doc *domain.Document, now time.Time, opts ...GenerateOption) (string, error) {
	var o generateOptions
	for _, opt := range opts {
		opt(&o)
	}

	fields := doc.Fields()
	parts := make([]string, len(scheme.Segments))
	seqPos := -1
	for i, seg := range scheme.Segments {
		switch seg.Kind {
		case SegmentField:
			parts[i] = rules.Evaluate(fields, seg.Rules, seg.Default)

		case SegmentSequence:
			seqPos = i

		case SegmentMonth:
			parts[i] = pad(int(now.Month()), seg.PadWidth)

		case SegmentYear2:
			parts[i] = fmt.Sprintf("%02d", now.Year()%100)

		default:
			return "", fmt.Errorf("%w: unknown segment kind %q", ErrInvalidScheme, seg.Kind)
		}
	}

	if seqPos >= 0 {
		value, err := c.allocate(ctx, src, scheme, seqPos, doc, now, o.reconcile)
		if err != nil {
			return "", err
		}
		parts[seqPos] = value
	}

	return strings.Join(parts, scheme.Separator), nil
}

func (c *Composer) allocate(ctx context.Context, src sequence.Source, scheme Scheme, position int, doc *domain.Document, now time.Time, reconcile bool) (string, error) {
	seg := scheme.Segments[position]
	bucket, boundary, err := scheme.bucket(seg, doc, now)
	if err != nil {
		return "", err
	}

	req := sequence.Request{
		Bucket:    bucket,
		Boundary:  boundary,
		Separator: scheme.Separator,
		Position:  position,
		PadWidth:  seg.PadWidth,
		Increment: seg.Increment,
		Start:     seg.Start,
		Reconcile: reconcile,
	}

	alloc, err := c.allocator.Next(ctx, src, req)
	if err != nil {
		return "", fmt.Errorf("failed to allocate sequence: %w", err)
	}
	if alloc.Reset {
		c.logger.Info().
			Str("bucket", req.Bucket.Key()).
			Str("window", bucket.Window.String()).
			Msg("sequence restarted for new window")
	}
	return alloc.Formatted, nil
}

func pad(v, width int) string {
	if width <= 0 {
		return strconv.Itoa(v)
	}
	return fmt.Sprintf("%0*d", width, v)
}

// BucketFor returns the sequence bucket doc falls into at instant now.
// ok is false when the scheme has no sequence segment.
func (s Scheme) BucketFor(doc *domain.Document, now time.Time) (bucket sequence.Bucket, ok bool, err error) {
	pos, ok := s.SequencePosition()
	if !ok {
		return sequence.Bucket{}, false, nil
	}
	bucket, _, err = s.bucket(s.Segments[pos], doc, now)
	if err != nil {
		return sequence.Bucket{}, false, err
	}
	return bucket, true, nil
}

// Stem renders the field segments of the scheme for doc, joined with the
// separator. Documents sharing a stem share a sequence: their codes differ
// only in the sequence and calendar segments.
func (s Scheme) Stem(doc *domain.Document) string {
	fields := doc.Fields()
	var symbols []string
	for _, seg := range s.Segments {
		if seg.Kind == SegmentField {
			symbols = append(symbols, rules.Evaluate(fields, seg.Rules, seg.Default))
		}
	}
	return strings.Join(symbols, s.Separator)
}

func (s Scheme) bucket(seg Segment, doc *domain.Document, now time.Time) (sequence.Bucket, bool, error) {
	window, boundary, err := sequence.ResolveWindow(seg.Reset, now)
	if err != nil {
		return sequence.Bucket{}, false, err
	}
	if _, ok := doc.FieldValue(seg.BucketKey); !ok {
		return sequence.Bucket{}, false, fmt.Errorf("%w: unknown bucket_key %q", ErrInvalidScheme, seg.BucketKey)
	}
	return sequence.Bucket{
		TenantID:      doc.TenantID,
		CategoryKind:  seg.BucketKey,
		CategoryValue: s.Stem(doc),
		Window:        window,
	}, boundary, nil
}
