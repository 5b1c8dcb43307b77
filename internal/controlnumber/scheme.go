// Package controlnumber composes control numbers from an ordered pipeline of
// segment producers declared in a Scheme.
//
// A scheme such as
//
//	separator: "-"
//	segments:
//	  - kind: field      # R / S / I ... from the document type
//	  - kind: sequence   # 001, 002 ... per type and month
//	  - kind: month      # 11
//	  - kind: year2      # 24
//
// yields codes like R-001-11-24. Every segment keeps its position even when it
// renders empty, so the sequence segment can be parsed back out of issued codes.
package controlnumber

import (
	"errors"
	"fmt"
	"strings"

	"github.com/helixir/records-service/internal/domain"
	"github.com/helixir/records-service/internal/rules"
	"github.com/helixir/records-service/internal/sequence"
)

// ErrInvalidScheme is returned by Scheme.Validate.
var ErrInvalidScheme = errors.New("invalid control number scheme")

// SegmentKind identifies a pipeline stage.
type SegmentKind string

// Segment kinds.
const (
	SegmentField    SegmentKind = "field"
	SegmentSequence SegmentKind = "sequence"
	SegmentMonth    SegmentKind = "month"
	SegmentYear2    SegmentKind = "year2"
)

// Segment declares one stage of the pipeline. Only the members relevant to
// Kind are used.
type Segment struct {
	Kind SegmentKind `mapstructure:"kind"`

	// field
	Field   string       `mapstructure:"field"`
	Rules   []rules.Rule `mapstructure:"rules"`
	Default string       `mapstructure:"default"`

	// sequence (PadWidth also applies to month)
	Reset     sequence.ResetPolicy `mapstructure:"reset"`
	PadWidth  int                  `mapstructure:"pad_width"`
	Increment int64                `mapstructure:"increment"`
	Start     int64                `mapstructure:"start"`
	BucketKey string               `mapstructure:"bucket_key"`
}

// Scheme is an immutable control number layout.
type Scheme struct {
	Separator string    `mapstructure:"separator"`
	Segments  []Segment `mapstructure:"segments"`
}

// bucketKeys are the document fields a sequence may be bucketed by.
var bucketKeys = map[string]bool{
	domain.FieldType:              true,
	domain.FieldClassification:    true,
	domain.FieldSubClassification: true,
}

// Validate checks the scheme for configuration errors.
func (s Scheme) Validate() error {
	if s.Separator == "" {
		return fmt.Errorf("%w: separator is required", ErrInvalidScheme)
	}
	if len(s.Segments) == 0 {
		return fmt.Errorf("%w: at least one segment is required", ErrInvalidScheme)
	}

	sequences := 0
	for i, seg := range s.Segments {
		if err := s.validateSegment(seg); err != nil {
			return fmt.Errorf("%w: segment %d (%s): %v", ErrInvalidScheme, i, seg.Kind, err)
		}
		if seg.Kind == SegmentSequence {
			sequences++
		}
	}
	if sequences > 1 {
		return fmt.Errorf("%w: at most one sequence segment is allowed, got %d", ErrInvalidScheme, sequences)
	}
	return nil
}

func (s Scheme) validateSegment(seg Segment) error {
	switch seg.Kind {
	case SegmentField:
		if seg.Field == "" {
			return errors.New("field is required")
		}
		if err := rules.ValidateRules(seg.Rules); err != nil {
			return err
		}
		if strings.Contains(seg.Default, s.Separator) {
			return fmt.Errorf("default %q contains the separator", seg.Default)
		}
		for _, r := range seg.Rules {
			if strings.Contains(r.Symbol, s.Separator) {
				return fmt.Errorf("symbol %q contains the separator", r.Symbol)
			}
		}
	case SegmentSequence:
		if !seg.Reset.IsValid() {
			return fmt.Errorf("%w: %q", sequence.ErrUnknownResetPolicy, seg.Reset)
		}
		if seg.PadWidth < 1 {
			return errors.New("pad_width must be at least 1")
		}
		if seg.Increment < 1 {
			return errors.New("increment must be at least 1")
		}
		if seg.Start < 0 {
			return errors.New("start must not be negative")
		}
		if !bucketKeys[seg.BucketKey] {
			return fmt.Errorf("unknown bucket_key %q", seg.BucketKey)
		}
	case SegmentMonth, SegmentYear2:
		if seg.PadWidth < 0 {
			return errors.New("pad_width must not be negative")
		}
	default:
		return errors.New("unknown segment kind")
	}
	return nil
}

// SequencePosition returns the index of the sequence segment.
func (s Scheme) SequencePosition() (int, bool) {
	for i, seg := range s.Segments {
		if seg.Kind == SegmentSequence {
			return i, true
		}
	}
	return 0, false
}

// Clone returns a deep copy of the scheme.
func (s Scheme) Clone() Scheme {
	out := Scheme{Separator: s.Separator, Segments: make([]Segment, len(s.Segments))}
	for i, seg := range s.Segments {
		seg.Rules = cloneRules(seg.Rules)
		out.Segments[i] = seg
	}
	return out
}

func cloneRules(in []rules.Rule) []rules.Rule {
	if in == nil {
		return nil
	}
	out := make([]rules.Rule, len(in))
	for i, r := range in {
		out[i] = rules.Rule{When: cloneCondition(r.When), Symbol: r.Symbol}
	}
	return out
}

func cloneCondition(c rules.Condition) rules.Condition {
	if c.Values != nil {
		c.Values = append([]string(nil), c.Values...)
	}
	if c.Not != nil {
		inner := cloneCondition(*c.Not)
		c.Not = &inner
	}
	return c
}

// DefaultScheme is the layout used when no scheme is configured:
// type letter, three-digit monthly sequence per type, month, two-digit year.
func DefaultScheme() Scheme {
	return Scheme{
		Separator: "-",
		Segments: []Segment{
			{
				Kind:  SegmentField,
				Field: domain.FieldType,
				Rules: []rules.Rule{
					{When: rules.Equals(domain.FieldType, string(domain.DocumentTypeIncoming)), Symbol: "R"},
					{When: rules.Equals(domain.FieldType, string(domain.DocumentTypeOutgoing)), Symbol: "S"},
					{When: rules.Equals(domain.FieldType, string(domain.DocumentTypeInternal)), Symbol: "I"},
					{When: rules.Equals(domain.FieldType, string(domain.DocumentTypeArchived)), Symbol: "A"},
				},
				Default: "X",
			},
			{
				Kind:      SegmentSequence,
				Reset:     sequence.ResetMonthly,
				PadWidth:  3,
				Increment: 1,
				Start:     1,
				BucketKey: domain.FieldType,
			},
			{Kind: SegmentMonth},
			{Kind: SegmentYear2},
		},
	}
}
