// Package rules evaluates declarative field conditions against a document
// context and maps the first matching rule to an output symbol.
//
// Conditions form a closed grammar of three operators:
//
//	equals: field X equals literal L
//	in:     field X is one of {L1, L2, ...}
//	not:    negation of a nested condition
//
// Conditions are plain data. They decode from configuration with
// mapstructure and are never executed as code.
package rules

import (
	"errors"
	"fmt"
	"strings"
)

// Op identifies a condition operator.
type Op string

// Supported operators.
const (
	OpEquals Op = "equals"
	OpIn     Op = "in"
	OpNot    Op = "not"
)

// ErrInvalidCondition is returned by Validate for malformed conditions.
var ErrInvalidCondition = errors.New("invalid condition")

// Condition is a tagged predicate over named fields of a context.
// Only the members relevant to Op are used.
type Condition struct {
	Op     Op         `mapstructure:"op" json:"op"`
	Field  string     `mapstructure:"field" json:"field,omitempty"`
	Value  string     `mapstructure:"value" json:"value,omitempty"`
	Values []string   `mapstructure:"values" json:"values,omitempty"`
	Not    *Condition `mapstructure:"not" json:"not,omitempty"`
}

// Equals matches when the field's value equals the literal.
func Equals(field, literal string) Condition {
	return Condition{Op: OpEquals, Field: field, Value: literal}
}

// In matches when the field's value is one of the literals.
func In(field string, literals ...string) Condition {
	return Condition{Op: OpIn, Field: field, Values: literals}
}

// Not negates a condition.
func Not(c Condition) Condition {
	return Condition{Op: OpNot, Not: &c}
}

// Match reports whether the condition holds for the given context.
// A field absent from the context never satisfies equals or in.
func (c Condition) Match(ctx map[string]any) bool {
	switch c.Op {
	case OpEquals:
		v, ok := lookup(ctx, c.Field)
		return ok && v == c.Value
	case OpIn:
		v, ok := lookup(ctx, c.Field)
		if !ok {
			return false
		}
		for _, candidate := range c.Values {
			if v == candidate {
				return true
			}
		}
		return false
	case OpNot:
		if c.Not == nil {
			return false
		}
		return !c.Not.Match(ctx)
	default:
		return false
	}
}

// Validate checks that the condition is well-formed.
func (c Condition) Validate() error {
	switch c.Op {
	case OpEquals:
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("%w: equals requires a field", ErrInvalidCondition)
		}
	case OpIn:
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("%w: in requires a field", ErrInvalidCondition)
		}
		if len(c.Values) == 0 {
			return fmt.Errorf("%w: in on field %q requires at least one value", ErrInvalidCondition, c.Field)
		}
	case OpNot:
		if c.Not == nil {
			return fmt.Errorf("%w: not requires an operand", ErrInvalidCondition)
		}
		if err := c.Not.Validate(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("%w: missing op", ErrInvalidCondition)
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidCondition, c.Op)
	}
	return nil
}

// String renders the condition for logs and error messages.
func (c Condition) String() string {
	switch c.Op {
	case OpEquals:
		return fmt.Sprintf("%s == %q", c.Field, c.Value)
	case OpIn:
		return fmt.Sprintf("%s in [%s]", c.Field, strings.Join(c.Values, ", "))
	case OpNot:
		if c.Not == nil {
			return "not(<nil>)"
		}
		return "not(" + c.Not.String() + ")"
	default:
		return "<invalid>"
	}
}

// lookup returns the canonical string form of a context field.
// Nil values and nil pointers are treated as absent.
func lookup(ctx map[string]any, field string) (string, bool) {
	raw, ok := ctx[field]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	case *int:
		if v == nil {
			return "", false
		}
		return fmt.Sprint(*v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}
