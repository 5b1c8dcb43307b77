package sequence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedCode is returned when a control number has no parseable
// sequence segment at the expected position.
var ErrMalformedCode = errors.New("malformed control number")

// Format renders a sequence value zero-padded to padWidth digits.
func Format(value int64, padWidth int) string {
	return fmt.Sprintf("%0*d", padWidth, value)
}

// ParseSegment extracts the sequence value at position from a composed code.
func ParseSegment(code, separator string, position int) (int64, error) {
	if separator == "" {
		return 0, fmt.Errorf("%w: empty separator", ErrMalformedCode)
	}
	parts := strings.Split(code, separator)
	if position < 0 || position >= len(parts) {
		return 0, fmt.Errorf("%w: %q has no segment %d", ErrMalformedCode, code, position)
	}
	segment := parts[position]
	if segment == "" {
		return 0, fmt.Errorf("%w: %q has an empty segment %d", ErrMalformedCode, code, position)
	}
	value, err := strconv.ParseInt(segment, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: segment %q of %q is not a sequence value", ErrMalformedCode, segment, code)
	}
	return value, nil
}
