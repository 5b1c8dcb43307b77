package sequence

import (
	"errors"
	"testing"
)

func FuzzParseSegment(f *testing.F) {
	f.Add("R-007-03", "-", 1)
	f.Add("R--03", "-", 1)
	f.Add("R-+5-03", "-", 1)
	f.Add("R-99999999999999999999-03", "-", 1)
	f.Add("", "", 0)

	f.Fuzz(func(t *testing.T, code, separator string, position int) {
		v, err := ParseSegment(code, separator, position)
		if err != nil {
			if !errors.Is(err, ErrMalformedCode) {
				t.Fatalf("unexpected error type: %v", err)
			}
			return
		}
		if v < 0 {
			t.Fatalf("negative sequence value %d from %q", v, code)
		}
		if separator == "" {
			t.Fatalf("accepted %q with an empty separator", code)
		}
	})
}
