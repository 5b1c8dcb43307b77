// Package sequence resolves sequence buckets and allocates the next value of
// a control-number sequence within a bucket.
//
// A bucket is the scope (tenant, category kind, category value, window) in
// which one counter advances. Two allocation strategies are provided:
// CounterAllocator keeps a dedicated counter row per bucket and increments it
// atomically; HistoryAllocator reconstructs the last value from the most
// recently classified document in the bucket. Both expect the caller to hold
// the bucket lock until the resulting control number is persisted, which
// they acquire through Source.LockBucket.
//
// Nothing in this package reads the wall clock. Callers pass "now" explicitly.
package sequence

import (
	"errors"
	"fmt"
	"time"
)

// ResetPolicy controls when a sequence restarts.
type ResetPolicy string

// Reset policies.
const (
	ResetNone    ResetPolicy = "none"
	ResetMonthly ResetPolicy = "monthly"
	ResetYearly  ResetPolicy = "yearly"
)

// IsValid returns true for a known reset policy.
func (p ResetPolicy) IsValid() bool {
	switch p {
	case ResetNone, ResetMonthly, ResetYearly:
		return true
	}
	return false
}

// ErrUnknownResetPolicy is returned for reset policies outside the known set.
var ErrUnknownResetPolicy = errors.New("unknown reset policy")

// unboundedKey is the window key of the never-resetting window.
const unboundedKey = "all"

// Window is the active reset period of a sequence. Start and End are
// inclusive; both are zero for the unbounded window.
type Window struct {
	Policy ResetPolicy
	Start  time.Time
	End    time.Time
}

// Bounded reports whether the window has finite bounds.
func (w Window) Bounded() bool {
	return w.Policy != ResetNone
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Bounded() {
		return true
	}
	return !t.Before(w.Start) && !t.After(w.End)
}

// Key identifies the window within its policy, e.g. "2024-01" or "2024".
func (w Window) Key() string {
	switch w.Policy {
	case ResetMonthly:
		return w.Start.Format("2006-01")
	case ResetYearly:
		return w.Start.Format("2006")
	default:
		return unboundedKey
	}
}

// String implements fmt.Stringer.
func (w Window) String() string {
	if !w.Bounded() {
		return "[unbounded]"
	}
	return fmt.Sprintf("[%s, %s]", w.Start.Format(time.RFC3339Nano), w.End.Format(time.RFC3339Nano))
}

// ResolveWindow computes the window containing now for the given policy.
// The window is computed in now's location. isBoundary is true on the first
// calendar day of the window, when a value left over from the previous
// window must be discarded even though it is numerically larger.
func ResolveWindow(policy ResetPolicy, now time.Time) (w Window, isBoundary bool, err error) {
	loc := now.Location()
	switch policy {
	case ResetMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
		return Window{Policy: policy, Start: start, End: end}, now.Day() == 1, nil
	case ResetYearly:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
		end := start.AddDate(1, 0, 0).Add(-time.Nanosecond)
		return Window{Policy: policy, Start: start, End: end}, now.YearDay() == 1, nil
	case ResetNone:
		return Window{Policy: policy}, false, nil
	default:
		return Window{}, false, fmt.Errorf("%w: %q", ErrUnknownResetPolicy, policy)
	}
}
