package sequence

import (
	"hash/fnv"
	"strings"
	"time"
)

// Bucket is the scope within which one sequence counter advances.
// CategoryKind names the document field the scheme buckets by and
// CategoryValue is the rendered category segment of the code, so documents
// whose codes share that segment share a sequence.
type Bucket struct {
	TenantID      string
	CategoryKind  string
	CategoryValue string
	Window        Window
}

// Key returns a stable string identifying the bucket, used for locks and logs.
func (b Bucket) Key() string {
	return strings.Join([]string{b.TenantID, b.CategoryKind, b.CategoryValue, b.Window.Key()}, "|")
}

// LockKey maps the bucket key onto a signed 64-bit advisory lock key.
func (b Bucket) LockKey() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(b.Key()))
	return int64(h.Sum64())
}

// BucketPredicate is a declarative filter selecting the prior documents of a
// bucket: same tenant, status not Deleted, issued from the same category
// kind and value, classified within the window. Unbounded windows leave
// WindowStart and WindowEnd nil.
type BucketPredicate struct {
	TenantID       string
	CategoryKind   string
	CategoryValue  string
	ExcludeDeleted bool
	WindowStart    *time.Time
	WindowEnd      *time.Time
}

// NewBucketPredicate builds the history filter for the given bucket scope.
func NewBucketPredicate(tenantID, categoryKind, categoryValue string, w Window) BucketPredicate {
	p := BucketPredicate{
		TenantID:       tenantID,
		CategoryKind:   categoryKind,
		CategoryValue:  categoryValue,
		ExcludeDeleted: true,
	}
	if w.Bounded() {
		start, end := w.Start, w.End
		p.WindowStart = &start
		p.WindowEnd = &end
	}
	return p
}

// Predicate returns the history filter for the bucket.
func (b Bucket) Predicate() BucketPredicate {
	return NewBucketPredicate(b.TenantID, b.CategoryKind, b.CategoryValue, b.Window)
}
