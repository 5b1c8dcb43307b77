package httpserver

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixir/records-service/internal/observability"
)

// tenantLimiter keeps one token bucket per tenant. A bucket left idle long
// enough to refill completely is indistinguishable from a new one, so it is
// dropped on the next sweep.
type tenantLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*tenantBucket
	rps       rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
}

type tenantBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTenantLimiter(rps float64, burst int) *tenantLimiter {
	if burst < 1 {
		burst = 1
	}
	return &tenantLimiter{
		limiters: make(map[string]*tenantBucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     time.Duration(float64(burst) / rps * float64(time.Second)),
	}
}

// reserve takes a token for tenantID. It returns false and the wait until
// the next token when the bucket is empty.
func (l *tenantLimiter) reserve(tenantID string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	l.sweep(now)
	b, ok := l.limiters[tenantID]
	if !ok {
		b = &tenantBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[tenantID] = b
	}
	b.lastSeen = now
	lim := b.limiter
	l.mu.Unlock()

	res := lim.ReserveN(now, 1)
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, delay
}

// sweep drops refilled buckets, at most once per idle period. Callers hold mu.
func (l *tenantLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for tenantID, b := range l.limiters {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.limiters, tenantID)
		}
	}
}

// rateLimitMiddleware answers 429 when the tenant's bucket is empty.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, _ := observability.TenantActorFromContext(r.Context())
		if ok, wait := s.limiter.reserve(tenantID, time.Now()); !ok {
			s.metrics.RecordRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
