package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/helixir/records-service/internal/observability"
)

// Request headers.
const (
	headerActorID     = "X-Actor-ID"
	headerClearance   = "X-Clearance-Level"
	headerRequestID   = "X-Request-ID"
	headerTraceparent = "traceparent"
)

type contextKey string

const ctxKeyClearance contextKey = "clearance"

// requestContextMiddleware copies the request ID and W3C trace context into
// the observability context.
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set(headerRequestID, requestID)
		}
		traceID, spanID := parseTraceparent(r.Header.Get(headerTraceparent))

		ctx := observability.WithRequestContextFull(r.Context(), observability.RequestContext{
			RequestID: requestID,
			TraceID:   traceID,
			SpanID:    spanID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantContextMiddleware extracts the tenant from the URL and the caller's
// identity and clearance from headers.
func tenantContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantID")
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, "tenant_id is required")
			return
		}

		clearance := 0
		if v := r.Header.Get(headerClearance); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "invalid "+headerClearance+" header")
				return
			}
			clearance = parsed
		}

		actorID := strings.TrimSpace(r.Header.Get(headerActorID))
		ctx := observability.WithTenantActor(r.Context(), tenantID, actorID)
		ctx = context.WithValue(ctx, ctxKeyClearance, clearance)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireActorMiddleware rejects mutations without an acting user.
func requireActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, actorID := observability.TenantActorFromContext(r.Context()); actorID == "" {
			writeError(w, http.StatusBadRequest, headerActorID+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// clearanceFromContext returns the caller's clearance level, 0 when absent.
func clearanceFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(ctxKeyClearance).(int); ok {
		return v
	}
	return 0
}

// parseTraceparent returns the trace and parent span IDs of a
// version-00 traceparent header, or empty strings if it is malformed.
func parseTraceparent(h string) (traceID, spanID string) {
	parts := strings.Split(strings.TrimSpace(h), "-")
	if len(parts) != 4 || parts[0] != "00" || len(parts[1]) != 32 || len(parts[2]) != 16 {
		return "", ""
	}
	if !isHex(parts[1]) || !isHex(parts[2]) {
		return "", ""
	}
	return parts[1], parts[2]
}

func isHex(s string) bool {
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
