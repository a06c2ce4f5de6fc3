package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fastpubsub/fastpubsub/internal/auth"
	"github.com/fastpubsub/fastpubsub/internal/broker"
	"github.com/fastpubsub/fastpubsub/internal/metrics"
)

// authenticator gates protected routes on a bearer token and its scopes.
// With auth disabled every request passes through untouched.
type authenticator struct {
	enabled bool
	tokens  TokenValidator
}

// require wraps next with bearer-token validation and a scope check. When
// objectParam names a path parameter, an object-scoped grant for that value
// also satisfies the check.
func (a *authenticator) require(resource, action, objectParam string, next http.Handler) http.Handler {
	if !a.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			WriteError(w, http.StatusUnauthorized, string(broker.KindUnauthenticated), "missing bearer token")
			return
		}

		principal, err := a.tokens.ValidateToken(r.Context(), header[len(prefix):])
		if err != nil {
			writeServiceError(w, err)
			return
		}

		objectID := ""
		if objectParam != "" {
			objectID = r.PathValue(objectParam)
		}
		if !auth.HasScope(principal.Scopes, resource, action, objectID) {
			WriteError(w, http.StatusForbidden, string(broker.KindPermissionDenied),
				"token is missing scope "+resource+":"+action)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestBodyLimitMiddleware enforces a max request body size for downstream handlers.
func RequestBodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r != nil && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// InstrumentMiddleware records request counts and latency per route pattern.
// It relies on ServeMux filling in r.Pattern during dispatch.
func InstrumentMiddleware(m *metrics.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
