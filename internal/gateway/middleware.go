package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracklane/copilot/internal/observability"
	"github.com/tracklane/copilot/pkg/models"
)

type contextKey string

const callerKey contextKey = "caller"

// callerFrom returns the authenticated caller stored by the auth middleware.
func callerFrom(ctx context.Context) (models.CallerContext, bool) {
	caller, ok := ctx.Value(callerKey).(models.CallerContext)
	return caller, ok
}

// statusRecorder captures the status code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// observe assigns a request id, logs the request, and records HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), observability.RequestIDKey, requestID)
		w.Header().Set("X-Request-Id", requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		elapsed := time.Since(started)
		s.metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(recorder.status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
		s.logger.Info(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// authenticate validates the bearer token and stores the caller context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		caller, err := s.tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		ctx = context.WithValue(ctx, observability.CallerIDKey, caller.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimit admits or rejects the request before any model or tool work.
// Rejections carry a Retry-After header per the 429 convention.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing caller context")
			return
		}

		decision := s.limiter.Admit(caller.UserID)
		if !decision.Allowed {
			s.metrics.RateLimited.Inc()
			retryAfter := int(decision.RetryAfter.Seconds() + 0.5)
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeKindError(w, http.StatusTooManyRequests, models.ErrRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
