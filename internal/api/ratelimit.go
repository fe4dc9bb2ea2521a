package api

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/nlquery/nlquery/internal/auth"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/observability"
	"github.com/nlquery/nlquery/internal/ratelimit"
)

// rateLimitMiddleware admits requests through limiter keyed by the
// authenticated client, falling back to the remote IP.
func rateLimitMiddleware(limiter *ratelimit.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)
			decision := limiter.Allow(key)
			observability.SetRateLimitTrackedKeys(limiter.Len())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				observability.IncrementRateLimited()
				if logger != nil {
					logger.DebugContext(r.Context(), "rate limit exceeded", slog.String("key", key), slog.Int("retry_after_seconds", retryAfter))
				}
				writePipelineErrorWithContext(r, w, nl2sql.NewError(nl2sql.KindRateLimited, "rate limit exceeded", nil), map[string]any{
					"limit":               decision.Limit,
					"window_seconds":      int(limiter.Window().Seconds()),
					"retry_after_seconds": retryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writePipelineErrorWithContext(r *http.Request, w http.ResponseWriter, err *nl2sql.Error, extra map[string]any) {
	class := errorClasses[err.Kind]
	extra["kind"] = string(err.Kind)
	writeErrorDetail(r.Context(), w, class.status, class.code, class.message, err.Message, class.retryable, extra)
}

func rateLimitKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.ClientID != "" {
		return "client:" + identity.ClientID
	}
	return "ip:" + clientIP(r)
}

// clientIP uses RemoteAddr only; forwarding headers are caller controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
