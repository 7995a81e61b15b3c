package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"commonground/backend/internal/apperr"
	"commonground/backend/internal/ratelimit"
	"commonground/backend/internal/security"
)

// AccessValidator validates an access token and returns the caller identity.
type AccessValidator interface {
	ValidateAccess(token string) (security.Identity, error)
}

// WithClientIP resolves and stores the client IP for every request so audit
// and rate limiting downstream share one answer.
func WithClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithClientIP(r.Context(), clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth authenticates the request via the Authorization bearer token and
// stores the verified identity in the context. Missing or invalid tokens get
// UNAUTHENTICATED without reaching the handler.
func RequireAuth(validator AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "missing access token"))
				return
			}
			id, err := validator.ValidateAccess(raw)
			if err != nil {
				RespondError(w, r, apperr.New(apperr.CodeUnauthenticated, "invalid access token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// RateLimit applies the fixed-window limiter for the given action, keyed by
// client IP. Denied requests get RATE_LIMITED plus a Retry-After hint.
func RateLimit(limiter *ratelimit.Limiter, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Allow(r.Context(), action, ClientIPFromContext(r.Context()))
			if !d.Allowed {
				if retry := time.Until(d.ResetAt); retry > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)+1))
				}
				RespondError(w, r, apperr.New(apperr.CodeRateLimited, "too many attempts, slow down"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CountRequests records one counter increment per request, attributed by
// method and route template.
func CountRequests(counter metric.Int64Counter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if counter != nil {
				counter.Add(r.Context(), 1,
					metric.WithAttributes(
						attribute.String("http.method", r.Method),
						attribute.String("http.route", routeTemplate(r)),
					))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// routeTemplate returns the matched mux route template (e.g.
// /api/orgs/{orgID}/key) so metric cardinality stays bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
