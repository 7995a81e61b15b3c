// Package server assembles the HTTP router and runs the server with graceful
// shutdown.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/metric"

	"commonground/backend/internal/platform/httpx"
	"commonground/backend/internal/ratelimit"

	authhandler "commonground/backend/internal/auth/handler"
	keydisthandler "commonground/backend/internal/keydist/handler"
	membershiphandler "commonground/backend/internal/membership/handler"
	mfahandler "commonground/backend/internal/mfa/handler"
)

// Rate limit actions. Each action gets its own fixed-window budget per client IP.
const (
	ActionLogin    = "login"
	ActionRegister = "register"
	ActionMFA      = "mfa_verify"
)

// Pinger reports backing-store health for the readiness endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the wired dependencies the router mounts.
type Deps struct {
	Auth        *authhandler.Handler
	MFA         *mfahandler.Handler
	KeyDist     *keydisthandler.Handler
	Memberships *membershiphandler.Handler
	Validator   httpx.AccessValidator
	Limiter     *ratelimit.Limiter
	Requests    metric.Int64Counter
	DB          Pinger
}

// Server wraps http.Server with the assembled router.
type Server struct {
	httpServer *http.Server
}

// New builds the router and returns a Server listening on addr.
func New(addr string, d Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewRouter mounts all routes with their middleware chains.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(httpx.WithClientIP)
	r.Use(httpx.CountRequests(d.Requests))

	requireAuth := httpx.RequireAuth(d.Validator)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if d.DB != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := d.DB.PingContext(ctx); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.Handle("/register", httpx.RateLimit(d.Limiter, ActionRegister)(http.HandlerFunc(d.Auth.Register))).Methods(http.MethodPost)
	auth.Handle("/login", httpx.RateLimit(d.Limiter, ActionLogin)(http.HandlerFunc(d.Auth.Login))).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", d.Auth.Refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", d.Auth.Logout).Methods(http.MethodPost)
	auth.Handle("/logout_all", requireAuth(http.HandlerFunc(d.Auth.LogoutAll))).Methods(http.MethodPost)
	auth.Handle("/me", requireAuth(http.HandlerFunc(d.Auth.Me))).Methods(http.MethodGet)

	mfaRoutes := r.PathPrefix("/api/mfa").Subrouter()
	mfaRoutes.Handle("/totp/setup", requireAuth(http.HandlerFunc(d.MFA.SetupTOTP))).Methods(http.MethodPost)
	mfaRoutes.Handle("/totp/confirm", requireAuth(http.HandlerFunc(d.MFA.ConfirmTOTP))).Methods(http.MethodPost)
	mfaRoutes.Handle("/verify", httpx.RateLimit(d.Limiter, ActionMFA)(http.HandlerFunc(d.MFA.VerifyLogin))).Methods(http.MethodPost)
	mfaRoutes.Handle("/disable", requireAuth(http.HandlerFunc(d.MFA.Disable))).Methods(http.MethodPost)

	r.Handle("/api/users/me/device-key", requireAuth(http.HandlerFunc(d.KeyDist.RegisterDeviceKey))).Methods(http.MethodPost)

	orgs := r.PathPrefix("/api/orgs/{orgID}").Subrouter()
	orgs.Handle("/key", requireAuth(http.HandlerFunc(d.KeyDist.FetchKey))).Methods(http.MethodGet)
	orgs.Handle("/key/wraps", requireAuth(http.HandlerFunc(d.KeyDist.PublishWraps))).Methods(http.MethodPost)
	orgs.Handle("/key/rotate", requireAuth(http.HandlerFunc(d.KeyDist.RotateKey))).Methods(http.MethodPost)
	orgs.Handle("/members", requireAuth(http.HandlerFunc(d.Memberships.List))).Methods(http.MethodGet)
	orgs.Handle("/members/{userID}/role", requireAuth(http.HandlerFunc(d.Memberships.ChangeRole))).Methods(http.MethodPut)
	orgs.Handle("/members/{userID}", requireAuth(http.HandlerFunc(d.Memberships.Remove))).Methods(http.MethodDelete)

	return r
}

// Run serves until ctx is cancelled, then drains with a 10s grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
