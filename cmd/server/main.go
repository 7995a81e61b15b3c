// Command server runs the commonground auth and key-distribution HTTP server.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commonground/backend/internal/audit"
	"commonground/backend/internal/config"
	"commonground/backend/internal/db"
	"commonground/backend/internal/platform/httpx"
	"commonground/backend/internal/ratelimit"
	"commonground/backend/internal/security"
	"commonground/backend/internal/server"
	"commonground/backend/internal/telemetry"

	authhandler "commonground/backend/internal/auth/handler"
	authservice "commonground/backend/internal/auth/service"
	keydisthandler "commonground/backend/internal/keydist/handler"
	keydistrepo "commonground/backend/internal/keydist/repository"
	keydistservice "commonground/backend/internal/keydist/service"
	membershiphandler "commonground/backend/internal/membership/handler"
	membershiprepo "commonground/backend/internal/membership/repository"
	membershipservice "commonground/backend/internal/membership/service"
	mfahandler "commonground/backend/internal/mfa/handler"
	mfarepo "commonground/backend/internal/mfa/repository"
	mfaservice "commonground/backend/internal/mfa/service"
	orgrepo "commonground/backend/internal/organization/repository"
	auditrepo "commonground/backend/internal/audit/repository"
	tokenrepo "commonground/backend/internal/refreshtoken/repository"
	teleotel "commonground/backend/internal/telemetry/otel"
	userrepo "commonground/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("config: JWT_PRIVATE_KEY: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("config: JWT_PUBLIC_KEY: %v", err)
	}
	mfaKey, err := cfg.DecodeMFAEncryptionKey()
	if err != nil {
		log.Fatalf("%v", err)
	}
	if cfg.RecoveryCodePepper == "" {
		log.Fatal("config: RECOVERY_CODE_PEPPER must be set")
	}
	box, err := security.NewSecretBox(mfaKey)
	if err != nil {
		log.Fatalf("config: MFA_ENCRYPTION_KEY: %v", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := teleotel.NewProviders(ctx, cfg.OTLPEndpoint, "commonground-backend", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	events := teleotel.NewEventEmitter(providers.LoggerProvider)
	meter := providers.MeterProvider.Meter("commonground/backend")
	requests, err := meter.Int64Counter("http.server.requests")
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	users := userrepo.NewPostgresRepository(database)
	orgs := orgrepo.NewPostgresRepository(database)
	memberships := membershiprepo.NewPostgresRepository(database)
	tokens := tokenrepo.NewPostgresRepository(database)
	mfaStore := mfarepo.NewPostgresRepository(database)
	keys := keydistrepo.NewPostgresRepository(database)
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(database), httpx.ClientIPFromContext)

	hasher := security.NewHasher(cfg.PBKDF2Iterations)
	provider := security.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	authRunTx := func(ctx context.Context, fn func(ctx context.Context, s authservice.Stores) error) error {
		return db.WithTx(ctx, database, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
			return fn(ctx, authservice.Stores{
				Users:       users.WithTx(tx),
				Orgs:        orgs.WithTx(tx),
				Memberships: memberships.WithTx(tx),
			})
		})
	}
	authSvc := authservice.NewAuthService(users, tokens, mfaStore, authRunTx, hasher, provider, cfg.RefreshTTL(), cfg.ChallengeTTL())

	mfaRunTx := func(ctx context.Context, fn func(ctx context.Context, s mfaservice.Stores) error) error {
		return db.WithTx(ctx, database, &sql.TxOptions{}, func(ctx context.Context, tx db.DBTX) error {
			return fn(ctx, mfaservice.Stores{
				Users: users.WithTx(tx),
				MFA:   mfaStore.WithTx(tx),
			})
		})
	}
	mfaSvc := mfaservice.NewService(users, mfaStore, authSvc, mfaRunTx, box, cfg.RecoveryCodePepper, cfg.JWTIssuer)

	membershipRunTx := func(ctx context.Context, fn func(ctx context.Context, s membershipservice.Stores) error) error {
		return db.WithTx(ctx, database, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx db.DBTX) error {
			return fn(ctx, membershipservice.Stores{Memberships: memberships.WithTx(tx)})
		})
	}
	membershipSvc := membershipservice.NewService(memberships, membershipRunTx)

	keydistSvc := keydistservice.NewService(keys, users, memberships)

	limiter := ratelimit.NewLimiter(ratelimit.NewPostgresCounter(database), cfg.RateWindow(), map[string]int64{
		server.ActionLogin:    int64(cfg.LoginRateLimit),
		server.ActionRegister: int64(cfg.LoginRateLimit),
		server.ActionMFA:      int64(cfg.MFARateLimit),
	})

	srv := server.New(cfg.HTTPAddr, server.Deps{
		Auth:        authhandler.NewHandler(authSvc, auditLogger, events, cfg.CookieSecure, cfg.RefreshTTL()),
		MFA:         mfahandler.NewHandler(mfaSvc, auditLogger, events, cfg.CookieSecure, cfg.RefreshTTL()),
		KeyDist:     keydisthandler.NewHandler(keydistSvc, auditLogger, events),
		Memberships: membershiphandler.NewHandler(membershipSvc, auditLogger),
		Validator:   provider,
		Limiter:     limiter,
		Requests:    requests,
		DB:          database,
	})

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}

	// Let in-flight async telemetry emits land before tearing providers down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
}
