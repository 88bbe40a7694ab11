package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/billing"
	"github.com/clinic/clinic/internal/domain/clinical"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/domain/session"
	"github.com/clinic/clinic/internal/platform/audit"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/internal/platform/middleware"
	"github.com/clinic/clinic/internal/platform/uow"
)

// routeRegistrar is implemented by every domain handler.
type routeRegistrar interface {
	RegisterRoutes(api *echo.Group)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func poolOptions(cfg *config.Config, logger zerolog.Logger) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:  cfg.DBMaxConns,
		MinConns:  cfg.DBMinConns,
		SlowQuery: cfg.DBSlowQuery,
		Logger:    logger,
	}
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in DEVELOPMENT mode: unauthenticated requests get admin access")
	}
	loc, _ := cfg.Location()

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg, logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	// Locks
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
		logger.Info().Msg("using redis locks")
	}

	// Audit
	sinks := []audit.Sink{audit.NewPGSink(pool)}
	if brokers := audit.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kafkaSink := audit.NewKafkaSink(audit.KafkaConfig{Brokers: brokers, Topic: cfg.AuditTopic}, logger)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		logger.Info().Strs("brokers", brokers).Str("topic", cfg.AuditTopic).Msg("publishing audit entries to kafka")
	} else {
		sinks = append(sinks, audit.LogSink(logger))
	}
	trail := audit.NewRecorder(logger, sinks...)

	runner := uow.New(db.NewTxManager(pool), locker, trail, logger)
	e := newEcho(cfg, logger, pool, wireHandlers(pool, runner, cfg.SessionEarlyStart, loc))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// wireHandlers builds the repositories and services of every domain. The
// repositories only hold pool; nothing touches the database until a request.
func wireHandlers(pool *pgxpool.Pool, runner *uow.Runner, earlyStart time.Duration, loc *time.Location) []routeRegistrar {
	doctors := identity.NewDoctorRepoPG(pool)
	patients := identity.NewPatientRepoPG(pool)
	directory := identity.NewDirectory(doctors, patients)

	appointments := scheduling.NewAppointmentRepoPG(pool)
	sessions := session.NewSessionRepoPG(pool)
	attendance := session.NewAttendanceRepoPG(pool)

	schedulingSvc := scheduling.NewService(scheduling.NewWorkScheduleRepoPG(pool), appointments, sessions, directory, runner, loc)
	sessionSvc := session.NewService(sessions, attendance, appointments, runner, earlyStart, loc)
	clinicalSvc := clinical.NewService(
		clinical.NewPrescriptionRepoPG(pool), clinical.NewMedicalRecordRepoPG(pool),
		sessions, attendance, appointments, runner, loc)
	billingSvc := billing.NewService(
		billing.NewCatalogRepoPG(pool), billing.NewSessionServiceRepoPG(pool),
		billing.NewBillRepoPG(pool), billing.NewPaymentRepoPG(pool),
		sessions, directory, runner)
	identitySvc := identity.NewService(doctors, patients, schedulingSvc, runner)

	return []routeRegistrar{
		identity.NewHandler(identitySvc),
		scheduling.NewHandler(schedulingSvc),
		session.NewHandler(sessionSvc),
		clinical.NewHandler(clinicalSvc),
		billing.NewHandler(billingSvc),
	}
}

func newEcho(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, handlers []routeRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health checks stay outside authentication.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Auth middleware
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	for _, h := range handlers {
		h.RegisterRoutes(apiV1)
	}
	return e
}
