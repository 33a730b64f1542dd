package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/infra/config"
	"github.com/toolme/marketplace-api/internal/infra/database"
	kafkainfra "github.com/toolme/marketplace-api/internal/infra/kafka"
	"github.com/toolme/marketplace-api/internal/infra/logger"
	"github.com/toolme/marketplace-api/internal/infra/mail"
	"github.com/toolme/marketplace-api/internal/infra/oauth"
	redisinfra "github.com/toolme/marketplace-api/internal/infra/redis"
	"github.com/toolme/marketplace-api/internal/infra/security"
	"github.com/toolme/marketplace-api/internal/infra/telemetry"
	"github.com/toolme/marketplace-api/internal/repository/memory"
	postgresrepo "github.com/toolme/marketplace-api/internal/repository/postgres"
	redisrepo "github.com/toolme/marketplace-api/internal/repository/redis"
	"github.com/toolme/marketplace-api/internal/transport/http/middleware"
	"github.com/toolme/marketplace-api/internal/transport/http/routes"
	"github.com/toolme/marketplace-api/internal/usecase"
)

const (
	storageDriverPostgres = "postgres"
	storageDriverMemory   = "memory"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	application := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			application.close()
		}
	}()

	application.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	users, err := application.userRepository(ctx)
	if err != nil {
		return nil, err
	}

	rateLimitStore, err := application.rateLimitStore(ctx)
	if err != nil {
		return nil, err
	}

	// Initialize Kafka event publisher
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			application.producer = kafkaProducer
			eventPublisher = kafkainfra.NewEventPublisher(kafkaProducer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	var notifier port.Notifier
	if strings.TrimSpace(cfg.SMTP.Host) != "" {
		smtpNotifier, err := mail.NewSMTPNotifier(cfg.SMTP, log)
		if err != nil {
			return nil, fmt.Errorf("init smtp: %w", err)
		}
		notifier = smtpNotifier
	} else {
		log.Warn("smtp host not configured, links are logged instead of mailed")
		notifier = mail.NewDevNotifier(cfg.SMTP.DevOutputFile, log)
	}

	hasher, err := security.NewPasswordHasher(security.HasherConfig{
		Algorithm:  cfg.Security.PasswordAlgorithm,
		BcryptCost: cfg.Security.BcryptCost,
		Argon2: security.Argon2Config{
			Memory:      cfg.Security.Argon2.Memory,
			Iterations:  cfg.Security.Argon2.Iterations,
			Parallelism: cfg.Security.Argon2.Parallelism,
			SaltLength:  cfg.Security.Argon2.SaltLength,
			KeyLength:   cfg.Security.Argon2.KeyLength,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}

	policyCfg := security.DefaultPolicyConfig()
	if cfg.Security.PasswordMinLength > 0 {
		policyCfg.MinLength = cfg.Security.PasswordMinLength
	}
	policyCfg.MinScore = cfg.Security.PasswordMinScore

	issuer, err := security.NewSessionTokenIssuer(security.SessionTokenConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.JWT.AccessTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init session tokens: %w", err)
	}

	authService, err := usecase.NewAuthService(usecase.AuthConfig{
		FrontendURL:          cfg.App.FrontendURL,
		MaxLoginAttempts:     cfg.Auth.MaxLoginAttempts,
		LockoutDuration:      cfg.Auth.LockoutDuration,
		ResetTokenTTL:        cfg.Auth.ResetTokenTTL,
		VerificationTokenTTL: cfg.Auth.VerificationTokenTTL,
		ExposeTokens:         cfg.App.IsDev(),
	}, usecase.AuthDependencies{
		Users:    users,
		Hasher:   hasher,
		Policy:   security.NewPasswordPolicy(policyCfg),
		Tokens:   issuer,
		Notifier: notifier,
		Events:   eventPublisher,
		Observer: telemetry.NewAuthMetrics(prometheus.DefaultRegisterer),
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	if cfg.Seed.Enabled {
		created, err := authService.EnsureSeedUser(ctx, cfg.Seed.Email, cfg.Seed.Password)
		if err != nil {
			return nil, err
		}
		log.Info("seed user checked", zap.String("email", logger.MaskEmail(cfg.Seed.Email)), zap.Bool("created", created))
	}

	var externalSignIn port.ExternalIdentityVerifier
	if cfg.OAuth.GoogleClientID != "" {
		google, err := oauth.NewGoogleVerifier(cfg.OAuth.GoogleClientID)
		if err != nil {
			return nil, fmt.Errorf("init google sign-in: %w", err)
		}
		externalSignIn = google
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	deps := routes.Dependencies{
		Config:         cfg,
		Logger:         log,
		Auth:           authService,
		RateLimiter:    middleware.NewRateLimiter(rateLimitStore, log),
		Metrics:        httpMetrics,
		Tracer:         application.tracer.Provider(),
		ExternalSignIn: externalSignIn,
	}
	if application.pool != nil {
		deps.Database = application.pool
	}
	if application.redis != nil {
		deps.Cache = application.redis
	}
	application.engine = routes.Register(deps)

	ok = true
	return application, nil
}

func (a *Application) userRepository(ctx context.Context) (port.UserRepository, error) {
	switch a.cfg.Storage.Driver {
	case storageDriverMemory:
		a.logger.Warn("using in-memory user store; accounts are lost on restart")
		return memory.NewUserRepository(), nil
	case storageDriverPostgres, "":
		if a.cfg.Storage.RunMigrations {
			if err := postgresrepo.Migrate(ctx, a.cfg.Postgres.DSN(), a.logger); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.pool = pool
		return postgresrepo.NewUserRepository(pool), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}
}

func (a *Application) rateLimitStore(ctx context.Context) (port.RateLimitStore, error) {
	if !a.cfg.Redis.Enabled {
		a.logger.Info("redis disabled, rate limits are tracked per process")
		return memory.NewRateLimitStore(), nil
	}

	client, err := redisinfra.NewClient(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	a.redis = client

	window := a.cfg.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}
	return redisrepo.NewSlidingWindowStore(client.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: a.cfg.Redis.KeyPrefix,
		TTL:       window * 2,
	}), nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting ToolMe API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("storage", a.cfg.Storage.Driver),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// close releases every initialized resource. It is safe to call on a partially built Application.
func (a *Application) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
		a.producer = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
		a.tracer = nil
	}
}
