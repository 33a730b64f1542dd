package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/toolme/marketplace-api/internal/core/port"
	"github.com/toolme/marketplace-api/internal/infra/config"
	"github.com/toolme/marketplace-api/internal/transport/http/handlers"
	"github.com/toolme/marketplace-api/internal/transport/http/middleware"
	"github.com/toolme/marketplace-api/internal/usecase"
)

const authRateLimitRule = "auth_ip"

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config         *config.AppConfig
	Logger         *zap.Logger
	Auth           *usecase.AuthService
	RateLimiter    *middleware.RateLimiter
	Metrics        *middleware.HTTPMetrics
	Gatherer       prometheus.Gatherer
	Tracer         trace.TracerProvider
	ExternalSignIn port.ExternalIdentityVerifier
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing(deps.Tracer))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if deps.Auth == nil {
		return r
	}

	cookieName := deps.Config.Cookie.Name
	if cookieName == "" {
		cookieName = handlers.DefaultCookieName
	}
	identity := middleware.NewIdentityResolver(deps.Auth, cookieName)

	rootHandler := handlers.NewRootHandler(deps.Config.App.Name)
	r.GET("/", identity.OptionalIdentity(), rootHandler.Index)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")

		authHandler := handlers.NewAuthHandler(deps.Auth,
			handlers.WithCookie(handlers.CookieConfig{
				Name:   cookieName,
				Path:   deps.Config.Cookie.Path,
				Domain: deps.Config.Cookie.Domain,
				Secure: deps.Config.App.IsProduction(),
			}),
			handlers.WithExternalVerifier(deps.ExternalSignIn),
			handlers.WithLogger(deps.Logger),
		)
		authHandler.RegisterRoutes(authGroup, identity, buildAuthMiddlewares(deps)...)
	}

	return r
}

func buildAuthMiddlewares(deps Dependencies) []gin.HandlerFunc {
	if deps.RateLimiter == nil || deps.Config == nil {
		return nil
	}

	limit := deps.Config.RateLimit.AuthPerMinute
	if limit <= 0 {
		return nil
	}

	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}

	rule := middleware.RateLimitRule{
		Name:       authRateLimitRule,
		Limit:      limit,
		Window:     window,
		Identifier: middleware.ClientIPIdentifier(),
	}

	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(rule)}
}
