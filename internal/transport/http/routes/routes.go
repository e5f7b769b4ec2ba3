package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/AdithyaSrivastava01/Somnium/internal/infra/config"
	"github.com/AdithyaSrivastava01/Somnium/internal/transport/http/handlers"
	"github.com/AdithyaSrivastava01/Somnium/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Auth        handlers.AuthService
	Keys        handlers.KeySet
	RateLimiter *middleware.RateLimiter
	HTTPMetrics *middleware.HTTPMetrics
	// Gatherer backs /metrics; defaults to the global registry.
	Gatherer prometheus.Gatherer
	Checks   map[string]handlers.HealthCheckFunc
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestContext())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.HTTPMetrics.Handler())
	r.Use(middleware.SecurityHeaders(), middleware.CORS(cfg.App.CORSOrigins))

	healthHandler := handlers.NewHealthHandler(deps.Checks)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.Keys).Keys)

	v1 := r.Group("/api/v1")
	{

		if deps.Auth != nil {
			authHandler := handlers.NewAuthHandler(deps.Auth,
				handlers.WithInsecureCookies(cfg.App.Env == "development"),
			)
			authHandler.RegisterRoutes(v1.Group("/auth"), buildAuthRateLimits(deps.RateLimiter, cfg.RateLimit))
		}
	}

	if cfg.App.Env != "production" {
		handlers.RegisterSwagger(r)
	}

	return r
}

func buildAuthRateLimits(limiter *middleware.RateLimiter, cfg config.RateLimitSettings) handlers.AuthRateLimits {
	if limiter == nil {
		return handlers.AuthRateLimits{}
	}

	return handlers.AuthRateLimits{
		Login: limiter.Limit(middleware.RateLimitRule{
			Name:   "auth_login_ip",
			Limit:  cfg.LoginMaxAttempts,
			Window: cfg.LoginWindow,
		}),
		Register: limiter.Limit(middleware.RateLimitRule{
			Name:   "auth_register_ip",
			Limit:  cfg.RegisterMaxAttempts,
			Window: cfg.RegisterWindow,
		}),
		Refresh: limiter.Limit(middleware.RateLimitRule{
			Name:   "auth_refresh_ip",
			Limit:  cfg.RefreshMaxAttempts,
			Window: cfg.RefreshWindow,
		}),
	}
}
