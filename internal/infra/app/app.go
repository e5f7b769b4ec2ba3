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

	"github.com/AdithyaSrivastava01/Somnium/internal/infra/config"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/database"
	kafkainfra "github.com/AdithyaSrivastava01/Somnium/internal/infra/kafka"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/logger"
	redisinfra "github.com/AdithyaSrivastava01/Somnium/internal/infra/redis"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/security"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/telemetry"
	postgresrepo "github.com/AdithyaSrivastava01/Somnium/internal/repository/postgres"
	redisrepo "github.com/AdithyaSrivastava01/Somnium/internal/repository/redis"
	"github.com/AdithyaSrivastava01/Somnium/internal/transport/http/handlers"
	"github.com/AdithyaSrivastava01/Somnium/internal/transport/http/middleware"
	"github.com/AdithyaSrivastava01/Somnium/internal/transport/http/routes"
	"github.com/AdithyaSrivastava01/Somnium/internal/usecase"
)

// Application owns the HTTP engine and the connections it depends on.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
}

// New connects Postgres, Redis and optionally Kafka, then assembles the auth
// service and HTTP routes. Anything opened before a failure is closed again.
func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	app.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	repos := postgresrepo.NewRepositories(app.pool)

	app.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	codec, err := newTokenCodec(cfg.JWT)
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}
	log.Info("token codec configured", zap.String("algorithm", codec.Algorithm()), zap.String("issuer", cfg.JWT.Issuer))

	authMetrics, err := telemetry.NewAuthMetrics(prometheus.DefaultRegisterer, cfg.Telemetry.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Namespace: cfg.Telemetry.MetricsNamespace})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	audit := usecase.NewAuditService(log, authMetrics,
		usecase.AuditTarget{Name: "postgres", Sink: repos.AuditLogs},
		app.streamTarget(),
	)

	authService, err := usecase.NewAuthService(usecase.AuthConfigFromSettings(cfg), usecase.AuthDependencies{
		Users:         repos.Users,
		RefreshTokens: repos.RefreshTokens,
		Transactor:    repos.Transactor,
		Hasher:        hasher,
		Codec:         codec,
		Validator:     security.DefaultPasswordValidator(),
		Audit:         audit,
		Metrics:       authMetrics,
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	rateLimitStore := redisrepo.NewRateLimitRepository(app.redis.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: cfg.Redis.RateLimitPrefix,
		TTL:       longestWindow(cfg.RateLimit),
	})

	app.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Auth:        authService,
		Keys:        codec,
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log, httpMetrics),
		HTTPMetrics: httpMetrics,
		Checks: map[string]handlers.HealthCheckFunc{
			"postgres": app.pool.Ping,
			"redis":    app.redis.HealthCheck,
		},
	})

	return app, nil
}

// streamTarget returns the secondary audit sink: Kafka when enabled, the
// logging stub otherwise.
func (a *Application) streamTarget() usecase.AuditTarget {
	if a.cfg.Audit.KafkaEnabled && len(a.cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
		if err == nil {
			a.producer = producer
			a.logger.Info("kafka audit stream enabled", zap.Strings("brokers", a.cfg.Kafka.Brokers))
			return usecase.AuditTarget{
				Name: "kafka",
				Sink: kafkainfra.NewAuditPublisher(producer, a.cfg.Audit.Topic, a.cfg.App, a.logger),
			}
		}
		a.logger.Warn("failed to init kafka producer, using stub audit sink", zap.Error(err))
	}
	return usecase.AuditTarget{Name: "stub", Sink: kafkainfra.NewStubAuditSink(a.logger)}
}

func newTokenCodec(cfg config.JWTSettings) (*security.JWTCodec, error) {
	if strings.EqualFold(cfg.Algorithm, "RS256") {
		keys, err := security.NewPEMKeyProvider(cfg.KeyDirectory)
		if err != nil {
			return nil, err
		}
		return security.NewRS256Codec(keys, cfg.Issuer)
	}
	return security.NewHS256Codec(cfg.Secret, cfg.Issuer)
}

func longestWindow(cfg config.RateLimitSettings) time.Duration {
	longest := time.Minute
	for _, window := range []time.Duration{cfg.LoginWindow, cfg.RegisterWindow, cfg.RefreshWindow} {
		if window > longest {
			longest = window
		}
	}
	return longest
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully and
// releases every connection.
func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting somnium auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
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

// close flushes the audit producer, then releases the connection pools.
func (a *Application) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
