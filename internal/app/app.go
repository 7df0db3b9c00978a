// Package app wires configuration into a running HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"payauth_service/internal/auth"
	"payauth_service/internal/config"
	"payauth_service/internal/handler"
	"payauth_service/internal/metrics"
	"payauth_service/internal/payments"
	"payauth_service/internal/ratelimit"
	"payauth_service/internal/service"
	"payauth_service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	metricsNamespace = "payauth"
	rateLimitPrefix  = "payauth:ratelimit:"
)

type App struct {
	log     *slog.Logger
	cfg     *config.Config
	storage storage.Storage
	redis   *redis.Client
	server  *http.Server
	ln      net.Listener
}

func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	st, err := newStorage(ctx, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	authService := service.NewService(log, st, hasher, tokens, service.NewLogNotifier(log), service.Options{
		SessionTTL:    cfg.Auth.SessionTTL,
		ResetTokenTTL: cfg.Auth.ResetTokenTTL,
	})

	var gateway payments.Gateway
	if cfg.Stripe.SecretKey != "" {
		gateway = payments.NewStripeGateway(cfg.Stripe.SecretKey)
	} else {
		log.Warn("stripe secret key not set, payment routes disabled")
	}
	paymentService := payments.NewService(log, gateway, st, cfg.Stripe.DefaultCurrency)

	a := &App{log: log, cfg: cfg, storage: st}

	limiterConfig := ratelimit.Config{
		RequestsPerWindow: cfg.Redis.RequestsPerWindow,
		Window:            cfg.Redis.Window,
	}
	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, rate limiting fails open until it recovers", slog.String("error", err.Error()))
		}
		limiter = ratelimit.NewRedisLimiter(a.redis, limiterConfig, rateLimitPrefix)
	} else {
		limiter = ratelimit.NewMemoryLimiter(limiterConfig)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	h := handler.NewHandler(log, handler.Deps{
		Auth:           authService,
		Payments:       paymentService,
		Tokens:         tokens,
		Health:         st,
		Metrics:        metrics.New(metricsNamespace),
		Limiter:        limiter,
		Origins:        cfg.HTTPServer.Origins(),
		TrustedProxies: cfg.HTTPServer.TrustedProxies,
		ExposeDetails:  !cfg.IsProduction(),
	})

	a.server = &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	return a, nil
}

func newStorage(ctx context.Context, log *slog.Logger, cfg *config.Config) (storage.Storage, error) {
	if cfg.DB.Driver == config.DriverMemory {
		log.Warn("using in-memory storage, data is lost on restart")
		return storage.NewMemoryStorage(), nil
	}

	if cfg.DB.Migrate {
		if err := storage.Migrate(ctx, cfg.DB.DbURL); err != nil {
			return nil, err
		}
		log.Info("migrations applied")
	}

	return storage.NewPostgresStorage(ctx, cfg.DB.DbURL, storage.PostgresOptions{
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnIdleTime: cfg.DB.MaxConnIdleTime,
		ConnectTimeout:  cfg.DB.ConnectTimeout,
		AcquireTimeout:  cfg.DB.AcquireTimeout,
		QueryTimeout:    cfg.DB.QueryTimeout,
	})
}

// Start binds the listen address and serves in the background.
func (a *App) Start() error {
	const op = "app.Start"

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	a.ln = ln

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server stopped", slog.String("op", op), slog.String("error", err.Error()))
		}
	}()

	a.log.Info("http server started", slog.String("address", ln.Addr().String()))

	return nil
}

// Addr is the bound address, valid after Start.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Stop drains in-flight requests, then releases redis and the store.
func (a *App) Stop(ctx context.Context) error {
	const op = "app.Stop"

	var errs []error

	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s: http: %w", op, err))
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: redis: %w", op, err))
		}
	}

	a.storage.Close()

	a.log.Info("stopped")

	return errors.Join(errs...)
}
