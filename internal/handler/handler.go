package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"payauth_service/internal/metrics"
	"payauth_service/internal/models"
	"payauth_service/internal/payments"
	"payauth_service/internal/ratelimit"
	"payauth_service/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

type PaymentService interface {
	CreateIntent(ctx context.Context, id models.Identity, amount int64, currency, description string) (payments.Intent, error)
	Confirm(ctx context.Context, id models.Identity, intentID string) (payments.Intent, error)
	Refund(ctx context.Context, id models.Identity, intentID string, amount *int64) (payments.Refund, error)
	History(ctx context.Context, id models.Identity) ([]payments.Intent, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Auth     service.Service
	Payments PaymentService
	Tokens   TokenVerifier
	Health   Pinger
	Metrics  *metrics.Metrics
	// Limiter guards the credential endpoints. Nil disables rate limiting.
	Limiter ratelimit.Limiter
	Origins []string
	// TrustedProxies may set the client ip through X-Forwarded-For.
	// Empty trusts no proxy.
	TrustedProxies []string
	// ExposeDetails adds internal error causes to responses.
	ExposeDetails bool
}

type Handler struct {
	serviceLayer   service.Service
	payments       PaymentService
	tokens         TokenVerifier
	health         Pinger
	metrics        *metrics.Metrics
	limiter        ratelimit.Limiter
	origins        []string
	trustedProxies []string
	exposeDetails  bool
	log            *slog.Logger
}

func NewHandler(lgr *slog.Logger, deps Deps) *Handler {
	return &Handler{
		serviceLayer:   deps.Auth,
		payments:       deps.Payments,
		tokens:         deps.Tokens,
		health:         deps.Health,
		metrics:        deps.Metrics,
		limiter:        deps.Limiter,
		origins:        deps.Origins,
		trustedProxies: deps.TrustedProxies,
		exposeDetails:  deps.ExposeDetails,
		log:            lgr,
	}
}

func (h *Handler) InitRoutes() *gin.Engine {
	const op = "handler.InitRoutes"

	router := gin.New()

	// The rate limiter keys on ClientIP, so only listed proxies may override it.
	var proxies []string
	if len(h.trustedProxies) > 0 {
		proxies = h.trustedProxies
	}
	if err := router.SetTrustedProxies(proxies); err != nil {
		h.log.Error("invalid trusted proxies, trusting none", slog.String("op", op), slog.String("error", err.Error()))

		_ = router.SetTrustedProxies(nil)
	}

	router.Use(gin.CustomRecovery(h.recover))
	router.Use(requestID())
	router.Use(h.requestLogger())
	if h.metrics != nil {
		router.Use(h.metrics.Middleware())
	}
	if len(h.origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     h.origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
			ExposeHeaders:    []string{requestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	auth := router.Group("/api/auth")
	{
		auth.POST("/signup", h.limit("signup"), h.Signup)
		auth.POST("/signin", h.limit("signin"), h.Signin)
		auth.POST("/forgot-password", h.limit("forgot-password"), h.ForgotPassword)
		auth.POST("/reset-password", h.limit("reset-password"), h.ResetPassword)

		protected := auth.Group("", AuthMiddleware(h.tokens, h.log))
		protected.POST("/change-password", h.ChangePassword)
		protected.GET("/me", h.Me)
	}

	pay := router.Group("/api/payments", AuthMiddleware(h.tokens, h.log))
	{
		pay.POST("/create-payment-intent", h.CreatePaymentIntent)
		pay.POST("/confirm-payment", h.ConfirmPayment)
		pay.POST("/refund", h.Refund)
		pay.GET("/history", h.PaymentHistory)
	}

	router.GET("/health", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": fmt.Sprintf("Cannot %s %s", c.Request.Method, c.Request.URL.Path),
		})
	})

	return router
}

func (h *Handler) limit(route string) gin.HandlerFunc {
	if h.limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return ratelimit.Middleware(h.limiter, route, h.log)
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	const op = "handler.Health"

	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		h.log.Warn("health check failed", slog.String("op", op), slog.String("error", err.Error()))

		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
