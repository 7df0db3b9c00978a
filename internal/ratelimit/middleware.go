package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Middleware limits requests per client ip on a single route. Limiter
// failures let the request through.
func Middleware(limiter Limiter, route string, log *slog.Logger) gin.HandlerFunc {
	const op = "ratelimit.Middleware"

	log = log.With(slog.String("op", op), slog.String("route", route))

	return func(c *gin.Context) {
		key := route + ":" + c.ClientIP()

		res, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Warn("rate limiter unavailable, allowing request", slog.String("error", err.Error()))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if res.Allowed {
			c.Next()
			return
		}

		retryAfter := int(res.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))

		log.Info("rate limit exceeded", slog.String("client_ip", c.ClientIP()))

		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"message":    fmt.Sprintf("Too many requests, retry after %d seconds", retryAfter),
			"retryAfter": retryAfter,
		})
	}
}
