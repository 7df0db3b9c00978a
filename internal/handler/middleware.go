package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"payauth_service/internal/apperr"
	"payauth_service/internal/auth"
	"payauth_service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	identityKey     = "identity"
)

// AuthMiddleware verifies the bearer token and stores the caller identity
// on the context.
func AuthMiddleware(tokens TokenVerifier, lgr *slog.Logger) gin.HandlerFunc {
	const op = "handler.AuthMiddleware"

	return func(c *gin.Context) {
		log := lgr.With(slog.String("op", op))

		authHeader := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenStr) == "" {
			newErrorResponse(c, http.StatusUnauthorized, "No token, authorization denied")

			return
		}

		id, err := tokens.Verify(strings.TrimSpace(tokenStr))
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrTokenExpired):
			newErrorResponse(c, http.StatusUnauthorized, "Token expired")

			return
		case errors.Is(err, auth.ErrTokenMalformed), errors.Is(err, auth.ErrTokenSignature):
			newErrorResponse(c, http.StatusUnauthorized, "Invalid token")

			return
		default:
			log.Error("failed to verify token", slog.String("error", err.Error()))

			newErrorResponse(c, http.StatusInternalServerError, "Server error during authentication")

			return
		}

		c.Set(identityKey, id)

		c.Next()
	}
}

func identityFrom(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("request_id", c.GetString(requestIDKey)),
		}

		if status >= http.StatusInternalServerError {
			h.log.Error("request", attrs...)
			return
		}
		h.log.Info("request", attrs...)
	}
}

func (h *Handler) recover(c *gin.Context, recovered any) {
	const op = "handler.recover"

	log := h.log.With(slog.String("op", op), slog.String("request_id", c.GetString(requestIDKey)))

	h.respondError(c, log, apperr.Internal(fmt.Errorf("panic: %v", recovered)))
}
