package handler

import (
	"errors"
	"log/slog"

	"payauth_service/internal/apperr"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func newErrorResponse(c *gin.Context, statusCode int, errMessage string) {
	c.AbortWithStatusJSON(statusCode, errorResponse{Message: errMessage})
}

// respondError maps err to its status and client message. Causes of
// internal and upstream failures are logged, and exposed only outside prod.
func (h *Handler) respondError(c *gin.Context, log *slog.Logger, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		e = apperr.Internal(err)
	}

	resp := errorResponse{Message: e.Message, Retryable: e.Retryable}

	switch e.Kind {
	case apperr.KindInternal, apperr.KindUpstream:
		log.Error("request failed",
			slog.String("kind", e.Kind.String()),
			slog.String("error", err.Error()),
		)
		if h.exposeDetails && e.Err != nil {
			resp.Details = e.Err.Error()
		}
	default:
		log.Info("request rejected",
			slog.String("kind", e.Kind.String()),
			slog.String("reason", e.Message),
		)
	}

	c.AbortWithStatusJSON(apperr.HTTPStatus(e.Kind), resp)
}
