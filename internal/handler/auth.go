package handler

import (
	"log/slog"
	"net/http"
	"time"

	"payauth_service/internal/apperr"
	"payauth_service/internal/metrics"
	"payauth_service/internal/models"

	"github.com/gin-gonic/gin"
)

type authResponse struct {
	Message   string      `json:"message"`
	User      models.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) recordAuth(operation string, err error) {
	if h.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = apperr.KindOf(err).String()
	}
	h.metrics.RecordAuthEvent(operation, outcome)
}

func (h *Handler) bind(c *gin.Context, log *slog.Logger, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		log.Info("failed to read request body", slog.String("error", err.Error()))

		newErrorResponse(c, http.StatusBadRequest, "Invalid request body")

		return false
	}
	return true
}

// POST /api/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	const op = "handler.Signup"

	log := h.log.With(slog.String("op", op))

	var req struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.bind(c, log, &req) {
		return
	}

	res, err := h.serviceLayer.Signup(c.Request.Context(), req.FullName, req.Email, req.Password)
	h.recordAuth("signup", err)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusCreated, authResponse{
		Message:   "User registered successfully",
		User:      res.User,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

// POST /api/auth/signin
func (h *Handler) Signin(c *gin.Context) {
	const op = "handler.Signin"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !h.bind(c, log, &req) {
		return
	}

	res, err := h.serviceLayer.Signin(c.Request.Context(), req.Email, req.Password)
	h.recordAuth("signin", err)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, authResponse{
		Message:   "Signin successful",
		User:      res.User,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

// POST /api/auth/forgot-password
func (h *Handler) ForgotPassword(c *gin.Context) {
	const op = "handler.ForgotPassword"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Email string `json:"email"`
	}
	if !h.bind(c, log, &req) {
		return
	}

	err := h.serviceLayer.ForgotPassword(c.Request.Context(), req.Email)
	h.recordAuth("forgot_password", err)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, messageResponse{Message: "Password reset instructions sent to your email"})
}

// POST /api/auth/reset-password
func (h *Handler) ResetPassword(c *gin.Context) {
	const op = "handler.ResetPassword"

	log := h.log.With(slog.String("op", op))

	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if !h.bind(c, log, &req) {
		return
	}

	err := h.serviceLayer.ResetPassword(c.Request.Context(), req.Token, req.NewPassword)
	h.recordAuth("reset_password", err)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, messageResponse{Message: "Password has been reset successfully"})
}

// POST /api/auth/change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	const op = "handler.ChangePassword"

	log := h.log.With(slog.String("op", op))

	id, ok := identityFrom(c)
	if !ok {
		newErrorResponse(c, http.StatusUnauthorized, "No token, authorization denied")

		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !h.bind(c, log, &req) {
		return
	}

	err := h.serviceLayer.ChangePassword(c.Request.Context(), id.UserID, req.CurrentPassword, req.NewPassword)
	h.recordAuth("change_password", err)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, messageResponse{Message: "Password updated successfully"})
}

// GET /api/auth/me
func (h *Handler) Me(c *gin.Context) {
	const op = "handler.Me"

	log := h.log.With(slog.String("op", op))

	id, ok := identityFrom(c)
	if !ok {
		newErrorResponse(c, http.StatusUnauthorized, "No token, authorization denied")

		return
	}

	user, err := h.serviceLayer.GetUser(c.Request.Context(), id.UserID)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	roles, err := h.serviceLayer.GetRoles(c.Request.Context(), user.ID)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "roles": roles})
}
