package handler

import (
	"log/slog"
	"net/http"

	"payauth_service/internal/payments"

	"github.com/gin-gonic/gin"
)

type paymentDetails struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// POST /api/payments/create-payment-intent
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	const op = "handler.CreatePaymentIntent"

	log := h.log.With(slog.String("op", op))

	id, ok := identityFrom(c)
	if !ok {
		newErrorResponse(c, http.StatusUnauthorized, "No token, authorization denied")

		return
	}

	var req struct {
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		Description string `json:"description"`
	}
	if !h.bind(c, log, &req) {
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), id, req.Amount, req.Currency, req.Description)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"clientSecret":    intent.ClientSecret,
		"paymentIntentId": intent.ID,
	})
}

// POST /api/payments/confirm-payment
func (h *Handler) ConfirmPayment(c *gin.Context) {
	const op = "handler.ConfirmPayment"

	log := h.log.With(slog.String("op", op))

	id, ok := identityFrom(c)
	if !ok {
		newErrorResponse(c, http.StatusUnauthorized, "No token, authorization denied")

		return
	}

	var req struct {
		PaymentIntentID string `json:"paymentIntentId"`
	}
	if !h.bind(c, log, &req) {
		return
	}

	intent, err := h.payments.Confirm(c.Request.Context(), id, req.PaymentIntentID)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	if intent.Status != payments.StatusSucceeded {
		log.Warn("payment not completed",
			slog.String("payment_intent_id", intent.ID),
			slog.String("status", intent.Status),
		)

		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Payment not completed",
			"status":  intent.Status,
		})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment successful",
		"paymentDetails": paymentDetails{
			ID:       intent.ID,
			Amount:   intent.Amount,
			Currency: intent.Currency,
			Status:   intent.Status,
		},
	})
}

// POST /api/payments/refund
func (h *Handler) Refund(c *gin.Context) {
	const op = "handler.Refund"

	log := h.log.With(slog.String("op", op))

	id, ok := identityFrom(c)
	if !ok {
		newErrorResponse(c, http.StatusUnauthorized, "No token, authorization denied")

		return
	}

	var req struct {
		PaymentIntentID string `json:"paymentIntentId"`
		Amount          *int64 `json:"amount"`
	}
	if !h.bind(c, log, &req) {
		return
	}

	refund, err := h.payments.Refund(c.Request.Context(), id, req.PaymentIntentID, req.Amount)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "refund": refund})
}

// GET /api/payments/history
func (h *Handler) PaymentHistory(c *gin.Context) {
	const op = "handler.PaymentHistory"

	log := h.log.With(slog.String("op", op))

	id, ok := identityFrom(c)
	if !ok {
		newErrorResponse(c, http.StatusUnauthorized, "No token, authorization denied")

		return
	}

	intents, err := h.payments.History(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, log, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": intents})
}
