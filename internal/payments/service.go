package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"payauth_service/internal/apperr"
	"payauth_service/internal/models"
	"payauth_service/internal/storage"
)

const (
	MinAmount          = 50
	DefaultDescription = "Feasibility Project Payment"
	historyLimit       = 100

	StatusSucceeded = "succeeded"
)

var (
	ErrAmountTooSmall   = apperr.Validation("Amount must be at least 50 cents")
	ErrInvalidRefund    = apperr.Validation("Refund amount must be positive")
	ErrMissingIntentID  = apperr.Validation("Payment intent ID is required")
	ErrPaymentNotFound  = apperr.NotFound("Payment not found")
	ErrGateway          = apperr.Upstream("Payment provider error")
	ErrPaymentsDisabled = apperr.Unavailable("Payments are not configured")
)

type Service struct {
	log      *slog.Logger
	gateway  Gateway
	storage  storage.Storage
	currency string
	now      func() time.Time
}

func NewService(log *slog.Logger, gateway Gateway, st storage.Storage, defaultCurrency string) *Service {
	return &Service{
		log:      log,
		gateway:  gateway,
		storage:  st,
		currency: strings.ToLower(defaultCurrency),
		now:      time.Now,
	}
}

func (s *Service) enabled() error {
	if s == nil || s.gateway == nil {
		return ErrPaymentsDisabled
	}
	return nil
}

func (s *Service) gatewayError(op string, err error) error {
	if errors.Is(err, ErrIntentNotFound) {
		return apperr.Wrap(ErrPaymentNotFound, err)
	}
	return apperr.Wrap(ErrGateway, fmt.Errorf("%s: %w", op, err))
}

func internalError(op string, err error) error {
	e := apperr.Internal(fmt.Errorf("%s: %w", op, err))
	e.Retryable = errors.Is(err, storage.ErrTimeout)
	return e
}

// customerFor returns the gateway customer of the caller, creating and
// linking one on first use.
func (s *Service) customerFor(ctx context.Context, id models.Identity) (string, error) {
	const op = "payments.customerFor"

	user, err := s.storage.GetUserByID(ctx, id.UserID)
	if err != nil {
		return "", internalError(op, err)
	}
	if user.PaymentCustomerID != "" {
		return user.PaymentCustomerID, nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx, user.Email, user.FullName, map[string]string{
		"userId": user.ID.String(),
	})
	if err != nil {
		return "", s.gatewayError(op, err)
	}

	// A concurrent first payment may have linked its own customer already.
	stored, err := s.storage.SetPaymentCustomer(ctx, user.ID, customerID)
	if err != nil {
		return "", internalError(op, err)
	}

	return stored, nil
}

func (s *Service) CreateIntent(ctx context.Context, id models.Identity, amount int64, currency, description string) (Intent, error) {
	const op = "payments.CreateIntent"

	if err := s.enabled(); err != nil {
		return Intent{}, err
	}

	if amount < MinAmount {
		return Intent{}, ErrAmountTooSmall
	}
	if currency == "" {
		currency = s.currency
	}
	if description == "" {
		description = DefaultDescription
	}

	customerID, err := s.customerFor(ctx, id)
	if err != nil {
		return Intent{}, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, CreateIntentParams{
		Amount:      amount,
		Currency:    strings.ToLower(currency),
		Description: description,
		CustomerID:  customerID,
		Metadata: map[string]string{
			"userId":      id.UserID.String(),
			"description": description,
			"timestamp":   s.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return Intent{}, s.gatewayError(op, err)
	}

	s.log.InfoContext(ctx, "payment intent created",
		slog.String("op", op),
		slog.String("user_id", id.UserID.String()),
		slog.String("payment_intent_id", intent.ID),
		slog.Int64("amount", intent.Amount),
	)

	return intent, nil
}

// owned fetches an intent and hides intents created for other users.
func (s *Service) owned(ctx context.Context, op string, id models.Identity, intentID string) (Intent, error) {
	if intentID == "" {
		return Intent{}, ErrMissingIntentID
	}

	intent, err := s.gateway.RetrievePaymentIntent(ctx, intentID)
	if err != nil {
		return Intent{}, s.gatewayError(op, err)
	}

	if intent.Metadata["userId"] != id.UserID.String() {
		return Intent{}, ErrPaymentNotFound
	}

	return intent, nil
}

// Confirm returns the current state of an intent. Callers check Status
// against StatusSucceeded.
func (s *Service) Confirm(ctx context.Context, id models.Identity, intentID string) (Intent, error) {
	const op = "payments.Confirm"

	if err := s.enabled(); err != nil {
		return Intent{}, err
	}

	return s.owned(ctx, op, id, intentID)
}

func (s *Service) Refund(ctx context.Context, id models.Identity, intentID string, amount *int64) (Refund, error) {
	const op = "payments.Refund"

	if err := s.enabled(); err != nil {
		return Refund{}, err
	}

	if amount != nil && *amount <= 0 {
		return Refund{}, ErrInvalidRefund
	}

	if _, err := s.owned(ctx, op, id, intentID); err != nil {
		return Refund{}, err
	}

	refund, err := s.gateway.CreateRefund(ctx, intentID, amount)
	if err != nil {
		return Refund{}, s.gatewayError(op, err)
	}

	s.log.InfoContext(ctx, "refund created",
		slog.String("op", op),
		slog.String("user_id", id.UserID.String()),
		slog.String("payment_intent_id", intentID),
		slog.String("refund_id", refund.ID),
	)

	return refund, nil
}

func (s *Service) History(ctx context.Context, id models.Identity) ([]Intent, error) {
	const op = "payments.History"

	if err := s.enabled(); err != nil {
		return nil, err
	}

	user, err := s.storage.GetUserByID(ctx, id.UserID)
	if err != nil {
		return nil, internalError(op, err)
	}
	if user.PaymentCustomerID == "" {
		return []Intent{}, nil
	}

	intents, err := s.gateway.ListPaymentIntents(ctx, user.PaymentCustomerID, historyLimit)
	if err != nil {
		return nil, s.gatewayError(op, err)
	}
	if intents == nil {
		intents = []Intent{}
	}

	return intents, nil
}
