// Package payments creates, confirms, refunds and lists payment intents
// through an external payment gateway.
package payments

import (
	"context"
	"errors"
	"time"
)

var ErrIntentNotFound = errors.New("payment intent not found")

type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"-"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Created      time.Time         `json:"created"`
}

type Refund struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type CreateIntentParams struct {
	Amount      int64
	Currency    string
	Description string
	CustomerID  string
	Metadata    map[string]string
}

// Gateway is the external payment provider.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreatePaymentIntent(ctx context.Context, params CreateIntentParams) (Intent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (Intent, error)
	// CreateRefund refunds amount, or the full charge when amount is nil.
	CreateRefund(ctx context.Context, intentID string, amount *int64) (Refund, error)
	ListPaymentIntents(ctx context.Context, customerID string, limit int64) ([]Intent, error)
}
