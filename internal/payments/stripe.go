package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, nil)}
}

func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%s: %w: %v", op, ErrIntentNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func intentFromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Description:  pi.Description,
		Metadata:     pi.Metadata,
		Created:      time.Unix(pi.Created, 0).UTC(),
	}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	const op = "payments.StripeGateway.CreateCustomer"

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	c, err := g.api.Customers.New(params)
	if err != nil {
		return "", stripeError(op, err)
	}

	return c.ID, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, p CreateIntentParams) (Intent, error) {
	const op = "payments.StripeGateway.CreatePaymentIntent"

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(p.Amount),
		Currency:           stripe.String(p.Currency),
		Description:        stripe.String(p.Description),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SetupFutureUsage:   stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, stripeError(op, err)
	}

	return intentFromStripe(pi), nil
}

func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, id string) (Intent, error) {
	const op = "payments.StripeGateway.RetrievePaymentIntent"

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, stripeError(op, err)
	}

	return intentFromStripe(pi), nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, intentID string, amount *int64) (Refund, error) {
	const op = "payments.StripeGateway.CreateRefund"

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	if amount != nil {
		params.Amount = stripe.Int64(*amount)
	}
	params.Context = ctx

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return Refund{}, stripeError(op, err)
	}

	return Refund{
		ID:       r.ID,
		Amount:   r.Amount,
		Currency: string(r.Currency),
		Status:   string(r.Status),
	}, nil
}

func (g *StripeGateway) ListPaymentIntents(ctx context.Context, customerID string, limit int64) ([]Intent, error) {
	const op = "payments.StripeGateway.ListPaymentIntents"

	params := &stripe.PaymentIntentListParams{
		Customer: stripe.String(customerID),
	}
	params.Limit = stripe.Int64(limit)
	params.Context = ctx

	var intents []Intent

	it := g.api.PaymentIntents.List(params)
	for int64(len(intents)) < limit && it.Next() {
		intents = append(intents, intentFromStripe(it.PaymentIntent()))
	}
	if err := it.Err(); err != nil {
		return nil, stripeError(op, err)
	}

	return intents, nil
}
