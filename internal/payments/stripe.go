package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"
)

// StripeClient is a thin wrapper around stripe-go for wallet charge/refund
// flows. Settlement policy lives elsewhere; this only moves money.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// Charge creates and captures a PaymentIntent for a wallet payment.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Charge(ctx context.Context, amount int64, currency, customerRef string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerRef != "" {
		params.Customer = stripe.String(customerRef)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Refund returns a captured wallet payment, e.g. when an order is cancelled.
func (s *StripeClient) Refund(ctx context.Context, paymentIntentID string) error {
	_, err := refund.New(&stripe.RefundParams{PaymentIntent: stripe.String(paymentIntentID)})
	return err
}
