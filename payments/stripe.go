package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrInvalidSignature covers every authenticity failure: a missing secret,
// a missing header, or a signature that does not match the payload.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// CheckoutCompleted is a paid checkout in provider-neutral form.
type CheckoutCompleted struct {
	SessionID   string
	CustomerID  string
	ProductID   string
	Email       string
	AmountTotal int64
}

// Event is a verified webhook event. Checkout is nil for event types that
// do not result in a license.
type Event struct {
	ID       string
	Type     string
	Checkout *CheckoutCompleted
}

type Verifier interface {
	Verify(payload []byte, signatureHeader string) (*Event, error)
}

type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(webhookSecret string) *StripeVerifier {
	return &StripeVerifier{secret: webhookSecret}
}

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (*Event, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to parse checkout session: %w", err)
		}
		// Delayed payment methods complete the session before the money
		// arrives; async_payment_succeeded follows once it does.
		if event.Type == stripe.EventTypeCheckoutSessionCompleted &&
			session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return out, nil
		}
		out.Checkout = checkoutFromSession(&session)
	}

	return out, nil
}

func checkoutFromSession(session *stripe.CheckoutSession) *CheckoutCompleted {
	c := &CheckoutCompleted{
		SessionID:   session.ID,
		AmountTotal: session.AmountTotal,
		Email:       session.CustomerEmail,
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		c.Email = session.CustomerDetails.Email
	}
	if session.Customer != nil {
		c.CustomerID = session.Customer.ID
	}
	if session.Metadata != nil {
		c.ProductID = session.Metadata["product_id"]
	}
	return c
}
