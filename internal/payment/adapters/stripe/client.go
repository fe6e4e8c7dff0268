package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	paymentdomain "github.com/smallbiznis/roteiro/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// Client wraps the Stripe API calls the service makes outside webhooks.
type Client struct {
	api *client.API
}

// NewClient returns nil when no secret key is configured.
func NewClient(secretKey string) *Client {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil
	}
	return &Client{api: client.New(secretKey, nil)}
}

func (c *Client) FetchSubscription(ctx context.Context, id string) (*paymentdomain.SubscriptionSnapshot, error) {
	if c == nil || c.api == nil {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice")
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, gatewayError(err)
	}
	snapshot := subscriptionSnapshot(sub)
	return &snapshot, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error) {
	if c == nil || c.api == nil {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	params.Context = ctx
	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, gatewayError(err)
	}
	return session, nil
}

func gatewayError(err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %s %s", paymentdomain.ErrGatewayUnavailable, stripeErr.Type, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
}
