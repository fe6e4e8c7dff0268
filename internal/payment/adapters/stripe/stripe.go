package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/roteiro/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const (
	ProviderName    = "stripe"
	SignatureHeader = "Stripe-Signature"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Adapter{webhookSecret: secret, tolerance: tolerance}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
}

// Verify checks the Stripe-Signature header against the raw body and
// rejects signatures older than the tolerance.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, a.tolerance); err != nil {
		return fmt.Errorf("%w: %s", paymentdomain.ErrInvalidSignature, err.Error())
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (paymentdomain.Event, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	env := paymentdomain.Envelope{
		Provider:   ProviderName,
		EventID:    event.ID,
		Type:       strings.TrimSpace(string(event.Type)),
		OccurredAt: timestamp(event.Created),
	}
	raw := event.Data.Raw

	switch env.Type {
	case "checkout.session.completed":
		return parseCheckoutCompleted(env, raw)
	case "payment_intent.succeeded":
		return parsePaymentSucceeded(env, raw)
	case "payment_intent.payment_failed":
		return parsePaymentFailed(env, raw)
	case "customer.subscription.created":
		snapshot, err := parseSubscription(raw)
		if err != nil {
			return nil, err
		}
		return paymentdomain.SubscriptionCreated{Envelope: env, Subscription: snapshot}, nil
	case "customer.subscription.updated", "customer.subscription.deleted":
		snapshot, err := parseSubscription(raw)
		if err != nil {
			return nil, err
		}
		return paymentdomain.SubscriptionUpdated{
			Envelope:     env,
			Subscription: snapshot,
			Deleted:      env.Type == "customer.subscription.deleted",
		}, nil
	case "invoice.paid", "invoice.payment_succeeded":
		return parseInvoicePaid(env, raw)
	case "invoice.payment_failed":
		return parseInvoicePaymentFailed(env, raw)
	case "charge.refunded":
		return parseChargeRefunded(env, raw)
	default:
		return paymentdomain.Unknown{Envelope: env}, nil
	}
}

func parseCheckoutCompleted(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var session stripego.CheckoutSession
	if err := unmarshalObject(raw, &session); err != nil {
		return nil, err
	}
	out := paymentdomain.CheckoutCompleted{
		Envelope:    env,
		SessionID:   session.ID,
		Mode:        paymentdomain.CheckoutMode(session.Mode),
		AmountTotal: session.AmountTotal,
		Currency:    normalizeCurrency(string(session.Currency)),
		Metadata:    paymentdomain.Metadata(session.Metadata),
	}
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	return out, nil
}

func parsePaymentSucceeded(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var intent stripego.PaymentIntent
	if err := unmarshalObject(raw, &intent); err != nil {
		return nil, err
	}
	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	out := paymentdomain.PaymentSucceeded{
		Envelope:        env,
		PaymentIntentID: intent.ID,
		Amount:          amount,
		Currency:        normalizeCurrency(string(intent.Currency)),
		Description:     strings.TrimSpace(intent.Description),
		Metadata:        paymentdomain.Metadata(intent.Metadata),
	}
	if intent.Invoice != nil {
		out.InvoiceID = intent.Invoice.ID
	}
	return out, nil
}

func parsePaymentFailed(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var intent stripego.PaymentIntent
	if err := unmarshalObject(raw, &intent); err != nil {
		return nil, err
	}
	out := paymentdomain.PaymentFailed{
		Envelope:        env,
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		Currency:        normalizeCurrency(string(intent.Currency)),
		Reason:          paymentErrorReason(intent.LastPaymentError),
		Metadata:        paymentdomain.Metadata(intent.Metadata),
	}
	if intent.Invoice != nil {
		out.InvoiceID = intent.Invoice.ID
	}
	return out, nil
}

func parseSubscription(raw json.RawMessage) (paymentdomain.SubscriptionSnapshot, error) {
	var sub stripego.Subscription
	if err := unmarshalObject(raw, &sub); err != nil {
		return paymentdomain.SubscriptionSnapshot{}, err
	}
	return subscriptionSnapshot(&sub), nil
}

func parseInvoicePaid(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var invoice stripego.Invoice
	if err := unmarshalObject(raw, &invoice); err != nil {
		return nil, err
	}
	start, end := invoicePeriod(&invoice)
	out := paymentdomain.InvoicePaid{
		Envelope:      env,
		InvoiceID:     invoice.ID,
		BillingReason: paymentdomain.BillingReason(invoice.BillingReason),
		AmountPaid:    invoice.AmountPaid,
		Currency:      normalizeCurrency(string(invoice.Currency)),
		PeriodStart:   start,
		PeriodEnd:     end,
	}
	if invoice.Subscription != nil {
		out.SubscriptionID = invoice.Subscription.ID
	}
	if invoice.PaymentIntent != nil {
		out.PaymentIntentID = invoice.PaymentIntent.ID
	}
	if invoice.Charge != nil {
		out.ChargeID = invoice.Charge.ID
	}
	return out, nil
}

func parseInvoicePaymentFailed(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var invoice stripego.Invoice
	if err := unmarshalObject(raw, &invoice); err != nil {
		return nil, err
	}
	out := paymentdomain.InvoicePaymentFailed{
		Envelope:  env,
		InvoiceID: invoice.ID,
		AmountDue: invoice.AmountDue,
		Currency:  normalizeCurrency(string(invoice.Currency)),
		Reason:    fmt.Sprintf("invoice_payment_failed attempt=%d", invoice.AttemptCount),
		Metadata:  paymentdomain.Metadata(invoice.Metadata),
	}
	if invoice.Subscription != nil {
		out.SubscriptionID = invoice.Subscription.ID
	}
	if invoice.PaymentIntent != nil {
		out.PaymentIntentID = invoice.PaymentIntent.ID
	}
	return out, nil
}

func parseChargeRefunded(env paymentdomain.Envelope, raw json.RawMessage) (paymentdomain.Event, error) {
	var charge stripego.Charge
	if err := unmarshalObject(raw, &charge); err != nil {
		return nil, err
	}
	out := paymentdomain.ChargeRefunded{
		Envelope:       env,
		ChargeID:       charge.ID,
		AmountRefunded: charge.AmountRefunded,
		Currency:       normalizeCurrency(string(charge.Currency)),
	}
	if charge.PaymentIntent != nil {
		out.PaymentIntentID = charge.PaymentIntent.ID
	}
	if charge.Invoice != nil {
		out.InvoiceID = charge.Invoice.ID
	}
	if charge.Refunds != nil {
		for _, refund := range charge.Refunds.Data {
			if refund != nil && refund.Reason != "" {
				out.Reason = string(refund.Reason)
				break
			}
		}
	}
	return out, nil
}

func subscriptionSnapshot(sub *stripego.Subscription) paymentdomain.SubscriptionSnapshot {
	out := paymentdomain.SubscriptionSnapshot{
		ID:          sub.ID,
		Status:      string(sub.Status),
		PeriodStart: timestamp(sub.CurrentPeriodStart),
		PeriodEnd:   timestamp(sub.CurrentPeriodEnd),
		Currency:    normalizeCurrency(string(sub.Currency)),
		Metadata:    paymentdomain.Metadata(sub.Metadata),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.LatestInvoice != nil {
		out.InvoiceID = sub.LatestInvoice.ID
	}
	switch {
	case sub.Status == stripego.SubscriptionStatusTrialing:
		var zero int64
		out.AmountPaid = &zero
	case sub.LatestInvoice != nil && sub.LatestInvoice.Object == "invoice":
		// Expanded invoice; an unexpanded reference only carries the id.
		paid := sub.LatestInvoice.AmountPaid
		out.AmountPaid = &paid
	}
	if sub.Items == nil {
		return out
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if out.Currency == "" {
			out.Currency = normalizeCurrency(string(item.Price.Currency))
		}
		if out.Interval == "" && item.Price.Recurring != nil {
			out.Interval = string(item.Price.Recurring.Interval)
		}
	}
	return out
}

// invoicePeriod prefers the line item period, which is the service period
// being paid for. The invoice level period is the previous billing window.
func invoicePeriod(invoice *stripego.Invoice) (time.Time, time.Time) {
	var start, end int64
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line == nil || line.Period == nil {
				continue
			}
			if line.Period.End > end {
				start, end = line.Period.Start, line.Period.End
			}
		}
	}
	if end == 0 {
		start, end = invoice.PeriodStart, invoice.PeriodEnd
	}
	return timestamp(start), timestamp(end)
}

func paymentErrorReason(err *stripego.Error) string {
	if err == nil {
		return ""
	}
	if msg := strings.TrimSpace(err.Msg); msg != "" {
		return msg
	}
	return string(err.Code)
}

func unmarshalObject(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return paymentdomain.ErrInvalidEvent
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

func normalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}

func timestamp(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}
