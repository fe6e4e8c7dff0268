package domain

import "time"

// Event is a gateway event classified into one of the variants below.
// Anything the dispatcher does not act on parses as Unknown.
type Event interface {
	Header() Envelope
}

// Envelope carries the fields every gateway event shares.
type Envelope struct {
	Provider   string
	EventID    string
	Type       string
	OccurredAt time.Time
}

func (e Envelope) Header() Envelope { return e }

type CheckoutMode string

const (
	CheckoutModePayment      CheckoutMode = "payment"
	CheckoutModeSubscription CheckoutMode = "subscription"
)

type CheckoutCompleted struct {
	Envelope
	SessionID       string
	Mode            CheckoutMode
	PaymentIntentID string
	SubscriptionID  string
	CustomerID      string
	AmountTotal     int64
	Currency        string
	Metadata        Metadata
}

type PaymentSucceeded struct {
	Envelope
	PaymentIntentID string
	InvoiceID       string
	Amount          int64
	Currency        string
	Description     string
	Metadata        Metadata
}

type PaymentFailed struct {
	Envelope
	PaymentIntentID string
	InvoiceID       string
	Amount          int64
	Currency        string
	Reason          string
	Metadata        Metadata
}

// SubscriptionSnapshot is the gateway's view of a subscription at the time
// of the event.
type SubscriptionSnapshot struct {
	ID          string
	CustomerID  string
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Currency    string
	Interval    string
	InvoiceID   string
	Metadata    Metadata
	// AmountPaid is what the latest invoice collected, nil when that invoice
	// was not included. Item prices ignore trials and discounts, so they are
	// never used as the charged amount.
	AmountPaid *int64
}

type SubscriptionCreated struct {
	Envelope
	Subscription SubscriptionSnapshot
}

type SubscriptionUpdated struct {
	Envelope
	Subscription SubscriptionSnapshot
	Deleted      bool
}

type BillingReason string

const (
	BillingReasonSubscriptionCreate BillingReason = "subscription_create"
	BillingReasonSubscriptionCycle  BillingReason = "subscription_cycle"
	BillingReasonSubscriptionUpdate BillingReason = "subscription_update"
	BillingReasonManual             BillingReason = "manual"
)

type InvoicePaid struct {
	Envelope
	InvoiceID       string
	SubscriptionID  string
	PaymentIntentID string
	ChargeID        string
	BillingReason   BillingReason
	AmountPaid      int64
	Currency        string
	PeriodStart     time.Time
	PeriodEnd       time.Time
}

type InvoicePaymentFailed struct {
	Envelope
	InvoiceID       string
	SubscriptionID  string
	PaymentIntentID string
	AmountDue       int64
	Currency        string
	Reason          string
	Metadata        Metadata
}

// ChargeRefunded carries the cumulative refunded amount of the charge.
type ChargeRefunded struct {
	Envelope
	ChargeID        string
	PaymentIntentID string
	InvoiceID       string
	AmountRefunded  int64
	Currency        string
	Reason          string
}

type Unknown struct {
	Envelope
}
