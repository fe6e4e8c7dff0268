package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	commissiondomain "github.com/smallbiznis/roteiro/internal/commission/domain"
)

// SalePaymentRequest records a completed one-off purchase.
type SalePaymentRequest struct {
	UserID               string
	Gross                decimal.Decimal
	Currency             string
	Gateway              string
	GatewayEventID       string
	GatewayTransactionID string
	Description          string
	ProductType          commissiondomain.ProductType
	AffiliateID          *string
	SaleID               *string
}

// PaymentFailureRequest records a declined or failed charge. When
// GatewaySubscriptionID is set the failure belongs to a subscription invoice
// and UserID may be left empty.
type PaymentFailureRequest struct {
	UserID                string
	Gross                 decimal.Decimal
	Currency              string
	Gateway               string
	GatewayEventID        string
	GatewayTransactionID  string
	Reason                string
	GatewaySubscriptionID string
	SaleID                *string
}

type SubscriptionCreatedRequest struct {
	UserID                string
	PlanID                string
	Interval              BillingInterval
	GatewaySubscriptionID string
	GatewayCustomerID     string
	PeriodStart           time.Time
	PeriodEnd             time.Time
	Amount                decimal.Decimal
	Currency              string
	Gateway               string
	GatewayEventID        string
	GatewayTransactionID  string
	AffiliateID           *string
}

type SubscriptionRenewalRequest struct {
	GatewaySubscriptionID string
	PeriodStart           time.Time
	PeriodEnd             time.Time
	AmountPaid            decimal.Decimal
	Currency              string
	Gateway               string
	GatewayEventID        string
	GatewayInvoiceID      string
}

// RefundRequest carries the gateway's cumulative refunded amount for a charge.
// GatewayReferences lists every id the original payment may have been stored
// under (payment intent, invoice, charge).
type RefundRequest struct {
	Gateway           string
	GatewayEventID    string
	GatewayReferences []string
	RefundedTotal     decimal.Decimal
	Currency          string
	Reason            string
}

type SubscriptionStatusRequest struct {
	GatewaySubscriptionID string
	Status                SubscriptionStatus
	Gateway               string
	GatewayEventID        string
}

// Result describes what a ledger operation wrote. Duplicate is set when the
// event had already been recorded and nothing new was written.
// CommissionDeferred is set when the transaction committed but its commission
// could not be written; reconciliation picks it up later.
type Result struct {
	Transaction        *Transaction
	Commission         *Commission
	Subscription       *Subscription
	Duplicate          bool
	CommissionDeferred bool
}

type ReconcileResult struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

type Service interface {
	RecordSalePayment(context.Context, SalePaymentRequest) (Result, error)
	RecordPaymentFailure(context.Context, PaymentFailureRequest) (Result, error)
	RecordSubscriptionCreated(context.Context, SubscriptionCreatedRequest) (Result, error)
	RecordSubscriptionRenewal(context.Context, SubscriptionRenewalRequest) (Result, error)
	RecordRefund(context.Context, RefundRequest) (Result, error)
	UpdateSubscriptionStatus(context.Context, SubscriptionStatusRequest) (Result, error)
	ReconcileCommissions(ctx context.Context, limit int) (ReconcileResult, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidGateway       = errors.New("invalid_gateway")
	ErrInvalidEventID       = errors.New("invalid_event_id")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidInterval      = errors.New("invalid_interval")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidReference     = errors.New("invalid_reference")
	ErrRefundExceedsPayment = errors.New("refund_exceeds_payment")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrTransactionNotFound  = errors.New("transaction_not_found")
)

var validationErrors = []error{
	ErrInvalidUser,
	ErrInvalidPlan,
	ErrInvalidGateway,
	ErrInvalidEventID,
	ErrInvalidCurrency,
	ErrInvalidPeriod,
	ErrInvalidInterval,
	ErrInvalidStatus,
	ErrInvalidReference,
	ErrRefundExceedsPayment,
	commissiondomain.ErrInvalidAmount,
	commissiondomain.ErrInvalidRate,
	commissiondomain.ErrInvalidAttribution,
	commissiondomain.ErrInvalidProductType,
}

// IsValidationError reports errors caused by the request itself. Retrying
// the same input cannot succeed.
func IsValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
