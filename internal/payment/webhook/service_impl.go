package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/roteiro/internal/clock"
	"github.com/smallbiznis/roteiro/internal/commission/calculator"
	commissiondomain "github.com/smallbiznis/roteiro/internal/commission/domain"
	"github.com/smallbiznis/roteiro/internal/config"
	ledgerdomain "github.com/smallbiznis/roteiro/internal/ledger/domain"
	obscontext "github.com/smallbiznis/roteiro/internal/observability/context"
	obslogger "github.com/smallbiznis/roteiro/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/roteiro/internal/observability/metrics"
	"github.com/smallbiznis/roteiro/internal/observability/tracing"
	"github.com/smallbiznis/roteiro/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/roteiro/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxStoredErrorLength = 512

// EventLocker serializes concurrent deliveries of one event. Lock errors
// are not fatal: the ledger unique constraints still hold.
type EventLocker interface {
	TryLockEvent(ctx context.Context, provider, eventID string) (string, bool, error)
	ReleaseEvent(ctx context.Context, provider, eventID, token string) error
}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Cfg            config.Config
	Adapters       *adapters.Registry
	Repo           paymentdomain.Repository
	Ledger         ledgerdomain.Service
	Subscriptions  paymentdomain.SubscriptionFetcher `optional:"true"`
	Locker         EventLocker                       `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics               `optional:"true"`
	WebhookMetrics *obsmetrics.WebhookMetrics        `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	adapters        *adapters.Registry
	adapterConfigs  map[string]paymentdomain.AdapterConfig
	repo            paymentdomain.Repository
	ledger          ledgerdomain.Service
	subscriptions   paymentdomain.SubscriptionFetcher
	locker          EventLocker
	obsMetrics      *obsmetrics.Metrics
	webhookMetrics  *obsmetrics.WebhookMetrics
	defaultCurrency string
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		clock:    p.Clock,
		adapters: p.Adapters,
		adapterConfigs: map[string]paymentdomain.AdapterConfig{
			"stripe": {
				Provider:      "stripe",
				WebhookSecret: p.Cfg.Stripe.WebhookSecret,
				Tolerance:     time.Duration(p.Cfg.Stripe.WebhookToleranceSeconds) * time.Second,
			},
		},
		repo:            p.Repo,
		ledger:          p.Ledger,
		subscriptions:   p.Subscriptions,
		locker:          p.Locker,
		obsMetrics:      p.ObsMetrics,
		webhookMetrics:  p.WebhookMetrics,
		defaultCurrency: strings.ToLower(strings.TrimSpace(p.Cfg.Checkout.DefaultCurrency)),
	}
}

// IngestWebhook verifies, classifies and dispatches one gateway delivery.
// A nil return acknowledges the delivery. Errors the gateway should retry
// are returned as is; the caller maps them to HTTP statuses.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (err error) {
	started := time.Now()
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}

	ctx, span := otel.Tracer("roteiro/payment").Start(ctx, "payment.webhook.ingest")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(attribute.String("gateway.provider", provider))...)

	eventType := "unknown"
	outcome := obsmetrics.WebhookOutcomeFailed
	defer func() {
		s.webhookMetrics.ObserveDelivery(provider, eventType, outcome, time.Since(started))
		s.obsMetrics.RecordWebhookEvent(ctx, provider, eventType, outcome)
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, outcome)
		}
	}()

	adapter, err := s.adapters.NewAdapter(provider, s.adapterConfigs[provider])
	if err != nil {
		s.log.Error("payment adapter not configured", zap.String("provider", provider), zap.Error(err))
		return err
	}
	if !json.Valid(payload) {
		outcome = obsmetrics.WebhookOutcomeInvalidPayload
		return paymentdomain.ErrInvalidPayload
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		outcome = obsmetrics.WebhookOutcomeInvalidSignature
		s.log.Warn("payment webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		outcome = obsmetrics.WebhookOutcomeInvalidPayload
		return err
	}
	header := event.Header()
	eventType = header.Type
	span.SetAttributes(
		attribute.String("gateway.event_id", header.EventID),
		attribute.String("gateway.event_type", header.Type),
	)

	ctx = obscontext.WithEvent(ctx, provider, header.EventID)
	log := obslogger.WithContext(ctx, s.log).With(zap.String("event_type", header.Type))

	if _, ok := event.(paymentdomain.Unknown); ok {
		outcome = obsmetrics.WebhookOutcomeIgnored
		log.Debug("payment webhook type not handled")
		return nil
	}

	token, locked, lockErr := s.lock(ctx, provider, header.EventID)
	if lockErr != nil {
		log.Warn("webhook lock unavailable, relying on ledger idempotency", zap.Error(lockErr))
	} else if !locked {
		outcome = obsmetrics.WebhookOutcomeInFlight
		s.webhookMetrics.IncLockContention(provider)
		return paymentdomain.ErrEventInFlight
	} else {
		defer s.unlock(ctx, provider, header.EventID, token)
	}

	record, err := s.ensureRecord(ctx, provider, header, payload)
	if err != nil {
		log.Error("failed to record payment event", zap.Error(err))
		return err
	}
	if record.Status.Terminal() {
		outcome = obsmetrics.WebhookOutcomeDuplicate
		log.Info("payment webhook already handled", zap.String("status", string(record.Status)))
		return nil
	}

	status, dispatchErr := s.dispatch(ctx, event)
	status, err = s.classify(log, status, dispatchErr)
	outcome = outcomeFor(status)

	processedAt := s.clock.Now()
	errMsg := ""
	if dispatchErr != nil {
		errMsg = truncate(dispatchErr.Error(), maxStoredErrorLength)
	}
	var markedAt *time.Time
	if status.Terminal() {
		markedAt = &processedAt
	}
	if markErr := s.repo.MarkStatus(context.WithoutCancel(ctx), s.db, record.ID, status, errMsg, markedAt); markErr != nil {
		// Redelivery will be deduplicated by the ledger.
		log.Error("failed to mark payment event", zap.String("status", string(status)), zap.Error(markErr))
	}
	return err
}

func (s *Service) ListEvents(ctx context.Context, filter paymentdomain.ListEventsFilter) ([]paymentdomain.EventRecord, error) {
	if filter.Status != "" {
		if _, ok := paymentdomain.ParseEventStatus(string(filter.Status)); !ok {
			return nil, paymentdomain.ErrInvalidStatusFilter
		}
	}
	return s.repo.ListEvents(ctx, s.db, filter)
}

func (s *Service) lock(ctx context.Context, provider, eventID string) (string, bool, error) {
	if s.locker == nil {
		return "", true, nil
	}
	return s.locker.TryLockEvent(ctx, provider, eventID)
}

func (s *Service) unlock(ctx context.Context, provider, eventID, token string) {
	if s.locker == nil {
		return
	}
	if err := s.locker.ReleaseEvent(context.WithoutCancel(ctx), provider, eventID, token); err != nil {
		s.log.Warn("failed to release webhook lock", zap.String("provider", provider), zap.String("event_id", eventID), zap.Error(err))
	}
}

func (s *Service) ensureRecord(ctx context.Context, provider string, header paymentdomain.Envelope, payload []byte) (*paymentdomain.EventRecord, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: header.EventID,
		EventType:       header.Type,
		Status:          paymentdomain.EventStatusReceived,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return record, nil
	}
	existing, err := s.repo.FindEvent(ctx, s.db, provider, header.EventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.New("payment_event_missing_after_conflict")
	}
	return existing, nil
}

// classify turns a dispatch result into the stored status. Requests the
// ledger can never accept are acknowledged so the gateway stops retrying.
func (s *Service) classify(log *zap.Logger, status paymentdomain.EventStatus, err error) (paymentdomain.EventStatus, error) {
	if err == nil {
		if status == paymentdomain.EventStatusPartial {
			log.Warn("payment webhook processed with deferred commission")
		}
		return status, nil
	}

	var missing *paymentdomain.MissingMetadataError
	switch {
	case errors.As(err, &missing):
		log.Warn("payment webhook missing metadata", zap.String("metadata_key", missing.Key))
		return paymentdomain.EventStatusRejected, nil
	case errors.Is(err, paymentdomain.ErrInvalidMetadata),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		ledgerdomain.IsValidationError(err):
		log.Warn("payment webhook rejected", zap.Error(err))
		return paymentdomain.EventStatusRejected, nil
	default:
		log.Error("payment webhook processing failed", zap.Error(err))
		return paymentdomain.EventStatusFailed, err
	}
}

func (s *Service) dispatch(ctx context.Context, event paymentdomain.Event) (paymentdomain.EventStatus, error) {
	switch ev := event.(type) {
	case paymentdomain.PaymentSucceeded:
		return s.handlePaymentSucceeded(ctx, ev)
	case paymentdomain.PaymentFailed:
		return s.handlePaymentFailed(ctx, ev)
	case paymentdomain.CheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, ev)
	case paymentdomain.SubscriptionCreated:
		return s.handleSubscriptionCreated(ctx, ev)
	case paymentdomain.InvoicePaid:
		return s.handleInvoicePaid(ctx, ev)
	case paymentdomain.InvoicePaymentFailed:
		return s.handleInvoicePaymentFailed(ctx, ev)
	case paymentdomain.SubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, ev)
	case paymentdomain.ChargeRefunded:
		return s.handleChargeRefunded(ctx, ev)
	default:
		return paymentdomain.EventStatusIgnored, nil
	}
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, ev paymentdomain.PaymentSucceeded) (paymentdomain.EventStatus, error) {
	// Invoice payments are recorded from the invoice events.
	if ev.InvoiceID != "" {
		return paymentdomain.EventStatusIgnored, nil
	}
	userID, err := ev.Metadata.UserID()
	if err != nil {
		return "", err
	}
	affiliateID, err := ev.Metadata.AffiliateID()
	if err != nil {
		return "", err
	}

	result, err := s.ledger.RecordSalePayment(ctx, ledgerdomain.SalePaymentRequest{
		UserID:               userID,
		Gross:                calculator.AmountFromMinorUnits(ev.Amount),
		Currency:             s.currency(ev.Currency),
		Gateway:              ev.Provider,
		GatewayEventID:       ev.EventID,
		GatewayTransactionID: ev.PaymentIntentID,
		Description:          ev.Description,
		ProductType:          commissiondomain.ParseProductType(ev.Metadata.Get(paymentdomain.MetadataProductType)),
		AffiliateID:          affiliateID,
		SaleID:               ev.Metadata.Optional(paymentdomain.MetadataSaleID),
	})
	return resultStatus(result), err
}

func (s *Service) handlePaymentFailed(ctx context.Context, ev paymentdomain.PaymentFailed) (paymentdomain.EventStatus, error) {
	if ev.InvoiceID != "" {
		return paymentdomain.EventStatusIgnored, nil
	}
	userID, err := ev.Metadata.UserID()
	if err != nil {
		return "", err
	}

	result, err := s.ledger.RecordPaymentFailure(ctx, ledgerdomain.PaymentFailureRequest{
		UserID:               userID,
		Gross:                calculator.AmountFromMinorUnits(ev.Amount),
		Currency:             s.currency(ev.Currency),
		Gateway:              ev.Provider,
		GatewayEventID:       ev.EventID,
		GatewayTransactionID: ev.PaymentIntentID,
		Reason:               ev.Reason,
		SaleID:               ev.Metadata.Optional(paymentdomain.MetadataSaleID),
	})
	return resultStatus(result), err
}

// handleCheckoutCompleted records subscription checkouts. One-off sales are
// recorded from payment_intent.succeeded, which carries the same metadata.
func (s *Service) handleCheckoutCompleted(ctx context.Context, ev paymentdomain.CheckoutCompleted) (paymentdomain.EventStatus, error) {
	if ev.Mode != paymentdomain.CheckoutModeSubscription {
		return paymentdomain.EventStatusIgnored, nil
	}
	if ev.SubscriptionID == "" {
		return "", paymentdomain.ErrInvalidEvent
	}
	if s.subscriptions == nil {
		// customer.subscription.created records it instead.
		return paymentdomain.EventStatusIgnored, nil
	}

	snapshot, err := s.subscriptions.FetchSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return "", err
	}
	// The session total is the first charge after trials and discounts.
	total := ev.AmountTotal
	snapshot.AmountPaid = &total
	snapshot.Metadata = ev.Metadata.Merge(snapshot.Metadata)
	if snapshot.CustomerID == "" {
		snapshot.CustomerID = ev.CustomerID
	}
	if snapshot.Currency == "" {
		snapshot.Currency = ev.Currency
	}
	return s.recordSubscription(ctx, ev.Envelope, *snapshot)
}

func (s *Service) handleSubscriptionCreated(ctx context.Context, ev paymentdomain.SubscriptionCreated) (paymentdomain.EventStatus, error) {
	switch ev.Subscription.Status {
	case "incomplete", "incomplete_expired":
		return paymentdomain.EventStatusIgnored, nil
	}
	return s.recordSubscription(ctx, ev.Envelope, ev.Subscription)
}

func (s *Service) recordSubscription(ctx context.Context, env paymentdomain.Envelope, sub paymentdomain.SubscriptionSnapshot) (paymentdomain.EventStatus, error) {
	userID, err := sub.Metadata.UserID()
	if err != nil {
		return "", err
	}
	planID, err := sub.Metadata.Require(paymentdomain.MetadataPlanID)
	if err != nil {
		return "", err
	}
	affiliateID, err := sub.Metadata.AffiliateID()
	if err != nil {
		return "", err
	}
	rawInterval := sub.Interval
	if rawInterval == "" {
		rawInterval = sub.Metadata.Get(paymentdomain.MetadataInterval)
	}
	interval, err := ledgerdomain.ParseBillingInterval(rawInterval)
	if err != nil {
		return "", err
	}

	// Without a known charge and its invoice, the subscription_create
	// invoice books the first payment instead.
	amount := decimal.Zero
	if sub.AmountPaid != nil && sub.InvoiceID != "" {
		amount = calculator.AmountFromMinorUnits(*sub.AmountPaid)
	}

	result, err := s.ledger.RecordSubscriptionCreated(ctx, ledgerdomain.SubscriptionCreatedRequest{
		UserID:                userID,
		PlanID:                planID,
		Interval:              interval,
		GatewaySubscriptionID: sub.ID,
		GatewayCustomerID:     sub.CustomerID,
		PeriodStart:           sub.PeriodStart,
		PeriodEnd:             sub.PeriodEnd,
		Amount:                amount,
		Currency:              s.currency(sub.Currency),
		Gateway:               env.Provider,
		GatewayEventID:        env.EventID,
		GatewayTransactionID:  sub.InvoiceID,
		AffiliateID:           affiliateID,
	})
	return resultStatus(result), err
}

// handleInvoicePaid records subscription payments. The ledger idempotency key
// is the invoice id because the gateway emits both invoice.paid and
// invoice.payment_succeeded for one payment. A subscription_create invoice
// already booked at creation is reported as a duplicate by the ledger.
func (s *Service) handleInvoicePaid(ctx context.Context, ev paymentdomain.InvoicePaid) (paymentdomain.EventStatus, error) {
	switch ev.BillingReason {
	case paymentdomain.BillingReasonSubscriptionCreate,
		paymentdomain.BillingReasonSubscriptionCycle,
		paymentdomain.BillingReasonSubscriptionUpdate:
	default:
		return paymentdomain.EventStatusIgnored, nil
	}
	if ev.SubscriptionID == "" || ev.InvoiceID == "" {
		return "", paymentdomain.ErrInvalidEvent
	}

	result, err := s.ledger.RecordSubscriptionRenewal(ctx, ledgerdomain.SubscriptionRenewalRequest{
		GatewaySubscriptionID: ev.SubscriptionID,
		PeriodStart:           ev.PeriodStart,
		PeriodEnd:             ev.PeriodEnd,
		AmountPaid:            calculator.AmountFromMinorUnits(ev.AmountPaid),
		Currency:              s.currency(ev.Currency),
		Gateway:               ev.Provider,
		GatewayEventID:        ev.InvoiceID,
		GatewayInvoiceID:      ev.InvoiceID,
	})
	return resultStatus(result), err
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, ev paymentdomain.InvoicePaymentFailed) (paymentdomain.EventStatus, error) {
	if ev.SubscriptionID == "" {
		return paymentdomain.EventStatusIgnored, nil
	}
	result, err := s.ledger.RecordPaymentFailure(ctx, ledgerdomain.PaymentFailureRequest{
		UserID:                ev.Metadata.Get(paymentdomain.MetadataUserID),
		Gross:                 calculator.AmountFromMinorUnits(ev.AmountDue),
		Currency:              s.currency(ev.Currency),
		Gateway:               ev.Provider,
		GatewayEventID:        ev.EventID,
		GatewayTransactionID:  ev.InvoiceID,
		Reason:                ev.Reason,
		GatewaySubscriptionID: ev.SubscriptionID,
	})
	return resultStatus(result), err
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, ev paymentdomain.SubscriptionUpdated) (paymentdomain.EventStatus, error) {
	status, ok := subscriptionStatus(ev.Subscription.Status, ev.Deleted)
	if !ok {
		return paymentdomain.EventStatusIgnored, nil
	}
	result, err := s.ledger.UpdateSubscriptionStatus(ctx, ledgerdomain.SubscriptionStatusRequest{
		GatewaySubscriptionID: ev.Subscription.ID,
		Status:                status,
		Gateway:               ev.Provider,
		GatewayEventID:        ev.EventID,
	})
	return resultStatus(result), err
}

func (s *Service) handleChargeRefunded(ctx context.Context, ev paymentdomain.ChargeRefunded) (paymentdomain.EventStatus, error) {
	result, err := s.ledger.RecordRefund(ctx, ledgerdomain.RefundRequest{
		Gateway:           ev.Provider,
		GatewayEventID:    ev.EventID,
		GatewayReferences: []string{ev.PaymentIntentID, ev.InvoiceID, ev.ChargeID},
		RefundedTotal:     calculator.AmountFromMinorUnits(ev.AmountRefunded),
		Currency:          s.currency(ev.Currency),
		Reason:            ev.Reason,
	})
	return resultStatus(result), err
}

func (s *Service) currency(value string) string {
	if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
		return value
	}
	return s.defaultCurrency
}

func subscriptionStatus(gatewayStatus string, deleted bool) (ledgerdomain.SubscriptionStatus, bool) {
	if deleted {
		return ledgerdomain.SubscriptionStatusCancelled, true
	}
	switch gatewayStatus {
	case "active", "trialing":
		return ledgerdomain.SubscriptionStatusActive, true
	case "canceled":
		return ledgerdomain.SubscriptionStatusCancelled, true
	case "incomplete_expired":
		return ledgerdomain.SubscriptionStatusExpired, true
	case "past_due", "unpaid", "paused":
		return ledgerdomain.SubscriptionStatusSuspended, true
	default:
		return "", false
	}
}

func resultStatus(result ledgerdomain.Result) paymentdomain.EventStatus {
	if result.CommissionDeferred {
		return paymentdomain.EventStatusPartial
	}
	return paymentdomain.EventStatusProcessed
}

func outcomeFor(status paymentdomain.EventStatus) string {
	switch status {
	case paymentdomain.EventStatusProcessed:
		return obsmetrics.WebhookOutcomeProcessed
	case paymentdomain.EventStatusPartial:
		return obsmetrics.WebhookOutcomePartial
	case paymentdomain.EventStatusIgnored:
		return obsmetrics.WebhookOutcomeIgnored
	case paymentdomain.EventStatusRejected:
		return obsmetrics.WebhookOutcomeRejected
	default:
		return obsmetrics.WebhookOutcomeFailed
	}
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
