package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/roteiro/internal/clock"
	"github.com/smallbiznis/roteiro/internal/commission/calculator"
	commissiondomain "github.com/smallbiznis/roteiro/internal/commission/domain"
	ledgerdomain "github.com/smallbiznis/roteiro/internal/ledger/domain"
	obslogger "github.com/smallbiznis/roteiro/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/roteiro/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opRecordSalePayment         = "record_sale_payment"
	opRecordPaymentFailure      = "record_payment_failure"
	opRecordSubscriptionCreated = "record_subscription_created"
	opRecordSubscriptionRenewal = "record_subscription_renewal"
	opRecordRefund              = "record_refund"
	opUpdateSubscriptionStatus  = "update_subscription_status"
	opReconcileCommissions      = "reconcile_commissions"

	defaultReconcileLimit = 100
	maxReconcileLimit     = 1000
)

// Rollback signals, never returned to callers.
var (
	errEventRecorded      = errors.New("event_already_recorded")
	errSubscriptionExists = errors.New("subscription_already_recorded")
	errNothingToRefund    = errors.New("nothing_to_refund")
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Rates          commissiondomain.RateSource
	Repo           ledgerdomain.Repository
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	WebhookMetrics *obsmetrics.WebhookMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	rates          commissiondomain.RateSource
	repo           ledgerdomain.Repository
	obsMetrics     *obsmetrics.Metrics
	webhookMetrics *obsmetrics.WebhookMetrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("ledger.service"),
		genID:          p.GenID,
		clock:          p.Clock,
		rates:          p.Rates,
		repo:           p.Repo,
		obsMetrics:     p.ObsMetrics,
		webhookMetrics: p.WebhookMetrics,
	}
}

func (s *Service) RecordSalePayment(ctx context.Context, req ledgerdomain.SalePaymentRequest) (ledgerdomain.Result, error) {
	key, err := normalizeEventKey(req.Gateway, req.GatewayEventID, req.Currency)
	if err != nil {
		return ledgerdomain.Result{}, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidUser
	}
	if !req.Gross.IsPositive() {
		return ledgerdomain.Result{}, commissiondomain.ErrInvalidAmount
	}

	if result, found, err := s.findRecorded(ctx, opRecordSalePayment, key); err != nil || found {
		return result, err
	}

	affiliateID := normalizeOptional(req.AffiliateID)
	split, err := calculator.New(s.rates.Current()).Split(req.Gross, req.ProductType, commissiondomain.AttributionDirect, affiliateID != nil)
	if err != nil {
		return ledgerdomain.Result{}, err
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Pagamento de venda"
	}

	tx := s.newTransaction(key, userID, ledgerdomain.TransactionKindSale, ledgerdomain.TransactionStatusCompleted)
	tx.Description = description
	tx.SaleID = normalizeOptional(req.SaleID)
	tx.GatewayTransactionID = strings.TrimSpace(req.GatewayTransactionID)
	applySplit(tx, split, affiliateID)

	return s.writeTransaction(ctx, opRecordSalePayment, tx, nil)
}

func (s *Service) RecordPaymentFailure(ctx context.Context, req ledgerdomain.PaymentFailureRequest) (ledgerdomain.Result, error) {
	key, err := normalizeEventKey(req.Gateway, req.GatewayEventID, req.Currency)
	if err != nil {
		return ledgerdomain.Result{}, err
	}
	if req.Gross.IsNegative() {
		return ledgerdomain.Result{}, commissiondomain.ErrInvalidAmount
	}

	if result, found, err := s.findRecorded(ctx, opRecordPaymentFailure, key); err != nil || found {
		return result, err
	}

	userID := strings.TrimSpace(req.UserID)
	var subscription *ledgerdomain.Subscription
	if gatewaySubscriptionID := strings.TrimSpace(req.GatewaySubscriptionID); gatewaySubscriptionID != "" {
		subscription, err = s.repo.FindSubscriptionByGatewayID(ctx, s.db, gatewaySubscriptionID)
		if err != nil {
			return ledgerdomain.Result{}, s.storeErr(ctx, opRecordPaymentFailure, err)
		}
		if subscription == nil && userID == "" {
			return ledgerdomain.Result{}, ledgerdomain.ErrSubscriptionNotFound
		}
		if subscription != nil && userID == "" {
			userID = subscription.UserID
		}
	}
	if userID == "" {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidUser
	}

	kind := ledgerdomain.TransactionKindSale
	if subscription != nil {
		kind = ledgerdomain.TransactionKindSubscription
	}
	tx := s.newTransaction(key, userID, kind, ledgerdomain.TransactionStatusFailed)
	tx.Amount = req.Gross
	tx.SaleID = normalizeOptional(req.SaleID)
	tx.GatewayTransactionID = strings.TrimSpace(req.GatewayTransactionID)
	tx.Description = "Falha no pagamento"
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		tx.Description = "Falha no pagamento: " + reason
	}

	var before func(db *gorm.DB) error
	if subscription != nil {
		tx.SubscriptionID = &subscription.ID
		if subscription.Status == ledgerdomain.SubscriptionStatusActive {
			before = func(db *gorm.DB) error {
				return s.repo.UpdateSubscriptionStatus(ctx, db, subscription.ID, ledgerdomain.SubscriptionStatusSuspended, s.clock.Now())
			}
		}
	}

	result, err := s.writeTransaction(ctx, opRecordPaymentFailure, tx, before)
	if err != nil || result.Duplicate {
		return result, err
	}
	if subscription != nil {
		if before != nil {
			subscription.Status = ledgerdomain.SubscriptionStatusSuspended
		}
		result.Subscription = subscription
	}
	return result, nil
}

func (s *Service) RecordSubscriptionCreated(ctx context.Context, req ledgerdomain.SubscriptionCreatedRequest) (ledgerdomain.Result, error) {
	key, err := normalizeEventKey(req.Gateway, req.GatewayEventID, req.Currency)
	if err != nil {
		return ledgerdomain.Result{}, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidUser
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidPlan
	}
	interval, err := ledgerdomain.ParseBillingInterval(string(req.Interval))
	if err != nil {
		return ledgerdomain.Result{}, err
	}
	gatewaySubscriptionID := strings.TrimSpace(req.GatewaySubscriptionID)
	if gatewaySubscriptionID == "" {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidReference
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidPeriod
	}
	if req.Amount.IsNegative() {
		return ledgerdomain.Result{}, commissiondomain.ErrInvalidAmount
	}

	if result, found, err := s.findRecorded(ctx, opRecordSubscriptionCreated, key); err != nil || found {
		return result, err
	}
	existing, err := s.repo.FindSubscriptionByGatewayID(ctx, s.db, gatewaySubscriptionID)
	if err != nil {
		return ledgerdomain.Result{}, s.storeErr(ctx, opRecordSubscriptionCreated, err)
	}
	if existing != nil {
		return ledgerdomain.Result{Subscription: existing, Duplicate: true}, nil
	}

	now := s.clock.Now()
	affiliateID := normalizeOptional(req.AffiliateID)
	subscription := &ledgerdomain.Subscription{
		ID:                    s.genID.Generate(),
		UserID:                userID,
		PlanID:                planID,
		Status:                ledgerdomain.SubscriptionStatusActive,
		PeriodStart:           req.PeriodStart.UTC(),
		PeriodEnd:             req.PeriodEnd.UTC(),
		Interval:              interval,
		GatewaySubscriptionID: gatewaySubscriptionID,
		GatewayCustomerID:     strings.TrimSpace(req.GatewayCustomerID),
		AmountPaid:            req.Amount,
		AffiliateID:           affiliateID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	insertSubscription := func(db *gorm.DB) error {
		inserted, err := s.repo.InsertSubscription(ctx, db, subscription)
		if err != nil {
			return err
		}
		if !inserted {
			return errSubscriptionExists
		}
		return nil
	}

	// Trials, fully discounted first periods and creations whose charge is
	// not known yet carry no money movement.
	if req.Amount.IsZero() {
		err := s.db.WithContext(ctx).Transaction(insertSubscription)
		if errors.Is(err, errSubscriptionExists) {
			return s.existingSubscription(ctx, opRecordSubscriptionCreated, gatewaySubscriptionID)
		}
		if err != nil {
			return ledgerdomain.Result{}, s.storeErr(ctx, opRecordSubscriptionCreated, err)
		}
		return ledgerdomain.Result{Subscription: subscription}, nil
	}

	split, err := calculator.New(s.rates.Current()).Split(req.Amount, commissiondomain.ProductTypeSubscription, commissiondomain.AttributionDirect, affiliateID != nil)
	if err != nil {
		return ledgerdomain.Result{}, err
	}

	tx := s.newTransaction(key, userID, ledgerdomain.TransactionKindSubscription, ledgerdomain.TransactionStatusCompleted)
	tx.SubscriptionID = &subscription.ID
	tx.GatewayTransactionID = strings.TrimSpace(req.GatewayTransactionID)
	tx.Description = fmt.Sprintf("Assinatura do plano %s (%s)", planID, interval)
	applySplit(tx, split, affiliateID)

	result, err := s.writeTransaction(ctx, opRecordSubscriptionCreated, tx, insertSubscription)
	if errors.Is(err, errSubscriptionExists) {
		return s.existingSubscription(ctx, opRecordSubscriptionCreated, gatewaySubscriptionID)
	}
	if err != nil || result.Duplicate {
		return result, err
	}
	result.Subscription = subscription
	return result, nil
}

func (s *Service) RecordSubscriptionRenewal(ctx context.Context, req ledgerdomain.SubscriptionRenewalRequest) (ledgerdomain.Result, error) {
	key, err := normalizeEventKey(req.Gateway, req.GatewayEventID, req.Currency)
	if err != nil {
		return ledgerdomain.Result{}, err
	}
	gatewaySubscriptionID := strings.TrimSpace(req.GatewaySubscriptionID)
	if gatewaySubscriptionID == "" {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidReference
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidPeriod
	}
	if req.AmountPaid.IsNegative() {
		return ledgerdomain.Result{}, commissiondomain.ErrInvalidAmount
	}

	if result, found, err := s.findRecorded(ctx, opRecordSubscriptionRenewal, key); err != nil || found {
		return result, err
	}

	subscription, err := s.repo.FindSubscriptionByGatewayID(ctx, s.db, gatewaySubscriptionID)
	if err != nil {
		return ledgerdomain.Result{}, s.storeErr(ctx, opRecordSubscriptionRenewal, err)
	}
	if subscription == nil {
		return ledgerdomain.Result{}, ledgerdomain.ErrSubscriptionNotFound
	}
	invoiceID := strings.TrimSpace(req.GatewayInvoiceID)
	if invoiceID != "" {
		// The first invoice may already be booked by the creation event.
		paid, err := s.repo.FindPaymentByReference(ctx, s.db, key.gateway, []string{invoiceID})
		if err != nil {
			return ledgerdomain.Result{}, s.storeErr(ctx, opRecordSubscriptionRenewal, err)
		}
		if paid != nil && paid.SubscriptionID != nil && *paid.SubscriptionID == subscription.ID {
			return ledgerdomain.Result{Transaction: paid, Subscription: subscription, Duplicate: true}, nil
		}
	}

	now := s.clock.Now()
	start, end := req.PeriodStart.UTC(), req.PeriodEnd.UTC()
	// A late redelivery of an older invoice must not move the period backwards.
	advance := end.After(subscription.PeriodEnd)
	updatePeriod := func(db *gorm.DB) error {
		if !advance {
			return nil
		}
		return s.repo.UpdateSubscriptionPeriod(ctx, db, subscription.ID, start, end, req.AmountPaid, now)
	}

	if req.AmountPaid.IsZero() {
		if err := s.db.WithContext(ctx).Transaction(updatePeriod); err != nil {
			return ledgerdomain.Result{}, s.storeErr(ctx, opRecordSubscriptionRenewal, err)
		}
		applyRenewal(subscription, advance, start, end, req.AmountPaid, now)
		return ledgerdomain.Result{Subscription: subscription}, nil
	}

	split, err := calculator.New(s.rates.Current()).Split(req.AmountPaid, commissiondomain.ProductTypeSubscription, commissiondomain.AttributionDirect, subscription.AffiliateID != nil)
	if err != nil {
		return ledgerdomain.Result{}, err
	}

	tx := s.newTransaction(key, subscription.UserID, ledgerdomain.TransactionKindSubscription, ledgerdomain.TransactionStatusCompleted)
	tx.SubscriptionID = &subscription.ID
	tx.GatewayTransactionID = invoiceID
	tx.Description = fmt.Sprintf("Renovação da assinatura do plano %s", subscription.PlanID)
	applySplit(tx, split, subscription.AffiliateID)

	result, err := s.writeTransaction(ctx, opRecordSubscriptionRenewal, tx, updatePeriod)
	if err != nil || result.Duplicate {
		return result, err
	}
	applyRenewal(subscription, advance, start, end, req.AmountPaid, now)
	result.Subscription = subscription
	return result, nil
}

func (s *Service) RecordRefund(ctx context.Context, req ledgerdomain.RefundRequest) (ledgerdomain.Result, error) {
	key, err := normalizeEventKey(req.Gateway, req.GatewayEventID, req.Currency)
	if err != nil {
		return ledgerdomain.Result{}, err
	}
	references := normalizeReferences(req.GatewayReferences)
	if len(references) == 0 {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidReference
	}
	if !req.RefundedTotal.IsPositive() {
		return ledgerdomain.Result{}, commissiondomain.ErrInvalidAmount
	}

	if result, found, err := s.findRecorded(ctx, opRecordRefund, key); err != nil || found {
		return result, err
	}

	original, err := s.repo.FindPaymentByReference(ctx, s.db, key.gateway, references)
	if err != nil {
		return ledgerdomain.Result{}, s.storeErr(ctx, opRecordRefund, err)
	}
	if original == nil {
		return ledgerdomain.Result{}, ledgerdomain.ErrTransactionNotFound
	}
	if original.Currency != key.currency {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidCurrency
	}
	if req.RefundedTotal.GreaterThan(original.Amount) {
		return ledgerdomain.Result{}, ledgerdomain.ErrRefundExceedsPayment
	}

	tx := s.newTransaction(key, original.UserID, ledgerdomain.TransactionKindRefund, ledgerdomain.TransactionStatusCompleted)
	tx.SaleID = original.SaleID
	tx.SubscriptionID = original.SubscriptionID
	tx.AffiliateID = original.AffiliateID
	tx.OriginalTransactionID = &original.ID
	tx.GatewayTransactionID = original.GatewayTransactionID
	tx.Description = "Reembolso"
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		tx.Description = "Reembolso: " + reason
	}

	// The gateway reports a running total; only the part not yet recorded becomes a new refund.
	var fullRefund bool
	result, err := s.writeTransaction(ctx, opRecordRefund, tx, func(db *gorm.DB) error {
		alreadyRefunded, err := s.repo.SumRefunds(ctx, db, original.ID)
		if err != nil {
			return err
		}
		delta := req.RefundedTotal.Sub(alreadyRefunded)
		if !delta.IsPositive() {
			return errNothingToRefund
		}
		tx.Amount = delta
		tx.NetAmount = delta
		fullRefund = req.RefundedTotal.Equal(original.Amount)
		if !fullRefund {
			return nil
		}
		_, err = s.repo.CancelPendingCommissions(ctx, db, original.ID)
		return err
	})
	if errors.Is(err, errNothingToRefund) {
		return ledgerdomain.Result{Duplicate: true}, nil
	}
	if err != nil || result.Duplicate {
		return result, err
	}
	if fullRefund {
		obslogger.WithContext(ctx, s.log).Info("payment fully refunded, pending commissions cancelled",
			zap.String("original_transaction_id", original.ID.String()),
		)
	}
	return result, nil
}

func (s *Service) UpdateSubscriptionStatus(ctx context.Context, req ledgerdomain.SubscriptionStatusRequest) (ledgerdomain.Result, error) {
	gatewaySubscriptionID := strings.TrimSpace(req.GatewaySubscriptionID)
	if gatewaySubscriptionID == "" {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidReference
	}
	if !req.Status.Valid() {
		return ledgerdomain.Result{}, ledgerdomain.ErrInvalidStatus
	}

	subscription, err := s.repo.FindSubscriptionByGatewayID(ctx, s.db, gatewaySubscriptionID)
	if err != nil {
		return ledgerdomain.Result{}, s.storeErr(ctx, opUpdateSubscriptionStatus, err)
	}
	if subscription == nil {
		return ledgerdomain.Result{}, ledgerdomain.ErrSubscriptionNotFound
	}
	if subscription.Status == req.Status {
		return ledgerdomain.Result{Subscription: subscription, Duplicate: true}, nil
	}

	if req.Status == ledgerdomain.SubscriptionStatusActive {
		latest, err := s.repo.LatestSubscriptionTransaction(ctx, s.db, subscription.ID)
		if err != nil {
			return ledgerdomain.Result{}, s.storeErr(ctx, opUpdateSubscriptionStatus, err)
		}
		if latest != nil && latest.Status != ledgerdomain.TransactionStatusCompleted {
			obslogger.WithContext(ctx, s.log).Warn("subscription kept inactive until a payment completes",
				zap.String("subscription_id", subscription.ID.String()),
				zap.String("status", string(subscription.Status)),
				zap.String("latest_transaction_status", string(latest.Status)),
			)
			return ledgerdomain.Result{Subscription: subscription}, nil
		}
	}

	now := s.clock.Now()
	if err := s.repo.UpdateSubscriptionStatus(ctx, s.db, subscription.ID, req.Status, now); err != nil {
		return ledgerdomain.Result{}, s.storeErr(ctx, opUpdateSubscriptionStatus, err)
	}
	subscription.Status = req.Status
	subscription.UpdatedAt = now
	return ledgerdomain.Result{Subscription: subscription}, nil
}

// ReconcileCommissions writes the commissions of completed transactions that
// committed without one.
func (s *Service) ReconcileCommissions(ctx context.Context, limit int) (ledgerdomain.ReconcileResult, error) {
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	if limit > maxReconcileLimit {
		limit = maxReconcileLimit
	}

	items, err := s.repo.ListTransactionsMissingCommission(ctx, s.db, limit)
	if err != nil {
		return ledgerdomain.ReconcileResult{}, s.storeErr(ctx, opReconcileCommissions, err)
	}

	result := ledgerdomain.ReconcileResult{Scanned: len(items)}
	for i := range items {
		tx := &items[i]
		if _, err := s.repo.InsertCommission(ctx, s.db, s.commissionFor(tx)); err != nil {
			result.Failed++
			s.webhookMetrics.IncLedgerFailure(opReconcileCommissions, err)
			obslogger.WithContext(ctx, s.log).Error("commission reconciliation failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err),
			)
			continue
		}
		result.Repaired++
	}

	s.webhookMetrics.AddCommissionsRepaired(result.Repaired)
	if result.Scanned > 0 {
		s.log.Info("commission reconciliation finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("repaired", result.Repaired),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// writeTransaction inserts tx in one database transaction together with
// whatever before writes. The commission follows after commit.
func (s *Service) writeTransaction(ctx context.Context, op string, tx *ledgerdomain.Transaction, before func(db *gorm.DB) error) (ledgerdomain.Result, error) {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if before != nil {
			if err := before(db); err != nil {
				return err
			}
		}
		inserted, err := s.repo.InsertTransaction(ctx, db, tx)
		if err != nil {
			return err
		}
		if !inserted {
			return errEventRecorded
		}
		return nil
	})
	if errors.Is(err, errEventRecorded) {
		// lost the insert race to a concurrent delivery of the same event
		key := eventKey{gateway: tx.Gateway, eventID: tx.GatewayEventID, currency: tx.Currency}
		result, found, findErr := s.findRecorded(ctx, op, key)
		if findErr != nil || found {
			return result, findErr
		}
		return ledgerdomain.Result{}, s.storeErr(ctx, op, fmt.Errorf("event %s conflicted without a stored transaction", tx.GatewayEventID))
	}
	if errors.Is(err, errSubscriptionExists) || errors.Is(err, errNothingToRefund) {
		return ledgerdomain.Result{}, err
	}
	if err != nil {
		return ledgerdomain.Result{}, s.storeErr(ctx, op, err)
	}

	s.obsMetrics.RecordLedgerTransaction(ctx, string(tx.Kind), string(tx.Status))
	result := ledgerdomain.Result{Transaction: tx}
	s.attachCommission(ctx, op, &result)
	return result, nil
}

// attachCommission writes the commission owed for result.Transaction. A
// failure here never fails the operation: the transaction already committed,
// so the result is flagged and reconciliation repairs it.
func (s *Service) attachCommission(ctx context.Context, op string, result *ledgerdomain.Result) {
	tx := result.Transaction
	if !needsCommission(tx) {
		return
	}
	// committed writes outlive the caller's deadline
	ctx = context.WithoutCancel(ctx)

	commission := s.commissionFor(tx)
	inserted, err := s.repo.InsertCommission(ctx, s.db, commission)
	if err == nil && !inserted {
		commission, err = s.repo.FindCommissionByTransaction(ctx, s.db, tx.ID)
	}
	if err != nil {
		result.CommissionDeferred = true
		s.obsMetrics.RecordCommissionDeferred(ctx, op)
		s.webhookMetrics.IncCommissionDeferred(op)
		s.webhookMetrics.IncLedgerFailure(op, err)
		obslogger.WithContext(ctx, s.log).Error("commission write failed, deferred to reconciliation",
			zap.String("operation", op),
			zap.String("transaction_id", tx.ID.String()),
			zap.Error(err),
		)
		return
	}
	if inserted {
		s.obsMetrics.RecordCommission(ctx, string(commission.Kind))
	}
	result.Commission = commission
}

// findRecorded resolves an event that already produced a transaction. A
// missing commission on that transaction is repaired on the way out.
func (s *Service) findRecorded(ctx context.Context, op string, key eventKey) (ledgerdomain.Result, bool, error) {
	existing, err := s.repo.FindTransactionByEvent(ctx, s.db, key.gateway, key.eventID)
	if err != nil {
		return ledgerdomain.Result{}, false, s.storeErr(ctx, op, err)
	}
	if existing == nil {
		return ledgerdomain.Result{}, false, nil
	}

	result := ledgerdomain.Result{Transaction: existing, Duplicate: true}
	if needsCommission(existing) {
		commission, err := s.repo.FindCommissionByTransaction(ctx, s.db, existing.ID)
		if err != nil {
			return ledgerdomain.Result{}, false, s.storeErr(ctx, op, err)
		}
		if commission != nil {
			result.Commission = commission
		} else {
			s.attachCommission(ctx, op, &result)
		}
	}
	return result, true, nil
}

func (s *Service) existingSubscription(ctx context.Context, op, gatewaySubscriptionID string) (ledgerdomain.Result, error) {
	existing, err := s.repo.FindSubscriptionByGatewayID(ctx, s.db, gatewaySubscriptionID)
	if err != nil {
		return ledgerdomain.Result{}, s.storeErr(ctx, op, err)
	}
	return ledgerdomain.Result{Subscription: existing, Duplicate: true}, nil
}

// storeErr passes domain errors through and wraps everything else as a ledger write failure.
func (s *Service) storeErr(ctx context.Context, op string, err error) error {
	if ledgerdomain.IsValidationError(err) ||
		errors.Is(err, ledgerdomain.ErrSubscriptionNotFound) ||
		errors.Is(err, ledgerdomain.ErrTransactionNotFound) {
		return err
	}
	s.webhookMetrics.IncLedgerFailure(op, err)
	obslogger.WithContext(ctx, s.log).Error("ledger store failure", zap.String("operation", op), zap.Error(err))
	return ledgerdomain.WriteError(op, err)
}

func (s *Service) newTransaction(key eventKey, userID string, kind ledgerdomain.TransactionKind, status ledgerdomain.TransactionStatus) *ledgerdomain.Transaction {
	return &ledgerdomain.Transaction{
		ID:                  s.genID.Generate(),
		UserID:              userID,
		Kind:                kind,
		Amount:              decimal.Zero,
		Currency:            key.currency,
		Status:              status,
		Gateway:             key.gateway,
		GatewayEventID:      key.eventID,
		GatewayFee:          decimal.Zero,
		NetAmount:           decimal.Zero,
		AffiliateCommission: decimal.Zero,
		CommissionRate:      decimal.Zero,
		CreatedAt:           s.clock.Now(),
	}
}

func (s *Service) commissionFor(tx *ledgerdomain.Transaction) *ledgerdomain.Commission {
	kind := ledgerdomain.CommissionKindSale
	description := "Comissão de venda"
	if tx.Kind == ledgerdomain.TransactionKindSubscription {
		kind = ledgerdomain.CommissionKindSubscription
		description = "Comissão de assinatura"
	}
	return &ledgerdomain.Commission{
		ID:             s.genID.Generate(),
		TransactionID:  tx.ID,
		AffiliateID:    *tx.AffiliateID,
		SaleID:         tx.SaleID,
		SubscriptionID: tx.SubscriptionID,
		Kind:           kind,
		Amount:         tx.AffiliateCommission,
		Rate:           tx.CommissionRate,
		Status:         ledgerdomain.CommissionStatusPending,
		Description:    description,
		CreatedAt:      s.clock.Now(),
	}
}

func needsCommission(tx *ledgerdomain.Transaction) bool {
	if tx == nil || tx.AffiliateID == nil || tx.Status != ledgerdomain.TransactionStatusCompleted {
		return false
	}
	if tx.Kind != ledgerdomain.TransactionKindSale && tx.Kind != ledgerdomain.TransactionKindSubscription {
		return false
	}
	return tx.AffiliateCommission.IsPositive()
}

func applySplit(tx *ledgerdomain.Transaction, split calculator.Split, affiliateID *string) {
	tx.Amount = split.Gross
	tx.GatewayFee = split.Fee
	tx.NetAmount = split.Net
	if split.Commission != nil && affiliateID != nil {
		tx.AffiliateID = affiliateID
		tx.AffiliateCommission = split.Commission.Amount
		tx.CommissionRate = split.Commission.Rate
	}
}

func applyRenewal(subscription *ledgerdomain.Subscription, advance bool, start, end time.Time, amount decimal.Decimal, now time.Time) {
	if !advance {
		return
	}
	subscription.PeriodStart = start
	subscription.PeriodEnd = end
	subscription.AmountPaid = amount
	subscription.Status = ledgerdomain.SubscriptionStatusActive
	subscription.UpdatedAt = now
}

type eventKey struct {
	gateway  string
	eventID  string
	currency string
}

func normalizeEventKey(gateway, eventID, currency string) (eventKey, error) {
	key := eventKey{
		gateway:  strings.ToLower(strings.TrimSpace(gateway)),
		eventID:  strings.TrimSpace(eventID),
		currency: strings.ToLower(strings.TrimSpace(currency)),
	}
	if key.gateway == "" {
		return eventKey{}, ledgerdomain.ErrInvalidGateway
	}
	if key.eventID == "" {
		return eventKey{}, ledgerdomain.ErrInvalidEventID
	}
	if len(key.currency) != 3 {
		return eventKey{}, ledgerdomain.ErrInvalidCurrency
	}
	return key, nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func normalizeReferences(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
