package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/roteiro/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const transactionColumns = `id, user_id, tipo_transacao, valor, moeda, status, descricao, venda_id,
	assinatura_id, stripe_transaction_id, gateway, gateway_event_id, taxa_gateway, valor_liquido,
	afiliado_id, comissao_afiliado, percentual_comissao, transacao_original_id, created_at`

func (r *repo) FindTransactionByEvent(ctx context.Context, db *gorm.DB, gateway, gatewayEventID string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE gateway = ? AND gateway_event_id = ?
		 LIMIT 1`,
		gateway,
		gatewayEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindPaymentByReference returns the earliest completed sale or subscription
// payment stored under any of the given gateway ids.
func (r *repo) FindPaymentByReference(ctx context.Context, db *gorm.DB, gateway string, references []string) (*domain.Transaction, error) {
	if len(references) == 0 {
		return nil, nil
	}
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE gateway = ?
		   AND stripe_transaction_id IN ?
		   AND tipo_transacao IN ?
		   AND status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		gateway,
		references,
		[]string{string(domain.TransactionKindSale), string(domain.TransactionKindSubscription)},
		domain.TransactionStatusCompleted,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) LatestSubscriptionTransaction(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE assinatura_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		subscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SumRefunds(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (decimal.Decimal, error) {
	var refunds []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE transacao_original_id = ? AND tipo_transacao = ?`,
		originalID,
		domain.TransactionKindRefund,
	).Scan(&refunds).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, refund := range refunds {
		total = total.Add(refund.Amount)
	}
	return total, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListTransactionsMissingCommission(ctx context.Context, db *gorm.DB, limit int) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT t.id, t.user_id, t.tipo_transacao, t.valor, t.moeda, t.status, t.descricao, t.venda_id,
			t.assinatura_id, t.stripe_transaction_id, t.gateway, t.gateway_event_id, t.taxa_gateway,
			t.valor_liquido, t.afiliado_id, t.comissao_afiliado, t.percentual_comissao,
			t.transacao_original_id, t.created_at
		 FROM transactions t
		 LEFT JOIN commissions c ON c.transacao_id = t.id
		 WHERE c.id IS NULL
		   AND t.afiliado_id IS NOT NULL
		   AND t.status = ?
		   AND t.tipo_transacao IN ?
		   AND t.comissao_afiliado > 0
		 ORDER BY t.created_at ASC, t.id ASC
		 LIMIT ?`,
		domain.TransactionStatusCompleted,
		[]string{string(domain.TransactionKindSale), string(domain.TransactionKindSubscription)},
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindCommissionByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*domain.Commission, error) {
	var item domain.Commission
	err := db.WithContext(ctx).Raw(
		`SELECT id, transacao_id, afiliado_id, venda_id, assinatura_id, tipo_comissao, valor_comissao,
			percentual_comissao, status, data_pagamento, stripe_transfer_id, descricao, created_at
		 FROM commissions
		 WHERE transacao_id = ?
		 LIMIT 1`,
		transactionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertCommission(ctx context.Context, db *gorm.DB, commission *domain.Commission) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(commission)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CancelPendingCommissions leaves paid commissions untouched; clawing those back is a payout concern.
func (r *repo) CancelPendingCommissions(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE commissions
		 SET status = ?
		 WHERE transacao_id = ? AND status = ?`,
		domain.CommissionStatusCancelled,
		transactionID,
		domain.CommissionStatusPending,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) FindSubscriptionByGatewayID(ctx context.Context, db *gorm.DB, gatewaySubscriptionID string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, plano_id, status, data_inicio, data_fim, intervalo, stripe_subscription_id,
			stripe_customer_id, valor_pago, afiliado_id, created_at, updated_at
		 FROM assinaturas
		 WHERE stripe_subscription_id = ?
		 LIMIT 1`,
		gatewaySubscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(subscription)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateSubscriptionPeriod moves the billing window forward and reactivates the subscription.
func (r *repo) UpdateSubscriptionPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, start, end time.Time, amountPaid decimal.Decimal, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE assinaturas
		 SET data_inicio = ?, data_fim = ?, valor_pago = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		start,
		end,
		amountPaid,
		domain.SubscriptionStatusActive,
		updatedAt,
		id,
	).Error
}

func (r *repo) UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE assinaturas
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		updatedAt,
		id,
	).Error
}
