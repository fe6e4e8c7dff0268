package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Persisted values are Portuguese because the dashboard reads these tables directly.

type TransactionKind string

const (
	TransactionKindSale         TransactionKind = "venda"
	TransactionKindRefund       TransactionKind = "reembolso"
	TransactionKindCommission   TransactionKind = "comissao"
	TransactionKindSubscription TransactionKind = "assinatura"
	TransactionKindFee          TransactionKind = "taxa"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pendente"
	TransactionStatusCompleted TransactionStatus = "concluida"
	TransactionStatusFailed    TransactionStatus = "falhou"
	TransactionStatusCancelled TransactionStatus = "cancelada"
)

type CommissionKind string

const (
	CommissionKindSale         CommissionKind = "venda"
	CommissionKindSubscription CommissionKind = "assinatura"
)

type CommissionStatus string

const (
	CommissionStatusPending   CommissionStatus = "pendente"
	CommissionStatusPaid      CommissionStatus = "pago"
	CommissionStatusCancelled CommissionStatus = "cancelado"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ativa"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelada"
	SubscriptionStatusExpired   SubscriptionStatus = "expirada"
	SubscriptionStatusSuspended SubscriptionStatus = "suspensa"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusCancelled, SubscriptionStatusExpired, SubscriptionStatusSuspended:
		return true
	default:
		return false
	}
}

type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "mensal"
	BillingIntervalYearly  BillingInterval = "anual"
)

// ParseBillingInterval accepts both the stored values and gateway names.
func ParseBillingInterval(raw string) (BillingInterval, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mensal", "month", "monthly":
		return BillingIntervalMonthly, nil
	case "anual", "year", "yearly", "annual":
		return BillingIntervalYearly, nil
	default:
		return "", ErrInvalidInterval
	}
}

// Transaction is an immutable record of a financial movement.
type Transaction struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID                string            `json:"user_id" gorm:"column:user_id;type:text;not null;index"`
	Kind                  TransactionKind   `json:"tipo_transacao" gorm:"column:tipo_transacao;type:text;not null"`
	Amount                decimal.Decimal   `json:"valor" gorm:"column:valor;type:numeric(12,2);not null"`
	Currency              string            `json:"moeda" gorm:"column:moeda;type:text;not null"`
	Status                TransactionStatus `json:"status" gorm:"column:status;type:text;not null"`
	Description           string            `json:"descricao" gorm:"column:descricao;type:text"`
	SaleID                *string           `json:"venda_id" gorm:"column:venda_id;type:text"`
	SubscriptionID        *snowflake.ID     `json:"assinatura_id" gorm:"column:assinatura_id;index"`
	GatewayTransactionID  string            `json:"stripe_transaction_id" gorm:"column:stripe_transaction_id;type:text;index"`
	Gateway               string            `json:"gateway" gorm:"column:gateway;type:text;not null;uniqueIndex:ux_transactions_gateway_event,priority:1"`
	GatewayEventID        string            `json:"gateway_event_id" gorm:"column:gateway_event_id;type:text;not null;uniqueIndex:ux_transactions_gateway_event,priority:2"`
	GatewayFee            decimal.Decimal   `json:"taxa_gateway" gorm:"column:taxa_gateway;type:numeric(12,2);not null"`
	NetAmount             decimal.Decimal   `json:"valor_liquido" gorm:"column:valor_liquido;type:numeric(12,2);not null"`
	AffiliateID           *string           `json:"afiliado_id" gorm:"column:afiliado_id;type:text;index"`
	AffiliateCommission   decimal.Decimal   `json:"comissao_afiliado" gorm:"column:comissao_afiliado;type:numeric(12,2);not null"`
	CommissionRate        decimal.Decimal   `json:"percentual_comissao" gorm:"column:percentual_comissao;type:numeric(5,2);not null"`
	OriginalTransactionID *snowflake.ID     `json:"transacao_original_id" gorm:"column:transacao_original_id;index"`
	CreatedAt             time.Time         `json:"created_at" gorm:"column:created_at;not null"`
}

func (Transaction) TableName() string { return "transactions" }

// Commission is a payable owed to an affiliate for one transaction.
type Commission struct {
	ID              snowflake.ID     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	TransactionID   snowflake.ID     `json:"transacao_id" gorm:"column:transacao_id;not null;uniqueIndex:ux_commissions_transaction"`
	AffiliateID     string           `json:"afiliado_id" gorm:"column:afiliado_id;type:text;not null;index"`
	SaleID          *string          `json:"venda_id" gorm:"column:venda_id;type:text"`
	SubscriptionID  *snowflake.ID    `json:"assinatura_id" gorm:"column:assinatura_id"`
	Kind            CommissionKind   `json:"tipo_comissao" gorm:"column:tipo_comissao;type:text;not null"`
	Amount          decimal.Decimal  `json:"valor_comissao" gorm:"column:valor_comissao;type:numeric(12,2);not null"`
	Rate            decimal.Decimal  `json:"percentual_comissao" gorm:"column:percentual_comissao;type:numeric(5,2);not null"`
	Status          CommissionStatus `json:"status" gorm:"column:status;type:text;not null"`
	PaidAt          *time.Time       `json:"data_pagamento" gorm:"column:data_pagamento"`
	GatewayPayoutID *string          `json:"stripe_transfer_id" gorm:"column:stripe_transfer_id;type:text"`
	Description     string           `json:"descricao" gorm:"column:descricao;type:text"`
	CreatedAt       time.Time        `json:"created_at" gorm:"column:created_at;not null"`
}

func (Commission) TableName() string { return "commissions" }

// Subscription is a recurring billing agreement mirrored from the gateway.
type Subscription struct {
	ID                    snowflake.ID       `json:"id" gorm:"primaryKey;autoIncrement:false"`
	UserID                string             `json:"user_id" gorm:"column:user_id;type:text;not null;index"`
	PlanID                string             `json:"plano_id" gorm:"column:plano_id;type:text;not null"`
	Status                SubscriptionStatus `json:"status" gorm:"column:status;type:text;not null"`
	PeriodStart           time.Time          `json:"data_inicio" gorm:"column:data_inicio;not null"`
	PeriodEnd             time.Time          `json:"data_fim" gorm:"column:data_fim;not null"`
	Interval              BillingInterval    `json:"intervalo" gorm:"column:intervalo;type:text;not null"`
	GatewaySubscriptionID string             `json:"stripe_subscription_id" gorm:"column:stripe_subscription_id;type:text;not null;uniqueIndex:ux_assinaturas_stripe_subscription"`
	GatewayCustomerID     string             `json:"stripe_customer_id" gorm:"column:stripe_customer_id;type:text"`
	AmountPaid            decimal.Decimal    `json:"valor_pago" gorm:"column:valor_pago;type:numeric(12,2);not null"`
	AffiliateID           *string            `json:"afiliado_id" gorm:"column:afiliado_id;type:text"`
	CreatedAt             time.Time          `json:"created_at" gorm:"column:created_at;not null"`
	UpdatedAt             time.Time          `json:"updated_at" gorm:"column:updated_at;not null"`
}

func (Subscription) TableName() string { return "assinaturas" }
