package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	FindTransactionByEvent(ctx context.Context, db *gorm.DB, gateway, gatewayEventID string) (*Transaction, error)
	FindPaymentByReference(ctx context.Context, db *gorm.DB, gateway string, references []string) (*Transaction, error)
	LatestSubscriptionTransaction(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*Transaction, error)
	SumRefunds(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) (bool, error)
	ListTransactionsMissingCommission(ctx context.Context, db *gorm.DB, limit int) ([]Transaction, error)

	FindCommissionByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*Commission, error)
	InsertCommission(ctx context.Context, db *gorm.DB, commission *Commission) (bool, error)
	CancelPendingCommissions(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (int64, error)

	FindSubscriptionByGatewayID(ctx context.Context, db *gorm.DB, gatewaySubscriptionID string) (*Subscription, error)
	InsertSubscription(ctx context.Context, db *gorm.DB, subscription *Subscription) (bool, error)
	UpdateSubscriptionPeriod(ctx context.Context, db *gorm.DB, id snowflake.ID, start, end time.Time, amountPaid decimal.Decimal, updatedAt time.Time) error
	UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, updatedAt time.Time) error
}
