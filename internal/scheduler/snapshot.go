package scheduler

import (
	"context"

	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/roteiro/internal/ledger/domain"
	"gorm.io/gorm"
)

type ledgerSnapshot struct {
	PendingCommissions      int64
	PendingCommissionAmount decimal.Decimal
	MissingCommissions      int64
	SubscriptionsByStatus   map[string]int64
	PaymentEventsByStatus   map[string]int64
}

type statusCount struct {
	Status string
	Total  int64
}

func loadLedgerSnapshot(ctx context.Context, db *gorm.DB) (ledgerSnapshot, error) {
	var snapshot ledgerSnapshot

	var pending struct {
		Total  int64
		Amount decimal.NullDecimal
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total, SUM(valor_comissao) AS amount
		 FROM commissions
		 WHERE status = ?`,
		ledgerdomain.CommissionStatusPending,
	).Scan(&pending).Error; err != nil {
		return snapshot, err
	}
	snapshot.PendingCommissions = pending.Total
	snapshot.PendingCommissionAmount = decimal.Zero
	if pending.Amount.Valid {
		snapshot.PendingCommissionAmount = pending.Amount.Decimal
	}

	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM transactions t
		 LEFT JOIN commissions c ON c.transacao_id = t.id
		 WHERE c.id IS NULL
		   AND t.afiliado_id IS NOT NULL
		   AND t.status = ?
		   AND t.tipo_transacao IN ?
		   AND t.comissao_afiliado > 0`,
		ledgerdomain.TransactionStatusCompleted,
		[]string{string(ledgerdomain.TransactionKindSale), string(ledgerdomain.TransactionKindSubscription)},
	).Scan(&snapshot.MissingCommissions).Error; err != nil {
		return snapshot, err
	}

	var err error
	snapshot.SubscriptionsByStatus, err = countByStatus(ctx, db, "assinaturas")
	if err != nil {
		return snapshot, err
	}
	snapshot.PaymentEventsByStatus, err = countByStatus(ctx, db, "payment_events")
	if err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

func countByStatus(ctx context.Context, db *gorm.DB, table string) (map[string]int64, error) {
	var rows []statusCount
	if err := db.WithContext(ctx).
		Table(table).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
