package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/roteiro/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, status, error,
			attempts, payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.EventStatus, errMsg string, processedAt *time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET status = ?, error = ?, processed_at = ?, attempts = attempts + 1
		 WHERE id = ?`,
		status,
		errMsg,
		processedAt,
		id,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, filter domain.ListEventsFilter) ([]domain.EventRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := db.WithContext(ctx).Model(&domain.EventRecord{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var items []domain.EventRecord
	if err := query.Order("received_at DESC").Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
