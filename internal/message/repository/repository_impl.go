package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kirimaja/kirimaja/internal/message/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindLogByProviderMessageID(ctx context.Context, db *gorm.DB, providerMessageID string) (*domain.MessageLog, error) {
	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return nil, nil
	}

	var item domain.MessageLog
	err := db.WithContext(ctx).
		Where("provider_message_id = ?", providerMessageID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindLogByKey(ctx context.Context, db *gorm.DB, key string) (*domain.MessageLog, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}

	var item domain.MessageLog
	err := db.WithContext(ctx).
		Where("provider_message_id = ? OR idempotency_key = ?", key, key).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) LockLog(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.MessageLog, error) {
	var item domain.MessageLog
	query := tx.WithContext(ctx)
	// sqlite has no row locks; the surrounding transaction is the serializer
	// there. postgres and mysql take a real row lock.
	if tx.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, tx *gorm.DB, event *domain.MessageEvent) error {
	return tx.WithContext(ctx).Create(event).Error
}

// FindEvent looks up the original (non-duplicate) audit row for the
// idempotency triple.
func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, messageLogID snowflake.ID, eventType domain.EventType, providerEventID string) (*domain.MessageEvent, error) {
	var item domain.MessageEvent
	err := db.WithContext(ctx).
		Where("message_log_id = ? AND event_type = ? AND provider_event_id = ? AND is_duplicate = ?",
			messageLogID, eventType, providerEventID, false).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, messageLogID snowflake.ID) ([]domain.MessageEvent, error) {
	var items []domain.MessageEvent
	err := db.WithContext(ctx).
		Where("message_log_id = ?", messageLogID).
		Order("event_timestamp ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListEventsForExport(ctx context.Context, db *gorm.DB, from, to time.Time, fn func(*domain.ExportRow) error) error {
	rows, err := db.WithContext(ctx).
		Model(&domain.MessageEvent{}).
		Select("message_events.*, message_logs.provider_message_id AS provider_message_id, message_logs.phone AS phone").
		Joins("JOIN message_logs ON message_logs.id = message_events.message_log_id").
		Where("message_events.received_at >= ? AND message_events.received_at < ?", from, to).
		Order("message_events.received_at ASC, message_events.id ASC").
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.ExportRow
		if err := db.ScanRows(rows, &row); err != nil {
			return err
		}
		if err := fn(&row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *repo) UpdateLog(ctx context.Context, tx *gorm.DB, log *domain.MessageLog) error {
	return tx.WithContext(ctx).Save(log).Error
}

func (r *repo) IncrementCampaignCounter(ctx context.Context, tx *gorm.DB, campaignID snowflake.ID, status domain.MessageStatus) error {
	column := ""
	switch status {
	case domain.StatusSent:
		column = "total_sent"
	case domain.StatusDelivered:
		column = "total_delivered"
	case domain.StatusRead:
		column = "total_read"
	case domain.StatusFailed, domain.StatusRejected, domain.StatusExpired:
		column = "total_failed"
	default:
		return nil
	}

	return tx.WithContext(ctx).
		Model(&domain.Campaign{}).
		Where("id = ?", campaignID).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error
}
