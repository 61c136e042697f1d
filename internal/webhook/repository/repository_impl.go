package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kirimaja/kirimaja/internal/webhook/domain"
	"gorm.io/gorm"
)

// Repository is the append-only receipt store. Record happens before the call
// is verified or parsed; Finalize patches outcome fields exactly once.
type Repository interface {
	Record(ctx context.Context, db *gorm.DB, receipt *domain.WebhookReceipt) error
	Finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome domain.ReceiptOutcome) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookReceipt, error)
	ListByProvider(ctx context.Context, db *gorm.DB, provider string, from, to time.Time, limit int) ([]domain.WebhookReceipt, error)
	ListByMessageEventIDs(ctx context.Context, db *gorm.DB, eventIDs []snowflake.ID) ([]domain.WebhookReceipt, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) Record(ctx context.Context, db *gorm.DB, receipt *domain.WebhookReceipt) error {
	return db.WithContext(ctx).Create(receipt).Error
}

func (r *repo) Finalize(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome domain.ReceiptOutcome) error {
	result := db.WithContext(ctx).
		Model(&domain.WebhookReceipt{}).
		Where("id = ? AND finalized_at IS NULL", id).
		Updates(map[string]any{
			"response_code":       outcome.ResponseCode,
			"response_message":    outcome.ResponseMessage,
			"signature_valid":     outcome.SignatureValid,
			"authenticated":       outcome.Authenticated,
			"parsed_successfully": outcome.ParsedSuccessfully,
			"message_event_id":    outcome.MessageEventID,
			"finalized_at":        outcome.FinalizedAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var n int64
		if err := db.WithContext(ctx).Model(&domain.WebhookReceipt{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrReceiptNotFound
		}
		return domain.ErrReceiptFinalized
	}
	return nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookReceipt, error) {
	var item domain.WebhookReceipt
	err := db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReceiptNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListByProvider(ctx context.Context, db *gorm.DB, provider string, from, to time.Time, limit int) ([]domain.WebhookReceipt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var items []domain.WebhookReceipt
	err := db.WithContext(ctx).
		Where("provider = ? AND received_at >= ? AND received_at < ?", provider, from, to).
		Order("received_at DESC, id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByMessageEventIDs(ctx context.Context, db *gorm.DB, eventIDs []snowflake.ID) ([]domain.WebhookReceipt, error) {
	if len(eventIDs) == 0 {
		return nil, nil
	}
	var items []domain.WebhookReceipt
	err := db.WithContext(ctx).
		Where("message_event_id IN ?", eventIDs).
		Order("received_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
