package repository

import (
	"context"
	"time"

	"github.com/kirimaja/kirimaja/internal/invoice/domain"
	"gorm.io/gorm"
)

// Repository is the read side of invoices consumed by reconciliation.
type Repository interface {
	ListByPeriod(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Invoice, error)
	SumIssued(ctx context.Context, db *gorm.DB, from, to time.Time) (int64, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) ListByPeriod(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := db.WithContext(ctx).
		Where("period_start >= ? AND period_start < ?", from, to).
		Order("period_start ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumIssued(ctx context.Context, db *gorm.DB, from, to time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("status IN ? AND period_start >= ? AND period_start < ?",
			[]domain.InvoiceStatus{domain.InvoiceStatusIssued, domain.InvoiceStatusPaid}, from, to).
		Select("COALESCE(SUM(total_amount), 0)").
		Scan(&total).Error
	return total, err
}
