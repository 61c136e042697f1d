package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kirimaja/kirimaja/internal/ledger/domain"
	"gorm.io/gorm"
)

// Repository is the read side of the ledger used by reconciliation and the
// balance API. Posting happens elsewhere in the platform; this module only
// cross-checks what was written.
type Repository interface {
	ListByPeriod(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.LedgerEntry, error)
	ListByKlien(ctx context.Context, db *gorm.DB, klienID snowflake.ID, from, to time.Time) ([]domain.LedgerEntry, error)
	SumByType(ctx context.Context, db *gorm.DB, entryType domain.LedgerEntryType, from, to time.Time) (int64, error)
	CurrentBalances(ctx context.Context, db *gorm.DB) (map[snowflake.ID]int64, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) ListByPeriod(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.LedgerEntry, error) {
	var items []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("occurred_at >= ? AND occurred_at < ?", from, to).
		Order("occurred_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByKlien(ctx context.Context, db *gorm.DB, klienID snowflake.ID, from, to time.Time) ([]domain.LedgerEntry, error) {
	var items []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("klien_id = ? AND occurred_at >= ? AND occurred_at < ?", klienID, from, to).
		Order("occurred_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumByType(ctx context.Context, db *gorm.DB, entryType domain.LedgerEntryType, from, to time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("entry_type = ? AND occurred_at >= ? AND occurred_at < ?", entryType, from, to).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// CurrentBalances returns the balance_after of the latest entry per klien.
func (r *repo) CurrentBalances(ctx context.Context, db *gorm.DB) (map[snowflake.ID]int64, error) {
	type row struct {
		KlienID      snowflake.ID
		BalanceAfter int64
	}
	var rows []row
	err := db.WithContext(ctx).Raw(`
		SELECT le.klien_id, le.balance_after
		FROM ledger_entries le
		JOIN (
			SELECT klien_id, MAX(id) AS max_id
			FROM ledger_entries
			GROUP BY klien_id
		) latest ON latest.klien_id = le.klien_id AND latest.max_id = le.id
	`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	balances := make(map[snowflake.ID]int64, len(rows))
	for _, item := range rows {
		balances[item.KlienID] = item.BalanceAfter
	}
	return balances, nil
}
