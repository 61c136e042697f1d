package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kirimaja/kirimaja/internal/reconciliation/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// FindAuthoritativeReport returns the non-superseded report for the
	// period, or nil.
	FindAuthoritativeReport(ctx context.Context, db *gorm.DB, periodType domain.PeriodType, reportDate time.Time) (*domain.ReconciliationReport, error)
	FindReport(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ReconciliationReport, error)
	ListReports(ctx context.Context, db *gorm.DB, limit int) ([]domain.ReconciliationReport, error)
	ListStaleInProgress(ctx context.Context, db *gorm.DB, olderThan time.Time) ([]domain.ReconciliationReport, error)

	InsertReport(ctx context.Context, db *gorm.DB, report *domain.ReconciliationReport) error
	UpdateReport(ctx context.Context, db *gorm.DB, report *domain.ReconciliationReport) error
	MarkSuperseded(ctx context.Context, db *gorm.DB, priorID, newID snowflake.ID) error

	InsertAnomalies(ctx context.Context, db *gorm.DB, anomalies []domain.ReconciliationAnomaly) error
	LockAnomaly(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.ReconciliationAnomaly, error)
	UpdateAnomalyResolution(ctx context.Context, tx *gorm.DB, anomaly *domain.ReconciliationAnomaly) error
	ListAnomalies(ctx context.Context, db *gorm.DB, filter AnomalyFilter) ([]domain.ReconciliationAnomaly, error)
}

type AnomalyFilter struct {
	ReportID         snowflake.ID
	AnomalyType      domain.AnomalyType
	Severity         domain.Severity
	ResolutionStatus domain.ResolutionStatus
	Limit            int
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) FindAuthoritativeReport(ctx context.Context, db *gorm.DB, periodType domain.PeriodType, reportDate time.Time) (*domain.ReconciliationReport, error) {
	var item domain.ReconciliationReport
	err := db.WithContext(ctx).
		Where("period_type = ? AND report_date = ? AND superseded_by IS NULL", periodType, reportDate).
		Order("id DESC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindReport(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ReconciliationReport, error) {
	var item domain.ReconciliationReport
	err := db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListReports(ctx context.Context, db *gorm.DB, limit int) ([]domain.ReconciliationReport, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	var items []domain.ReconciliationReport
	err := db.WithContext(ctx).
		Order("report_date DESC, id DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListStaleInProgress(ctx context.Context, db *gorm.DB, olderThan time.Time) ([]domain.ReconciliationReport, error) {
	var items []domain.ReconciliationReport
	err := db.WithContext(ctx).
		Where("status = ? AND started_at < ?", domain.ReportInProgress, olderThan).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertReport(ctx context.Context, db *gorm.DB, report *domain.ReconciliationReport) error {
	return db.WithContext(ctx).Create(report).Error
}

func (r *repo) UpdateReport(ctx context.Context, db *gorm.DB, report *domain.ReconciliationReport) error {
	return db.WithContext(ctx).Save(report).Error
}

func (r *repo) MarkSuperseded(ctx context.Context, db *gorm.DB, priorID, newID snowflake.ID) error {
	return db.WithContext(ctx).
		Model(&domain.ReconciliationReport{}).
		Where("id = ?", priorID).
		UpdateColumn("superseded_by", newID).Error
}

func (r *repo) InsertAnomalies(ctx context.Context, db *gorm.DB, anomalies []domain.ReconciliationAnomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(anomalies, 100).Error
}

func (r *repo) LockAnomaly(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.ReconciliationAnomaly, error) {
	var item domain.ReconciliationAnomaly
	stmt := tx.WithContext(ctx)
	if tx.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := stmt.First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAnomalyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) UpdateAnomalyResolution(ctx context.Context, tx *gorm.DB, anomaly *domain.ReconciliationAnomaly) error {
	return tx.WithContext(ctx).
		Model(&domain.ReconciliationAnomaly{}).
		Where("id = ?", anomaly.ID).
		Updates(map[string]any{
			"resolution_status": anomaly.ResolutionStatus,
			"resolution_notes":  anomaly.ResolutionNotes,
			"resolved_by":       anomaly.ResolvedBy,
			"resolved_at":       anomaly.ResolvedAt,
		}).Error
}

func (r *repo) ListAnomalies(ctx context.Context, db *gorm.DB, filter AnomalyFilter) ([]domain.ReconciliationAnomaly, error) {
	stmt := db.WithContext(ctx).Model(&domain.ReconciliationAnomaly{})
	if filter.ReportID != 0 {
		stmt = stmt.Where("report_id = ?", filter.ReportID)
	}
	if filter.AnomalyType != "" {
		stmt = stmt.Where("anomaly_type = ?", filter.AnomalyType)
	}
	if filter.Severity != "" {
		stmt = stmt.Where("severity = ?", filter.Severity)
	}
	if filter.ResolutionStatus != "" {
		stmt = stmt.Where("resolution_status = ?", filter.ResolutionStatus)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var items []domain.ReconciliationAnomaly
	err := stmt.Order("created_at DESC, id DESC").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
