package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

func (p PeriodType) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// Span returns the half-open window [from, to) the period covers, anchored at
// the UTC midnight of reportDate.
func (p PeriodType) Span(reportDate time.Time) (time.Time, time.Time) {
	day := time.Date(reportDate.Year(), reportDate.Month(), reportDate.Day(), 0, 0, 0, 0, time.UTC)
	switch p {
	case PeriodWeekly:
		return day.AddDate(0, 0, -7), day
	case PeriodMonthly:
		return day.AddDate(0, -1, 0), day
	default:
		return day.AddDate(0, 0, -1), day
	}
}

type ReportStatus string

const (
	ReportInProgress      ReportStatus = "in_progress"
	ReportCompleted       ReportStatus = "completed"
	ReportFailed          ReportStatus = "failed"
	ReportAnomalyDetected ReportStatus = "anomaly_detected"
)

type AnomalyType string

const (
	AnomalyInvoiceLedgerMismatch AnomalyType = "invoice_ledger_mismatch"
	AnomalyMessageDebitMismatch  AnomalyType = "message_debit_mismatch"
	AnomalyRefundMissing         AnomalyType = "refund_missing"
	AnomalyNegativeBalance       AnomalyType = "negative_balance"
	AnomalyDuplicateTransaction  AnomalyType = "duplicate_transaction"
	AnomalyOrphanedLedgerEntry   AnomalyType = "orphaned_ledger_entry"
	AnomalyAmountMismatch        AnomalyType = "amount_mismatch"
	AnomalyTimingAnomaly         AnomalyType = "timing_anomaly"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// severityTable is the built-in classification. Operators can override single
// rows through the reconciliation config file.
var severityTable = map[AnomalyType]Severity{
	AnomalyNegativeBalance:       SeverityCritical,
	AnomalyDuplicateTransaction:  SeverityCritical,
	AnomalyInvoiceLedgerMismatch: SeverityHigh,
	AnomalyAmountMismatch:        SeverityHigh,
	AnomalyMessageDebitMismatch:  SeverityHigh,
	AnomalyRefundMissing:         SeverityMedium,
	AnomalyOrphanedLedgerEntry:   SeverityMedium,
	AnomalyTimingAnomaly:         SeverityLow,
}

// Classify resolves severity for an anomaly type, letting overrides replace
// the built-in row when they name a valid severity.
func Classify(anomalyType AnomalyType, overrides map[string]string) Severity {
	if raw, ok := overrides[string(anomalyType)]; ok {
		if candidate := Severity(raw); candidate.Valid() {
			return candidate
		}
	}
	if severity, ok := severityTable[anomalyType]; ok {
		return severity
	}
	return SeverityMedium
}

type ResolutionStatus string

const (
	ResolutionPending       ResolutionStatus = "pending"
	ResolutionInvestigating ResolutionStatus = "investigating"
	ResolutionResolved      ResolutionStatus = "resolved"
	ResolutionFalsePositive ResolutionStatus = "false_positive"
	ResolutionAcceptedRisk  ResolutionStatus = "accepted_risk"
)

// Final reports whether the status ends the workflow; final anomalies cannot
// be reopened.
func (s ResolutionStatus) Final() bool {
	switch s {
	case ResolutionResolved, ResolutionFalsePositive, ResolutionAcceptedRisk:
		return true
	}
	return false
}

// ReconciliationReport is one engine run over one period. Exactly one report
// per (period_type, report_date) is authoritative; forced reruns supersede
// the prior report and keep it for audit.
type ReconciliationReport struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	PeriodType PeriodType   `json:"period_type" gorm:"type:text;not null;index:ix_recon_reports_period,priority:1"`
	ReportDate time.Time    `json:"report_date" gorm:"not null;index:ix_recon_reports_period,priority:2"`
	Status     ReportStatus `json:"status" gorm:"type:text;not null;index"`

	SupersededBy *snowflake.ID `json:"superseded_by" gorm:"index"`

	TotalInvoicesChecked int64 `json:"total_invoices_checked" gorm:"not null;default:0"`
	TotalMessagesChecked int64 `json:"total_messages_checked" gorm:"not null;default:0"`
	InvoiceAnomalies     int64 `json:"invoice_anomalies" gorm:"not null;default:0"`
	MessageAnomalies     int64 `json:"message_anomalies" gorm:"not null;default:0"`
	BalanceAnomalies     int64 `json:"balance_anomalies" gorm:"not null;default:0"`

	ExecutionDurationSeconds float64    `json:"execution_duration_seconds" gorm:"not null;default:0"`
	StartedAt                time.Time  `json:"started_at" gorm:"not null"`
	FinishedAt               *time.Time `json:"finished_at"`
}

func (ReconciliationReport) TableName() string { return "reconciliation_reports" }

// ReconciliationAnomaly is one failed check. Classification fields are
// immutable; only the resolution fields move, one direction.
type ReconciliationAnomaly struct {
	ID       snowflake.ID `json:"id" gorm:"primaryKey"`
	ReportID snowflake.ID `json:"report_id" gorm:"not null;index"`

	AnomalyType AnomalyType `json:"anomaly_type" gorm:"type:text;not null;index"`
	Severity    Severity    `json:"severity" gorm:"type:text;not null;index"`
	Description string      `json:"description" gorm:"type:text;not null"`

	ExpectedAmount *int64 `json:"expected_amount"`
	ActualAmount   *int64 `json:"actual_amount"`
	ReferenceID    string `json:"reference_id" gorm:"type:text;index"`

	ResolutionStatus ResolutionStatus `json:"resolution_status" gorm:"type:text;not null;default:pending;index"`
	ResolutionNotes  string           `json:"resolution_notes" gorm:"type:text"`
	ResolvedBy       string           `json:"resolved_by" gorm:"type:text"`
	ResolvedAt       *time.Time       `json:"resolved_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (ReconciliationAnomaly) TableName() string { return "reconciliation_anomalies" }
