package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft  InvoiceStatus = "draft"
	InvoiceStatusIssued InvoiceStatus = "issued"
	InvoiceStatusPaid   InvoiceStatus = "paid"
	InvoiceStatusVoid   InvoiceStatus = "void"
)

// Invoice is the billed summary of one klien's messaging usage for a period.
// Reconciliation cross-checks TotalAmount and MessageCount against the ledger
// and the message log.
type Invoice struct {
	ID      snowflake.ID `json:"id" gorm:"primaryKey"`
	KlienID snowflake.ID `json:"klien_id" gorm:"not null;index"`
	Number  string       `json:"number" gorm:"type:text;not null;uniqueIndex"`

	PeriodStart time.Time `json:"period_start" gorm:"not null;index"`
	PeriodEnd   time.Time `json:"period_end" gorm:"not null"`

	TotalAmount  int64         `json:"total_amount" gorm:"not null"`
	MessageCount int64         `json:"message_count" gorm:"not null"`
	Status       InvoiceStatus `json:"status" gorm:"type:text;not null;default:draft"`

	IssuedAt  *time.Time `json:"issued_at"`
	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }
