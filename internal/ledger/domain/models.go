package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LedgerEntryType classifies a balance movement. Debits are negative amounts,
// credits positive; amounts are integer minor units (sen).
type LedgerEntryType string

const (
	EntryTypeMessageDebit LedgerEntryType = "message_debit" // quota charge per outbound message
	EntryTypeTopup        LedgerEntryType = "topup"         // customer balance purchase
	EntryTypeRefund       LedgerEntryType = "refund"        // money returned to the klien
	EntryTypeAdjustment   LedgerEntryType = "adjustment"    // manual correction
	EntryTypeReversal     LedgerEntryType = "reversal"      // undo of a prior entry
)

// LedgerEntry is one immutable row of the per-klien balance ledger.
// BalanceAfter is the running balance the writer computed at post time; the
// reconciliation engine re-derives it to catch drift.
type LedgerEntry struct {
	ID           snowflake.ID    `json:"id" gorm:"primaryKey"`
	KlienID      snowflake.ID    `json:"klien_id" gorm:"not null;index:ix_ledger_entries_klien_time,priority:1"`
	EntryType    LedgerEntryType `json:"entry_type" gorm:"type:text;not null"`
	Amount       int64           `json:"amount" gorm:"not null"`
	BalanceAfter int64           `json:"balance_after" gorm:"not null"`

	// ReferenceID points at the originating document: a message log for
	// message_debit, an invoice for topup, the reversed entry for reversal.
	ReferenceID   string `json:"reference_id" gorm:"type:text;index"`
	ReferenceType string `json:"reference_type" gorm:"type:text"`
	Description   string `json:"description" gorm:"type:text"`

	OccurredAt time.Time `json:"occurred_at" gorm:"not null;index:ix_ledger_entries_klien_time,priority:2"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
