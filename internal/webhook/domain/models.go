package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookReceipt is the forensic record of one inbound webhook call. It is
// written before signature verification or parsing so that forged and
// malformed calls are captured too. Outcome fields are attached exactly once
// when processing completes; rows are never deleted.
type WebhookReceipt struct {
	ID       snowflake.ID `json:"id" gorm:"primaryKey"`
	Provider string       `json:"provider" gorm:"type:text;not null;index"`
	Endpoint string       `json:"endpoint" gorm:"type:text;not null"`
	Method   string       `json:"method" gorm:"type:text;not null"`

	RawBody        string         `json:"raw_body" gorm:"type:text"`
	Headers        datatypes.JSON `json:"headers" gorm:"type:jsonb"`
	ContentType    string         `json:"content_type" gorm:"type:text"`
	SignatureValue string         `json:"signature_value" gorm:"type:text"`

	SourceIP   string    `json:"source_ip" gorm:"type:text"`
	UserAgent  string    `json:"user_agent" gorm:"type:text"`
	ReceivedAt time.Time `json:"received_at" gorm:"not null;index"`

	// Outcome. SignatureValid stays nil when no secret is configured for the
	// provider; Authenticated distinguishes a verified call from a fail-open
	// pass.
	ResponseCode       int           `json:"response_code"`
	ResponseMessage    string        `json:"response_message" gorm:"type:text"`
	SignatureValid     *bool         `json:"signature_valid"`
	Authenticated      bool          `json:"authenticated" gorm:"not null;default:false"`
	ParsedSuccessfully bool          `json:"parsed_successfully" gorm:"not null;default:false"`
	MessageEventID     *snowflake.ID `json:"message_event_id" gorm:"index"`
	FinalizedAt        *time.Time    `json:"finalized_at"`
}

func (WebhookReceipt) TableName() string { return "webhook_receipts" }

// ReceiptOutcome carries the finalize patch for a receipt. FinalizedAt comes
// from the caller's clock so the trail stays deterministic under test.
type ReceiptOutcome struct {
	ResponseCode       int
	ResponseMessage    string
	SignatureValid     *bool
	Authenticated      bool
	ParsedSuccessfully bool
	MessageEventID     *snowflake.ID
	FinalizedAt        time.Time
}
