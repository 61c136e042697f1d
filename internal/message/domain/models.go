package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MessageStatus is the delivery status of an outbound message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
	StatusRejected  MessageStatus = "rejected"
	StatusExpired   MessageStatus = "expired"
)

// statusRanks orders the non-terminal delivery ladder. Terminal failure states
// have no rank; they can be reached from any non-terminal status.
var statusRanks = map[MessageStatus]int{
	StatusPending:   0,
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusRead:      4,
}

// Rank returns the ladder position of a status and whether it has one.
func (s MessageStatus) Rank() (int, bool) {
	rank, ok := statusRanks[s]
	return rank, ok
}

// Terminal reports whether no further transition is applied from this status.
// Read is the successful terminus.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusRejected, StatusExpired, StatusRead:
		return true
	default:
		return false
	}
}

// EventType classifies a normalized provider callback.
type EventType string

const (
	EventTypePending        EventType = "pending"
	EventTypeSending        EventType = "sending"
	EventTypeSent           EventType = "sent"
	EventTypeDelivered      EventType = "delivered"
	EventTypeRead           EventType = "read"
	EventTypeFailed         EventType = "failed"
	EventTypeRejected       EventType = "rejected"
	EventTypeExpired        EventType = "expired"
	EventTypeInbound        EventType = "inbound"
	EventTypeTemplateStatus EventType = "template_status"
	EventTypeSystem         EventType = "system"
	EventTypeUnknown        EventType = "unknown"
)

// Status maps the event type to its target message status. The second return
// is false for event types that never mutate the aggregate.
func (t EventType) Status() (MessageStatus, bool) {
	switch t {
	case EventTypePending:
		return StatusPending, true
	case EventTypeSending:
		return StatusSending, true
	case EventTypeSent:
		return StatusSent, true
	case EventTypeDelivered:
		return StatusDelivered, true
	case EventTypeRead:
		return StatusRead, true
	case EventTypeFailed:
		return StatusFailed, true
	case EventTypeRejected:
		return StatusRejected, true
	case EventTypeExpired:
		return StatusExpired, true
	default:
		return "", false
	}
}

// MessageLog is the mutable aggregate for a single outbound message.
type MessageLog struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	KlienID           snowflake.ID  `json:"klien_id" gorm:"not null;index"`
	IdempotencyKey    string        `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex"`
	ProviderMessageID string        `json:"provider_message_id" gorm:"type:text;index:ux_message_logs_provider_msg,unique,where:provider_message_id <> ''"`
	Provider          string        `json:"provider" gorm:"type:text;not null"`
	Phone             string        `json:"phone" gorm:"type:text;not null"`
	TemplateName      string        `json:"template_name" gorm:"type:text"`
	CampaignID        *snowflake.ID `json:"campaign_id" gorm:"index"`

	Status       MessageStatus `json:"status" gorm:"type:text;not null;default:pending;index"`
	StatusDetail string        `json:"status_detail" gorm:"type:text"`
	ErrorCode    string        `json:"error_code" gorm:"type:text"`
	ErrorMessage string        `json:"error_message" gorm:"type:text"`

	QuotaConsumed int   `json:"quota_consumed" gorm:"not null;default:1"`
	MessageCost   int64 `json:"message_cost" gorm:"not null;default:0"`

	CreatedAt   time.Time  `json:"created_at" gorm:"not null"`
	SendingAt   *time.Time `json:"sending_at"`
	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`
	FailedAt    *time.Time `json:"failed_at"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"not null"`
}

func (MessageLog) TableName() string { return "message_logs" }

// MessageEvent is the immutable audit row appended for every state machine
// decision. Rows are never updated or deleted.
type MessageEvent struct {
	// There is deliberately no unique index on (message_log_id, event_type,
	// provider_event_id): a replayed webhook appends a second row marked
	// is_duplicate. Dedup happens under the aggregate row lock.
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	MessageLogID    snowflake.ID `json:"message_log_id" gorm:"not null;index:ix_message_events_log"`
	KlienID         snowflake.ID `json:"klien_id" gorm:"not null;index"`
	EventType       EventType    `json:"event_type" gorm:"type:text;not null"`
	ProviderEventID string       `json:"provider_event_id" gorm:"type:text;not null;index"`
	EventTimestamp  time.Time    `json:"event_timestamp" gorm:"not null;index"`

	StatusBefore  MessageStatus `json:"status_before" gorm:"type:text;not null"`
	StatusAfter   MessageStatus `json:"status_after" gorm:"type:text;not null"`
	StatusChanged bool          `json:"status_changed" gorm:"not null"`
	IsDuplicate   bool          `json:"is_duplicate" gorm:"not null"`
	IsOutOfOrder  bool          `json:"is_out_of_order" gorm:"not null"`

	ErrorCode           string   `json:"error_code" gorm:"type:text"`
	ErrorMessage        string   `json:"error_message" gorm:"type:text"`
	DeliveryTimeSeconds *float64 `json:"delivery_time_seconds"`
	ReadTimeSeconds     *float64 `json:"read_time_seconds"`
	ProcessResult       string   `json:"process_result" gorm:"type:text;not null"`
	ProcessNote         string   `json:"process_note" gorm:"type:text"`

	RawPayload       datatypes.JSON `json:"raw_payload" gorm:"type:jsonb"`
	WebhookSignature string         `json:"webhook_signature" gorm:"type:text"`
	ReceivedAt       time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt      time.Time      `json:"processed_at" gorm:"not null"`
}

func (MessageEvent) TableName() string { return "message_events" }

// ExportRow is one line of the CSV export: the audit row joined with the
// owning aggregate's provider message id and phone.
type ExportRow struct {
	MessageEvent      `gorm:"embedded"`
	ProviderMessageID string `json:"provider_message_id"`
	Phone             string `json:"phone"`
}

// Campaign aggregates delivery counters for a bulk send.
type Campaign struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	KlienID        snowflake.ID `json:"klien_id" gorm:"not null;index"`
	Name           string       `json:"name" gorm:"type:text;not null"`
	TotalMessages  int64        `json:"total_messages" gorm:"not null;default:0"`
	TotalSent      int64        `json:"total_sent" gorm:"not null;default:0"`
	TotalDelivered int64        `json:"total_delivered" gorm:"not null;default:0"`
	TotalRead      int64        `json:"total_read" gorm:"not null;default:0"`
	TotalFailed    int64        `json:"total_failed" gorm:"not null;default:0"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null"`
}

func (Campaign) TableName() string { return "campaigns" }

// NormalizedEvent is the canonical per-message event produced by the provider
// adapters. The state machine never sees raw provider JSON.
type NormalizedEvent struct {
	Provider          string
	EventType         EventType
	ProviderMessageID string
	ProviderEventID   string
	EventTimestamp    time.Time
	StatusCode        string
	ErrorReason       string
	Destination       string
	RawPayload        []byte
	WebhookSignature  string
	ReceivedAt        time.Time
}
