package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ApplyOutcome classifies the state machine decision for one event.
type ApplyOutcome string

const (
	OutcomeApplied    ApplyOutcome = "applied"
	OutcomeDuplicate  ApplyOutcome = "duplicate"
	OutcomeOutOfOrder ApplyOutcome = "out_of_order"
	OutcomeNotFound   ApplyOutcome = "not_found"
	OutcomeIgnored    ApplyOutcome = "ignored"
)

// ApplyResult reports what the state machine did with an event.
type ApplyResult struct {
	Outcome ApplyOutcome
	Event   *MessageEvent
}

// Service is the delivery state machine.
type Service interface {
	// Apply consumes one normalized event, mutates the owning MessageLog when
	// the ordering rules allow it, and always appends one MessageEvent audit
	// row. Duplicate and out-of-order events are expected outcomes, not errors.
	Apply(ctx context.Context, event NormalizedEvent) (ApplyResult, error)

	// History returns the ordered event trail for a provider message id or
	// idempotency key, for dispute evidence.
	History(ctx context.Context, key string) (*MessageLog, []MessageEvent, error)
}

// Repository is the storage boundary for message aggregates and audit rows.
// Methods accept the handle they should run on so callers can pass either the
// root connection or an open transaction.
type Repository interface {
	FindLogByProviderMessageID(ctx context.Context, db *gorm.DB, providerMessageID string) (*MessageLog, error)
	FindLogByKey(ctx context.Context, db *gorm.DB, key string) (*MessageLog, error)

	// LockLog loads the aggregate with a row-level lock so that concurrent
	// applies on the same message serialize.
	LockLog(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*MessageLog, error)

	// InsertEvent appends an audit row.
	InsertEvent(ctx context.Context, tx *gorm.DB, event *MessageEvent) error
	// FindEvent returns the original (non-duplicate) audit row for the
	// idempotency triple, or nil.
	FindEvent(ctx context.Context, db *gorm.DB, messageLogID snowflake.ID, eventType EventType, providerEventID string) (*MessageEvent, error)
	ListEvents(ctx context.Context, db *gorm.DB, messageLogID snowflake.ID) ([]MessageEvent, error)
	ListEventsForExport(ctx context.Context, db *gorm.DB, from, to time.Time, fn func(*ExportRow) error) error

	UpdateLog(ctx context.Context, tx *gorm.DB, log *MessageLog) error
	IncrementCampaignCounter(ctx context.Context, tx *gorm.DB, campaignID snowflake.ID, status MessageStatus) error
}
