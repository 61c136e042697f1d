package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kirimaja/kirimaja/internal/clock"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	obsmetrics "github.com/kirimaja/kirimaja/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       messagedomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       messagedomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) messagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("message.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Apply(ctx context.Context, event messagedomain.NormalizedEvent) (messagedomain.ApplyResult, error) {
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	event.ProviderMessageID = strings.TrimSpace(event.ProviderMessageID)
	if event.Provider == "" {
		return messagedomain.ApplyResult{}, messagedomain.ErrInvalidProvider
	}
	if event.ProviderMessageID == "" {
		return messagedomain.ApplyResult{Outcome: messagedomain.OutcomeNotFound}, nil
	}
	if event.ProviderEventID == "" {
		// Providers without native event ids get a synthetic one so replays of
		// the same (message, type) still dedup.
		event.ProviderEventID = event.ProviderMessageID + ":" + string(event.EventType)
	}
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = s.clock.Now()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.clock.Now()
	}

	log, err := s.repo.FindLogByProviderMessageID(ctx, s.db, event.ProviderMessageID)
	if err != nil {
		return messagedomain.ApplyResult{}, err
	}
	if log == nil {
		// Unknown message reference: callers log and drop, never error the
		// provider-facing response.
		s.log.Warn("event for unknown message",
			zap.String("provider", event.Provider),
			zap.String("provider_message_id", event.ProviderMessageID),
			zap.String("event_type", string(event.EventType)),
		)
		s.recordDecision(ctx, event, messagedomain.OutcomeNotFound)
		return messagedomain.ApplyResult{Outcome: messagedomain.OutcomeNotFound}, nil
	}

	var result messagedomain.ApplyResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockLog(ctx, tx, log.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			result = messagedomain.ApplyResult{Outcome: messagedomain.OutcomeNotFound}
			return nil
		}
		result, err = s.applyLocked(ctx, tx, locked, event)
		return err
	})
	if err != nil {
		return messagedomain.ApplyResult{}, err
	}

	s.recordDecision(ctx, event, result.Outcome)
	return result, nil
}

func (s *Service) applyLocked(ctx context.Context, tx *gorm.DB, log *messagedomain.MessageLog, event messagedomain.NormalizedEvent) (messagedomain.ApplyResult, error) {
	now := s.clock.Now()

	row := &messagedomain.MessageEvent{
		ID:               s.genID.Generate(),
		MessageLogID:     log.ID,
		KlienID:          log.KlienID,
		EventType:        event.EventType,
		ProviderEventID:  event.ProviderEventID,
		EventTimestamp:   event.EventTimestamp.UTC(),
		StatusBefore:     log.Status,
		StatusAfter:      log.Status,
		ErrorCode:        event.StatusCode,
		ErrorMessage:     event.ErrorReason,
		RawPayload:       datatypes.JSON(event.RawPayload),
		WebhookSignature: event.WebhookSignature,
		ReceivedAt:       event.ReceivedAt.UTC(),
		ProcessedAt:      now,
	}

	target, mapped := event.EventType.Status()
	if !mapped {
		// inbound / template_status / system / unknown: audit evidence only.
		row.ProcessResult = string(messagedomain.OutcomeIgnored)
		row.ProcessNote = "event type does not map to a delivery status"
		if err := s.repo.InsertEvent(ctx, tx, row); err != nil {
			return messagedomain.ApplyResult{}, err
		}
		return messagedomain.ApplyResult{Outcome: messagedomain.OutcomeIgnored, Event: row}, nil
	}

	// Step 1: idempotency. A prior non-duplicate row for the same triple means
	// this is a provider retry.
	existing, err := s.repo.FindEvent(ctx, tx, log.ID, event.EventType, event.ProviderEventID)
	if err != nil {
		return messagedomain.ApplyResult{}, err
	}
	if existing != nil {
		row.IsDuplicate = true
		row.ProcessResult = string(messagedomain.OutcomeDuplicate)
		row.ProcessNote = "provider retry of a processed event"
		if err := s.repo.InsertEvent(ctx, tx, row); err != nil {
			return messagedomain.ApplyResult{}, err
		}
		return messagedomain.ApplyResult{Outcome: messagedomain.OutcomeDuplicate, Event: row}, nil
	}

	curRank, _ := log.Status.Rank()
	newRank, hasRank := target.Rank()
	terminalEvent := !hasRank // failed / rejected / expired

	switch {
	case log.Status.Terminal():
		// Steps 3: terminal (or read) absorbs everything that follows.
		row.IsOutOfOrder = true
		row.ProcessResult = string(messagedomain.OutcomeOutOfOrder)
		row.ProcessNote = "message already in terminal status " + string(log.Status)

	case terminalEvent || newRank > curRank:
		// Step 4: forward transition.
		row.StatusAfter = target
		row.StatusChanged = true
		row.ProcessResult = string(messagedomain.OutcomeApplied)
		s.transition(log, target, event, row)
		if err := s.repo.UpdateLog(ctx, tx, log); err != nil {
			return messagedomain.ApplyResult{}, err
		}
		if log.CampaignID != nil {
			if err := s.repo.IncrementCampaignCounter(ctx, tx, *log.CampaignID, target); err != nil {
				return messagedomain.ApplyResult{}, err
			}
		}

	default:
		// Step 4: stale non-terminal event; aggregate untouched.
		row.IsOutOfOrder = true
		row.ProcessResult = string(messagedomain.OutcomeOutOfOrder)
		row.ProcessNote = "event rank does not advance current status " + string(log.Status)
	}

	// Step 6: the audit row is appended on every branch.
	if err := s.repo.InsertEvent(ctx, tx, row); err != nil {
		return messagedomain.ApplyResult{}, err
	}

	outcome := messagedomain.ApplyOutcome(row.ProcessResult)
	return messagedomain.ApplyResult{Outcome: outcome, Event: row}, nil
}

// transition mutates the aggregate for an accepted event: status, first-write
// timestamps, timing metrics and terminal error propagation.
func (s *Service) transition(log *messagedomain.MessageLog, target messagedomain.MessageStatus, event messagedomain.NormalizedEvent, row *messagedomain.MessageEvent) {
	ts := event.EventTimestamp.UTC()
	log.Status = target
	log.StatusDetail = event.StatusCode
	log.UpdatedAt = s.clock.Now()

	setOnce := func(field **time.Time) {
		if *field == nil {
			value := ts
			*field = &value
		}
	}

	switch target {
	case messagedomain.StatusSending:
		setOnce(&log.SendingAt)
	case messagedomain.StatusSent:
		setOnce(&log.SentAt)
	case messagedomain.StatusDelivered:
		setOnce(&log.DeliveredAt)
		row.DeliveryTimeSeconds = deltaSeconds(log.SentAt, ts)
	case messagedomain.StatusRead:
		setOnce(&log.ReadAt)
		row.ReadTimeSeconds = deltaSeconds(log.DeliveredAt, ts)
	case messagedomain.StatusFailed, messagedomain.StatusRejected, messagedomain.StatusExpired:
		setOnce(&log.FailedAt)
		log.ErrorCode = event.StatusCode
		log.ErrorMessage = event.ErrorReason
	}
}

// deltaSeconds returns the gap between a base timestamp and ts. Missing base
// or a negative gap yields nil; values are never clamped to zero so the audit
// trail stays honest.
func deltaSeconds(base *time.Time, ts time.Time) *float64 {
	if base == nil {
		return nil
	}
	delta := ts.Sub(*base).Seconds()
	if delta < 0 {
		return nil
	}
	return &delta
}

func (s *Service) History(ctx context.Context, key string) (*messagedomain.MessageLog, []messagedomain.MessageEvent, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil, messagedomain.ErrMessageNotFound
	}

	log, err := s.repo.FindLogByKey(ctx, s.db, key)
	if err != nil {
		return nil, nil, err
	}
	if log == nil {
		return nil, nil, messagedomain.ErrMessageNotFound
	}

	events, err := s.repo.ListEvents(ctx, s.db, log.ID)
	if err != nil {
		return nil, nil, err
	}
	return log, events, nil
}

func (s *Service) recordDecision(ctx context.Context, event messagedomain.NormalizedEvent, outcome messagedomain.ApplyOutcome) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordDeliveryEvent(ctx, event.Provider, string(event.EventType), string(outcome))
}
