package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kirimaja/kirimaja/internal/clock"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	messagerepo "github.com/kirimaja/kirimaja/internal/message/repository"
	messageservice "github.com/kirimaja/kirimaja/internal/message/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&messagedomain.MessageLog{},
		&messagedomain.MessageEvent{},
		&messagedomain.Campaign{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB, clk clock.Clock) messagedomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(21)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return messageservice.NewService(messageservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  messagerepo.Provide(),
	})
}

func seedLog(t *testing.T, db *gorm.DB, providerMessageID string, campaignID *snowflake.ID) *messagedomain.MessageLog {
	t.Helper()

	node, err := snowflake.NewNode(22)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	log := &messagedomain.MessageLog{
		ID:                node.Generate(),
		KlienID:           node.Generate(),
		IdempotencyKey:    "idem-" + providerMessageID,
		ProviderMessageID: providerMessageID,
		Provider:          "gupshup",
		Phone:             "+6281234567890",
		TemplateName:      "order_update",
		CampaignID:        campaignID,
		Status:            messagedomain.StatusPending,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := db.Create(log).Error; err != nil {
		t.Fatalf("seed message log: %v", err)
	}
	return log
}

func event(providerMessageID string, eventType messagedomain.EventType, eventID string, ts time.Time) messagedomain.NormalizedEvent {
	return messagedomain.NormalizedEvent{
		Provider:          "gupshup",
		EventType:         eventType,
		ProviderMessageID: providerMessageID,
		ProviderEventID:   eventID,
		EventTimestamp:    ts,
		RawPayload:        []byte(`{"source":"test"}`),
		ReceivedAt:        ts,
	}
}

func mustApply(t *testing.T, svc messagedomain.Service, ev messagedomain.NormalizedEvent, want messagedomain.ApplyOutcome) messagedomain.ApplyResult {
	t.Helper()

	res, err := svc.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("apply %s: %v", ev.EventType, err)
	}
	if res.Outcome != want {
		t.Fatalf("apply %s: outcome = %s, want %s", ev.EventType, res.Outcome, want)
	}
	return res
}

func reloadLog(t *testing.T, db *gorm.DB, id snowflake.ID) *messagedomain.MessageLog {
	t.Helper()

	var log messagedomain.MessageLog
	if err := db.First(&log, "id = ?", id).Error; err != nil {
		t.Fatalf("reload log: %v", err)
	}
	return &log
}

func countEvents(t *testing.T, db *gorm.DB, logID snowflake.ID) int64 {
	t.Helper()

	var n int64
	if err := db.Model(&messagedomain.MessageEvent{}).Where("message_log_id = ?", logID).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestApplyAdvancesStatusInOrder(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	log := seedLog(t, db, "wamid.ordered", nil)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mustApply(t, svc, event("wamid.ordered", messagedomain.EventTypeSent, "ev-1", base), messagedomain.OutcomeApplied)
	mustApply(t, svc, event("wamid.ordered", messagedomain.EventTypeDelivered, "ev-2", base.Add(4*time.Second)), messagedomain.OutcomeApplied)
	res := mustApply(t, svc, event("wamid.ordered", messagedomain.EventTypeRead, "ev-3", base.Add(90*time.Second)), messagedomain.OutcomeApplied)

	got := reloadLog(t, db, log.ID)
	if got.Status != messagedomain.StatusRead {
		t.Fatalf("status = %s, want read", got.Status)
	}
	if got.SentAt == nil || !got.SentAt.Equal(base) {
		t.Fatalf("sent_at = %v, want %v", got.SentAt, base)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(base.Add(4*time.Second)) {
		t.Fatalf("delivered_at = %v", got.DeliveredAt)
	}
	if got.ReadAt == nil || !got.ReadAt.Equal(base.Add(90*time.Second)) {
		t.Fatalf("read_at = %v", got.ReadAt)
	}
	if res.Event.ReadTimeSeconds == nil || *res.Event.ReadTimeSeconds != 86 {
		t.Fatalf("read_time_seconds = %v, want 86", res.Event.ReadTimeSeconds)
	}
	if n := countEvents(t, db, log.ID); n != 3 {
		t.Fatalf("event rows = %d, want 3", n)
	}
}

func TestApplyDuplicateAppendsSecondRow(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	log := seedLog(t, db, "wamid.dup", nil)

	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := mustApply(t, svc, event("wamid.dup", messagedomain.EventTypeSent, "ev-dup", ts), messagedomain.OutcomeApplied)
	second := mustApply(t, svc, event("wamid.dup", messagedomain.EventTypeSent, "ev-dup", ts), messagedomain.OutcomeDuplicate)

	if first.Event.IsDuplicate {
		t.Fatal("first row flagged duplicate")
	}
	if !second.Event.IsDuplicate {
		t.Fatal("second row not flagged duplicate")
	}
	if second.Event.StatusChanged {
		t.Fatal("duplicate row claims a status change")
	}
	if n := countEvents(t, db, log.ID); n != 2 {
		t.Fatalf("event rows = %d, want 2", n)
	}

	got := reloadLog(t, db, log.ID)
	if got.Status != messagedomain.StatusSent {
		t.Fatalf("status = %s after duplicate, want sent", got.Status)
	}
}

func TestApplyOutOfOrderKeepsHigherStatus(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	log := seedLog(t, db, "wamid.ooo", nil)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// delivered arrives before sent; no sent_at yet so no delivery timing.
	delivered := mustApply(t, svc, event("wamid.ooo", messagedomain.EventTypeDelivered, "ev-d", base.Add(5*time.Second)), messagedomain.OutcomeApplied)
	if delivered.Event.DeliveryTimeSeconds != nil {
		t.Fatalf("delivery_time_seconds = %v, want nil without sent_at", delivered.Event.DeliveryTimeSeconds)
	}

	late := mustApply(t, svc, event("wamid.ooo", messagedomain.EventTypeSent, "ev-s", base), messagedomain.OutcomeOutOfOrder)
	if !late.Event.IsOutOfOrder {
		t.Fatal("late sent row not flagged out of order")
	}

	got := reloadLog(t, db, log.ID)
	if got.Status != messagedomain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got.Status)
	}
	if got.SentAt != nil {
		t.Fatalf("sent_at = %v, late event must not backfill", got.SentAt)
	}
	if n := countEvents(t, db, log.ID); n != 2 {
		t.Fatalf("event rows = %d, want 2", n)
	}
}

func TestApplyPendingEventNeverAdvances(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	log := seedLog(t, db, "wamid.pend", nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mustApply(t, svc, event("wamid.pend", messagedomain.EventTypeSent, "ev-s", base), messagedomain.OutcomeApplied)

	// Queue acknowledgements rank below every status the message can hold.
	late := mustApply(t, svc, event("wamid.pend", messagedomain.EventTypePending, "ev-q", base.Add(time.Second)), messagedomain.OutcomeOutOfOrder)
	if !late.Event.IsOutOfOrder {
		t.Fatal("pending row not flagged out of order")
	}

	got := reloadLog(t, db, log.ID)
	if got.Status != messagedomain.StatusSent {
		t.Fatalf("status = %s, want sent", got.Status)
	}
	if n := countEvents(t, db, log.ID); n != 2 {
		t.Fatalf("event rows = %d, want 2", n)
	}
}

func TestApplyTerminalStatusAbsorbsLaterEvents(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	log := seedLog(t, db, "wamid.failed", nil)

	base := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	failed := event("wamid.failed", messagedomain.EventTypeFailed, "ev-f", base)
	failed.StatusCode = "1002"
	failed.ErrorReason = "number not on whatsapp"
	mustApply(t, svc, failed, messagedomain.OutcomeApplied)

	mustApply(t, svc, event("wamid.failed", messagedomain.EventTypeDelivered, "ev-d", base.Add(time.Second)), messagedomain.OutcomeOutOfOrder)

	got := reloadLog(t, db, log.ID)
	if got.Status != messagedomain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorCode != "1002" || got.ErrorMessage != "number not on whatsapp" {
		t.Fatalf("error propagation = (%q, %q)", got.ErrorCode, got.ErrorMessage)
	}
	if got.FailedAt == nil {
		t.Fatal("failed_at not set")
	}
}

func TestApplyTerminalEventOverridesIntermediate(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	log := seedLog(t, db, "wamid.expire", nil)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mustApply(t, svc, event("wamid.expire", messagedomain.EventTypeSent, "ev-1", base), messagedomain.OutcomeApplied)
	mustApply(t, svc, event("wamid.expire", messagedomain.EventTypeExpired, "ev-2", base.Add(24*time.Hour)), messagedomain.OutcomeApplied)

	got := reloadLog(t, db, log.ID)
	if got.Status != messagedomain.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if got.SentAt == nil {
		t.Fatal("sent_at lost on expiry")
	}
}

func TestApplyNegativeDeliveryGapYieldsNilTiming(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	seedLog(t, db, "wamid.skew", nil)

	base := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	mustApply(t, svc, event("wamid.skew", messagedomain.EventTypeSent, "ev-1", base), messagedomain.OutcomeApplied)

	// Provider clock skew: delivered timestamp predates sent.
	res := mustApply(t, svc, event("wamid.skew", messagedomain.EventTypeDelivered, "ev-2", base.Add(-3*time.Second)), messagedomain.OutcomeApplied)
	if res.Event.DeliveryTimeSeconds != nil {
		t.Fatalf("delivery_time_seconds = %v, want nil on negative gap", res.Event.DeliveryTimeSeconds)
	}
}

func TestApplyUnknownMessageReturnsNotFound(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)

	ev := event("wamid.ghost", messagedomain.EventTypeDelivered, "ev-1", clk.Now())
	res, err := svc.Apply(context.Background(), ev)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Outcome != messagedomain.OutcomeNotFound {
		t.Fatalf("outcome = %s, want not_found", res.Outcome)
	}

	var n int64
	if err := db.Model(&messagedomain.MessageEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("event rows = %d for unknown message, want 0", n)
	}
}

func TestApplyNonStatusEventIsIgnoredButAudited(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	log := seedLog(t, db, "wamid.inbound", nil)

	res := mustApply(t, svc, event("wamid.inbound", messagedomain.EventTypeInbound, "ev-in", clk.Now()), messagedomain.OutcomeIgnored)
	if res.Event.StatusChanged {
		t.Fatal("ignored event claims a status change")
	}
	if n := countEvents(t, db, log.ID); n != 1 {
		t.Fatalf("event rows = %d, want 1", n)
	}

	got := reloadLog(t, db, log.ID)
	if got.Status != messagedomain.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestApplyIncrementsCampaignCounters(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)

	node, err := snowflake.NewNode(23)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	campaign := &messagedomain.Campaign{
		ID:        node.Generate(),
		KlienID:   node.Generate(),
		Name:      "promo_maret",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := db.Create(campaign).Error; err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	seedLog(t, db, "wamid.camp", &campaign.ID)

	base := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)
	mustApply(t, svc, event("wamid.camp", messagedomain.EventTypeSent, "ev-1", base), messagedomain.OutcomeApplied)
	mustApply(t, svc, event("wamid.camp", messagedomain.EventTypeDelivered, "ev-2", base.Add(time.Second)), messagedomain.OutcomeApplied)
	// retry must not double count
	mustApply(t, svc, event("wamid.camp", messagedomain.EventTypeDelivered, "ev-2", base.Add(time.Second)), messagedomain.OutcomeDuplicate)

	var got messagedomain.Campaign
	if err := db.First(&got, "id = ?", campaign.ID).Error; err != nil {
		t.Fatalf("reload campaign: %v", err)
	}
	if got.TotalSent != 1 {
		t.Fatalf("total_sent = %d, want 1", got.TotalSent)
	}
	if got.TotalDelivered != 1 {
		t.Fatalf("total_delivered = %d, want 1", got.TotalDelivered)
	}
}

func TestHistoryReturnsOrderedTrail(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	log := seedLog(t, db, "wamid.history", nil)

	base := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	mustApply(t, svc, event("wamid.history", messagedomain.EventTypeSent, "ev-1", base), messagedomain.OutcomeApplied)
	mustApply(t, svc, event("wamid.history", messagedomain.EventTypeDelivered, "ev-2", base.Add(time.Second)), messagedomain.OutcomeApplied)

	// lookup by provider message id
	gotLog, events, err := svc.History(context.Background(), "wamid.history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if gotLog.ID != log.ID {
		t.Fatalf("log id = %v, want %v", gotLog.ID, log.ID)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].EventType != messagedomain.EventTypeSent || events[1].EventType != messagedomain.EventTypeDelivered {
		t.Fatalf("event order = [%s %s]", events[0].EventType, events[1].EventType)
	}

	// lookup by idempotency key resolves the same aggregate
	byKey, _, err := svc.History(context.Background(), log.IdempotencyKey)
	if err != nil {
		t.Fatalf("history by key: %v", err)
	}
	if byKey.ID != log.ID {
		t.Fatalf("log id by key = %v, want %v", byKey.ID, log.ID)
	}

	if _, _, err := svc.History(context.Background(), "wamid.nope"); err != messagedomain.ErrMessageNotFound {
		t.Fatalf("missing key err = %v, want ErrMessageNotFound", err)
	}
}
