package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kirimaja/kirimaja/internal/clock"
	"github.com/kirimaja/kirimaja/internal/config"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	messagerepo "github.com/kirimaja/kirimaja/internal/message/repository"
	messageservice "github.com/kirimaja/kirimaja/internal/message/service"
	"github.com/kirimaja/kirimaja/internal/providers"
	webhookdomain "github.com/kirimaja/kirimaja/internal/webhook/domain"
	webhookrepo "github.com/kirimaja/kirimaja/internal/webhook/repository"
	webhookservice "github.com/kirimaja/kirimaja/internal/webhook/service"
	"github.com/kirimaja/kirimaja/internal/webhook/verifier"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const gupshupSecret = "gupshup_test_secret"

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
		&webhookdomain.WebhookReceipt{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newIngestService(t *testing.T, db *gorm.DB) *webhookservice.Service {
	t.Helper()

	node, err := snowflake.NewNode(31)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	cfg := config.Config{Webhook: config.WebhookConfig{GupshupSecret: gupshupSecret}}

	messageSvc := messageservice.NewService(messageservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  messagerepo.Provide(),
	})
	return webhookservice.NewService(webhookservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Adapters:   providers.Default(),
		Verifier:   verifier.New(cfg),
		Repo:       webhookrepo.Provide(),
		MessageSvc: messageSvc,
	})
}

func seedLog(t *testing.T, db *gorm.DB, providerMessageID string) *messagedomain.MessageLog {
	t.Helper()

	node, err := snowflake.NewNode(32)
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
		Status:            messagedomain.StatusPending,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := db.Create(log).Error; err != nil {
		t.Fatalf("seed log: %v", err)
	}
	return log
}

func signGupshup(body []byte) string {
	mac := hmac.New(sha256.New, []byte(gupshupSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func gupshupBody(messageID, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"app": "KirimAjaApp",
		"timestamp": 1767225600000,
		"type": "message-event",
		"payload": {"id": %q, "gsId": "gs-%s-%s", "type": %q, "destination": "6281234567890"}
	}`, messageID, messageID, status, status))
}

func countReceipts(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var n int64
	if err := db.Model(&webhookdomain.WebhookReceipt{}).Count(&n).Error; err != nil {
		t.Fatalf("count receipts: %v", err)
	}
	return n
}

func lastReceipt(t *testing.T, db *gorm.DB) *webhookdomain.WebhookReceipt {
	t.Helper()

	var receipt webhookdomain.WebhookReceipt
	if err := db.Order("id DESC").First(&receipt).Error; err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	return &receipt
}

func TestIngestAppliesDeliveryEvent(t *testing.T) {
	db := setupTestDB(t)
	svc := newIngestService(t, db)
	log := seedLog(t, db, "gBEGkYiEB-ingest-1")

	body := gupshupBody("gBEGkYiEB-ingest-1", "delivered")
	headers := http.Header{}
	headers.Set("X-Gupshup-Signature", signGupshup(body))
	headers.Set("Content-Type", "application/json")

	result, err := svc.Ingest(context.Background(), webhookservice.IngestRequest{
		Provider: "gupshup",
		Endpoint: "/webhooks/gupshup",
		Method:   http.MethodPost,
		Body:     body,
		Headers:  headers,
		SourceIP: "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", result.StatusCode)
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].Outcome != messagedomain.OutcomeApplied {
		t.Fatalf("outcomes = %+v", result.Outcomes)
	}

	var got messagedomain.MessageLog
	if err := db.First(&got, "id = ?", log.ID).Error; err != nil {
		t.Fatalf("reload log: %v", err)
	}
	if got.Status != messagedomain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got.Status)
	}

	receipt := lastReceipt(t, db)
	if receipt.SignatureValid == nil || !*receipt.SignatureValid {
		t.Fatalf("signature_valid = %v, want true", receipt.SignatureValid)
	}
	if !receipt.Authenticated || !receipt.ParsedSuccessfully {
		t.Fatalf("receipt flags = %+v", receipt)
	}
	if receipt.MessageEventID == nil {
		t.Fatal("receipt not linked to the message event")
	}
	if receipt.ResponseCode != http.StatusOK {
		t.Fatalf("response_code = %d", receipt.ResponseCode)
	}
	if receipt.SourceIP != "203.0.113.7" {
		t.Fatalf("source_ip = %s", receipt.SourceIP)
	}
}

func TestIngestTamperedSignatureRejectedWithReceipt(t *testing.T) {
	db := setupTestDB(t)
	svc := newIngestService(t, db)
	seedLog(t, db, "gBEGkYiEB-ingest-2")

	body := gupshupBody("gBEGkYiEB-ingest-2", "delivered")
	headers := http.Header{}
	headers.Set("X-Gupshup-Signature", signGupshup(body))

	tampered := gupshupBody("gBEGkYiEB-ingest-2", "read")
	result, err := svc.Ingest(context.Background(), webhookservice.IngestRequest{
		Provider: "gupshup",
		Endpoint: "/webhooks/gupshup",
		Method:   http.MethodPost,
		Body:     tampered,
		Headers:  headers,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", result.StatusCode)
	}

	if n := countReceipts(t, db); n != 1 {
		t.Fatalf("receipts = %d, want exactly 1", n)
	}
	receipt := lastReceipt(t, db)
	if receipt.SignatureValid == nil || *receipt.SignatureValid {
		t.Fatalf("signature_valid = %v, want false", receipt.SignatureValid)
	}
	if receipt.FinalizedAt == nil {
		t.Fatal("receipt not finalized")
	}
	if !receipt.FinalizedAt.Equal(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("finalized_at = %v, want the injected clock time", receipt.FinalizedAt)
	}

	var n int64
	if err := db.Model(&messagedomain.MessageEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 0 {
		t.Fatalf("event rows = %d, rejected call must not reach the state machine", n)
	}
}

func TestIngestUnparseableJSONReturns400(t *testing.T) {
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	body := []byte(`{"type": "message-event",`)
	headers := http.Header{}
	headers.Set("X-Gupshup-Signature", signGupshup(body))

	result, err := svc.Ingest(context.Background(), webhookservice.IngestRequest{
		Provider: "gupshup",
		Endpoint: "/webhooks/gupshup",
		Method:   http.MethodPost,
		Body:     body,
		Headers:  headers,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", result.StatusCode)
	}

	receipt := lastReceipt(t, db)
	if receipt.ParsedSuccessfully {
		t.Fatal("parsed_successfully must be false")
	}
	if receipt.RawBody != string(body) {
		t.Fatal("raw body must be kept verbatim")
	}
}

func TestIngestUnknownMessageStillReturns200(t *testing.T) {
	db := setupTestDB(t)
	svc := newIngestService(t, db)

	body := gupshupBody("gBEGkYiEB-ghost", "delivered")
	headers := http.Header{}
	headers.Set("X-Gupshup-Signature", signGupshup(body))

	result, err := svc.Ingest(context.Background(), webhookservice.IngestRequest{
		Provider: "gupshup",
		Endpoint: "/webhooks/gupshup",
		Method:   http.MethodPost,
		Body:     body,
		Headers:  headers,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 for unknown message", result.StatusCode)
	}
	if len(result.Outcomes) != 1 || result.Outcomes[0].Outcome != messagedomain.OutcomeNotFound {
		t.Fatalf("outcomes = %+v, want not_found", result.Outcomes)
	}
}

func TestIngestDetectsProviderWhenRouteIsGeneric(t *testing.T) {
	db := setupTestDB(t)
	svc := newIngestService(t, db)
	seedLog(t, db, "gBEGkYiEB-detect")

	body := gupshupBody("gBEGkYiEB-detect", "sent")
	headers := http.Header{}
	headers.Set("X-Gupshup-Signature", signGupshup(body))

	result, err := svc.Ingest(context.Background(), webhookservice.IngestRequest{
		Endpoint: "/webhooks/auto",
		Method:   http.MethodPost,
		Body:     body,
		Headers:  headers,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Provider != providers.ProviderGupshup {
		t.Fatalf("provider = %s, want gupshup", result.Provider)
	}
	if result.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", result.StatusCode)
	}
}
