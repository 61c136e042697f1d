package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	auditdomain "github.com/kirimaja/kirimaja/internal/audit/domain"
	"github.com/kirimaja/kirimaja/internal/clock"
	"github.com/kirimaja/kirimaja/internal/config"
	invoicedomain "github.com/kirimaja/kirimaja/internal/invoice/domain"
	invoicerepo "github.com/kirimaja/kirimaja/internal/invoice/repository"
	ledgerdomain "github.com/kirimaja/kirimaja/internal/ledger/domain"
	ledgerrepo "github.com/kirimaja/kirimaja/internal/ledger/repository"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	messagerepo "github.com/kirimaja/kirimaja/internal/message/repository"
	messageservice "github.com/kirimaja/kirimaja/internal/message/service"
	"github.com/kirimaja/kirimaja/internal/observability"
	"github.com/kirimaja/kirimaja/internal/providers"
	recondomain "github.com/kirimaja/kirimaja/internal/reconciliation/domain"
	reconrepo "github.com/kirimaja/kirimaja/internal/reconciliation/repository"
	reconservice "github.com/kirimaja/kirimaja/internal/reconciliation/service"
	webhookdomain "github.com/kirimaja/kirimaja/internal/webhook/domain"
	webhookrepo "github.com/kirimaja/kirimaja/internal/webhook/repository"
	webhookservice "github.com/kirimaja/kirimaja/internal/webhook/service"
	"github.com/kirimaja/kirimaja/internal/webhook/verifier"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, klienID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (noopAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func setupServer(t *testing.T) (*Server, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

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
		&ledgerdomain.LedgerEntry{},
		&invoicedomain.Invoice{},
		&recondomain.ReconciliationReport{},
		&recondomain.ReconciliationAnomaly{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(61)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	cfg := config.Config{Webhook: config.WebhookConfig{VerifyToken: "verify-me"}}

	messageSvc := messageservice.NewService(messageservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  messagerepo.Provide(),
	})
	webhookSvc := webhookservice.NewService(webhookservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Adapters:   providers.Default(),
		Verifier:   verifier.New(cfg),
		Repo:       webhookrepo.Provide(),
		MessageSvc: messageSvc,
	})

	reconSvc := reconservice.NewService(reconservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        reconrepo.Provide(),
		LedgerRepo:  ledgerrepo.Provide(),
		InvoiceRepo: invoicerepo.Provide(),
		AuditSvc:    noopAuditService{},
		Config:      config.StaticReconciliationConfigHolder(config.DefaultReconciliationConfig()),
	})

	srv := NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{}),
		Cfg:         cfg,
		DB:          db,
		GenID:       node,
		WebhookSvc:  webhookSvc,
		WebhookRepo: webhookrepo.Provide(),
		MessageSvc:  messageSvc,
		MessageRepo: messagerepo.Provide(),
		ReconSvc:    reconSvc,
		AuditSvc:    noopAuditService{},
	})
	return srv, db
}

func seedLog(t *testing.T, db *gorm.DB, providerMessageID string) *messagedomain.MessageLog {
	t.Helper()

	node, err := snowflake.NewNode(62)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	log := &messagedomain.MessageLog{
		ID:                node.Generate(),
		KlienID:           node.Generate(),
		IdempotencyKey:    "idem-" + providerMessageID,
		ProviderMessageID: providerMessageID,
		Provider:          "generic",
		Phone:             "+6281234567890",
		Status:            messagedomain.StatusSent,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}
	if err := db.Create(log).Error; err != nil {
		t.Fatalf("seed log: %v", err)
	}
	return log
}

func TestHandleWebhookAppliesEvent(t *testing.T) {
	srv, db := setupServer(t)
	log := seedLog(t, db, "wamid.http.1")

	body := `{"event":"delivered","message_id":"wamid.http.1","event_id":"evt-1","timestamp":1767259500}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/generic", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got messagedomain.MessageLog
	if err := db.First(&got, "id = ?", log.ID).Error; err != nil {
		t.Fatalf("reload log: %v", err)
	}
	if got.Status != messagedomain.StatusDelivered {
		t.Fatalf("status = %s, want delivered", got.Status)
	}
}

func TestHandleWebhookUnparseableBodyReturns400(t *testing.T) {
	srv, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/generic", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleWebhookChallengeEchoes(t *testing.T) {
	srv, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/meta?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Fatalf("body = %q, want challenge echoed", rec.Body.String())
	}

	bad := httptest.NewRequest(http.MethodGet, "/webhooks/meta?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	badRec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(badRec, bad)
	if badRec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for wrong token", badRec.Code)
	}
}

func TestGetMessageHistoryReturnsTrail(t *testing.T) {
	srv, db := setupServer(t)
	log := seedLog(t, db, "wamid.http.2")

	body := `{"event":"delivered","message_id":"wamid.http.2","event_id":"evt-2","timestamp":1767259500}`
	post := httptest.NewRequest(http.MethodPost, "/webhooks/generic", strings.NewReader(body))
	postRec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(postRec, post)
	if postRec.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", postRec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/messages/wamid.http.2/events", nil)
	req.Header.Set(HeaderKlien, log.KlienID.String())
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	for _, want := range []string{`"events"`, `"receipts"`, `"message"`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("body missing %s: %s", want, rec.Body.String())
		}
	}

	missing := httptest.NewRequest(http.MethodGet, "/v1/messages/wamid.nope/events", nil)
	missingRec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(missingRec, missing)
	if missingRec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown message", missingRec.Code)
	}
}

func TestExportMessageEventsCSV(t *testing.T) {
	srv, db := setupServer(t)
	seedLog(t, db, "wamid.http.3")

	body := `{"event":"delivered","message_id":"wamid.http.3","event_id":"evt-3","timestamp":1767259500}`
	post := httptest.NewRequest(http.MethodPost, "/webhooks/generic", strings.NewReader(body))
	postRec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(postRec, post)

	req := httptest.NewRequest(http.MethodGet, "/v1/messages/events.csv?from=2025-12-01&to=2026-12-31", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want header + 1 row", len(lines))
	}
	if lines[0] != strings.Join(exportColumns, ",") {
		t.Fatalf("header = %s", lines[0])
	}
	fields := strings.Split(lines[1], ",")
	if len(fields) != len(exportColumns) {
		t.Fatalf("row fields = %d, want %d: %s", len(fields), len(exportColumns), lines[1])
	}
	if fields[1] != "wamid.http.3" {
		t.Fatalf("provider_message_id = %s", fields[1])
	}
	if fields[2] != "+6281234567890" {
		t.Fatalf("phone = %s", fields[2])
	}
	if fields[3] != "delivered" {
		t.Fatalf("event_type = %s", fields[3])
	}

	inverted := httptest.NewRequest(http.MethodGet, "/v1/messages/events.csv?from=2026-12-31&to=2025-12-01", nil)
	invertedRec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(invertedRec, inverted)
	if invertedRec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for inverted range", invertedRec.Code)
	}
}

func TestListReconciliationAnomaliesFilters(t *testing.T) {
	srv, db := setupServer(t)

	node, err := snowflake.NewNode(63)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	reportID := node.Generate()
	seed := []recondomain.ReconciliationAnomaly{
		{
			ID:               node.Generate(),
			ReportID:         reportID,
			AnomalyType:      recondomain.AnomalyNegativeBalance,
			Severity:         recondomain.SeverityCritical,
			Description:      "balance went negative",
			ResolutionStatus: recondomain.ResolutionPending,
			CreatedAt:        time.Now().UTC(),
		},
		{
			ID:               node.Generate(),
			ReportID:         reportID,
			AnomalyType:      recondomain.AnomalyOrphanedLedgerEntry,
			Severity:         recondomain.SeverityMedium,
			Description:      "debit without message",
			ResolutionStatus: recondomain.ResolutionPending,
			CreatedAt:        time.Now().UTC(),
		},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed anomaly: %v", err)
		}
	}

	url := fmt.Sprintf("/v1/reconciliation/anomalies?report_id=%s&anomaly_type=negative_balance&severity=critical", reportID)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "negative_balance") {
		t.Fatalf("body missing matching anomaly: %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "orphaned_ledger_entry") {
		t.Fatalf("filter leaked non-matching anomaly: %s", rec.Body.String())
	}
}

func TestMapErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalidRequest, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrTooManyRequests, http.StatusTooManyRequests},
		{recondomain.ErrAnomalyFinal, http.StatusConflict},
		{recondomain.ErrReportNotFound, http.StatusNotFound},
		{messagedomain.ErrMessageNotFound, http.StatusNotFound},
		{recondomain.ErrInvalidResolution, http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if status, _ := mapError(tc.err); status != tc.want {
			t.Fatalf("mapError(%v) = %d, want %d", tc.err, status, tc.want)
		}
	}
}
