package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/kirimaja/kirimaja/internal/audit/domain"
	"github.com/kirimaja/kirimaja/internal/clock"
	"github.com/kirimaja/kirimaja/internal/config"
	invoicedomain "github.com/kirimaja/kirimaja/internal/invoice/domain"
	invoicerepo "github.com/kirimaja/kirimaja/internal/invoice/repository"
	ledgerdomain "github.com/kirimaja/kirimaja/internal/ledger/domain"
	ledgerrepo "github.com/kirimaja/kirimaja/internal/ledger/repository"
	messagedomain "github.com/kirimaja/kirimaja/internal/message/domain"
	obsmetrics "github.com/kirimaja/kirimaja/internal/observability/metrics"
	"github.com/kirimaja/kirimaja/internal/reconciliation/domain"
	reconrepo "github.com/kirimaja/kirimaja/internal/reconciliation/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        reconrepo.Repository
	LedgerRepo  ledgerrepo.Repository
	InvoiceRepo invoicerepo.Repository
	AuditSvc    auditdomain.Service
	Config      *config.ReconciliationConfigHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        reconrepo.Repository
	ledgerRepo  ledgerrepo.Repository
	invoiceRepo invoicerepo.Repository
	auditSvc    auditdomain.Service
	config      *config.ReconciliationConfigHolder
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("reconciliation"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		ledgerRepo:  p.LedgerRepo,
		invoiceRepo: p.InvoiceRepo,
		auditSvc:    p.AuditSvc,
		config:      p.Config,
		obsMetrics:  p.ObsMetrics,
	}
}

// periodData is the stable snapshot every check runs against. It is read in
// one transaction so a check battery never sees a half-written period.
type periodData struct {
	from, to time.Time
	entries  []ledgerdomain.LedgerEntry
	invoices []invoicedomain.Invoice
	messages []messageRow
	balances map[snowflake.ID]int64
}

type messageRow struct {
	ID                snowflake.ID
	KlienID           snowflake.ID
	ProviderMessageID string
	IdempotencyKey    string
	MessageCost       int64
	SentAt            *time.Time
	DeliveredAt       *time.Time
	ReadAt            *time.Time
}

// Run executes the check battery for one period. Reruns of the same period
// return the existing authoritative report unless forced; a forced run
// supersedes the prior report and keeps it queryable.
func (s *Service) Run(ctx context.Context, periodType domain.PeriodType, reportDate time.Time, force bool) (*domain.ReconciliationReport, error) {
	if !periodType.Valid() {
		return nil, domain.ErrInvalidPeriodType
	}
	reportDate = time.Date(reportDate.Year(), reportDate.Month(), reportDate.Day(), 0, 0, 0, 0, time.UTC)

	prior, err := s.repo.FindAuthoritativeReport(ctx, s.db, periodType, reportDate)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.Status == domain.ReportInProgress {
		return prior, domain.ErrRunAlreadyInProgress
	}
	if prior != nil && !force {
		return prior, nil
	}

	started := s.clock.Now()
	report := &domain.ReconciliationReport{
		ID:         s.genID.Generate(),
		PeriodType: periodType,
		ReportDate: reportDate,
		Status:     domain.ReportInProgress,
		StartedAt:  started,
	}
	if err := s.repo.InsertReport(ctx, s.db, report); err != nil {
		return nil, err
	}
	if prior != nil {
		if err := s.repo.MarkSuperseded(ctx, s.db, prior.ID, report.ID); err != nil {
			return nil, err
		}
	}

	cfg := s.config.Current()
	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	anomalies, data, runErr := s.execute(runCtx, report, cfg)

	finished := s.clock.Now()
	report.ExecutionDurationSeconds = finished.Sub(started).Seconds()
	report.FinishedAt = &finished

	if runErr != nil {
		report.Status = domain.ReportFailed
		if updateErr := s.repo.UpdateReport(ctx, s.db, report); updateErr != nil {
			s.log.Error("failed report finalize failed", zap.Error(updateErr))
		}
		s.log.Error("reconciliation run failed",
			zap.String("period_type", string(periodType)),
			zap.Time("report_date", reportDate),
			zap.Error(runErr),
		)
		return report, runErr
	}

	if err := s.repo.InsertAnomalies(ctx, s.db, anomalies); err != nil {
		report.Status = domain.ReportFailed
		if updateErr := s.repo.UpdateReport(ctx, s.db, report); updateErr != nil {
			s.log.Error("failed report finalize failed", zap.Error(updateErr))
		}
		return report, err
	}

	report.TotalInvoicesChecked = int64(len(data.invoices))
	report.TotalMessagesChecked = int64(len(data.messages))
	for _, anomaly := range anomalies {
		switch anomaly.AnomalyType {
		case domain.AnomalyInvoiceLedgerMismatch, domain.AnomalyAmountMismatch:
			report.InvoiceAnomalies++
		case domain.AnomalyMessageDebitMismatch, domain.AnomalyOrphanedLedgerEntry, domain.AnomalyTimingAnomaly:
			report.MessageAnomalies++
		default:
			report.BalanceAnomalies++
		}
		if s.obsMetrics != nil {
			s.obsMetrics.RecordAnomaly(ctx, string(anomaly.AnomalyType), string(anomaly.Severity))
		}
	}

	report.Status = domain.ReportCompleted
	if len(anomalies) > 0 {
		report.Status = domain.ReportAnomalyDetected
	}
	if err := s.repo.UpdateReport(ctx, s.db, report); err != nil {
		return nil, err
	}

	reportID := report.ID.String()
	_ = s.auditSvc.AuditLog(ctx, nil, "system", nil, "reconciliation.run", "reconciliation_report", &reportID, map[string]any{
		"period_type": string(periodType),
		"report_date": reportDate.Format("2006-01-02"),
		"forced":      force,
		"status":      string(report.Status),
		"anomalies":   len(anomalies),
	})

	return report, nil
}

func (s *Service) execute(ctx context.Context, report *domain.ReconciliationReport, cfg config.ReconciliationConfig) ([]domain.ReconciliationAnomaly, *periodData, error) {
	data, err := s.snapshot(ctx, report.PeriodType, report.ReportDate)
	if err != nil {
		return nil, nil, err
	}

	checks := []func(*periodData, config.ReconciliationConfig) []domain.ReconciliationAnomaly{
		s.checkInvoiceLedger,
		s.checkMessageDebits,
		s.checkRefundExistence,
		s.checkNegativeBalances,
		s.checkDuplicates,
		s.checkOrphanedEntries,
		s.checkTiming,
	}

	var anomalies []domain.ReconciliationAnomaly
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		anomalies = append(anomalies, check(data, cfg)...)
	}

	now := s.clock.Now()
	for i := range anomalies {
		anomalies[i].ID = s.genID.Generate()
		anomalies[i].ReportID = report.ID
		anomalies[i].ResolutionStatus = domain.ResolutionPending
		anomalies[i].CreatedAt = now
		anomalies[i].Severity = domain.Classify(anomalies[i].AnomalyType, cfg.SeverityOverrides)
	}
	return anomalies, data, nil
}

func (s *Service) snapshot(ctx context.Context, periodType domain.PeriodType, reportDate time.Time) (*periodData, error) {
	from, to := periodType.Span(reportDate)
	data := &periodData{from: from, to: to}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if data.entries, err = s.ledgerRepo.ListByPeriod(ctx, tx, from, to); err != nil {
			return err
		}
		if data.invoices, err = s.invoiceRepo.ListByPeriod(ctx, tx, from, to); err != nil {
			return err
		}
		if data.balances, err = s.ledgerRepo.CurrentBalances(ctx, tx); err != nil {
			return err
		}
		return tx.Model(&messagedomain.MessageLog{}).
			Select("id, klien_id, provider_message_id, idempotency_key, message_cost, sent_at, delivered_at, read_at").
			Where("created_at >= ? AND created_at < ?", from, to).
			Scan(&data.messages).Error
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func int64Ptr(v int64) *int64 { return &v }

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// checkInvoiceLedger compares invoiced totals against message debits posted
// to the ledger for the period.
func (s *Service) checkInvoiceLedger(data *periodData, cfg config.ReconciliationConfig) []domain.ReconciliationAnomaly {
	var invoiced int64
	for _, invoice := range data.invoices {
		if invoice.Status == invoicedomain.InvoiceStatusIssued || invoice.Status == invoicedomain.InvoiceStatusPaid {
			invoiced += invoice.TotalAmount
		}
	}

	var debited int64
	for _, entry := range data.entries {
		if entry.EntryType == ledgerdomain.EntryTypeMessageDebit {
			debited += -entry.Amount // debits are negative
		}
	}

	if len(data.invoices) == 0 || absDiff(invoiced, debited) <= cfg.AmountTolerance {
		return nil
	}
	return []domain.ReconciliationAnomaly{{
		AnomalyType:    domain.AnomalyInvoiceLedgerMismatch,
		Description:    fmt.Sprintf("invoiced total %d does not match ledger message debits %d", invoiced, debited),
		ExpectedAmount: int64Ptr(invoiced),
		ActualAmount:   int64Ptr(debited),
	}}
}

// checkMessageDebits compares the message log's recorded costs against the
// ledger, per klien.
func (s *Service) checkMessageDebits(data *periodData, cfg config.ReconciliationConfig) []domain.ReconciliationAnomaly {
	costByKlien := map[snowflake.ID]int64{}
	for _, message := range data.messages {
		costByKlien[message.KlienID] += message.MessageCost
	}

	debitByKlien := map[snowflake.ID]int64{}
	for _, entry := range data.entries {
		if entry.EntryType == ledgerdomain.EntryTypeMessageDebit {
			debitByKlien[entry.KlienID] += -entry.Amount
		}
	}

	var anomalies []domain.ReconciliationAnomaly
	for klienID, cost := range costByKlien {
		debited := debitByKlien[klienID]
		if absDiff(cost, debited) <= cfg.AmountTolerance {
			continue
		}
		anomalies = append(anomalies, domain.ReconciliationAnomaly{
			AnomalyType:    domain.AnomalyMessageDebitMismatch,
			Description:    fmt.Sprintf("klien %s message costs %d do not match ledger debits %d", klienID, cost, debited),
			ExpectedAmount: int64Ptr(cost),
			ActualAmount:   int64Ptr(debited),
			ReferenceID:    klienID.String(),
		})
	}
	return anomalies
}

// checkRefundExistence requires every reversal to point at a refund entry.
func (s *Service) checkRefundExistence(data *periodData, _ config.ReconciliationConfig) []domain.ReconciliationAnomaly {
	refundIDs := map[string]bool{}
	for _, entry := range data.entries {
		if entry.EntryType == ledgerdomain.EntryTypeRefund {
			refundIDs[entry.ID.String()] = true
		}
	}

	var anomalies []domain.ReconciliationAnomaly
	for _, entry := range data.entries {
		if entry.EntryType != ledgerdomain.EntryTypeReversal {
			continue
		}
		if entry.ReferenceID != "" && refundIDs[entry.ReferenceID] {
			continue
		}
		anomalies = append(anomalies, domain.ReconciliationAnomaly{
			AnomalyType:  domain.AnomalyRefundMissing,
			Description:  fmt.Sprintf("reversal %s has no matching refund entry", entry.ID),
			ActualAmount: int64Ptr(entry.Amount),
			ReferenceID:  entry.ID.String(),
		})
	}
	return anomalies
}

func (s *Service) checkNegativeBalances(data *periodData, _ config.ReconciliationConfig) []domain.ReconciliationAnomaly {
	var anomalies []domain.ReconciliationAnomaly
	for klienID, balance := range data.balances {
		if balance >= 0 {
			continue
		}
		anomalies = append(anomalies, domain.ReconciliationAnomaly{
			AnomalyType:    domain.AnomalyNegativeBalance,
			Description:    fmt.Sprintf("klien %s balance is negative: %d", klienID, balance),
			ExpectedAmount: int64Ptr(0),
			ActualAmount:   int64Ptr(balance),
			ReferenceID:    klienID.String(),
		})
	}
	return anomalies
}

// checkDuplicates flags entries sharing reference id, amount and time bucket.
func (s *Service) checkDuplicates(data *periodData, cfg config.ReconciliationConfig) []domain.ReconciliationAnomaly {
	window := cfg.DuplicateWindow
	if window <= 0 {
		window = 5 * time.Minute
	}

	type dupKey struct {
		reference string
		amount    int64
		bucket    int64
	}
	seen := map[dupKey]snowflake.ID{}
	flagged := map[dupKey]bool{}

	var anomalies []domain.ReconciliationAnomaly
	for _, entry := range data.entries {
		if entry.ReferenceID == "" {
			continue
		}
		key := dupKey{
			reference: entry.ReferenceID,
			amount:    entry.Amount,
			bucket:    entry.OccurredAt.UTC().UnixNano() / int64(window),
		}
		firstID, dup := seen[key]
		if !dup {
			seen[key] = entry.ID
			continue
		}
		if flagged[key] {
			continue
		}
		flagged[key] = true
		anomalies = append(anomalies, domain.ReconciliationAnomaly{
			AnomalyType:  domain.AnomalyDuplicateTransaction,
			Description:  fmt.Sprintf("entries %s and %s duplicate reference %s amount %d within %s", firstID, entry.ID, entry.ReferenceID, entry.Amount, window),
			ActualAmount: int64Ptr(entry.Amount),
			ReferenceID:  entry.ReferenceID,
		})
	}
	return anomalies
}

// checkOrphanedEntries flags message debits whose reference matches no
// message in the period.
func (s *Service) checkOrphanedEntries(data *periodData, _ config.ReconciliationConfig) []domain.ReconciliationAnomaly {
	known := map[string]bool{}
	for _, message := range data.messages {
		if message.ProviderMessageID != "" {
			known[message.ProviderMessageID] = true
		}
		if message.IdempotencyKey != "" {
			known[message.IdempotencyKey] = true
		}
		known[message.ID.String()] = true
	}

	var anomalies []domain.ReconciliationAnomaly
	for _, entry := range data.entries {
		if entry.EntryType != ledgerdomain.EntryTypeMessageDebit {
			continue
		}
		if entry.ReferenceID != "" && known[entry.ReferenceID] {
			continue
		}
		anomalies = append(anomalies, domain.ReconciliationAnomaly{
			AnomalyType:  domain.AnomalyOrphanedLedgerEntry,
			Description:  fmt.Sprintf("message debit %s references unknown message %q", entry.ID, entry.ReferenceID),
			ActualAmount: int64Ptr(entry.Amount),
			ReferenceID:  entry.ID.String(),
		})
	}
	return anomalies
}

// checkTiming flags records whose timestamps contradict causal order.
func (s *Service) checkTiming(data *periodData, _ config.ReconciliationConfig) []domain.ReconciliationAnomaly {
	now := s.clock.Now()

	var anomalies []domain.ReconciliationAnomaly
	for _, message := range data.messages {
		switch {
		case message.SentAt != nil && message.DeliveredAt != nil && message.DeliveredAt.Before(*message.SentAt):
			anomalies = append(anomalies, domain.ReconciliationAnomaly{
				AnomalyType: domain.AnomalyTimingAnomaly,
				Description: fmt.Sprintf("message %s delivered before sent", message.ID),
				ReferenceID: message.ID.String(),
			})
		case message.DeliveredAt != nil && message.ReadAt != nil && message.ReadAt.Before(*message.DeliveredAt):
			anomalies = append(anomalies, domain.ReconciliationAnomaly{
				AnomalyType: domain.AnomalyTimingAnomaly,
				Description: fmt.Sprintf("message %s read before delivered", message.ID),
				ReferenceID: message.ID.String(),
			})
		}
	}
	for _, entry := range data.entries {
		if entry.OccurredAt.After(now) {
			anomalies = append(anomalies, domain.ReconciliationAnomaly{
				AnomalyType: domain.AnomalyTimingAnomaly,
				Description: fmt.Sprintf("ledger entry %s occurred in the future", entry.ID),
				ReferenceID: entry.ID.String(),
			})
		}
	}
	return anomalies
}

// StartReview moves a pending anomaly to investigating.
func (s *Service) StartReview(ctx context.Context, anomalyID snowflake.ID, reviewer string) (*domain.ReconciliationAnomaly, error) {
	return s.transition(ctx, anomalyID, domain.ResolutionInvestigating, "", reviewer)
}

// Resolve finalizes an anomaly. Transitions are one-directional; a final
// anomaly cannot be moved again through this workflow.
func (s *Service) Resolve(ctx context.Context, anomalyID snowflake.ID, status domain.ResolutionStatus, notes, resolver string) (*domain.ReconciliationAnomaly, error) {
	if !status.Final() {
		return nil, domain.ErrInvalidResolution
	}
	return s.transition(ctx, anomalyID, status, notes, resolver)
}

func (s *Service) transition(ctx context.Context, anomalyID snowflake.ID, target domain.ResolutionStatus, notes, actor string) (*domain.ReconciliationAnomaly, error) {
	var anomaly *domain.ReconciliationAnomaly
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockAnomaly(ctx, tx, anomalyID)
		if err != nil {
			return err
		}
		if locked.ResolutionStatus.Final() {
			return domain.ErrAnomalyFinal
		}
		if target == domain.ResolutionInvestigating && locked.ResolutionStatus != domain.ResolutionPending {
			return domain.ErrInvalidResolution
		}

		locked.ResolutionStatus = target
		if notes != "" {
			locked.ResolutionNotes = notes
		}
		if target.Final() {
			locked.ResolvedBy = actor
			now := s.clock.Now()
			locked.ResolvedAt = &now
		}
		if err := s.repo.UpdateAnomalyResolution(ctx, tx, locked); err != nil {
			return err
		}
		anomaly = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	anomalyRef := anomaly.ID.String()
	_ = s.auditSvc.AuditLog(ctx, nil, "operator", &actor, "reconciliation.anomaly."+string(target), "reconciliation_anomaly", &anomalyRef, map[string]any{
		"anomaly_type": string(anomaly.AnomalyType),
		"severity":     string(anomaly.Severity),
	})
	return anomaly, nil
}

// Report returns one report with its anomalies.
func (s *Service) Report(ctx context.Context, id snowflake.ID) (*domain.ReconciliationReport, []domain.ReconciliationAnomaly, error) {
	report, err := s.repo.FindReport(ctx, s.db, id)
	if err != nil {
		return nil, nil, err
	}
	anomalies, err := s.repo.ListAnomalies(ctx, s.db, reconrepo.AnomalyFilter{ReportID: id})
	if err != nil {
		return nil, nil, err
	}
	return report, anomalies, nil
}

func (s *Service) ListReports(ctx context.Context, limit int) ([]domain.ReconciliationReport, error) {
	return s.repo.ListReports(ctx, s.db, limit)
}

func (s *Service) ListAnomalies(ctx context.Context, filter reconrepo.AnomalyFilter) ([]domain.ReconciliationAnomaly, error) {
	return s.repo.ListAnomalies(ctx, s.db, filter)
}

// RecoverStale marks in_progress reports older than the cutoff as failed.
// Used at scheduler startup after a crash.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	stale, err := s.repo.ListStaleInProgress(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}
	for i := range stale {
		report := &stale[i]
		report.Status = domain.ReportFailed
		finished := s.clock.Now()
		report.FinishedAt = &finished
		report.ExecutionDurationSeconds = finished.Sub(report.StartedAt).Seconds()
		if err := s.repo.UpdateReport(ctx, s.db, report); err != nil {
			return i, err
		}
		s.log.Warn("stale reconciliation run marked failed",
			zap.Int64("report_id", int64(report.ID)),
			zap.Time("started_at", report.StartedAt),
		)
	}
	return len(stale), nil
}
