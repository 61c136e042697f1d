package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kirimaja/kirimaja/internal/clock"
	obsmetrics "github.com/kirimaja/kirimaja/internal/observability/metrics"
	"github.com/kirimaja/kirimaja/internal/ratelimit"
	"github.com/kirimaja/kirimaja/internal/reconciliation/domain"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

// ReconRunner is the slice of the reconciliation service the scheduler drives.
type ReconRunner interface {
	Run(ctx context.Context, periodType domain.PeriodType, reportDate time.Time, force bool) (*domain.ReconciliationReport, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	ReconSvc ReconRunner
	Limiter  *ratelimit.IngressLimiter `optional:"true"`
	Config   Config                    `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	reconSvc ReconRunner
	limiter  *ratelimit.IngressLimiter
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.ReconSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		reconSvc: p.ReconSvc,
		limiter:  p.Limiter,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	jobMetrics := obsmetrics.Jobs()
	jobMetrics.IncJobRun(name)

	err := fn(ctx)
	jobMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		jobMetrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	jobMetrics.IncJobError(name, obsmetrics.ClassifyJobError(err))
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every period due at the current clock reading. Runs are
// idempotent per (period, date), so re-checking on every tick is safe.
func (s *Scheduler) RunOnce(parent context.Context) error {
	now := s.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var err error
	err = errors.Join(err, s.runJob(parent, "reconcile_daily", func(ctx context.Context) error {
		return s.reconcile(ctx, domain.PeriodDaily, today)
	}))
	if now.Weekday() == time.Monday {
		err = errors.Join(err, s.runJob(parent, "reconcile_weekly", func(ctx context.Context) error {
			return s.reconcile(ctx, domain.PeriodWeekly, today)
		}))
	}
	if now.Day() == 1 {
		err = errors.Join(err, s.runJob(parent, "reconcile_monthly", func(ctx context.Context) error {
			return s.reconcile(ctx, domain.PeriodMonthly, today)
		}))
	}
	err = errors.Join(err, s.runJob(parent, "recover_stale_runs", func(ctx context.Context) error {
		recovered, recoverErr := s.reconSvc.RecoverStale(ctx, s.cfg.StaleThreshold)
		if recovered > 0 {
			s.log.Warn("recovered stale reconciliation runs", zap.Int("count", recovered))
		}
		return recoverErr
	}))
	return err
}

func (s *Scheduler) reconcile(ctx context.Context, periodType domain.PeriodType, reportDate time.Time) error {
	dateKey := reportDate.Format("2006-01-02")

	token, acquired, err := s.limiter.TryRunLock(ctx, string(periodType), dateKey, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		// another instance holds this period
		return nil
	}
	defer func() {
		if releaseErr := s.limiter.ReleaseRunLock(context.WithoutCancel(ctx), string(periodType), dateKey, token); releaseErr != nil {
			s.log.Warn("run lock release failed", zap.Error(releaseErr))
		}
	}()

	report, err := s.reconSvc.Run(ctx, periodType, reportDate, false)
	if errors.Is(err, domain.ErrRunAlreadyInProgress) {
		// stuck runs are swept by the stale-recovery job
		return nil
	}
	if err != nil {
		return err
	}
	if report.Status == domain.ReportAnomalyDetected {
		s.log.Warn("reconciliation found anomalies",
			zap.String("period_type", string(periodType)),
			zap.String("report_date", dateKey),
			zap.String("report_id", report.ID.String()),
			zap.Int64("invoice_anomalies", report.InvoiceAnomalies),
			zap.Int64("message_anomalies", report.MessageAnomalies),
			zap.Int64("balance_anomalies", report.BalanceAnomalies),
		)
	}
	return nil
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	jobMetrics := obsmetrics.Jobs()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			jobMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
