package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/wireline/internal/clock"
	"github.com/smallbiznis/wireline/internal/dunning"
	invoicedomain "github.com/smallbiznis/wireline/internal/invoice/domain"
	"github.com/smallbiznis/wireline/internal/leaderlock"
	obsmetrics "github.com/smallbiznis/wireline/internal/observability/metrics"
	schedulerdomain "github.com/smallbiznis/wireline/internal/scheduler/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

const leaderLockKey = "wireline:scheduler:leader"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
	DunningSvc dunning.Service
	Locker     *leaderlock.Locker `optional:"true"`
	Config     Config             `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	invoiceSvc invoicedomain.Service
	dunningSvc dunning.Service
	locker     *leaderlock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.InvoiceSvc == nil || p.DunningSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
		dunningSvc: p.DunningSvc,
		locker:     p.Locker,
	}, nil
}

// RunOnce performs one scheduler tick: enqueue any periodic jobs that
// have come due, then drain the due job queue through the worker pool.
// With a Locker configured, only the tick that wins the leader lease
// runs; losers return immediately and try again next tick.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, leaderLockKey, s.cfg.LeaderLockTTL)
		if err != nil {
			return fmt.Errorf("leader lock: %w", err)
		}
		if !ok {
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), leaderLockKey, token); err != nil {
				s.log.Warn("leader lock release failed", zap.Error(err))
			}
		}()
	}

	var err error
	err = errors.Join(err, s.enqueuePeriodicJobs(ctx))
	err = errors.Join(err, s.processDueJobs(ctx))
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// enqueuePeriodicJobs plants the fixed-schedule jobs: invoice
// generation once per day, overdue marking once per hour. Dedupe is by
// looking for an open or recently completed job of the same type.
func (s *Scheduler) enqueuePeriodicJobs(ctx context.Context) error {
	now := s.clock.Now()
	var err error

	if s.isJobEnabled(string(schedulerdomain.JobGenerateInvoices)) {
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		open, checkErr := s.hasOpenJob(ctx, schedulerdomain.JobGenerateInvoices, startOfDay)
		if checkErr != nil {
			err = errors.Join(err, checkErr)
		} else if !open {
			if _, enqErr := s.Enqueue(ctx, schedulerdomain.JobGenerateInvoices, map[string]any{
				"billing_date": now.Format(time.RFC3339),
			}, 0); enqErr != nil {
				err = errors.Join(err, enqErr)
			}
		}
	}

	if s.isJobEnabled(string(schedulerdomain.JobMarkOverdue)) {
		startOfHour := now.Truncate(time.Hour)
		open, checkErr := s.hasOpenJob(ctx, schedulerdomain.JobMarkOverdue, startOfHour)
		if checkErr != nil {
			err = errors.Join(err, checkErr)
		} else if !open {
			if _, enqErr := s.Enqueue(ctx, schedulerdomain.JobMarkOverdue, nil, 0); enqErr != nil {
				err = errors.Join(err, enqErr)
			}
		}
	}

	return err
}

// processDueJobs claims due jobs in batches and fans them out to the
// worker pool until the queue is drained.
func (s *Scheduler) processDueJobs(ctx context.Context) error {
	var err error
	for {
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}

		jobs, claimErr := s.claimDueJobs(ctx, s.cfg.BatchSize)
		if claimErr != nil {
			return errors.Join(err, claimErr)
		}
		if len(jobs) == 0 {
			return err
		}

		work := make(chan schedulerdomain.Job)
		errCh := make(chan error, len(jobs))
		var wg sync.WaitGroup
		for i := 0; i < s.cfg.WorkerCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for job := range work {
					errCh <- s.runJob(ctx, job)
				}
			}()
		}
		for _, job := range jobs {
			work <- job
		}
		close(work)
		wg.Wait()
		close(errCh)
		for jobErr := range errCh {
			err = errors.Join(err, jobErr)
		}

		if len(jobs) < s.cfg.BatchSize {
			return err
		}
	}
}

// runJob executes one claimed job under its timeout and settles its
// row: completed, retried with backoff, or terminally failed.
func (s *Scheduler) runJob(parent context.Context, job schedulerdomain.Job) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	run := s.newJobRun(job)
	s.logJobStart(run)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(string(job.Type))

	jobErr := s.dispatch(ctx, job, run)
	schedMetrics.ObserveJobDuration(string(job.Type), time.Since(start))
	schedMetrics.AddBatchProcessed(string(job.Type), run.processedCount)

	if jobErr == nil {
		s.logJobFinish(run)
		return s.completeJob(parent, job)
	}

	schedMetrics.IncJobError(string(job.Type))
	if errors.Is(jobErr, context.DeadlineExceeded) {
		schedMetrics.IncJobTimeout(string(job.Type))
	}
	run.IncError()
	s.logJobFinish(run)

	// Settlement uses the parent context so a job timeout cannot keep
	// the row stuck in running.
	retrying, updateErr := s.failJob(parent, job, jobErr)
	if updateErr != nil {
		return errors.Join(jobErr, updateErr)
	}
	if retrying {
		schedMetrics.IncJobRetry(string(job.Type))
		s.log.Warn("scheduler.job.retry_scheduled",
			zap.String("job", string(job.Type)),
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.Attempts),
			zap.Error(jobErr),
		)
		return nil
	}

	schedMetrics.IncJobExhausted(string(job.Type))
	s.log.Error("scheduler.job.exhausted",
		zap.String("job", string(job.Type)),
		zap.String("job_id", job.ID.String()),
		zap.Int("attempts", job.Attempts),
		zap.Error(jobErr),
	)
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, job schedulerdomain.Job, run *jobRun) error {
	switch job.Type {
	case schedulerdomain.JobGenerateInvoices:
		return s.handleGenerateInvoices(ctx, job, run)
	case schedulerdomain.JobMarkOverdue:
		return s.handleMarkOverdue(ctx, job, run)
	case schedulerdomain.JobEnforceOverdue:
		return s.handleEnforceOverdue(ctx, job, run)
	case schedulerdomain.JobReactivation:
		return s.handleReactivation(ctx, job, run)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (s *Scheduler) handleGenerateInvoices(ctx context.Context, job schedulerdomain.Job, run *jobRun) error {
	billingDate := s.clock.Now()
	if raw, ok := job.Payload["billing_date"].(string); ok && raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("bad billing_date %q: %w", raw, err)
		}
		billingDate = parsed
	}

	result, err := s.invoiceSvc.BulkGenerate(ctx, nil, billingDate)
	if err != nil {
		return err
	}
	run.AddProcessed(result.Summary.Eligible)
	for _, item := range result.Errors {
		// Duplicate periods are the expected outcome of re-running a
		// daily job; anything else counts against the run.
		if item.Reason == invoicedomain.ErrDuplicatePeriod.Error() {
			continue
		}
		run.IncError()
		s.log.Warn("scheduler.generate.item_failed",
			zap.String("subscription_id", item.SubscriptionID.String()),
			zap.String("reason", item.Reason),
		)
	}
	return nil
}

func (s *Scheduler) handleMarkOverdue(ctx context.Context, job schedulerdomain.Job, run *jobRun) error {
	result, err := s.dunningSvc.MarkOverdue(ctx)
	if err != nil {
		return err
	}
	run.AddProcessed(result.Processed)

	// Enforcement runs a day later so customers get the grace notice
	// before their service is cut.
	if result.Marked > 0 {
		if _, err := s.Enqueue(ctx, schedulerdomain.JobEnforceOverdue, nil, s.cfg.EnforceDelay); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) handleEnforceOverdue(ctx context.Context, job schedulerdomain.Job, run *jobRun) error {
	graceDays := 0
	if raw, ok := job.Payload["grace_period_days"].(float64); ok {
		graceDays = int(raw)
	}

	result, err := s.dunningSvc.EnforceOverdue(ctx, graceDays)
	if err != nil {
		return err
	}
	run.AddProcessed(result.Processed)
	for _, item := range result.Errors {
		run.IncError()
		s.log.Warn("scheduler.enforce.item_failed",
			zap.String("subscription_id", item.SubscriptionID.String()),
			zap.String("reason", item.Reason),
		)
	}
	return nil
}

func (s *Scheduler) handleReactivation(ctx context.Context, job schedulerdomain.Job, run *jobRun) error {
	result, err := s.dunningSvc.Reactivate(ctx)
	if err != nil {
		return err
	}
	run.AddProcessed(result.Processed)
	for _, item := range result.Errors {
		run.IncError()
		s.log.Warn("scheduler.reactivate.item_failed",
			zap.String("subscription_id", item.SubscriptionID.String()),
			zap.String("reason", item.Reason),
		)
	}
	return nil
}

// ScheduleReactivation plants a reactivation sweep shortly after a
// payment webhook settles an invoice, so the paying customer's access
// comes back without waiting for the next periodic sweep.
func (s *Scheduler) ScheduleReactivation(ctx context.Context) error {
	_, err := s.Enqueue(ctx, schedulerdomain.JobReactivation, nil, s.cfg.ReactivateDelay)
	return err
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
