package scheduler

import (
	"time"

	schedulerdomain "github.com/smallbiznis/wireline/internal/scheduler/domain"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	jobID          string
	attempt        int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (s *Scheduler) newJobRun(job schedulerdomain.Job) *jobRun {
	return &jobRun{
		job:       string(job.Type),
		jobID:     job.ID.String(),
		attempt:   job.Attempts,
		startedAt: time.Now(),
	}
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) logJobStart(run *jobRun) {
	if run == nil {
		return
	}
	s.log.Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("job_id", run.jobID),
		zap.Int("attempt", run.attempt),
	)
}

func (s *Scheduler) logJobFinish(run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("job_id", run.jobID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	if run.errorCount > 0 {
		s.log.Warn("scheduler.job.finish", fields...)
		return
	}
	s.log.Info("scheduler.job.finish", fields...)
}
