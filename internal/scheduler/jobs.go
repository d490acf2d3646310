package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	schedulerdomain "github.com/smallbiznis/wireline/internal/scheduler/domain"
	"github.com/smallbiznis/wireline/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Enqueue inserts a pending job to run after delay.
func (s *Scheduler) Enqueue(ctx context.Context, jobType schedulerdomain.JobType, payload map[string]any, delay time.Duration) (schedulerdomain.Job, error) {
	now := s.clock.Now()
	job := schedulerdomain.Job{
		ID:          s.genID.Generate(),
		Type:        jobType,
		Status:      schedulerdomain.JobStatusPending,
		Payload:     datatypes.JSONMap(payload),
		RunAt:       now.Add(delay),
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return schedulerdomain.Job{}, err
	}
	return job, nil
}

// claimDueJobs marks up to limit due pending jobs running and returns
// them. SKIP LOCKED keeps concurrent workers off each other's claims.
func (s *Scheduler) claimDueJobs(ctx context.Context, limit int) ([]schedulerdomain.Job, error) {
	now := s.clock.Now()
	var jobs []schedulerdomain.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM jobs
			 WHERE status = ? AND run_at <= ?
			 ORDER BY run_at, id
			 LIMIT ?`+db.SkipLockedClause(tx),
			schedulerdomain.JobStatusPending,
			now,
			limit,
		).Scan(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(jobs))
		for i := range jobs {
			ids = append(ids, jobs[i].ID)
			jobs[i].Status = schedulerdomain.JobStatusRunning
			jobs[i].Attempts++
			jobs[i].StartedAt = &now
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE jobs
			 SET status = ?, attempts = attempts + 1, started_at = ?, updated_at = ?
			 WHERE id IN ? AND status = ?`,
			schedulerdomain.JobStatusRunning,
			now,
			now,
			ids,
			schedulerdomain.JobStatusPending,
		).Error
	})
	return jobs, err
}

func (s *Scheduler) completeJob(ctx context.Context, job schedulerdomain.Job) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Exec(
		`UPDATE jobs SET status = ?, finished_at = ?, last_error = '', updated_at = ? WHERE id = ?`,
		schedulerdomain.JobStatusCompleted,
		now,
		now,
		job.ID,
	).Error
}

// failJob reschedules a failed job with exponential backoff, or marks
// it terminally failed once attempts are exhausted. Returns true when
// the job will be retried.
func (s *Scheduler) failJob(ctx context.Context, job schedulerdomain.Job, jobErr error) (bool, error) {
	now := s.clock.Now()

	if job.Attempts >= job.MaxAttempts {
		err := s.db.WithContext(ctx).Exec(
			`UPDATE jobs SET status = ?, finished_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			schedulerdomain.JobStatusFailed,
			now,
			jobErr.Error(),
			now,
			job.ID,
		).Error
		return false, err
	}

	// Wait base*2^n before retry n+1, counting retries from zero:
	// 30s, 60s, 120s with the defaults.
	backoff := time.Duration(1<<(job.Attempts-1)) * s.cfg.RetryBackoff
	err := s.db.WithContext(ctx).Exec(
		`UPDATE jobs SET status = ?, run_at = ?, last_error = ?, started_at = NULL, updated_at = ? WHERE id = ?`,
		schedulerdomain.JobStatusPending,
		now.Add(backoff),
		jobErr.Error(),
		now,
		job.ID,
	).Error
	return true, err
}

// hasOpenJob reports whether this period already has a job of the
// given type: pending or running when enqueued within the period, or
// completed with run_at inside it. A stale retry carried over from an
// earlier period does not suppress the current period's enqueue.
func (s *Scheduler) hasOpenJob(ctx context.Context, jobType schedulerdomain.JobType, since time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM jobs
		 WHERE type = ?
		   AND ((status IN (?, ?) AND created_at >= ?) OR (status = ? AND run_at >= ?))`,
		jobType,
		schedulerdomain.JobStatusPending,
		schedulerdomain.JobStatusRunning,
		since,
		schedulerdomain.JobStatusCompleted,
		since,
	).Scan(&count).Error
	return count > 0, err
}
