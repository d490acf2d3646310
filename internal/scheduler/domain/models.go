// Package domain contains the durable job model shared by the
// scheduler and the schema migrator.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type JobType string

const (
	JobGenerateInvoices JobType = "generate_invoices"
	JobMarkOverdue      JobType = "mark_overdue"
	JobEnforceOverdue   JobType = "enforce_overdue"
	JobReactivation     JobType = "reactivation_sweep"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one durable unit of scheduled work. Jobs survive worker
// restarts; a crashed run is re-claimed once its row lock is gone and
// its run_at has passed.
type Job struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Type        JobType           `gorm:"index:ix_jobs_type_status" json:"type"`
	Status      JobStatus         `gorm:"index:ix_jobs_type_status;index:ix_jobs_status_run_at" json:"status"`
	Payload     datatypes.JSONMap `json:"payload"`
	RunAt       time.Time         `gorm:"index:ix_jobs_status_run_at" json:"run_at"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	LastError   string            `json:"last_error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}
