package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"ofbconnect/internal/domain/connection"
	of "ofbconnect/internal/domain/openfinance"
)

// SyncRunner runs one sync for a connection.
type SyncRunner interface {
	RunSync(ctx context.Context, connectionID string, opts of.SyncOptions) (*of.SyncJob, error)
}

// DueLister lists connections whose next scheduled sync has arrived.
type DueLister interface {
	ListDue(ctx context.Context) ([]*connection.Connection, error)
}

// ConnectionSyncJob syncs one connection.
type ConnectionSyncJob struct {
	connectionID string
	userID       string
	trigger      string
	runner       SyncRunner
}

func NewConnectionSyncJob(connectionID, userID, trigger string, runner SyncRunner) *ConnectionSyncJob {
	return &ConnectionSyncJob{connectionID: connectionID, userID: userID, trigger: trigger, runner: runner}
}

// Execute runs the sync. A failed sync job is reported as an error so the pool
// counts it; the job record itself is already stored by the runner.
func (j *ConnectionSyncJob) Execute(ctx context.Context) error {
	job, err := j.runner.RunSync(ctx, j.connectionID, of.SyncOptions{Trigger: j.trigger})
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if job.Status == of.JobFailed {
		return fmt.Errorf("sync job %s failed with %d errors", job.ID, len(job.Errors))
	}
	return nil
}

func (j *ConnectionSyncJob) UserID() string {
	return j.userID
}

func (j *ConnectionSyncJob) Description() string {
	return fmt.Sprintf("%s sync for connection %s", j.trigger, j.connectionID)
}

// DueSyncJobs returns a job provider yielding one scheduled sync per due connection.
func DueSyncJobs(connections DueLister, runner SyncRunner) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		due, err := connections.ListDue(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list due connections: %w", err)
		}
		jobs := make([]Job, 0, len(due))
		for _, c := range due {
			jobs = append(jobs, NewConnectionSyncJob(c.ID, c.UserID, of.TriggerScheduled, runner))
		}
		return jobs, nil
	}
}

// SyncQueue hands syncs requested outside the schedule to the worker pool.
type SyncQueue struct {
	pool   *WorkerPool
	runner SyncRunner
}

var _ of.SyncQueue = (*SyncQueue)(nil)

func NewSyncQueue(pool *WorkerPool, runner SyncRunner) *SyncQueue {
	return &SyncQueue{pool: pool, runner: runner}
}

func (q *SyncQueue) EnqueueSync(connectionID, trigger string) error {
	return q.pool.Submit(NewConnectionSyncJob(connectionID, "", trigger, q.runner))
}

// ConsentSweepJob expires overdue consents and abandoned authorizations.
type ConsentSweepJob struct {
	expire func(ctx context.Context) (int, error)
}

func NewConsentSweepJob(expire func(ctx context.Context) (int, error)) *ConsentSweepJob {
	return &ConsentSweepJob{expire: expire}
}

func (j *ConsentSweepJob) Execute(ctx context.Context) error {
	n, err := j.expire(ctx)
	if err != nil {
		return fmt.Errorf("consent sweep failed: %w", err)
	}
	if n > 0 {
		log.Info().Int("terminated", n).Msg("Consent sweep finished")
	}
	return nil
}

func (j *ConsentSweepJob) UserID() string { return "" }

func (j *ConsentSweepJob) Description() string { return "consent expiration sweep" }
