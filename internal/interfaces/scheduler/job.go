package scheduler

import "context"

// Job is a unit of work executed by the worker pool.
type Job interface {
	Execute(ctx context.Context) error

	// UserID identifies whose data the job touches, for logging. It may be empty.
	UserID() string

	Description() string
}
