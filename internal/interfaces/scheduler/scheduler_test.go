package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ofbconnect/internal/domain/connection"
	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/shared/config"
)

type funcJob struct {
	run func(ctx context.Context) error
}

func (j funcJob) Execute(ctx context.Context) error { return j.run(ctx) }
func (j funcJob) UserID() string                    { return "u-1" }
func (j funcJob) Description() string               { return "test job" }

type MockRunner struct {
	mu       sync.Mutex
	calls    []string
	triggers []string
	status   of.JobStatus
	err      error
}

func (m *MockRunner) RunSync(ctx context.Context, connectionID string, opts of.SyncOptions) (*of.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, connectionID)
	m.triggers = append(m.triggers, opts.Trigger)
	if m.err != nil {
		return nil, m.err
	}
	status := m.status
	if status == "" {
		status = of.JobCompleted
	}
	return &of.SyncJob{ID: "job-" + connectionID, ConnectionID: connectionID, Status: status, Errors: []string{"x"}}, nil
}

type MockDueLister struct {
	due []*connection.Connection
	err error
}

func (m *MockDueLister) ListDue(ctx context.Context) ([]*connection.Connection, error) {
	return m.due, m.err
}

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ScheduleTime
		wantErr bool
	}{
		{"06:30", ScheduleTime{6, 30}, false},
		{"23:59", ScheduleTime{23, 59}, false},
		{"24:00", ScheduleTime{}, true},
		{"12:60", ScheduleTime{}, true},
		{"noon", ScheduleTime{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "30 6 * * *", ScheduleTime{6, 30}.CronSpec())
	assert.Equal(t, "06:30", ScheduleTime{6, 30}.String())
}

func TestWorkerPool_RunsJobs(t *testing.T) {
	pool := NewWorkerPool(2, 0, 10)
	pool.Start()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(funcJob{run: func(ctx context.Context) error {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		}}))
	}
	wg.Wait()
	pool.ShutdownWithTimeout(time.Second)

	assert.Equal(t, 5, ran)
	assert.ErrorIs(t, pool.Submit(funcJob{run: func(ctx context.Context) error { return nil }}), ErrPoolClosed)
}

func TestWorkerPool_QueueFull(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1)
	noop := funcJob{run: func(ctx context.Context) error { return nil }}

	require.NoError(t, pool.Submit(noop))
	assert.ErrorIs(t, pool.Submit(noop), ErrQueueFull)
	assert.Equal(t, 1, pool.Pending())
	assert.Equal(t, 0, pool.SubmitBatch([]Job{noop}))
}

func TestDueSyncJobs(t *testing.T) {
	runner := &MockRunner{}
	lister := &MockDueLister{due: []*connection.Connection{
		{ID: "conn-1", UserID: "u-1"},
		{ID: "conn-2", UserID: "u-2"},
	}}

	jobs, err := DueSyncJobs(lister, runner)(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "u-2", jobs[1].UserID())

	for _, j := range jobs {
		require.NoError(t, j.Execute(context.Background()))
	}
	assert.Equal(t, []string{"conn-1", "conn-2"}, runner.calls)
	assert.Equal(t, []string{of.TriggerScheduled, of.TriggerScheduled}, runner.triggers)

	lister.err = errors.New("db down")
	_, err = DueSyncJobs(lister, runner)(context.Background())
	assert.Error(t, err)
}

func TestConnectionSyncJob_FailedJobIsError(t *testing.T) {
	runner := &MockRunner{status: of.JobFailed}
	err := NewConnectionSyncJob("conn-1", "u-1", of.TriggerManual, runner).Execute(context.Background())
	assert.ErrorContains(t, err, "job-conn-1")

	runner = &MockRunner{err: errors.New("boom")}
	err = NewConnectionSyncJob("conn-1", "u-1", of.TriggerManual, runner).Execute(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestSyncQueue_Enqueue(t *testing.T) {
	pool := NewWorkerPool(1, 0, 5)
	runner := &MockRunner{}
	q := NewSyncQueue(pool, runner)

	require.NoError(t, q.EnqueueSync("conn-9", of.TriggerInitial))
	pool.Start()
	pool.ShutdownWithTimeout(time.Second)

	assert.Equal(t, []string{"conn-9"}, runner.calls)
	assert.Equal(t, []string{of.TriggerInitial}, runner.triggers)
}

func TestConsentSweepJob(t *testing.T) {
	calls := 0
	job := NewConsentSweepJob(func(ctx context.Context) (int, error) {
		calls++
		return 2, nil
	})
	require.NoError(t, job.Execute(context.Background()))
	assert.Equal(t, 1, calls)

	failing := NewConsentSweepJob(func(ctx context.Context) (int, error) { return 0, errors.New("db down") })
	assert.Error(t, failing.Execute(context.Background()))
}

func TestNewScheduler(t *testing.T) {
	pool := NewWorkerPool(1, 0, 5)
	_, err := NewScheduler(config.SchedulerConfig{ScheduleTimes: []string{"25:00"}}, pool, nil, nil)
	assert.Error(t, err)

	s, err := NewScheduler(config.SchedulerConfig{ScheduleTimes: []string{"06:00", "18:30"}}, pool, nil, NewConsentSweepJob(func(ctx context.Context) (int, error) { return 0, nil }))
	require.NoError(t, err)
	assert.Len(t, s.ScheduleTimes(), 2)
	assert.Len(t, s.cron.Entries(), 3)

	s.Start()
	assert.False(t, s.Next().IsZero())
	s.Shutdown(time.Second)
}
