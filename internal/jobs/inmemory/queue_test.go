package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/ledgerbook/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueue_ProcessesJobs(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 2, store)
	defer q.Close()

	var mu sync.Mutex
	seen := map[string]bool{}
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.ProcessStatementJob)
		mu.Lock()
		seen[j.StatementID] = true
		mu.Unlock()
		return nil
	}))

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, q.PublishProcessStatement(context.Background(), &jobs.ProcessStatementJob{StatementID: id}))
	}

	waitFor(t, func() bool {
		done, _ := store.ListJobs(context.Background(), jobs.JobFilter{Status: jobs.JobStatusCompleted})
		return len(done) == 3
	})
	mu.Lock()
	assert.Len(t, seen, 3)
	mu.Unlock()
}

func TestQueue_FailedJobIsNotRetried(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, 1, store)
	defer q.Close()

	var calls int32
	require.NoError(t, q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("extraction failed")
	}))

	job := &jobs.ProcessStatementJob{StatementID: "s1"}
	require.NoError(t, q.PublishProcessStatement(context.Background(), job))

	waitFor(t, func() bool {
		failed, _ := store.ListJobs(context.Background(), jobs.JobFilter{Status: jobs.JobStatusFailed})
		return len(failed) == 1
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	got, err := store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "extraction failed", got.Error)
}

func TestQueue_RejectsAfterClose(t *testing.T) {
	q := NewQueue(1, 1, nil)
	require.NoError(t, q.Close())
	err := q.PublishProcessStatement(context.Background(), &jobs.ProcessStatementJob{StatementID: "s1"})
	assert.Error(t, err)
	assert.Error(t, q.Start(context.Background(), func(ctx context.Context, job jobs.Job) error { return nil }))
}

func TestQueue_RequiresStatementID(t *testing.T) {
	q := NewQueue(1, 1, nil)
	defer q.Close()
	assert.Error(t, q.PublishProcessStatement(context.Background(), &jobs.ProcessStatementJob{}))
}

func TestStore_ListJobsFilterAndPage(t *testing.T) {
	s := NewStore()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveJob(context.Background(), &jobs.ProcessStatementJob{
			JobID: id, StatementID: "s1", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.SaveJob(context.Background(), &jobs.ProcessStatementJob{JobID: "d", StatementID: "s2", CreatedAt: base}))

	got, err := s.ListJobs(context.Background(), jobs.JobFilter{StatementID: "s1", Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].JobID)

	require.NoError(t, s.UpdateJobStatus(context.Background(), "d", jobs.JobStatusFailed, "boom"))
	d, err := s.GetJob(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, d.Status)

	_, err = s.GetJob(context.Background(), "missing")
	assert.Error(t, err)
}
