package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewQueue tests the queue constructor
func TestNewQueue(t *testing.T) {
	tests := []struct {
		name            string
		workers         int
		delay           time.Duration
		expectedWorkers int
		expectedDelay   time.Duration
	}{
		{"Valid worker count", 5, time.Second, 5, time.Second},
		{"Zero workers", 0, 0, 3, DefaultRetryBaseDelay},
		{"Negative workers", -1, -time.Second, 3, DefaultRetryBaseDelay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := NewQueue(nil, tt.workers, tt.delay)

			assert.NotNil(t, queue)
			assert.Equal(t, tt.expectedWorkers, queue.workers)
			assert.Equal(t, tt.expectedDelay, queue.retryBaseDelay)
			assert.NotNil(t, queue.stopCh)
			assert.False(t, queue.IsRunning())
		})
	}
}

func TestConstants(t *testing.T) {
	assert.Equal(t, "job:", JobKeyPrefix)
	assert.Equal(t, "job_queue", JobQueueKey)
	assert.Equal(t, "job_processing", JobProcessingKey)
	assert.Equal(t, "job_dead_letter", JobDeadLetterKey)
	assert.Equal(t, "job_stats", JobStatsKey)

	assert.Equal(t, 3, DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, JobTTL)
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	var got map[string]interface{}
	q.Register(JobTypeSendEmail, func(ctx context.Context, job *Job) error {
		got = job.Payload
		return nil
	})

	job, err := q.EnqueueJob(ctx, JobTypeSendEmail, map[string]interface{}{"role": "admin"})
	require.NoError(t, err)
	assert.True(t, mr.Exists(JobKeyPrefix+job.ID))

	processed, err := q.processNext(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, processed.ID)
	assert.Equal(t, "admin", got["role"])

	// Completed jobs are removed entirely.
	assert.False(t, mr.Exists(JobKeyPrefix+job.ID))
	sizes, err := q.Sizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sizes["pending"])
	assert.Equal(t, int64(0), sizes["processing"])

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[JobStatusCompleted])
}

func TestQueue_EmptyQueueReturnsNil(t *testing.T) {
	q, _, _ := newTestQueue(t)
	_, err := q.processNext(context.Background(), 10*time.Millisecond)
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestQueue_RetryWithLinearBackoffThenDeadLetter(t *testing.T) {
	q, _, now := newTestQueue(t)
	ctx := context.Background()

	var attempts int32
	q.Register(JobTypeCreateShipment, func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("carrier down")
	})

	job, err := q.EnqueueJob(ctx, JobTypeCreateShipment, map[string]interface{}{"session_id": "cs_1"})
	require.NoError(t, err)

	for attempt := 1; attempt <= DefaultMaxRetries; attempt++ {
		_, err := q.processNext(ctx, 10*time.Millisecond)
		require.NoError(t, err, "attempt %d", attempt)

		stored, err := q.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, stored.RetryCount)

		if attempt == DefaultMaxRetries {
			assert.Equal(t, JobStatusDead, stored.Status)
			break
		}
		assert.Equal(t, JobStatusRetrying, stored.Status)

		// Not due yet.
		moved, err := q.promoteDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, moved)

		*now = now.Add(time.Duration(attempt) * time.Minute)
		moved, err = q.promoteDue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, moved)
	}

	assert.Equal(t, int32(DefaultMaxRetries), atomic.LoadInt32(&attempts))

	dead, err := q.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
	assert.Equal(t, "carrier down", dead[0].ErrorMsg)
}

func TestQueue_PermanentErrorSkipsRetries(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	q.Register(JobTypeSendEmail, func(ctx context.Context, job *Job) error {
		return fmt.Errorf("bad payload: %w", ErrPermanent)
	})
	_, err := q.EnqueueJob(ctx, JobTypeSendEmail, nil)
	require.NoError(t, err)

	_, err = q.processNext(ctx, 10*time.Millisecond)
	require.NoError(t, err)

	sizes, err := q.Sizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sizes["delayed"])
	assert.Equal(t, int64(1), sizes["dead_letter"])
}

func TestQueue_UnknownTypeAndPanicAreContained(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	q.Register(JobTypeFetchLabel, func(ctx context.Context, job *Job) error {
		panic("boom")
	})

	_, err := q.EnqueueJob(ctx, JobType("mystery"), nil)
	require.NoError(t, err)
	_, err = q.EnqueueJob(ctx, JobTypeFetchLabel, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, _ = q.processNext(ctx, 10*time.Millisecond)
		_, _ = q.processNext(ctx, 10*time.Millisecond)
	})

	sizes, err := q.Sizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sizes["dead_letter"])
	assert.Equal(t, int64(1), sizes["delayed"])
}

func TestQueue_DeadLetterRecordAndRetry(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	mismatch, err := q.DeadLetter(ctx, JobTypeCatalogMismatch, map[string]interface{}{"price_ref": "price_x"}, "no catalog entry")
	require.NoError(t, err)
	assert.Equal(t, JobStatusDead, mismatch.Status)

	_, err = q.RetryDeadLetter(ctx, mismatch.ID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	q.Register(JobTypeSendEmail, func(ctx context.Context, job *Job) error { return errors.New("smtp down") })
	_, err = q.EnqueueJob(ctx, JobTypeSendEmail, nil)
	require.NoError(t, err)
	// Permanently fail it by exhausting its budget in one go.
	q.retryBaseDelay = 0
	for i := 0; i < DefaultMaxRetries; i++ {
		_, err := q.processNext(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		_, err = q.promoteDue(ctx)
		require.NoError(t, err)
	}

	dead, err := q.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 2)
	emailJob := dead[0]
	assert.Equal(t, JobTypeSendEmail, emailJob.Type)

	var handled int32
	q.Register(JobTypeSendEmail, func(ctx context.Context, job *Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})

	retried, err := q.RetryDeadLetter(ctx, emailJob.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, retried.Status)
	assert.Equal(t, 0, retried.RetryCount)

	_, err = q.processNext(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&handled))

	dead, err = q.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, mismatch.ID, dead[0].ID)

	_, err = q.RetryDeadLetter(ctx, "missing")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestQueue_RecoverStuck(t *testing.T) {
	q, _, now := newTestQueue(t)
	ctx := context.Background()

	job, err := q.EnqueueJob(ctx, JobTypeFetchLabel, nil)
	require.NoError(t, err)
	_, err = q.dequeueJob(ctx, 10*time.Millisecond)
	require.NoError(t, err)

	stored, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	processedAt := *now
	stored.Status = JobStatusProcessing
	stored.ProcessedAt = &processedAt
	q.updateJob(ctx, stored, JobTTL)

	n, err := q.recoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*now = now.Add(11 * time.Minute)
	n, err = q.recoverStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sizes, err := q.Sizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sizes["pending"])
	assert.Equal(t, int64(0), sizes["processing"])
}

func TestQueue_StartProcessesJobs(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	done := make(chan string, 1)
	q.Register(JobTypeSendEmail, func(ctx context.Context, job *Job) error {
		done <- job.ID
		return nil
	})

	q.Start()
	defer q.Stop()
	assert.True(t, q.IsRunning())

	job, err := q.EnqueueJob(ctx, JobTypeSendEmail, nil)
	require.NoError(t, err)

	select {
	case id := <-done:
		assert.Equal(t, job.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed")
	}
}
