package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefixes
	JobKeyPrefix     = "job:"
	JobQueueKey      = "job_queue"
	JobProcessingKey = "job_processing"
	JobDelayedKey    = "job_delayed"
	JobDeadLetterKey = "job_dead_letter"
	JobStatsKey      = "job_stats"

	// Job settings
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Minute
	JobTTL                = 24 * time.Hour
	DeadLetterTTL         = 30 * 24 * time.Hour
)

// Handler runs one job. Returning an error wrapping ErrPermanent skips the
// remaining retries.
type Handler func(ctx context.Context, job *Job) error

// Queue manages background jobs using Redis
type Queue struct {
	client         *redis.Client
	workers        int
	retryBaseDelay time.Duration
	handlers       map[JobType]Handler
	now            func() time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewQueue creates a new job queue
func NewQueue(client *redis.Client, workers int, retryBaseDelay time.Duration) *Queue {
	if workers <= 0 {
		workers = 3
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = DefaultRetryBaseDelay
	}

	return &Queue{
		client:         client,
		workers:        workers,
		retryBaseDelay: retryBaseDelay,
		handlers:       make(map[JobType]Handler),
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

// Register installs the handler for a job type.
func (q *Queue) Register(jobType JobType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.stopCh = make(chan struct{})
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i, q.stopCh)
	}

	q.wg.Add(1)
	go q.delayedPromoter(time.Second, q.stopCh)

	// Recovers jobs stuck in processing due to crashes
	q.wg.Add(1)
	go q.stuckSweeper(10*time.Minute, time.Minute, q.stopCh)
}

// Stop stops the job queue workers
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

// IsRunning reports whether workers are active.
func (q *Queue) IsRunning() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}

func (q *Queue) worker(id int, stopCh <-chan struct{}) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		if _, err := q.processNext(ctx, time.Second); err != nil && !errors.Is(err, redis.Nil) {
			log.Errorf("[JobQueue] Worker %d: Error dequeuing job: %v", id, err)
			time.Sleep(time.Second)
		}
	}
}

// processNext handles at most one job. It returns redis.Nil when the queue
// stayed empty for the whole wait.
func (q *Queue) processNext(ctx context.Context, wait time.Duration) (*Job, error) {
	job, err := q.dequeueJob(ctx, wait)
	if err != nil {
		return nil, err
	}
	log.Infof("[JobQueue] Processing job %s (Type: %s)", job.ID, job.Type)
	q.processJob(ctx, job)
	return job, nil
}

func (q *Queue) delayedPromoter(interval time.Duration, stopCh <-chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := q.promoteDue(ctx); err != nil {
				log.Errorf("[JobQueue] Promote delayed jobs error: %v", err)
			}
		}
	}
}

// promoteDue moves retries whose back-off elapsed back onto the pending list.
func (q *Queue) promoteDue(ctx context.Context) (int, error) {
	until := strconv.FormatInt(q.now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, JobDelayedKey, &redis.ZRangeBy{Min: "-inf", Max: until}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, id := range ids {
		// ZRem decides which instance owns the promotion.
		n, err := q.client.ZRem(ctx, JobDelayedKey, id).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		if err := q.client.LPush(ctx, JobQueueKey, id).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// stuckSweeper periodically requeues jobs stuck in processing for longer than maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration, stopCh <-chan struct{}) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Stuck sweeper running (maxAge=%s, interval=%s)", maxAge, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue] Stuck sweeper stopping")
			return
		case <-ticker.C:
			if _, err := q.recoverStuck(ctx, maxAge); err != nil {
				log.Errorf("[JobQueue] Sweeper error: %v", err)
			}
		}
	}
}

func (q *Queue) recoverStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	now := q.now()
	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Sweeper read error for %s: %v", id, err)
			}
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		started := job.UpdatedAt
		if job.ProcessedAt != nil && !job.ProcessedAt.IsZero() {
			started = *job.ProcessedAt
		}
		if now.Sub(started) > maxAge {
			log.Warnf("[JobQueue] Recovering stuck job %s (type=%s), age=%s", job.ID, job.Type, now.Sub(started))
			job.Status = JobStatusPending
			job.ErrorMsg = "recovered by sweeper"
			job.UpdatedAt = now
			q.updateJob(ctx, job, JobTTL)
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			_ = q.client.RPush(ctx, JobQueueKey, id).Err()
			recovered++
		}
	}
	return recovered, nil
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(ctx context.Context, jobType JobType, payload map[string]interface{}) (*Job, error) {
	now := q.now()
	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.LPush(ctx, JobQueueKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, job.Type)
	return job, nil
}

// DeadLetter records a job that is never executed, only inspected by an
// operator.
func (q *Queue) DeadLetter(ctx context.Context, jobType JobType, payload map[string]interface{}, reason string) (*Job, error) {
	now := q.now()
	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		CreatedAt: now,
	}
	job.MarkAsDead(reason)

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, DeadLetterTTL)
	pipe.LPush(ctx, JobDeadLetterKey, job.ID)
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusDead), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to write dead letter: %w", err)
	}

	log.Warnf("[JobQueue] Dead letter %s (Type: %s): %s", job.ID, job.Type, reason)
	return job, nil
}

func (q *Queue) dequeueJob(ctx context.Context, wait time.Duration) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	jobID, err := q.client.BRPopLPush(ctx, JobQueueKey, JobProcessingKey, wait).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("job data not found for ID %s: %w", jobID, err)
	}
	return job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job, JobTTL)

	q.mu.RLock()
	handler, ok := q.handlers[job.Type]
	q.mu.RUnlock()

	var err error
	if !ok {
		err = fmt.Errorf("no handler for job type %s: %w", job.Type, ErrPermanent)
	} else {
		err = runHandler(ctx, handler, job)
	}

	switch {
	case err == nil:
		log.Infof("[JobQueue] Job %s completed successfully", job.ID)
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeCompletedJob(ctx, job.ID)
	default:
		log.Errorf("[JobQueue] Job %s failed: %v", job.ID, err)
		job.MarkAsFailed(err.Error())

		if job.IsRetryable() && !errors.Is(err, ErrPermanent) {
			delay := q.retryBaseDelay * time.Duration(job.RetryCount)
			log.Infof("[JobQueue] Retrying job %s in %s (Attempt %d/%d)", job.ID, delay, job.RetryCount, job.MaxRetries)
			job.MarkAsRetrying()
			q.updateJob(ctx, job, JobTTL)
			ready := q.now().Add(delay).UnixMilli()
			if err := q.client.ZAdd(ctx, JobDelayedKey, redis.Z{Score: float64(ready), Member: job.ID}).Err(); err != nil {
				log.Errorf("[JobQueue] Failed to schedule retry for %s: %v", job.ID, err)
			}
		} else {
			log.Errorf("[JobQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
			job.MarkAsDead("")
			q.updateJob(ctx, job, DeadLetterTTL)
			if err := q.client.LPush(ctx, JobDeadLetterKey, job.ID).Err(); err != nil {
				log.Errorf("[JobQueue] Failed to dead-letter job %s: %v", job.ID, err)
			}
			q.updateJobStats(ctx, JobStatusFailed, 1)
			q.updateJobStats(ctx, JobStatusDead, 1)
		}
	}

	q.removeFromProcessing(ctx, job.ID)
}

func runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// ListDeadLetters returns up to limit dead letters, newest first.
func (q *Queue) ListDeadLetters(ctx context.Context, limit int64) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := q.client.LRange(ctx, JobDeadLetterKey, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired record; drop the dangling id.
				_ = q.client.LRem(ctx, JobDeadLetterKey, 1, id).Err()
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryDeadLetter moves a dead letter back onto the pending list with a
// fresh retry budget.
func (q *Queue) RetryDeadLetter(ctx context.Context, jobID string) (*Job, error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobStatusDead {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotRetryable, job.ID, job.Status)
	}
	q.mu.RLock()
	_, ok := q.handlers[job.Type]
	q.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no handler for %s", ErrNotRetryable, job.Type)
	}

	removed, err := q.client.LRem(ctx, JobDeadLetterKey, 1, job.ID).Result()
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		return nil, fmt.Errorf("%w: job %s is not on the dead-letter list", ErrNotRetryable, job.ID)
	}

	job.Status = JobStatusPending
	job.RetryCount = 0
	job.MaxRetries = DefaultMaxRetries
	job.UpdatedAt = q.now()
	q.updateJob(ctx, job, JobTTL)
	if err := q.client.LPush(ctx, JobQueueKey, job.ID).Err(); err != nil {
		return nil, err
	}
	q.updateJobStats(ctx, JobStatusDead, -1)
	log.Infof("[JobQueue] Dead letter %s re-enqueued", job.ID)
	return job, nil
}

func (q *Queue) updateJob(ctx context.Context, job *Job, ttl time.Duration) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, ttl).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing queue: %v", jobID, err)
	}
}

func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s from Redis: %v", jobID, err)
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = n
		}
	}
	return result, nil
}

// Sizes returns the length of the pending, processing, delayed and
// dead-letter collections.
func (q *Queue) Sizes(ctx context.Context) (map[string]int64, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, JobQueueKey)
	processing := pipe.LLen(ctx, JobProcessingKey)
	delayed := pipe.ZCard(ctx, JobDelayedKey)
	dead := pipe.LLen(ctx, JobDeadLetterKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return map[string]int64{
		"pending":     pending.Val(),
		"processing":  processing.Val(),
		"delayed":     delayed.Val(),
		"dead_letter": dead.Val(),
	}, nil
}
