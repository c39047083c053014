package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/jobs"
)

// Config controls queue capacity, concurrency and retries.
type Config struct {
	BufferSize int
	Workers    int
	MaxRetries int
	// Backoff is multiplied by the retry count before a job is re-enqueued.
	Backoff time.Duration
	// JobTimeout bounds a single handler invocation. Zero means no limit.
	JobTimeout time.Duration
}

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Publishing never blocks: when the buffer is full the job is rejected.
type Queue struct {
	cfg       Config
	jobChan   chan *jobs.SecondaryWriteJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	onFailure jobs.FailureHandler
	log       zerolog.Logger
	closed    bool
}

// NewQueue creates a new in-memory job queue. store and onFailure may be nil.
func NewQueue(cfg Config, store jobs.JobStore, onFailure jobs.FailureHandler, log zerolog.Logger) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Queue{
		cfg:       cfg,
		jobChan:   make(chan *jobs.SecondaryWriteJob, cfg.BufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		onFailure: onFailure,
		log:       log.With().Str("component", "dispatch_queue").Logger(),
	}
}

// PublishSecondaryWrite implements the Publisher interface.
func (q *Queue) PublishSecondaryWrite(ctx context.Context, job *jobs.SecondaryWriteJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return jobs.ErrQueueClosed
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = q.cfg.MaxRetries
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	select {
	case q.jobChan <- job:
		return nil
	default:
	}

	if q.store != nil {
		_ = q.store.UpdateJobStatus(ctx, job.JobID, jobs.JobStatusFailed, jobs.ErrQueueFull.Error())
	}
	return fmt.Errorf("PublishSecondaryWrite: %s for %s: %w", job.Sink, job.TransactionID, jobs.ErrQueueFull)
}

// Start implements the Consumer interface.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	q.log.Info().Int("workers", q.cfg.Workers).Int("buffer", q.cfg.BufferSize).Msg("dispatch queue started")
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			q.drain(ctx, handler)
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// drain runs whatever is still buffered when the queue is stopped.
func (q *Queue) drain(ctx context.Context, handler jobs.JobHandler) {
	for {
		select {
		case job := <-q.jobChan:
			q.processJob(ctx, job, handler)
		default:
			return
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.SecondaryWriteJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := q.run(ctx, job, handler)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	log := q.log.With().
		Str("job_id", job.JobID).
		Str("sink", job.Sink).
		Str("transaction_id", job.TransactionID).
		Logger()

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		log.Warn().Err(err).Int("retry", job.RetryCount).Msg("secondary write failed, retrying")
	default:
		q.fail(ctx, job, err)
		return
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	if job.Status == jobs.JobStatusRetrying {
		backoff := time.Duration(job.RetryCount) * q.cfg.Backoff
		time.AfterFunc(backoff, func() {
			job.Status = jobs.JobStatusPending
			job.StartedAt = nil
			job.CompletedAt = nil
			if perr := q.PublishSecondaryWrite(ctx, job); perr != nil {
				q.fail(ctx, job, fmt.Errorf("re-enqueue: %w (last error: %v)", perr, err))
			}
		})
	}
}

// run invokes the handler, turning a panic into an error.
func (q *Queue) run(ctx context.Context, job *jobs.SecondaryWriteJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}
	return handler(ctx, job)
}

func (q *Queue) fail(ctx context.Context, job *jobs.SecondaryWriteJob, err error) {
	job.Status = jobs.JobStatusFailed
	job.Error = err.Error()

	q.log.Error().Err(err).
		Str("job_id", job.JobID).
		Str("sink", job.Sink).
		Str("transaction_id", job.TransactionID).
		Int("retries", job.RetryCount).
		Msg("secondary write failed")

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
	if q.onFailure != nil {
		q.onFailure(job, err)
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Len returns the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.jobChan)
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
