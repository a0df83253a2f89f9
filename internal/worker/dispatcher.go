package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/events"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
)

// DispatchStore is the slice of the job store the dispatcher needs.
type DispatchStore interface {
	ClaimJobs(ctx context.Context, workerID string, limit int) ([]domain.EmailJob, error)
	MarkCompleted(ctx context.Context, id, externalRef string, sentAt time.Time) error
	MarkRetrying(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// Limiter admits requests against a provider budget.
type Limiter interface {
	Acquire(ctx context.Context, provider string) error
}

const sendProviderName = "outreach"

// Dispatcher runs a fixed pool of workers that claim queued jobs and hand
// them to the send provider, with exponential backoff between retries.
type Dispatcher struct {
	store       DispatchStore
	sender      provider.SendProvider
	limiter     Limiter
	broadcaster *events.Broadcaster
	cfg         config.DispatcherConfig
	workerID    string

	// Stats
	totalClaimed   int64
	totalCompleted int64
	totalRetried   int64
	totalFailed    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewDispatcher creates a stopped dispatcher.
func NewDispatcher(store DispatchStore, sender provider.SendProvider, limiter Limiter,
	broadcaster *events.Broadcaster, cfg config.DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		store:       store,
		sender:      sender,
		limiter:     limiter,
		broadcaster: broadcaster,
		cfg:         cfg,
		workerID:    "dispatcher-" + uuid.New().String()[:8],
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())

	for i := 0; i < d.cfg.NumWorkers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}

	logger.Info("dispatcher started",
		"worker_id", d.workerID,
		"num_workers", d.cfg.NumWorkers,
		"batch_size", d.cfg.BatchSize)
	return nil
}

// Stop cancels the pool and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	logger.Info("dispatcher stopped", "worker_id", d.workerID)
}

func (d *Dispatcher) workerLoop(n int) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval())
	defer ticker.Stop()

	for {
		claimed := d.runOnce(d.ctx)
		if claimed > 0 {
			// drained a batch; look again immediately
			continue
		}
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce claims one batch and processes it, returning the claim count.
func (d *Dispatcher) runOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	jobs, err := d.store.ClaimJobs(ctx, d.workerID, d.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("claim batch failed", "worker_id", d.workerID, "error", err.Error())
		}
		return 0
	}
	atomic.AddInt64(&d.totalClaimed, int64(len(jobs)))

	for i := range jobs {
		d.processJob(ctx, jobs[i])
	}
	return len(jobs)
}

func (d *Dispatcher) processJob(ctx context.Context, job domain.EmailJob) {
	if err := d.limiter.Acquire(ctx, sendProviderName); err != nil {
		// no send happened, so no attempt is recorded; the claim stays
		// in PROCESSING until the recovery sweep requeues it
		logger.Warn("send skipped before attempt",
			"job_id", job.ID, "error", err.Error())
		return
	}

	result, err := d.sender.Send(ctx, job)
	if err != nil {
		d.retryOrFail(ctx, job, err, provider.IsNonRetriable(err))
		return
	}

	if err := d.store.MarkCompleted(ctx, job.ID, result.ExternalRef, result.AcceptedAt); err != nil {
		logger.Error("mark completed failed", "job_id", job.ID, "error", err.Error())
		return
	}
	atomic.AddInt64(&d.totalCompleted, 1)
	d.broadcaster.Publish(events.StatusEvent{
		JobID:  job.ID,
		Status: domain.JobCompleted,
		Kind:   "status",
	})
}

// retryOrFail routes a send failure. Non-retriable errors and exhausted
// budgets go terminal; everything else schedules the next attempt.
func (d *Dispatcher) retryOrFail(ctx context.Context, job domain.EmailJob, sendErr error, permanent bool) {
	// job.Attempts counts prior attempts; this one makes Attempts+1
	if permanent || job.Attempts >= d.cfg.MaxRetries {
		if err := d.store.MarkFailed(ctx, job.ID, sendErr.Error()); err != nil {
			logger.Error("mark failed failed", "job_id", job.ID, "error", err.Error())
			return
		}
		atomic.AddInt64(&d.totalFailed, 1)
		logger.Warn("job failed permanently",
			"job_id", job.ID,
			"attempts", job.Attempts+1,
			"permanent", permanent,
			"error", sendErr.Error())
		d.broadcaster.Publish(events.StatusEvent{
			JobID:  job.ID,
			Status: domain.JobFailed,
			Kind:   "status",
			Detail: sendErr.Error(),
		})
		return
	}

	nextAttempt := time.Now().Add(d.backoff(job.Attempts))
	if err := d.store.MarkRetrying(ctx, job.ID, sendErr.Error(), nextAttempt); err != nil {
		logger.Error("mark retrying failed", "job_id", job.ID, "error", err.Error())
		return
	}
	atomic.AddInt64(&d.totalRetried, 1)
	d.broadcaster.Publish(events.StatusEvent{
		JobID:  job.ID,
		Status: domain.JobRetrying,
		Kind:   "status",
		Detail: sendErr.Error(),
	})
}

// backoff returns base * 2^attempts capped at the configured ceiling.
// No jitter: nextAttemptAt stays deterministic for a given attempt count.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.BackoffBase()
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffCap() {
			return d.cfg.BackoffCap()
		}
	}
	if ceiling := d.cfg.BackoffCap(); delay > ceiling {
		return ceiling
	}
	return delay
}

// Stats reports lifetime counters.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"claimed":   atomic.LoadInt64(&d.totalClaimed),
		"completed": atomic.LoadInt64(&d.totalCompleted),
		"retried":   atomic.LoadInt64(&d.totalRetried),
		"failed":    atomic.LoadInt64(&d.totalFailed),
	}
}
