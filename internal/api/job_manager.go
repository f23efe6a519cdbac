package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/foodgrid/server/internal/labstore"
	"github.com/google/uuid"
)

// ErrQueueFull is returned by Submit when the job cannot be enqueued.
var ErrQueueFull = errors.New("job queue is full; try again later")

// JobManagerConfig contains configuration for the job manager.
type JobManagerConfig struct {
	MaxConcurrent int    // Max concurrent extraction jobs (default 1)
	SQLitePath    string // Path to SQLite database
	RetentionDays int    // Days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
	QueueSize     int
}

// Executor runs one job. It stores the result itself; the returned error
// becomes the job's failure message.
type Executor func(ctx context.Context, store *labstore.Store, job *labstore.Job) error

// JobManager runs lab extraction jobs on a worker pool with SQLite persistence.
type JobManager struct {
	cfg      JobManagerConfig
	store    *labstore.Store
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	logger   *log.Logger

	executor Executor
	// Release is called once a job will not run again, whatever its outcome.
	release func(job *labstore.Job)
}

// NewJobManager opens the store and creates a manager. Call Start to begin
// processing.
func NewJobManager(cfg JobManagerConfig, exec Executor, release func(job *labstore.Job)) (*JobManager, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	store, err := labstore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	return &JobManager{
		cfg:      cfg,
		store:    store,
		queue:    make(chan string, cfg.QueueSize),
		running:  make(map[string]context.CancelFunc),
		stopCh:   make(chan struct{}),
		logger:   log.WithPrefix("JobManager"),
		executor: exec,
		release:  release,
	}, nil
}

// Store returns the underlying store.
func (jm *JobManager) Store() *labstore.Store {
	return jm.store
}

// Start recovers state left by a previous process and launches the workers
// and the retention cleaner.
func (jm *JobManager) Start() {
	if err := jm.store.MarkRunningAsFailed("server restarted"); err != nil {
		jm.logger.Error("failed to mark running jobs as failed", "err", err)
	}

	queued, err := jm.store.ListQueuedJobs()
	if err != nil {
		jm.logger.Error("failed to list queued jobs", "err", err)
	}
	for _, job := range queued {
		select {
		case jm.queue <- job.ID:
			jm.logger.Info("re-queued job", "job", job.ID)
		default:
			jm.logger.Warn("queue full, cannot re-queue job", "job", job.ID)
			jm.store.UpdateJobStatus(job.ID, labstore.JobStatusFailed, ErrQueueFull.Error())
			jm.releaseJob(job)
		}
	}

	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}
	go jm.cleaner()
}

// Stop cancels running jobs, waits for workers and closes the store.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		close(jm.stopCh)

		jm.mu.Lock()
		for _, cancel := range jm.running {
			cancel()
		}
		jm.mu.Unlock()

		close(jm.queue)
		jm.wg.Wait()
		jm.store.Close()
	})
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for jobID := range jm.queue {
		select {
		case <-jm.stopCh:
			// Left queued; picked up again on the next start.
			continue
		default:
		}
		jm.runJob(jobID)
	}
}

func (jm *JobManager) runJob(jobID string) {
	job, err := jm.store.GetJob(jobID)
	if err != nil {
		// Deleted while queued; Delete released it.
		return
	}
	defer jm.releaseJob(job)

	started, err := jm.store.UpdateJobStarted(jobID)
	if err != nil {
		jm.logger.Error("failed to mark job started", "job", jobID, "err", err)
		return
	}
	if !started {
		// Cancelled while queued.
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	jm.mu.Lock()
	jm.running[jobID] = cancel
	jm.mu.Unlock()

	start := time.Now()
	var execErr error
	if jm.executor != nil {
		execErr = jm.executor(ctx, jm.store, job)
	}

	cancelled := errors.Is(ctx.Err(), context.Canceled)

	// Unregister before the final status is visible.
	jm.mu.Lock()
	delete(jm.running, jobID)
	jm.mu.Unlock()
	cancel()

	switch {
	case cancelled:
		jm.store.UpdateJobStatus(jobID, labstore.JobStatusCancelled, "cancelled by user")
		jm.logger.Info("job cancelled", "job", jobID)
	case execErr != nil:
		jm.store.UpdateJobStatus(jobID, labstore.JobStatusFailed, execErr.Error())
		jm.logger.Warn("job failed", "job", jobID, "err", execErr)
	default:
		jm.store.UpdateJobStatus(jobID, labstore.JobStatusCompleted, "")
		jm.logger.Info("job completed", "job", jobID, "took", time.Since(start).Round(time.Millisecond))
	}
}

func (jm *JobManager) releaseJob(job *labstore.Job) {
	if jm.release != nil && job != nil {
		jm.release(job)
	}
}

func (jm *JobManager) cleaner() {
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.cleanup()
		}
	}
}

func (jm *JobManager) cleanup() {
	deleted, err := jm.store.DeleteExpiredJobs(jm.cfg.RetentionDays)
	if err != nil {
		jm.logger.Error("cleanup error", "err", err)
	} else if deleted > 0 {
		jm.logger.Info("cleaned up expired jobs", "count", deleted)
	}
}

// Submit records a new queued job and enqueues it.
func (jm *JobManager) Submit(params labstore.JobParams) (*labstore.Job, error) {
	job := &labstore.Job{
		ID:        uuid.NewString(),
		Status:    labstore.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := jm.store.CreateJob(job); err != nil {
		return nil, err
	}

	select {
	case jm.queue <- job.ID:
	default:
		jm.store.UpdateJobStatus(job.ID, labstore.JobStatusFailed, ErrQueueFull.Error())
		jm.releaseJob(job)
		return nil, ErrQueueFull
	}
	return job, nil
}

// Get returns a job by ID, or nil when unknown.
func (jm *JobManager) Get(id string) *labstore.Job {
	job, err := jm.store.GetJob(id)
	if err != nil {
		if !errors.Is(err, labstore.ErrNotFound) {
			jm.logger.Error("error getting job", "job", id, "err", err)
		}
		return nil
	}
	return job
}

// Cancel stops a running job or marks a queued one cancelled. It reports
// whether anything was cancelled.
func (jm *JobManager) Cancel(id string) bool {
	if jm.cancelRunning(id) {
		return true
	}

	cancelled, err := jm.store.CancelQueued(id, "cancelled before start")
	if err != nil {
		jm.logger.Error("failed to cancel queued job", "job", id, "err", err)
		return false
	}
	if cancelled {
		return true
	}
	// A worker may have claimed it after the first check.
	return jm.cancelRunning(id)
}

func (jm *JobManager) cancelRunning(id string) bool {
	jm.mu.Lock()
	cancel, ok := jm.running[id]
	jm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}
	return false
}

// Delete deletes a job and its result. A running job keeps its uploads until
// its worker returns.
func (jm *JobManager) Delete(id string) error {
	job, err := jm.store.GetJob(id)
	if err != nil {
		return err
	}
	if err := jm.store.DeleteJob(id); err != nil {
		return err
	}
	if job.Status != labstore.JobStatusRunning {
		jm.releaseJob(job)
	}
	return nil
}
