package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"tradeup-scout/internal/logger"
	"tradeup-scout/internal/metrics"
	"tradeup-scout/internal/steam"
)

// TaskTypeSync is the queued task type for a full catalog sync.
const TaskTypeSync = "catalog:sync"

const (
	minPause = time.Second
	maxPause = 5 * time.Minute
	// taskTimeout bounds one processing attempt; a paced full sync
	// can legitimately run for a long while.
	taskTimeout = 2 * time.Hour
	maxRetries  = 10
)

type taskPayload struct {
	JobID string `json:"jobId"`
}

// Worker owns the sync queue: it triggers jobs, coalesces duplicate
// triggers, processes tasks, and pauses the queue while the upstream
// rate limit cools off.
type Worker struct {
	queue       string
	concurrency int

	client *asynq.Client
	insp   *asynq.Inspector
	srv    *asynq.Server
	jobs   *JobStore
	syncer *Syncer

	// onComplete runs after a successful sync (readiness invalidation).
	onComplete func()

	// triggerMu makes the existing-check and enqueue in Trigger one
	// step; without it two concurrent triggers could both enqueue.
	triggerMu sync.Mutex

	pauseMu sync.Mutex
	paused  bool
}

// New wires the worker onto a redis connection. onComplete may be nil.
func New(redisOpt asynq.RedisConnOpt, jobs *JobStore, syncer *Syncer, queue string, concurrency int, onComplete func()) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	w := &Worker{
		queue:       queue,
		concurrency: concurrency,
		client:      asynq.NewClient(redisOpt),
		insp:        asynq.NewInspector(redisOpt),
		jobs:        jobs,
		syncer:      syncer,
		onComplete:  onComplete,
	}
	w.srv = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    w.concurrency,
		Queues:         map[string]int{queue: 1},
		RetryDelayFunc: retryDelay,
		Logger:         asynqLogger{},
	})
	return w
}

// Start begins processing the queue.
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSync, w.handleSync)
	return w.srv.Start(mux)
}

// Shutdown stops the server, waiting for the in-flight task step.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
	if err := w.client.Close(); err != nil {
		logger.Warn("worker", fmt.Sprintf("queue client close: %v", err))
	}
}

// Trigger enqueues a catalog sync, unless one is already queued or
// running, in which case that job's record is returned with
// created=false. Triggers serialise, so concurrent calls coalesce
// onto one job.
func (w *Worker) Trigger(ctx context.Context) (*Job, bool, error) {
	w.triggerMu.Lock()
	defer w.triggerMu.Unlock()
	if job := w.existing(ctx); job != nil {
		return job, false, nil
	}

	job := NewJob()
	if err := w.jobs.Create(ctx, job); err != nil {
		return nil, false, err
	}
	payload, err := json.Marshal(taskPayload{JobID: job.ID})
	if err != nil {
		return nil, false, err
	}
	_, err = w.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeSync, payload),
		asynq.Queue(w.queue),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(maxRetries),
		asynq.Timeout(taskTimeout),
	)
	if err != nil {
		job.Status = StatusFailed
		job.Error = fmt.Sprintf("enqueue: %v", err)
		now := time.Now().UTC()
		job.FinishedAt = &now
		_ = w.jobs.Save(ctx, job)
		return nil, false, fmt.Errorf("worker: enqueue sync: %w", err)
	}
	return job, true, nil
}

// existing returns the job record behind any queued or in-flight sync
// task, or nil.
func (w *Worker) existing(ctx context.Context) *Job {
	lists := []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		w.insp.ListActiveTasks,
		w.insp.ListPendingTasks,
		w.insp.ListScheduledTasks,
		w.insp.ListRetryTasks,
	}
	for _, list := range lists {
		infos, err := list(w.queue)
		if err != nil {
			if !errors.Is(err, asynq.ErrQueueNotFound) {
				logger.Warn("worker", fmt.Sprintf("inspect queue: %v", err))
			}
			continue
		}
		for _, ti := range infos {
			if ti.Type != TaskTypeSync {
				continue
			}
			if job, err := w.jobs.Get(ctx, ti.ID); err == nil {
				return job
			}
		}
	}
	return nil
}

// Active returns the record of the currently queued or running sync,
// if any.
func (w *Worker) Active(ctx context.Context) *Job { return w.existing(ctx) }

// Job loads one record by id.
func (w *Worker) Job(ctx context.Context, id string) (*Job, error) {
	return w.jobs.Get(ctx, id)
}

// Jobs lists recent records, newest first.
func (w *Worker) Jobs(ctx context.Context, n int) ([]Job, error) {
	return w.jobs.Recent(ctx, n)
}

func (w *Worker) handleSync(ctx context.Context, t *asynq.Task) error {
	var p taskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("worker: bad payload: %v: %w", err, asynq.SkipRetry)
	}

	job, err := w.jobs.Get(ctx, p.JobID)
	if errors.Is(err, ErrJobNotFound) {
		// Record expired between enqueue and processing; rebuild it
		// so progress stays observable.
		job = &Job{ID: p.JobID, StartedAt: time.Now().UTC()}
		if err := w.jobs.Create(ctx, job); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	job.Status = StatusRunning
	job.Error = ""
	if err := w.jobs.Save(ctx, job); err != nil {
		return err
	}

	runErr := w.syncer.Run(ctx, job)
	if runErr == nil {
		job.Status = StatusCompleted
		now := time.Now().UTC()
		job.FinishedAt = &now
		if err := w.jobs.Save(ctx, job); err != nil {
			logger.Warn("worker", fmt.Sprintf("completion flush failed: %v", err))
		}
		metrics.SyncRuns.WithLabelValues("completed").Inc()
		logger.Success("worker", fmt.Sprintf("catalog sync %s completed (%d collections)", job.ID, job.Progress.SyncedCollections))
		if w.onComplete != nil {
			w.onComplete()
		}
		return nil
	}

	pause, fail := classify(runErr)
	if pause > 0 {
		logger.Warn("worker", fmt.Sprintf("rate limited; pausing queue for %s", pause))
		w.pauseFor(pause)
		_ = w.jobs.Save(ctx, job)
		return runErr
	}
	if !fail {
		// Shutdown or deadline: leave the job resumable.
		_ = w.jobs.Save(ctx, job)
		return runErr
	}

	job.Status = StatusFailed
	job.Error = runErr.Error()
	now := time.Now().UTC()
	job.FinishedAt = &now
	if err := w.jobs.Save(ctx, job); err != nil {
		logger.Warn("worker", fmt.Sprintf("failure flush failed: %v", err))
	}
	metrics.SyncRuns.WithLabelValues("failed").Inc()
	logger.Error("worker", fmt.Sprintf("catalog sync %s failed: %v", job.ID, runErr))
	return fmt.Errorf("%v: %w", runErr, asynq.SkipRetry)
}

// classify maps a sync error to (queue pause, mark failed). Rate
// limits pause and retry; cancellation retries silently; anything
// else fails the job.
func classify(err error) (time.Duration, bool) {
	if ra, ok := steam.RetryAfter(err); ok {
		return clampPause(ra), false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	return 0, true
}

// clampPause bounds a rate-limit pause into [1s, 5m].
func clampPause(d time.Duration) time.Duration {
	if d < minPause {
		return minPause
	}
	if d > maxPause {
		return maxPause
	}
	return d
}

// pauseFor pauses the queue and schedules the resume. Overlapping
// pauses collapse into the earliest-scheduled resume.
func (w *Worker) pauseFor(d time.Duration) {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	if w.paused {
		return
	}
	if err := w.insp.PauseQueue(w.queue); err != nil {
		logger.Warn("worker", fmt.Sprintf("pause queue: %v", err))
		return
	}
	w.paused = true
	metrics.WorkerPauses.Inc()
	time.AfterFunc(d, w.resume)
}

func (w *Worker) resume() {
	w.pauseMu.Lock()
	defer w.pauseMu.Unlock()
	if !w.paused {
		return
	}
	if err := w.insp.UnpauseQueue(w.queue); err != nil {
		logger.Warn("worker", fmt.Sprintf("unpause queue: %v; retrying", err))
		time.AfterFunc(5*time.Second, w.resume)
		return
	}
	w.paused = false
	logger.Info("worker", "queue resumed")
}

// retryDelay honours upstream Retry-After on rate limits and falls
// back to the broker's default exponential schedule otherwise.
func retryDelay(n int, err error, t *asynq.Task) time.Duration {
	if ra, ok := steam.RetryAfter(err); ok {
		return clampPause(ra)
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

// asynqLogger routes broker logs through the shared logger.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...any) { logger.Debug("asynq", fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...any)  { logger.Info("asynq", fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...any)  { logger.Warn("asynq", fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...any) { logger.Error("asynq", fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...any) { logger.Error("asynq", fmt.Sprint(args...)) }
