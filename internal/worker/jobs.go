// Package worker runs the catalog sync as a durable queued job:
// trigger coalescing, progress records, and rate-limit pause/resume
// around the market adapter.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Progress is the observable position of a running sync.
type Progress struct {
	TotalCollections      int    `json:"totalCollections"`
	SyncedCollections     int    `json:"syncedCollections"`
	CurrentCollectionTag  string `json:"currentCollectionTag,omitempty"`
	CurrentCollectionName string `json:"currentCollectionName,omitempty"`
	CurrentRarity         string `json:"currentRarity,omitempty"`
}

// Job is one sync run's record.
type Job struct {
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
	Progress   Progress   `json:"progress"`
}

// NewJob mints a pending record.
func NewJob() *Job {
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
}

// ErrJobNotFound reports an unknown job id.
var ErrJobNotFound = errors.New("worker: job not found")

const (
	// jobTTL keeps finished records around long enough to inspect.
	jobTTL = 7 * 24 * time.Hour
	// jobHistory bounds the index list.
	jobHistory = 50
)

// JobStore persists job records in redis under the queue's
// namespace: one JSON value per job plus a newest-first id index.
type JobStore struct {
	rdb   *redis.Client
	queue string
}

func NewJobStore(rdb *redis.Client, queue string) *JobStore {
	return &JobStore{rdb: rdb, queue: queue}
}

func (js *JobStore) key(id string) string { return js.queue + ":job:" + id }
func (js *JobStore) indexKey() string     { return js.queue + ":jobs" }

// Create writes a fresh record and pushes it onto the index.
func (js *JobStore) Create(ctx context.Context, job *Job) error {
	if err := js.Save(ctx, job); err != nil {
		return err
	}
	pipe := js.rdb.TxPipeline()
	pipe.LPush(ctx, js.indexKey(), job.ID)
	pipe.LTrim(ctx, js.indexKey(), 0, jobHistory-1)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("worker: index job %s: %w", job.ID, err)
	}
	return nil
}

// Save overwrites a record in place.
func (js *JobStore) Save(ctx context.Context, job *Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("worker: marshal job %s: %w", job.ID, err)
	}
	if err := js.rdb.Set(ctx, js.key(job.ID), b, jobTTL).Err(); err != nil {
		return fmt.Errorf("worker: save job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads one record.
func (js *JobStore) Get(ctx context.Context, id string) (*Job, error) {
	b, err := js.rdb.Get(ctx, js.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("worker: load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("worker: decode job %s: %w", id, err)
	}
	return &job, nil
}

// Recent lists up to n records, newest first. Ids whose record
// already expired are skipped.
func (js *JobStore) Recent(ctx context.Context, n int) ([]Job, error) {
	ids, err := js.rdb.LRange(ctx, js.indexKey(), 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("worker: list jobs: %w", err)
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := js.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, nil
}
