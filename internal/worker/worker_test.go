package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"tradeup-scout/internal/steam"
)

func openTestJobs(t *testing.T) *JobStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewJobStore(rdb, "catalog-sync")
}

func TestJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	js := openTestJobs(t)

	job := NewJob()
	if job.Status != StatusPending || job.ID == "" {
		t.Fatalf("fresh job = %+v", job)
	}
	if err := js.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	job.Status = StatusRunning
	job.Progress = Progress{TotalCollections: 4, SyncedCollections: 1, CurrentCollectionTag: "set_a"}
	if err := js.Save(ctx, job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := js.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusRunning || got.Progress.SyncedCollections != 1 {
		t.Errorf("got = %+v", got)
	}
	if got.Progress.CurrentCollectionTag != "set_a" {
		t.Errorf("currentCollectionTag = %q", got.Progress.CurrentCollectionTag)
	}

	if _, err := js.Get(ctx, "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
}

func TestJobStoreRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	js := openTestJobs(t)

	var ids []string
	for i := 0; i < 3; i++ {
		job := NewJob()
		if err := js.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, job.ID)
	}

	jobs, err := js.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len = %d, want 3", len(jobs))
	}
	if jobs[0].ID != ids[2] || jobs[2].ID != ids[0] {
		t.Errorf("order = %s, %s, %s; created %v", jobs[0].ID, jobs[1].ID, jobs[2].ID, ids)
	}

	if capped, _ := js.Recent(ctx, 2); len(capped) != 2 {
		t.Errorf("capped len = %d, want 2", len(capped))
	}
}

// openTestWorker wires a Worker and its JobStore onto one miniredis.
// The queue server is never started, so enqueued tasks stay pending.
func openTestWorker(t *testing.T) *Worker {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	jobs := NewJobStore(rdb, "catalog-sync")
	w := New(asynq.RedisClientOpt{Addr: mr.Addr()}, jobs, nil, "catalog-sync", 1, nil)
	t.Cleanup(w.Shutdown)
	return w
}

func TestTriggerCoalescesDuplicate(t *testing.T) {
	ctx := context.Background()
	w := openTestWorker(t)

	first, created, err := w.Trigger(ctx)
	if err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	if !created {
		t.Fatal("first trigger did not create a job")
	}
	if first.Status != StatusPending {
		t.Errorf("status = %q, want pending", first.Status)
	}

	second, created, err := w.Trigger(ctx)
	if err != nil {
		t.Fatalf("second Trigger: %v", err)
	}
	if created {
		t.Error("second trigger created a new job")
	}
	if second.ID != first.ID {
		t.Errorf("second id = %s, want %s", second.ID, first.ID)
	}

	if active := w.Active(ctx); active == nil || active.ID != first.ID {
		t.Errorf("Active = %+v, want job %s", active, first.ID)
	}
}

// Concurrent triggers race the existing-check against the enqueue;
// serialisation keeps them on one job.
func TestConcurrentTriggersShareOneJob(t *testing.T) {
	ctx := context.Background()
	w := openTestWorker(t)

	const callers = 8
	var wg sync.WaitGroup
	var createdCount int32
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := w.Trigger(ctx)
			if err != nil {
				errs <- err
				return
			}
			if created {
				atomic.AddInt32(&createdCount, 1)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Trigger: %v", err)
	}
	if createdCount != 1 {
		t.Errorf("created %d jobs, want 1", createdCount)
	}
	jobs, err := w.Jobs(ctx, 10)
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("records = %d, want 1", len(jobs))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		pause time.Duration
		fail  bool
	}{
		{"rate limit honours retry-after", &steam.RateLimitedError{RetryAfter: 3 * time.Second}, 3 * time.Second, false},
		{"rate limit clamped up", &steam.RateLimitedError{RetryAfter: 100 * time.Millisecond}, time.Second, false},
		{"rate limit clamped down", &steam.RateLimitedError{RetryAfter: 10 * time.Minute}, 5 * time.Minute, false},
		{"wrapped rate limit", fmt.Errorf("collection set_a: %w", &steam.RateLimitedError{RetryAfter: 2 * time.Second}), 2 * time.Second, false},
		{"cancellation retries silently", context.Canceled, 0, false},
		{"anything else fails", errors.New("schema surprise"), 0, true},
	}
	for _, tc := range cases {
		pause, fail := classify(tc.err)
		if pause != tc.pause || fail != tc.fail {
			t.Errorf("%s: classify = (%v, %v), want (%v, %v)", tc.name, pause, fail, tc.pause, tc.fail)
		}
	}
}

func TestRetryDelayHonoursRetryAfter(t *testing.T) {
	err := fmt.Errorf("persist: %w", &steam.RateLimitedError{RetryAfter: 4 * time.Second})
	if d := retryDelay(1, err, nil); d != 4*time.Second {
		t.Errorf("rate-limit delay = %v, want 4s", d)
	}
	if d := retryDelay(1, errors.New("other"), nil); d <= 0 {
		t.Errorf("default delay = %v, want positive", d)
	}
}
