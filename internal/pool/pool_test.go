package pool_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/pool"
	"github.com/Harsh-BH/warden/internal/repository/mock"
	"github.com/Harsh-BH/warden/internal/usecase"
)

type counters struct {
	acked, nacked, requeued atomic.Int32
}

func newTestPool(t *testing.T, poolSize int, idem *mock.IdempotencyStore, exec *mock.Executor) (chan *domain.JobMessage, *pool.WorkerPool, context.CancelFunc) {
	t.Helper()
	return startPool(t, poolSize, mock.NewResultStore(), idem, exec)
}

func startPool(t *testing.T, poolSize int, store *mock.ResultStore, idem *mock.IdempotencyStore, exec *mock.Executor) (chan *domain.JobMessage, *pool.WorkerPool, context.CancelFunc) {
	t.Helper()

	logger := zap.NewNop()
	if idem == nil {
		idem = &mock.IdempotencyStore{}
	}
	uc := usecase.NewExecuteJobUsecase(store, idem, exec, 15*time.Second, logger)

	ch := make(chan *domain.JobMessage, 16)
	ctx, cancel := context.WithCancel(context.Background())
	wp := pool.NewWorkerPool(poolSize, ch, uc, logger)
	wp.SetRequeueDelay(10 * time.Millisecond)
	wp.Start(ctx)

	return ch, wp, cancel
}

func sendJob(ch chan<- *domain.JobMessage, c *counters) {
	sendJobWithID(ch, c, uuid.New())
}

func sendJobWithID(ch chan<- *domain.JobMessage, c *counters, id uuid.UUID) {
	ch <- &domain.JobMessage{
		Job: &domain.Job{
			JobID:      id,
			Language:   domain.LangPython,
			SourceCode: "print('test')",
		},
		Ack: func() error {
			c.acked.Add(1)
			return nil
		},
		Nack: func(requeue bool) error {
			if requeue {
				c.requeued.Add(1)
			} else {
				c.nacked.Add(1)
			}
			return nil
		},
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Test: pool processes jobs and ACKs them.
func TestPool_ProcessAndAck(t *testing.T) {
	ch, wp, cancel := newTestPool(t, 2, nil, &mock.Executor{})

	var c counters
	for i := 0; i < 5; i++ {
		sendJob(ch, &c)
	}

	waitFor(t, func() bool { return c.acked.Load() == 5 })
	cancel()
	wp.Stop()

	if c.acked.Load() != 5 {
		t.Errorf("expected 5 ACKs, got %d", c.acked.Load())
	}
	if c.nacked.Load() != 0 {
		t.Errorf("expected 0 NACKs, got %d", c.nacked.Load())
	}
}

// Test: pool dead-letters jobs that fail execution.
func TestPool_NacksOnFailure(t *testing.T) {
	exec := &mock.Executor{
		ExecuteFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
			return nil, context.DeadlineExceeded
		},
	}
	ch, wp, cancel := newTestPool(t, 1, nil, exec)

	var c counters
	sendJob(ch, &c)

	waitFor(t, func() bool { return c.nacked.Load() == 1 })
	cancel()
	wp.Stop()

	if c.nacked.Load() != 1 {
		t.Errorf("expected 1 NACK, got %d", c.nacked.Load())
	}
	if c.requeued.Load() != 0 || c.acked.Load() != 0 {
		t.Errorf("expected no requeue or ACK, got %d/%d", c.requeued.Load(), c.acked.Load())
	}
}

// Test: a job interrupted by shutdown is requeued, not dead-lettered.
func TestPool_RequeuesOnShutdown(t *testing.T) {
	started := make(chan struct{})
	exec := &mock.Executor{
		ExecuteFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	ch, wp, cancel := newTestPool(t, 1, nil, exec)

	var c counters
	sendJob(ch, &c)

	<-started
	cancel()
	wp.Stop()

	if c.requeued.Load() != 1 {
		t.Errorf("expected 1 requeue, got %d", c.requeued.Load())
	}
	if c.nacked.Load() != 0 {
		t.Errorf("expected no dead-lettering, got %d", c.nacked.Load())
	}
}

// Test: a panicking job is dead-lettered and the worker survives.
func TestPool_PanicIsContained(t *testing.T) {
	var calls atomic.Int32
	exec := &mock.Executor{
		ExecuteFn: func(ctx context.Context, req *domain.ExecutionRequest) (*domain.ExecutionResult, error) {
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return &domain.ExecutionResult{Stdout: "ok\n"}, nil
		},
	}
	ch, wp, cancel := newTestPool(t, 1, nil, exec)

	var c counters
	sendJob(ch, &c)
	sendJob(ch, &c)

	waitFor(t, func() bool { return c.acked.Load() == 1 && c.nacked.Load() == 1 })
	cancel()
	wp.Stop()

	if c.nacked.Load() != 1 {
		t.Errorf("expected panicking job to be NACKed, got %d", c.nacked.Load())
	}
	if c.acked.Load() != 1 {
		t.Errorf("expected the single worker to process the next job, got %d ACKs", c.acked.Load())
	}
}

// Test: pool shuts down gracefully (context cancellation).
func TestPool_GracefulShutdown(t *testing.T) {
	ch, wp, cancel := newTestPool(t, 4, nil, &mock.Executor{})

	var c counters
	sendJob(ch, &c)
	sendJob(ch, &c)

	waitFor(t, func() bool { return c.acked.Load() >= 1 })
	cancel()
	wp.Stop()
	close(ch)

	total := c.acked.Load() + c.nacked.Load() + c.requeued.Load()
	if total < 1 {
		t.Errorf("expected at least 1 processed job, got %d", total)
	}
}

// Test: a job another worker already finished is ACKed without running.
func TestPool_DuplicateIsAcked(t *testing.T) {
	exec := &mock.Executor{}
	store := mock.NewResultStore()
	id := uuid.New()
	store.Complete(context.Background(), &domain.JobResult{
		JobID:    id,
		Language: domain.LangPython,
		Status:   domain.StatusCompleted,
	})
	idem := &mock.IdempotencyStore{
		AcquireLockFn: func(ctx context.Context, jobID uuid.UUID) (bool, error) {
			return false, nil // held by the worker that finished it
		},
	}
	ch, wp, cancel := startPool(t, 1, store, idem, exec)

	var c counters
	sendJobWithID(ch, &c, id)

	waitFor(t, func() bool { return c.acked.Load() == 1 })
	cancel()
	wp.Stop()

	if c.acked.Load() != 1 {
		t.Errorf("expected 1 ACK for duplicate, got %d", c.acked.Load())
	}
	if c.nacked.Load() != 0 || c.requeued.Load() != 0 {
		t.Errorf("expected no NACKs, got nacked=%d requeued=%d", c.nacked.Load(), c.requeued.Load())
	}
	if len(exec.ExecuteCalls) != 0 {
		t.Errorf("duplicate should not execute")
	}
}

// Test: a redelivered job whose lock was orphaned by a crashed worker is
// requeued, never ACKed, while its record is still PENDING.
func TestPool_OrphanedLockIsRequeued(t *testing.T) {
	exec := &mock.Executor{}
	store := mock.NewResultStore()
	id := uuid.New()
	store.EnsurePending(context.Background(), id, domain.LangPython)

	idem := &mock.IdempotencyStore{}
	if ok, _ := idem.AcquireLock(context.Background(), id); !ok {
		t.Fatal("pre-acquire failed")
	}
	ch, wp, cancel := startPool(t, 1, store, idem, exec)

	var c counters
	sendJobWithID(ch, &c, id)

	waitFor(t, func() bool { return c.requeued.Load() == 1 })
	cancel()
	wp.Stop()

	if c.requeued.Load() != 1 {
		t.Errorf("expected 1 requeue, got %d", c.requeued.Load())
	}
	if c.acked.Load() != 0 || c.nacked.Load() != 0 {
		t.Errorf("orphaned job must not be acked or dead-lettered, got acked=%d nacked=%d", c.acked.Load(), c.nacked.Load())
	}
	if store.Status(id) != domain.StatusPending {
		t.Errorf("expected record to stay PENDING until rerun, got %q", store.Status(id))
	}
}

// Test: once the orphaned lock expires, the requeued copy runs to completion.
func TestPool_RunsAfterOrphanedLockExpires(t *testing.T) {
	exec := &mock.Executor{}
	store := mock.NewResultStore()
	id := uuid.New()
	store.EnsurePending(context.Background(), id, domain.LangPython)

	idem := &mock.IdempotencyStore{}
	idem.AcquireLock(context.Background(), id)
	ch, wp, cancel := startPool(t, 1, store, idem, exec)

	var c counters
	sendJobWithID(ch, &c, id)
	waitFor(t, func() bool { return c.requeued.Load() == 1 })

	// TTL expiry.
	idem.ReleaseLock(context.Background(), id)
	sendJobWithID(ch, &c, id)
	waitFor(t, func() bool { return c.acked.Load() == 1 })
	cancel()
	wp.Stop()

	if c.acked.Load() != 1 {
		t.Fatalf("expected the redelivered copy to be acked, got %d", c.acked.Load())
	}
	if store.Status(id) != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %q", store.Status(id))
	}
	if len(exec.ExecuteCalls) != 1 {
		t.Errorf("expected exactly one execution, got %d", len(exec.ExecuteCalls))
	}
}

// Test: an infrastructure error before the sandbox runs is dead-lettered
// with a FAILED record rather than left PENDING.
func TestPool_LockStoreDownIsRecorded(t *testing.T) {
	exec := &mock.Executor{}
	store := mock.NewResultStore()
	idem := &mock.IdempotencyStore{
		AcquireLockFn: func(ctx context.Context, jobID uuid.UUID) (bool, error) {
			return false, errors.New("redis down")
		},
	}
	ch, wp, cancel := startPool(t, 1, store, idem, exec)

	var c counters
	id := uuid.New()
	sendJobWithID(ch, &c, id)

	waitFor(t, func() bool { return c.nacked.Load() == 1 })
	cancel()
	wp.Stop()

	if c.nacked.Load() != 1 {
		t.Fatalf("expected 1 dead-letter, got %d", c.nacked.Load())
	}
	if store.Status(id) != domain.StatusFailed {
		t.Errorf("expected FAILED, got %q", store.Status(id))
	}
}
