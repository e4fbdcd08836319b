package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/metrics"
	"github.com/Harsh-BH/warden/internal/usecase"
)

// JobExecutor runs one dequeued job. *usecase.ExecuteJobUsecase satisfies it.
type JobExecutor interface {
	Execute(ctx context.Context, job *domain.Job) (duplicate bool, err error)
}

// WorkerPool manages a fixed-size pool of goroutines that process jobs.
type WorkerPool struct {
	size     int
	jobs     <-chan *domain.JobMessage
	executor JobExecutor
	logger   *zap.Logger
	wg       sync.WaitGroup

	requeueDelay time.Duration
}

// DefaultRequeueDelay is how long a worker waits before requeueing a job
// whose lock is held elsewhere.
const DefaultRequeueDelay = time.Second

// NewWorkerPool creates a new fixed-size worker pool.
func NewWorkerPool(size int, jobs <-chan *domain.JobMessage, executor JobExecutor, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:     size,
		jobs:     jobs,
		executor: executor,
		logger:   logger,

		requeueDelay: DefaultRequeueDelay,
	}
}

// SetRequeueDelay overrides DefaultRequeueDelay. Call before Start.
func (p *WorkerPool) SetRequeueDelay(d time.Duration) {
	p.requeueDelay = d
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current jobs and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case msg, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("Job channel closed", zap.Int("worker_id", id))
				return
			}
			p.process(ctx, id, msg)
		}
	}
}

// process runs one job and settles its message. A panic is contained to the
// job: the message is dead-lettered and the worker keeps going.
func (p *WorkerPool) process(ctx context.Context, id int, msg *domain.JobMessage) {
	job := msg.Job
	log := p.logger.With(
		zap.Int("worker_id", id),
		zap.String("job_id", job.JobID.String()),
	)

	metrics.WorkersActive.Inc()
	startTime := time.Now()

	var (
		isDuplicate bool
		err         error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Worker panic recovered", zap.Any("panic", r))
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		log.Info("Worker processing job",
			zap.String("language", string(job.Language)),
			zap.Bool("redelivered", msg.Redelivered),
		)
		isDuplicate, err = p.executor.Execute(ctx, job)
	}()

	elapsed := time.Since(startTime).Seconds()
	metrics.WorkersActive.Dec()

	switch {
	case errors.Is(err, usecase.ErrInFlight):
		// Another worker holds the lock, possibly a dead one. Back off so the
		// requeued copy does not spin while the lock expires.
		log.Info("Job locked elsewhere, requeueing after delay", zap.Duration("delay", p.requeueDelay))
		select {
		case <-time.After(p.requeueDelay):
		case <-ctx.Done():
		}
		if nackErr := msg.Nack(true); nackErr != nil {
			log.Error("Failed to NACK message", zap.Error(nackErr))
		}

	case errors.Is(err, usecase.ErrInterrupted):
		// Shutdown, not a job failure: hand it to another worker.
		log.Warn("Job interrupted, requeueing", zap.Error(err))
		if nackErr := msg.Nack(true); nackErr != nil {
			log.Error("Failed to NACK message", zap.Error(nackErr))
		}

	case err != nil:
		log.Error("Job execution failed", zap.Error(err))
		// Nack without requeue: failed jobs go to the DLQ.
		// Requeuing a deterministic failure would cause an infinite loop.
		if nackErr := msg.Nack(false); nackErr != nil {
			log.Error("Failed to NACK message", zap.Error(nackErr))
		}
		metrics.ExecutionDuration.WithLabelValues(string(job.Language)).Observe(elapsed)

	case isDuplicate:
		log.Debug("Duplicate job skipped")
		// Duplicate: still ACK so the message is removed from the queue.
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK duplicate message", zap.Error(ackErr))
		}

	default:
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error("Failed to ACK message after execution", zap.Error(ackErr))
		}
		metrics.ExecutionDuration.WithLabelValues(string(job.Language)).Observe(elapsed)
	}
}
