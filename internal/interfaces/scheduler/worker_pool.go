package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	jobTracer          = otel.Tracer("bankfeed/scheduler")
	jobMeter           = otel.Meter("bankfeed/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("scheduler.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("scheduler.job.total", metric.WithDescription("Total jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("scheduler.job.queue_dropped", metric.WithDescription("Jobs dropped due to full queue"))
)

// DefaultJobTimeout bounds one job. A full enrollment sync pauses between
// account groups, so it is longer than a single request.
const DefaultJobTimeout = 5 * time.Minute

var (
	ErrQueueFull  = errors.New("job queue full")
	ErrPoolClosed = errors.New("worker pool is shut down")
	ErrInFlight   = errors.New("job already queued or running")
)

// WorkerPool runs jobs from a bounded queue on a fixed number of goroutines.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	// mu guards closed and inFlight
	mu       sync.Mutex
	closed   bool
	inFlight map[string]struct{}
}

// NewWorkerPool creates a new worker pool.
// jobDelay is the pause a worker takes after each job.
// queueSize is the buffer size of the job channel.
func NewWorkerPool(workerCount int, jobDelay time.Duration, queueSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	if workerCount <= 0 {
		workerCount = 1
	}

	return &WorkerPool{
		workerCount: workerCount,
		jobDelay:    jobDelay,
		jobTimeout:  DefaultJobTimeout,
		jobs:        make(chan Job, queueSize),
		inFlight:    make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	log.Printf("Starting worker pool with %d workers", wp.workerCount)

	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}

			wp.processJob(id, job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					log.Printf("Worker %d shutting down during delay", id)
					return
				}
			}
		}
	}
}

// processJob executes a single job with logging and telemetry. A panicking
// job is counted as an error and does not take the worker down.
func (wp *WorkerPool) processJob(workerID int, job Job) {
	defer wp.release(job.Key())

	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.user_id", job.UserID()),
		),
	)
	defer span.End()

	start := time.Now()
	err := runJob(ctx, job)
	jobDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		log.Printf("Worker %d: Error processing %s: %v", workerID, job.Description(), err)
		return
	}

	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	log.Printf("Worker %d: Completed %s in %s", workerID, job.Description(), time.Since(start).Round(time.Millisecond))
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx)
}

// Submit adds a job to the queue without blocking. A job whose key is
// already queued or running returns ErrInFlight; a full queue drops the job
// and returns ErrQueueFull.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.closed {
		return ErrPoolClosed
	}
	key := job.Key()
	if _, ok := wp.inFlight[key]; ok {
		return fmt.Errorf("%w: %s", ErrInFlight, key)
	}

	select {
	case wp.jobs <- job:
		wp.inFlight[key] = struct{}{}
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", "full")))
		log.Printf("Warning: Job queue full, dropping %s", job.Description())
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, job.Description())
	}
}

func (wp *WorkerPool) release(key string) {
	wp.mu.Lock()
	delete(wp.inFlight, key)
	wp.mu.Unlock()
}

// SubmitBatch adds multiple jobs to the queue and returns how many were
// accepted.
func (wp *WorkerPool) SubmitBatch(jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			continue
		}
		submitted++
	}
	log.Printf("Submitted %d/%d jobs to worker pool", submitted, len(jobs))
	return submitted
}

// Pending returns the number of queued jobs not yet picked up.
func (wp *WorkerPool) Pending() int {
	return len(wp.jobs)
}

// InFlight returns the number of jobs queued or running.
func (wp *WorkerPool) InFlight() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.inFlight)
}

// ShutdownWithTimeout stops accepting jobs and waits for queued jobs to
// finish. After timeout the running jobs are cancelled.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Worker pool: All workers finished gracefully")
	case <-time.After(timeout):
		log.Println("Worker pool: Timeout reached, forcing shutdown")
	}
	wp.cancel()
}
