package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Scheduler enqueues the jobs of its provider on a fixed interval.
type Scheduler struct {
	workerPool   *WorkerPool
	interval     time.Duration
	runOnStartup bool
	jobProvider  func(context.Context) ([]Job, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Interval     time.Duration
	WorkerCount  int
	JobDelay     time.Duration
	QueueSize    int
	RunOnStartup bool
	JobProvider  func(context.Context) ([]Job, error)
}

// NewScheduler creates a new scheduler with the given configuration.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %v", config.Interval)
	}
	if config.JobProvider == nil {
		return nil, fmt.Errorf("scheduler job provider is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	log.Printf("Scheduler initialized: every %v, %d workers, %v delay between jobs",
		config.Interval, config.WorkerCount, config.JobDelay)

	return &Scheduler{
		workerPool:   NewWorkerPool(config.WorkerCount, config.JobDelay, config.QueueSize),
		interval:     config.Interval,
		runOnStartup: config.RunOnStartup,
		jobProvider:  config.JobProvider,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the worker pool and the interval loop.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	s.wg.Add(1)
	go s.scheduleLoop()

	log.Printf("Scheduler started, running every %v", s.interval)
}

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	if s.runOnStartup {
		log.Println("Scheduler: Running initial pass on startup")
		s.runJobs()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runJobs()
		}
	}
}

// runJobs fetches jobs from the provider and submits them. Enrollments
// still queued or running from an earlier pass are left alone.
func (s *Scheduler) runJobs() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		log.Printf("Scheduler: Failed to fetch jobs: %v", err)
		return
	}
	if len(jobs) == 0 {
		log.Println("Scheduler: No jobs to process")
		return
	}

	s.workerPool.SubmitBatch(jobs)
}

// Submit queues an out-of-band job on the scheduler's pool.
func (s *Scheduler) Submit(job Job) error {
	return s.workerPool.Submit(job)
}

// TriggerNow runs a pass immediately.
func (s *Scheduler) TriggerNow() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJobs()
	}()
}

// Shutdown stops the loop, then drains the worker pool within timeout.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	log.Println("Scheduler: Initiating graceful shutdown...")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Println("Scheduler: Timeout waiting for scheduler loop to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)

	log.Println("Scheduler: Shutdown complete")
}
