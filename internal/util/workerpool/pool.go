package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	ID string
	Fn func(context.Context) error
}

// WorkerPool runs tasks on a fixed set of goroutines
type WorkerPool struct {
	name       string
	maxWorkers int
	taskQueue  chan job
	logger     *zap.Logger
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopChan   chan struct{}

	activeWorkers  int32
	completedTasks uint64
	failedTasks    uint64
}

type job struct {
	ctx  context.Context
	task Task
	done func(error)
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// NewWorkerPool creates a new worker pool and starts its workers
func NewWorkerPool(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.MaxWorkers * 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool := &WorkerPool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		taskQueue:  make(chan job, cfg.QueueSize),
		logger:     cfg.Logger,
		stopChan:   make(chan struct{}),
	}

	for i := 0; i < pool.maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Debug("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", pool.maxWorkers),
		zap.Int("queue_size", cfg.QueueSize))

	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case j := <-p.taskQueue:
			j.done(p.execute(id, j))
		}
	}
}

func (p *WorkerPool) execute(workerID int, j job) error {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	if err := j.ctx.Err(); err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		return err
	}

	start := time.Now()
	err := p.safeExecute(j)
	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", j.task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return err
	}
	atomic.AddUint64(&p.completedTasks, 1)
	return nil
}

// safeExecute executes a task with panic recovery
func (p *WorkerPool) safeExecute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", j.task.ID, r)
		}
	}()
	return j.task.Fn(j.ctx)
}

// Run executes tasks on the pool and waits for all of them. It returns the
// first error; once a task fails the remaining queued tasks are skipped.
// If the pool stops mid-run, tasks not yet picked up fail with a stopped error.
func (p *WorkerPool) Run(ctx context.Context, tasks []Task) error {
	select {
	case <-p.stopChan:
		return p.stoppedError()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	done := func(err error) {
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
				cancel()
			}
			mu.Unlock()
		}
		wg.Done()
	}

submit:
	for _, task := range tasks {
		wg.Add(1)
		select {
		case <-p.stopChan:
			done(p.stoppedError())
			break submit
		case <-ctx.Done():
			wg.Done()
		case p.taskQueue <- job{ctx: ctx, task: task, done: done}:
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-p.stopChan:
		// Workers exit without taking further jobs; fail what is still queued.
		cancel()
		p.drain()
		<-finished
	}

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// drain fails every job left in the queue
func (p *WorkerPool) drain() {
	for {
		select {
		case j := <-p.taskQueue:
			atomic.AddUint64(&p.failedTasks, 1)
			j.done(p.stoppedError())
		default:
			return
		}
	}
}

func (p *WorkerPool) stoppedError() error {
	return fmt.Errorf("worker pool '%s' is stopped", p.name)
}

// Stop stops the workers, waiting at most timeout for running tasks
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		}
	})
	return err
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueuedTasks:    len(p.taskQueue),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueuedTasks    int
	CompletedTasks uint64
	FailedTasks    uint64
}
