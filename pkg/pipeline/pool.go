package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"callinsight-server/pkg/errors"
	"callinsight-server/pkg/metrics"
)

// Task represents a unit of work to be executed
type Task func()

// WorkerPool runs tasks on a fixed set of worker goroutines behind a bounded
// queue. A full queue rejects new work instead of blocking the submitter.
type WorkerPool struct {
	logger    *logrus.Entry
	taskQueue chan Task
	wg        sync.WaitGroup

	closed    atomic.Bool
	submitted int64
	completed int64
}

// NewWorkerPool creates and starts a pool of workers.
func NewWorkerPool(logger *logrus.Logger, workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers * 10
	}

	p := &WorkerPool{
		logger:    logger.WithField("component", "worker_pool"),
		taskQueue: make(chan Task, queueSize),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.WithFields(logrus.Fields{
		"workers":    workers,
		"queue_size": queueSize,
	}).Info("Worker pool started")

	return p
}

// Submit enqueues a task. It returns ErrQueueFull when the queue has no room
// and ErrUnavailable after Shutdown.
func (p *WorkerPool) Submit(task Task) error {
	if task == nil {
		return errors.ErrInvalidInput
	}
	if p.closed.Load() {
		return errors.ErrUnavailable
	}

	select {
	case p.taskQueue <- task:
		atomic.AddInt64(&p.submitted, 1)
		metrics.SetQueueDepth(len(p.taskQueue))
		return nil
	default:
		return errors.ErrQueueFull
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for task := range p.taskQueue {
		p.runTask(id, task)
		metrics.SetQueueDepth(len(p.taskQueue))
	}
}

// runTask executes one task with panic recovery so a misbehaving call never
// takes down the pool.
func (p *WorkerPool) runTask(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
			}).Error("Recovered from panic in worker task")
		}
		atomic.AddInt64(&p.completed, 1)
	}()
	task()
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *WorkerPool) Pending() int {
	return len(p.taskQueue)
}

// Shutdown stops accepting work and waits for in-flight and queued tasks to
// drain, up to the timeout.
func (p *WorkerPool) Shutdown(timeout time.Duration) {
	if p.closed.Swap(true) {
		return
	}
	close(p.taskQueue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.WithFields(logrus.Fields{
			"submitted": atomic.LoadInt64(&p.submitted),
			"completed": atomic.LoadInt64(&p.completed),
		}).Info("Worker pool drained")
	case <-time.After(timeout):
		p.logger.WithField("timeout", timeout).Warn("Worker pool shutdown timed out with tasks still running")
	}
}
