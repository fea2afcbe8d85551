package download

import (
	"context"
	"fmt"
	"sync"
)

// Job is a batch waiting for, or running on, the queue
type Job struct {
	ID     string
	Config BatchConfig
	ctx    context.Context
	cancel context.CancelFunc
}

// Result is the outcome of a job
type Result struct {
	JobID string
	Batch *BatchResult
	Error error
}

// JobHandler runs one job
type JobHandler func(ctx context.Context, job *Job) (*BatchResult, error)

// Queue serializes batches through a single worker goroutine. Batches share
// nothing but attribution is by directory diff, so two batches writing to the
// same folder at once would steal each other's files.
//
// Every job accepted by Submit yields exactly one Result, including jobs
// still waiting when the queue shuts down.
type Queue struct {
	jobs    chan *Job
	results chan *Result
	pending sync.Map // map[string]*Job, queued or running
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	handler JobHandler
	mu      sync.RWMutex
	started bool
}

// NewQueue creates a queue that runs jobs with handler
func NewQueue(handler JobHandler, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 16
	}
	return &Queue{
		jobs: make(chan *Job, capacity),
		// Room for every queued job plus the running one
		results: make(chan *Result, capacity+1),
		handler: handler,
	}
}

// Start launches the worker
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("queue already started")
	}
	if q.handler == nil {
		return fmt.Errorf("job handler not set")
	}

	q.ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go q.worker()

	q.started = true
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case job := <-q.jobs:
			q.processJob(job)
		}
	}
}

// drain answers every job still queued after shutdown. Holding the write
// lock waits out in-flight Submits; later ones see the cancelled context.
func (q *Queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		select {
		case job := <-q.jobs:
			job.cancel()
			q.pending.Delete(job.ID)
			q.results <- &Result{JobID: job.ID, Error: q.ctx.Err()}
		default:
			return
		}
	}
}

func (q *Queue) processJob(job *Job) {
	defer q.pending.Delete(job.ID)
	defer job.cancel()

	var (
		batch *BatchResult
		err   error
	)
	if err = job.ctx.Err(); err == nil {
		batch, err = q.handler(job.ctx, job)
	}

	// Results are delivered even while shutting down so a cancelled batch
	// still reports its partial outcome.
	q.results <- &Result{JobID: job.ID, Batch: batch, Error: err}
}

// Submit enqueues a job
func (q *Queue) Submit(job *Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.started {
		return fmt.Errorf("queue not started")
	}
	if q.ctx.Err() != nil {
		return fmt.Errorf("queue is shutting down")
	}
	job.ctx, job.cancel = context.WithCancel(q.ctx)
	if _, loaded := q.pending.LoadOrStore(job.ID, job); loaded {
		job.cancel()
		return fmt.Errorf("job already queued: %s", job.ID)
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		job.cancel()
		q.pending.Delete(job.ID)
		return fmt.Errorf("queue is full")
	}
}

// Stop cancels the running job, waits for the worker and closes Results
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	close(q.results)
}

// Results returns the results channel. It must be drained by the caller.
func (q *Queue) Results() <-chan *Result {
	return q.results
}

// CancelJob cancels a queued or running job by ID. A queued job is answered
// with context.Canceled without running.
func (q *Queue) CancelJob(jobID string) error {
	value, ok := q.pending.Load(jobID)
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}
	value.(*Job).cancel()
	return nil
}
