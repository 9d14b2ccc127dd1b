package jobs

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// Queue manages OCR jobs with a concurrent-safe map and processing channel.
type Queue struct {
	jobs    map[string]*Job
	pending chan *Job
	closed  bool
	mu      sync.RWMutex

	subscribers map[string][]chan ProgressUpdate
	subMu       sync.RWMutex
}

// NewQueue creates a new job queue holding at most size pending jobs.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		jobs:        make(map[string]*Job),
		pending:     make(chan *Job, size),
		subscribers: make(map[string][]chan ProgressUpdate),
	}
}

// Submit adds a new job to the queue.
func (q *Queue) Submit(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, exists := q.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	select {
	case q.pending <- job:
	default:
		return ErrQueueFull
	}

	q.jobs[job.ID] = job
	slog.Info("job submitted", "job_id", job.ID, "profile", job.Profile)

	// Forward progress updates to subscribers
	go q.forwardProgress(job)
	return nil
}

// Get returns a job by ID.
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	return job, ok
}

// List returns all jobs.
func (q *Queue) List() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		result = append(result, job)
	}
	return result
}

// Counts returns the number of jobs per status.
func (q *Queue) Counts() map[JobStatus]int {
	counts := make(map[JobStatus]int)
	for _, job := range q.List() {
		counts[job.CurrentStatus()]++
	}
	return counts
}

// Pending returns the channel of pending jobs for workers.
func (q *Queue) Pending() <-chan *Job {
	return q.pending
}

// Close stops accepting work; workers ranging over Pending return once it
// drains.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
}

// Cancel cancels a job by ID. Cancelling a finished job is a no-op.
func (q *Queue) Cancel(id string) error {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()

	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	if job.Cancel() {
		slog.Info("job cancelled", "job_id", id)
	}
	return nil
}

// Subscribe creates a channel to receive progress updates for a specific job.
func (q *Queue) Subscribe(jobID string) chan ProgressUpdate {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	ch := make(chan ProgressUpdate, 50)
	q.subscribers[jobID] = append(q.subscribers[jobID], ch)
	return ch
}

// Unsubscribe removes a subscriber channel.
func (q *Queue) Unsubscribe(jobID string, ch chan ProgressUpdate) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	subs := q.subscribers[jobID]
	for i, sub := range subs {
		if sub == ch {
			q.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (q *Queue) forwardProgress(job *Job) {
	for update := range job.ProgressChan() {
		q.subMu.RLock()
		subs := q.subscribers[job.ID]
		for _, ch := range subs {
			select {
			case ch <- update:
			default:
				// Subscriber slow, drop update
			}
		}
		q.subMu.RUnlock()
	}
}

// Remove deletes a job from the queue.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	delete(q.jobs, id)
	q.mu.Unlock()

	if ok {
		job.closeProgress()
	}

	q.subMu.Lock()
	defer q.subMu.Unlock()
	if subs, ok := q.subscribers[id]; ok {
		for _, ch := range subs {
			close(ch)
		}
		delete(q.subscribers, id)
	}
}

// Prune removes finished jobs last updated before cutoff and returns how
// many were removed.
func (q *Queue) Prune(cutoff time.Time) int {
	var stale []string
	for _, job := range q.List() {
		snap := job.Snapshot()
		if snap.Status.Terminal() && snap.UpdatedAt.Before(cutoff) {
			stale = append(stale, snap.ID)
		}
	}
	for _, id := range stale {
		q.Remove(id)
	}
	if len(stale) > 0 {
		slog.Debug("pruned finished jobs", "count", len(stale))
	}
	return len(stale)
}
