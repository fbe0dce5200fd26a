package controller

import (
	"sync"

	"github.com/cloudkeep/drivesync/internal/jobid"
)

// queue is the process-wide single-job queue (spec §4.11: "at most one
// job executes at a time process-wide"). It is a small FIFO of distinct
// job IDs; enqueueing a job already waiting (or already running) restarts
// it rather than creating a second entry — spec: "enqueueing a job already
// present restarts it (cancels the in-flight instance, queues the
// replacement)".
type queue struct {
	mu      sync.Mutex
	pending []jobid.JobID
	present map[jobid.JobID]bool
	running jobid.JobID
	hasRun  bool
	wake    chan struct{}
}

func newQueue() *queue {
	return &queue{
		present: make(map[jobid.JobID]bool),
		wake:    make(chan struct{}, 1),
	}
}

// enqueue appends id to the back of the queue unless it is already
// waiting there, in which case it is a no-op (the waiting slot already
// represents the freshest request). The caller is responsible for
// canceling any in-flight run of id before calling enqueue — see
// Controller.RunJob.
func (q *queue) enqueue(id jobid.JobID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.present[id] {
		q.pending = append(q.pending, id)
		q.present[id] = true
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// isQueuedOrRunning reports whether id currently occupies the queue's one
// execution slot or is waiting for it.
func (q *queue) isQueuedOrRunning(id jobid.JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.present[id] || (q.hasRun && q.running.Equal(id))
}

// dequeue blocks until a job is available to run, then marks it as the
// running job and returns it. It returns the zero JobID if ctx/done fires
// first.
func (q *queue) dequeue(done <-chan struct{}) (jobid.JobID, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			delete(q.present, id)
			q.running = id
			q.hasRun = true
			q.mu.Unlock()

			return id, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-done:
			return jobid.JobID{}, false
		}
	}
}

// finish clears the running slot once a job's run completes.
func (q *queue) finish(id jobid.JobID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasRun && q.running.Equal(id) {
		q.hasRun = false
		q.running = jobid.JobID{}
	}
}
