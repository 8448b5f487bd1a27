package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/notetaker/internal/types"
)

// ErrQueueStopped is returned by Enqueue once Stop has been called.
var ErrQueueStopped = errors.New("queue stopped")

// Queue manages per-meeting lanes with a global concurrency semaphore.
// Each meeting gets its own FIFO channel (lane) so that stages of one
// meeting run sequentially, while the semaphore limits the total number
// of concurrent stage processors across all meetings. A lane and its
// goroutine are reclaimed as soon as the lane drains.
type Queue struct {
	lanes     map[types.MeetingID]chan *Job
	semaphore *semaphore.Weighted
	processor func(*Job) error
	active    atomic.Int64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all meeting lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.MeetingID]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.stopped = false
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish. Jobs still waiting in a lane are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.stopped = true
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Job to the meeting's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full
// or the queue is not running.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil || q.stopped {
		return ErrQueueStopped
	}

	lane, exists := q.lanes[job.MeetingID]
	if !exists {
		lane = make(chan *Job, 100)
		q.lanes[job.MeetingID] = lane
		q.wg.Add(1)
		go q.processLane(job.MeetingID, lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue full for meeting %s", job.MeetingID)
	}
}

// processLane drains a single meeting lane, acquiring a semaphore slot
// before running the processor synchronously.
func (q *Queue) processLane(meetingID types.MeetingID, lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.run(job)
			q.semaphore.Release(1)

			if q.reclaim(meetingID, lane) {
				return
			}
		case <-q.ctx.Done():
			return
		}
	}
}

// reclaim removes the lane if it is empty. Enqueue holds q.mu while
// sending, so an empty lane seen here cannot gain a job afterwards.
func (q *Queue) reclaim(meetingID types.MeetingID, lane chan *Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(lane) > 0 {
		return false
	}
	if current, ok := q.lanes[meetingID]; ok && current == lane {
		delete(q.lanes, meetingID)
	}
	return true
}

func (q *Queue) run(job *Job) {
	if q.processor == nil {
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	job.Ctx = q.ctx
	if err := q.processor(job); err != nil {
		slog.Error("job failed", "job_id", string(job.ID), "meeting_id", string(job.MeetingID), "stage", string(job.Stage), "error", err)
	}
}

// Lanes returns the number of meetings with queued or running work.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// WaitIdle blocks until no jobs are queued or being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 && q.Lanes() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Job.
func (q *Queue) SetProcessor(fn func(*Job) error) {
	q.processor = fn
}
