package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bnema/celluloid/internal/infrastructure/logger"
)

type queuedJob struct {
	id  string
	seq int64
}

// QueueEntry is one waiting job as seen by callers.
type QueueEntry struct {
	JobID         string        `json:"job_id"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

type QueueSnapshot struct {
	ProcessingJobID string        `json:"processing_job,omitempty"`
	Queued          []QueueEntry  `json:"queued_jobs"`
	AverageDuration time.Duration `json:"average_duration"`
}

// Dispatcher owns the FIFO admission order and the single execution slot.
// Positions are derived from the queue on every read, so they always
// reflect the latest enqueue, acquire or removal.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []queuedJob
	held    bool
	current string
	avg     time.Duration
	alpha   float64
	wake    chan struct{}
}

func NewDispatcher(seed time.Duration, alpha float64) *Dispatcher {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &Dispatcher{
		avg:   seed,
		alpha: alpha,
		wake:  make(chan struct{}, 1),
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Enqueue admits a job. Jobs are ordered by their admission sequence so a
// late Enqueue of an older job (restart recovery) still lands in place.
func (d *Dispatcher) Enqueue(jobID string, seq int64) {
	d.mu.Lock()
	for _, q := range d.queue {
		if q.id == jobID {
			d.mu.Unlock()
			return
		}
	}
	i := sort.Search(len(d.queue), func(i int) bool { return d.queue[i].seq > seq })
	d.queue = append(d.queue, queuedJob{})
	copy(d.queue[i+1:], d.queue[i:])
	d.queue[i] = queuedJob{id: jobID, seq: seq}
	d.mu.Unlock()

	d.signal()
}

// TryAcquire pops the FIFO head and marks the slot held. It never blocks and
// returns false when the slot is busy or nothing is waiting.
func (d *Dispatcher) TryAcquire() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.held || len(d.queue) == 0 {
		return "", false
	}
	head := d.queue[0]
	d.queue = d.queue[1:]
	d.held = true
	d.current = head.id
	return head.id, true
}

// Release frees the slot. It must be called once per acquired job.
func (d *Dispatcher) Release() {
	d.mu.Lock()
	if !d.held {
		d.mu.Unlock()
		logger.Warn.Printf("dispatcher: release without a held slot")
		return
	}
	d.held = false
	d.current = ""
	d.mu.Unlock()

	d.signal()
}

// RecordDuration feeds a finished job's wall-clock time into the moving
// average used for wait estimates.
func (d *Dispatcher) RecordDuration(elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.avg = time.Duration(d.alpha*float64(elapsed) + (1-d.alpha)*float64(d.avg))
}

// Remove drops a waiting job. Jobs behind it move up by one; the slot is
// not affected.
func (d *Dispatcher) Remove(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, q := range d.queue {
		if q.id == jobID {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Position returns the number of jobs admitted before jobID that are still
// waiting. The second result is false when jobID is not waiting.
func (d *Dispatcher) Position(jobID string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, q := range d.queue {
		if q.id == jobID {
			return i, true
		}
	}
	return 0, false
}

// EstimatedWait is a display hint only. It grows with position and counts
// the running job as one more average duration ahead.
func (d *Dispatcher) EstimatedWait(position int) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.estimate(position)
}

func (d *Dispatcher) estimate(position int) time.Duration {
	ahead := position
	if d.held {
		ahead++
	}
	return time.Duration(ahead) * d.avg
}

func (d *Dispatcher) Running() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, d.held
}

func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) Snapshot() QueueSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := QueueSnapshot{
		ProcessingJobID: d.current,
		Queued:          make([]QueueEntry, len(d.queue)),
		AverageDuration: d.avg,
	}
	for i, q := range d.queue {
		snap.Queued[i] = QueueEntry{JobID: q.id, Position: i, EstimatedWait: d.estimate(i)}
	}
	return snap
}

// Run hands queued jobs to handle one at a time until ctx is done, then
// waits for the running handler to return. handle owns the slot and must
// call Release.
func (d *Dispatcher) Run(ctx context.Context, handle func(ctx context.Context, jobID string)) {
	var wg sync.WaitGroup
	defer wg.Wait()

	logger.Info.Printf("dispatcher started")
	for {
		if jobID, ok := d.TryAcquire(); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				handle(ctx, jobID)
			}()
		}

		select {
		case <-ctx.Done():
			logger.Info.Printf("dispatcher shutting down")
			return
		case <-d.wake:
		}
	}
}
