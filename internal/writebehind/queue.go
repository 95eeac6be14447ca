package writebehind

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Job is one unit of deferred work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config controls queue buffering behavior.
type Config struct {
	BufferSize int
	DropIfFull bool
	// Timeout bounds each job. Zero means no deadline.
	Timeout time.Duration
	Logger  hclog.Logger
}

// Queue executes jobs in submission order on one background worker.
type Queue struct {
	cfg       Config
	ch        chan Job
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	completed atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts a queue. The returned queue must be closed to stop its worker.
func New(cfg Config) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	q := &Queue{
		cfg:  cfg,
		ch:   make(chan Job, cfg.BufferSize),
		done: make(chan struct{}),
	}

	q.wg.Add(1)
	go q.run()

	return q
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.ch:
			q.exec(job)
		case <-q.done:
			for {
				select {
				case job := <-q.ch:
					q.exec(job)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) exec(job Job) {
	if job.Run == nil {
		return
	}
	ctx := context.Background()
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}
	if err := job.Run(ctx); err != nil {
		q.failed.Add(1)
		q.cfg.Logger.Warn("write-behind job failed", "job", job.Name, "error", err)
		return
	}
	q.completed.Add(1)
}

// Enqueue hands job to the worker. It reports false when the job was dropped because the
// queue is closed or, with DropIfFull, because the buffer is full.
func (q *Queue) Enqueue(ctx context.Context, job Job) bool {
	if q == nil || q.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if q.cfg.DropIfFull {
		select {
		case q.ch <- job:
			return true
		case <-q.done:
			return false
		default:
			q.dropped.Add(1)
			return false
		}
	}

	select {
	case q.ch <- job:
		return true
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	}
}

// Close stops accepting jobs, drains what is buffered, and waits for the worker to exit.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
		q.wg.Wait()
	})
}

// Dropped returns the number of jobs rejected because the buffer was full.
func (q *Queue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}

// Failed returns the number of jobs whose Run returned an error.
func (q *Queue) Failed() uint64 {
	if q == nil {
		return 0
	}
	return q.failed.Load()
}

// Completed returns the number of jobs that ran without error.
func (q *Queue) Completed() uint64 {
	if q == nil {
		return 0
	}
	return q.completed.Load()
}
