package session

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrDispatcherClosed is returned by Submit after Shutdown has begun.
	ErrDispatcherClosed = errors.New("dispatcher closed")
	// ErrMailboxFull is returned when a user's queue is saturated.
	ErrMailboxFull = errors.New("mailbox full")
)

const (
	defaultQueueSize   = 32
	defaultIdleTimeout = 2 * time.Minute
)

// Job is a unit of work executed inside a user's mailbox.
type Job func(ctx context.Context)

type mailbox struct {
	jobs chan Job
}

// Dispatcher runs jobs through one mailbox per user id. Jobs for the same
// user run strictly in submission order on a single goroutine; different
// users proceed concurrently. A mailbox goroutine exits after sitting idle.
type Dispatcher struct {
	mu        sync.Mutex
	boxes     map[int64]*mailbox
	closed    bool
	queueSize int
	idle      time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. Zero values select the defaults.
func NewDispatcher(queueSize int, idle time.Duration, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		boxes:     make(map[int64]*mailbox),
		queueSize: queueSize,
		idle:      idle,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Submit enqueues job on the mailbox of userID, starting a worker if none
// is running. It never blocks.
func (d *Dispatcher) Submit(userID int64, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	box, ok := d.boxes[userID]
	if !ok {
		box = &mailbox{jobs: make(chan Job, d.queueSize)}
		d.boxes[userID] = box
		d.wg.Add(1)
		go d.run(userID, box)
	}

	select {
	case box.jobs <- job:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Do submits fn and waits until it has run or ctx is done.
func (d *Dispatcher) Do(ctx context.Context, userID int64, fn Job) error {
	done := make(chan struct{})
	err := d.Submit(userID, func(jobCtx context.Context) {
		defer close(done)
		fn(jobCtx)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of running mailboxes.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.boxes)
}

// Shutdown stops intake and waits for queued jobs to finish. When ctx
// expires first, the job context is canceled, jobs that have not started
// are dropped and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, box := range d.boxes {
		close(box.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) run(userID int64, box *mailbox) {
	defer d.wg.Done()

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case job, ok := <-box.jobs:
			if !ok {
				d.mu.Lock()
				delete(d.boxes, userID)
				d.mu.Unlock()
				return
			}
			if d.ctx.Err() != nil {
				d.logger.Warn("Dropping job after shutdown deadline", "user_id", userID)
				continue
			}
			d.execute(userID, job)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)

		case <-timer.C:
			d.mu.Lock()
			if !d.closed && len(box.jobs) == 0 {
				delete(d.boxes, userID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		}
	}
}

func (d *Dispatcher) execute(userID int64, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic in user job",
				"user_id", userID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	job(d.ctx)
}
