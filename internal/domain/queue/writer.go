package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const writeTimeout = 15 * time.Second

type writeJob struct {
	name string
	run  func(ctx context.Context) error
	done func(err error)
}

// writer applies remote writes one at a time in submission order, so the
// store sees operations in the order the admin made them.
type writer struct {
	jobs    chan writeJob
	stopped chan struct{}
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool

	// pending counts submitted jobs that have not finished. It has its own
	// lock because submit holds mu while it may block on a full queue.
	countMu sync.Mutex
	idle    *sync.Cond
	pending int
}

func newWriter(logger zerolog.Logger, buffer int) *writer {
	w := &writer{
		jobs:    make(chan writeJob, buffer),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	w.idle = sync.NewCond(&w.countMu)
	go w.loop()
	return w
}

func (w *writer) loop() {
	defer close(w.stopped)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := job.run(ctx)
		cancel()
		if err != nil {
			w.logger.Error().Err(err).Str("op", job.name).Msg("remote write failed")
		}
		if job.done != nil {
			job.done(err)
		}
		w.countMu.Lock()
		w.pending--
		if w.pending == 0 {
			w.idle.Broadcast()
		}
		w.countMu.Unlock()
	}
}

func (w *writer) submit(job writeJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.countMu.Lock()
	w.pending++
	w.countMu.Unlock()
	w.jobs <- job
	return nil
}

// wait blocks until every submitted job has finished. Jobs submitted
// while it waits are waited for too.
func (w *writer) wait() {
	w.countMu.Lock()
	defer w.countMu.Unlock()
	for w.pending > 0 {
		w.idle.Wait()
	}
}

// close stops accepting jobs and waits for the queue to drain.
func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.stopped
}
