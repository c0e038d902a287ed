package store

import (
	"context"
	"sync"
	"time"

	"github.com/kiliankoe/hueduel/internal/metrics"
	"github.com/rs/zerolog/log"
)

const writeTimeout = 5 * time.Second

type job struct {
	name string
	fn   func(ctx context.Context, s Store) error
	done chan struct{} // set for flush barriers only
}

// Writer applies writes to a Store from a single goroutine, in the order they were
// enqueued. Gameplay enqueues and moves on; a failed write is logged and dropped.
type Writer struct {
	store Store
	jobs  chan job

	mu     sync.RWMutex
	closed bool
	exited chan struct{}
}

func NewWriter(s Store, size int) *Writer {
	if size <= 0 {
		size = 1024
	}
	w := &Writer{store: s, jobs: make(chan job, size), exited: make(chan struct{})}
	go w.run()
	return w
}

// Store exposes the underlying store for reads.
func (w *Writer) Store() Store { return w.store }

// Enqueue schedules fn without blocking. It reports false when the queue is full or
// the writer is closed; the write is then lost.
func (w *Writer) Enqueue(name string, fn func(ctx context.Context, s Store) error) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.jobs <- job{name: name, fn: fn}:
		return true
	default:
		metrics.StoreWrites.WithLabelValues("dropped").Inc()
		log.Error().Str("op", name).Msg("record queue full, write dropped")
		return false
	}
}

// Flush waits until every write enqueued before the call has been applied.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.jobs <- job{name: "flush", done: done}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes, drains the queue and waits for the worker.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.exited
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.exited
}

func (w *Writer) run() {
	defer close(w.exited)
	for j := range w.jobs {
		if j.done != nil {
			close(j.done)
			continue
		}
		w.apply(j)
	}
}

func (w *Writer) apply(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.StoreWrites.WithLabelValues("error").Inc()
			log.Error().Str("op", j.name).Interface("panic", r).Msg("record write panicked")
		}
	}()
	if err := j.fn(ctx, w.store); err != nil {
		metrics.StoreWrites.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("op", j.name).Msg("record write failed")
		return
	}
	metrics.StoreWrites.WithLabelValues("ok").Inc()
}
