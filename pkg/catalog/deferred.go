package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/dd0wney/cluso-catalog/pkg/logging"
)

// DefaultQueueSize is the deferred writer queue length used when none is given
const DefaultQueueSize = 1024

// deferredOp is a queued insert, or a flush request when done is set
type deferredOp struct {
	key   string
	value string
	done  chan error
}

// DeferredWriter moves inserts off the caller's goroutine. Inserts are
// queued and applied in order by one background worker. Failures of queued
// inserts are reported by the next Flush or Close.
type DeferredWriter struct {
	c     *Catalog
	queue chan deferredOp

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool

	errMu sync.Mutex
	err   error

	wg sync.WaitGroup
}

// NewDeferredWriter starts a writer draining a queue of queueSize inserts
// into c.
func NewDeferredWriter(c *Catalog, queueSize int) *DeferredWriter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &DeferredWriter{
		c:     c,
		queue: make(chan deferredOp, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *DeferredWriter) run() {
	defer w.wg.Done()

	for op := range w.queue {
		if op.done != nil {
			err := w.takeErr()
			if ferr := w.c.Finish(); ferr != nil {
				err = errors.Join(err, ferr)
			}
			op.done <- err
			continue
		}

		if err := w.c.Insert(op.key, op.value); err != nil {
			w.c.logger.Warn("deferred insert failed", logging.String("key", op.key), logging.Error(err))
			w.errMu.Lock()
			w.err = errors.Join(w.err, err)
			w.errMu.Unlock()
		}
	}
}

func (w *DeferredWriter) takeErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	err := w.err
	w.err = nil
	return err
}

// Insert queues key and value. Keys that can never be stored are rejected
// immediately. Insert blocks while the queue is full until ctx is done.
func (w *DeferredWriter) Insert(ctx context.Context, key, value string) error {
	if _, err := w.c.Layout().EncodeKey(key); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return errClosed("deferred insert")
	}
	select {
	case w.queue <- deferredOp{key: key, value: value}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every insert queued before it has been applied, then
// runs Finish. It returns queued insert failures along with Finish's error.
func (w *DeferredWriter) Flush(ctx context.Context) error {
	done := make(chan error, 1)

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return errClosed("flush")
	}
	select {
	case w.queue <- deferredOp{done: done}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes the queue and stops the worker. The catalog stays open.
func (w *DeferredWriter) Close(ctx context.Context) error {
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return nil
	}

	err := w.Flush(ctx)

	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return errors.Join(err, w.takeErr())
}
