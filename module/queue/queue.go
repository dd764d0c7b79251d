package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ef-ds/deque"

	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
)

var (
	// ErrClosed is returned by Push after Close, and by Pop once the queue is
	// closed and empty.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned when an element could not be pushed before the
	// backpressure timeout expired.
	ErrFull = errors.New("queue full")
)

// LengthObserver is called with the new length every time it changes.
// It must be non-blocking.
type LengthObserver func(int)

// Option configures a Queue.
type Option func(*config) error

type config struct {
	capacity int
	observer LengthObserver
}

// WithCapacity sets the maximum number of queued elements.
func WithCapacity(capacity int) Option {
	return func(c *config) error {
		if capacity < 1 {
			return fmt.Errorf("capacity for queue must be positive, got %d", capacity)
		}
		c.capacity = capacity
		return nil
	}
}

// WithLengthObserver installs a length observer.
func WithLengthObserver(observer LengthObserver) Option {
	return func(c *config) error {
		if observer == nil {
			return fmt.Errorf("nil is not a valid LengthObserver")
		}
		c.observer = observer
		return nil
	}
}

// Queue is a bounded, concurrency safe FIFO queue. Consumers block in Pop
// until an element is available; producers either fail fast with Push or
// wait for free capacity with PushWait.
//
// Close stops the queue from accepting elements. Elements already queued
// can still be popped, so consumers drain the queue before they observe
// ErrClosed.
type Queue[T any] struct {
	mu       sync.Mutex
	elements deque.Deque
	capacity int
	observer LengthObserver
	closed   bool

	notEmpty module.Notifier
	notFull  module.Notifier
	closing  chan struct{}
}

// New creates a queue. The default capacity is 1024.
func New[T any](opts ...Option) (*Queue[T], error) {
	cfg := &config{
		capacity: 1024,
		observer: func(int) {},
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply queue option: %w", err)
		}
	}
	return &Queue[T]{
		capacity: cfg.capacity,
		observer: cfg.observer,
		notEmpty: module.NewNotifier(),
		notFull:  module.NewNotifier(),
		closing:  make(chan struct{}),
	}, nil
}

// Push appends element without blocking. It returns ErrFull when the queue is
// at capacity and ErrClosed after Close.
func (q *Queue[T]) Push(element T) error {
	length, err := q.push(element)
	if err != nil {
		return err
	}
	q.observer(length)
	q.notEmpty.Notify()
	return nil
}

func (q *Queue[T]) push(element T) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}
	if q.elements.Len() >= q.capacity {
		return 0, ErrFull
	}
	q.elements.PushBack(element)
	return q.elements.Len(), nil
}

// PushWait appends element, waiting up to timeout for free capacity.
// It returns ErrFull when the timeout expires, ErrClosed when the queue is
// closed while waiting, or the context error.
func (q *Queue[T]) PushWait(ctx context.Context, element T, timeout time.Duration) error {
	err := q.Push(element)
	if !errors.Is(err, ErrFull) || timeout <= 0 {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notFull.Channel():
		case <-q.closing:
			return ErrClosed
		case <-timer.C:
			return ErrFull
		case <-ctx.Done():
			return ctx.Err()
		}

		err = q.Push(element)
		if !errors.Is(err, ErrFull) {
			return err
		}
	}
}

// Pop removes and returns the head of the queue, blocking until an element is
// available. Once the queue is closed and empty it returns ErrClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		element, length, ok, closed := q.pop()
		if ok {
			q.observer(length)
			q.notFull.Notify()
			if length > 0 {
				// pass the wake-up on to the next waiting consumer
				q.notEmpty.Notify()
			}
			return element, nil
		}
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-q.notEmpty.Channel():
		case <-q.closing:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop removes the head of the queue without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	element, length, ok, _ := q.pop()
	if ok {
		q.observer(length)
		q.notFull.Notify()
	}
	return element, ok
}

func (q *Queue[T]) pop() (T, int, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	head, ok := q.elements.PopFront()
	if !ok {
		return zero, 0, false, q.closed
	}
	return head.(T), q.elements.Len(), true, q.closed
}

// Close stops the queue from accepting new elements and wakes up all
// blocked producers and consumers. Calling Close more than once is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.closing)
}

// Drain closes the queue and removes all remaining elements, in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.Close()

	q.mu.Lock()
	remaining := make([]T, 0, q.elements.Len())
	for {
		head, ok := q.elements.PopFront()
		if !ok {
			break
		}
		remaining = append(remaining, head.(T))
	}
	q.mu.Unlock()

	q.observer(0)
	return remaining
}

// Len returns the current number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.elements.Len()
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
