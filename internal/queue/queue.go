// Package queue provides the bounded queues connecting pipeline stages.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xaionaro-go/screenrecorder"
)

// Bounded is a FIFO queue with a capacity.
//
// Producers choose the overflow policy per call: PushDropOldest evicts the
// oldest item, PushWait blocks up to a timeout, PushForce ignores the
// capacity (meant for tiny marker items).
type Bounded[T any] struct {
	locker   sync.Mutex
	items    []T
	capacity int
	closed   bool

	// replaced (closed and re-created) on every change of the queue
	changed chan struct{}

	Stats Stats
}

type Stats struct {
	Pushed  atomic.Uint64
	Dropped atomic.Uint64
	Forced  atomic.Uint64
	Popped  atomic.Uint64
}

type StatsSnapshot struct {
	Pushed  uint64
	Dropped uint64
	Forced  uint64
	Popped  uint64
}

func (s *Stats) Convert() StatsSnapshot {
	return StatsSnapshot{
		Pushed:  s.Pushed.Load(),
		Dropped: s.Dropped.Load(),
		Forced:  s.Forced.Load(),
		Popped:  s.Popped.Load(),
	}
}

func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

func (q *Bounded[T]) Cap() int {
	return q.capacity
}

func (q *Bounded[T]) Len() int {
	q.locker.Lock()
	defer q.locker.Unlock()
	return len(q.items)
}

// notifyLocked wakes up everybody waiting for a change; must be called with the lock held.
func (q *Bounded[T]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// PushDropOldest appends the item evicting the oldest one if the queue is full.
// It returns ErrClosed if the queue is closed.
func (q *Bounded[T]) PushDropOldest(item T) (_evicted T, _dropped bool, _err error) {
	q.locker.Lock()
	defer q.locker.Unlock()
	if q.closed {
		return _evicted, false, screenrecorder.ErrClosed
	}
	if len(q.items) >= q.capacity {
		_evicted, _dropped = q.items[0], true
		var zeroValue T
		q.items[0] = zeroValue
		q.items = q.items[1:]
		q.Stats.Dropped.Add(1)
	}
	q.items = append(q.items, item)
	q.Stats.Pushed.Add(1)
	q.notifyLocked()
	return
}

// PushWait appends the item, waiting up to timeout for a free slot.
// It returns ErrTimeout if no slot got free in time.
func (q *Bounded[T]) PushWait(ctx context.Context, item T, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		q.locker.Lock()
		if q.closed {
			q.locker.Unlock()
			return screenrecorder.ErrClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.Stats.Pushed.Add(1)
			q.notifyLocked()
			q.locker.Unlock()
			return nil
		}
		if timeout <= 0 {
			q.locker.Unlock()
			return screenrecorder.ErrTimeout
		}
		changed := q.changed
		q.locker.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return screenrecorder.ErrTimeout
		case <-changed:
		}
	}
}

// PushForce appends the item regardless of the capacity. If merge is not nil
// and the queue is not empty, merge is first given a chance to fold the item
// into the last queued one (returning true if it did).
func (q *Bounded[T]) PushForce(item T, merge func(last *T, item T) bool) error {
	q.locker.Lock()
	defer q.locker.Unlock()
	if q.closed {
		return screenrecorder.ErrClosed
	}
	q.Stats.Forced.Add(1)
	if merge != nil && len(q.items) > 0 {
		if merge(&q.items[len(q.items)-1], item) {
			q.notifyLocked()
			return nil
		}
	}
	q.items = append(q.items, item)
	q.notifyLocked()
	return nil
}

// Pop returns the oldest item, waiting until one is available.
// After Close it keeps returning the remaining items and then ErrClosed.
func (q *Bounded[T]) Pop(ctx context.Context) (T, error) {
	for {
		item, ok, changed, err := q.tryPop()
		if ok || err != nil {
			return item, err
		}
		select {
		case <-ctx.Done():
			var zeroValue T
			return zeroValue, ctx.Err()
		case <-changed:
		}
	}
}

// PopTimeout is Pop bounded by a timeout; it returns ErrTimeout if nothing arrived.
func (q *Bounded[T]) PopTimeout(ctx context.Context, timeout time.Duration) (T, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		item, ok, changed, err := q.tryPop()
		if ok || err != nil {
			return item, err
		}
		select {
		case <-ctx.Done():
			var zeroValue T
			return zeroValue, ctx.Err()
		case <-t.C:
			var zeroValue T
			return zeroValue, screenrecorder.ErrTimeout
		case <-changed:
		}
	}
}

func (q *Bounded[T]) tryPop() (_item T, _ok bool, _changed <-chan struct{}, _err error) {
	q.locker.Lock()
	defer q.locker.Unlock()
	if len(q.items) == 0 {
		if q.closed {
			return _item, false, nil, screenrecorder.ErrClosed
		}
		return _item, false, q.changed, nil
	}
	_item = q.items[0]
	var zeroValue T
	q.items[0] = zeroValue
	q.items = q.items[1:]
	q.Stats.Popped.Add(1)
	q.notifyLocked()
	return _item, true, nil, nil
}

// Close forbids further pushes; already queued items can still be popped.
// It is safe to call Close multiple times.
func (q *Bounded[T]) Close() error {
	q.locker.Lock()
	defer q.locker.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.notifyLocked()
	return nil
}

func (q *Bounded[T]) IsClosed() bool {
	q.locker.Lock()
	defer q.locker.Unlock()
	return q.closed
}
