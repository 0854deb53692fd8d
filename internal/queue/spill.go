package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xaionaro-go/screenrecorder"
)

// Spill is a producer side of a Bounded queue which never exceeds its
// capacity and never blocks longer than a timeout: an item which does not
// fit in time is converted into a marker (Marker) and held aside, the
// markers of the following items which do not fit are merged into it
// (Merge), and the held marker enters the queue before the next item.
type Spill[T any] struct {
	Queue  *Bounded[T]
	Marker func(item T) T
	Merge  func(pending *T, marker T) bool

	locker     sync.Mutex
	pending    T
	hasPending bool
}

func NewSpill[T any](
	q *Bounded[T],
	marker func(item T) T,
	merge func(pending *T, marker T) bool,
) *Spill[T] {
	return &Spill[T]{
		Queue:  q,
		Marker: marker,
		Merge:  merge,
	}
}

// Push queues the item waiting up to timeout for a free slot. It returns
// true if the item was substituted with a marker.
func (s *Spill[T]) Push(ctx context.Context, item T, timeout time.Duration) (bool, error) {
	s.locker.Lock()
	defer s.locker.Unlock()

	if s.hasPending {
		err := s.Queue.PushWait(ctx, s.pending, timeout)
		switch {
		case err == nil:
			s.clearPendingLocked()
		case errors.Is(err, screenrecorder.ErrTimeout):
			s.holdLocked(s.Marker(item))
			return true, nil
		default:
			return false, err
		}
	}

	err := s.Queue.PushWait(ctx, item, timeout)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, screenrecorder.ErrTimeout):
		s.holdLocked(s.Marker(item))
		return true, nil
	default:
		return false, err
	}
}

func (s *Spill[T]) holdLocked(marker T) {
	if !s.hasPending {
		s.pending, s.hasPending = marker, true
		return
	}
	if s.Merge(&s.pending, marker) {
		return
	}
	// unmergeable markers (e.g. a format change); the only case the queue
	// goes over its capacity, by one
	_ = s.Queue.PushForce(s.pending, nil)
	s.pending = marker
}

func (s *Spill[T]) clearPendingLocked() {
	var zeroValue T
	s.pending, s.hasPending = zeroValue, false
}

// HasPending reports whether a marker is held aside.
func (s *Spill[T]) HasPending() bool {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.hasPending
}

// Flush queues the held marker (if any). If force is set it is queued
// regardless of the capacity, otherwise Flush waits for a free slot until
// ctx is done or the queue is closed.
func (s *Spill[T]) Flush(ctx context.Context, force bool) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if !s.hasPending {
		return nil
	}
	var err error
	if force {
		err = s.Queue.PushForce(s.pending, nil)
	} else {
		for {
			err = s.Queue.PushWait(ctx, s.pending, time.Second)
			if !errors.Is(err, screenrecorder.ErrTimeout) {
				break
			}
		}
	}
	if err != nil {
		return err
	}
	s.clearPendingLocked()
	return nil
}
