// Package muxer provides muxer combinators.
package muxer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/internal/queue"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

const (
	DefaultSecondaryQueueSize = 256
	DefaultDrainTimeout       = 5 * time.Second
)

// ErrSecondaryStalled is the reason of detaching a secondary muxer which
// did not drain its queue in time on Finalize.
var ErrSecondaryStalled = errors.New("the muxer did not keep up and was given up on")

// Tee writes every packet to the primary muxer and to the secondary ones.
//
// Only the primary muxer decides the outcome. Every secondary muxer is fed
// through its own drop-oldest queue by its own goroutine, so a slow or
// stuck secondary loses packets instead of delaying the primary. A failing
// secondary muxer is logged, aborted and detached.
type Tee struct {
	Primary screenrecorder.Muxer

	// QueueSize is the capacity of the queue of each secondary added after it is set.
	QueueSize int

	// DrainTimeout is how long Finalize waits for the secondaries to write
	// out their queues.
	DrainTimeout time.Duration

	locker      xsync.Mutex
	secondaries []*secondary
}

type secondary struct {
	name  string
	muxer screenrecorder.Muxer
	queue *queue.Bounded[screenrecorder.EncodedPacket]
	done  chan struct{}

	locker  xsync.Mutex
	err     error
	stopped bool
}

var _ screenrecorder.Muxer = (*Tee)(nil)

func NewTee(primary screenrecorder.Muxer) *Tee {
	return &Tee{
		Primary:      primary,
		QueueSize:    DefaultSecondaryQueueSize,
		DrainTimeout: DefaultDrainTimeout,
	}
}

// AddSecondary attaches a best-effort muxer.
func (t *Tee) AddSecondary(ctx context.Context, name string, m screenrecorder.Muxer) {
	s := &secondary{
		name:  name,
		muxer: m,
		queue: queue.NewBounded[screenrecorder.EncodedPacket](t.QueueSize),
		done:  make(chan struct{}),
	}
	t.locker.Do(ctx, func() {
		t.secondaries = append(t.secondaries, s)
	})
	observability.Go(xcontext.DetachDone(ctx), func(ctx context.Context) {
		defer close(s.done)
		s.serve(ctx)
	})
}

func (s *secondary) serve(ctx context.Context) {
	for {
		pkt, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		if !s.isActive(ctx) {
			return
		}
		if err := s.muxer.WritePacket(ctx, pkt); err != nil {
			s.detach(ctx, err)
			return
		}
	}
}

func (s *secondary) isActive(ctx context.Context) bool {
	return xsync.DoR1(ctx, &s.locker, func() bool {
		return s.err == nil && !s.stopped
	})
}

func (s *secondary) getErr(ctx context.Context) error {
	return xsync.DoR1(ctx, &s.locker, func() error {
		return s.err
	})
}

// fail records the error; it returns false if the secondary was already
// failed or stopped.
func (s *secondary) fail(ctx context.Context, err error) bool {
	ok := xsync.DoR1(ctx, &s.locker, func() bool {
		if s.err != nil || s.stopped {
			return false
		}
		s.err = err
		return true
	})
	if !ok {
		return false
	}
	_ = s.queue.Close()
	logger.Warnf(ctx, "detaching muxer '%s': %v", s.name, err)
	errmon.ObserveErrorCtx(ctx, fmt.Errorf("muxer '%s' failed: %w", s.name, err))
	return true
}

func (s *secondary) detach(ctx context.Context, err error) {
	if !s.fail(ctx, err) {
		return
	}
	if abortErr := s.muxer.Abort(ctx); abortErr != nil {
		logger.Errorf(ctx, "unable to abort muxer '%s': %v", s.name, abortErr)
	}
}

// stop forbids any further writes; it returns false if the secondary was
// already failed or stopped.
func (s *secondary) stop(ctx context.Context) bool {
	ok := xsync.DoR1(ctx, &s.locker, func() bool {
		if s.err != nil || s.stopped {
			return false
		}
		s.stopped = true
		return true
	})
	_ = s.queue.Close()
	return ok
}

func (t *Tee) getSecondaries(ctx context.Context) []*secondary {
	return xsync.DoR1(ctx, &t.locker, func() []*secondary {
		return append([]*secondary(nil), t.secondaries...)
	})
}

// Detached returns the errors which caused secondary muxers to be detached.
func (t *Tee) Detached(ctx context.Context) map[string]error {
	result := map[string]error{}
	for _, s := range t.getSecondaries(ctx) {
		if err := s.getErr(ctx); err != nil {
			result[s.name] = err
		}
	}
	return result
}

// Dropped returns how many packets were dropped per secondary muxer
// because it did not keep up.
func (t *Tee) Dropped(ctx context.Context) map[string]uint64 {
	result := map[string]uint64{}
	for _, s := range t.getSecondaries(ctx) {
		result[s.name] = s.queue.Stats.Dropped.Load()
	}
	return result
}

func (t *Tee) WritePacket(ctx context.Context, pkt screenrecorder.EncodedPacket) error {
	return xsync.DoR1(ctx, &t.locker, func() error {
		if err := t.Primary.WritePacket(ctx, pkt); err != nil {
			return err
		}
		for _, s := range t.secondaries {
			if _, dropped, err := s.queue.PushDropOldest(pkt); err == nil && dropped {
				logger.Tracef(ctx, "muxer '%s' does not keep up, dropped a packet", s.name)
			}
		}
		return nil
	})
}

// Finalize lets the secondaries write out their queues for up to
// DrainTimeout, finalizes those which did, and then finalizes the primary.
func (t *Tee) Finalize(ctx context.Context) (*screenrecorder.ContainerInfo, error) {
	secondaries := t.getSecondaries(ctx)
	for _, s := range secondaries {
		_ = s.queue.Close()
	}

	drainCtx := ctx
	if t.DrainTimeout > 0 {
		var cancelFn context.CancelFunc
		drainCtx, cancelFn = context.WithTimeout(ctx, t.DrainTimeout)
		defer cancelFn()
	}
	for _, s := range secondaries {
		select {
		case <-s.done:
			continue
		case <-drainCtx.Done():
		}
		// the worker is stuck in a write, Abort is what may unblock it
		if s.fail(ctx, ErrSecondaryStalled) {
			observability.Go(ctx, func(ctx context.Context) {
				if err := s.muxer.Abort(ctx); err != nil {
					logger.Errorf(ctx, "unable to abort muxer '%s': %v", s.name, err)
				}
			})
		}
	}

	for _, s := range secondaries {
		if !s.stop(ctx) {
			continue
		}
		if _, err := s.muxer.Finalize(ctx); err != nil {
			logger.Warnf(ctx, "unable to finalize muxer '%s': %v", s.name, err)
			s.locker.Do(ctx, func() {
				s.err = err
			})
		}
	}

	return xsync.DoR2(ctx, &t.locker, func() (*screenrecorder.ContainerInfo, error) {
		return t.Primary.Finalize(ctx)
	})
}

func (t *Tee) Abort(ctx context.Context) error {
	var result *multierror.Error
	for _, s := range t.getSecondaries(ctx) {
		if !s.stop(ctx) {
			continue
		}
		if err := s.muxer.Abort(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to abort muxer '%s': %w", s.name, err))
		}
	}
	err := xsync.DoR1(ctx, &t.locker, func() error {
		return t.Primary.Abort(ctx)
	})
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to abort the primary muxer: %w", err))
	}
	return result.ErrorOrNil()
}

// TeeFactory opens the primary muxer and every secondary one; secondaries
// failing to open are skipped.
type TeeFactory struct {
	Primary     screenrecorder.MuxerFactory
	Secondaries map[string]screenrecorder.MuxerFactory

	// QueueSize and DrainTimeout are passed to the Tee; zero values mean defaults.
	QueueSize    int
	DrainTimeout time.Duration
}

var _ screenrecorder.MuxerFactory = (*TeeFactory)(nil)

func (f *TeeFactory) OpenMuxer(
	ctx context.Context,
	path string,
	tracks []screenrecorder.TrackDescriptor,
) (screenrecorder.Muxer, error) {
	primary, err := f.Primary.OpenMuxer(ctx, path, tracks)
	if err != nil {
		return nil, err
	}
	if len(f.Secondaries) == 0 {
		return primary, nil
	}
	tee := NewTee(primary)
	if f.QueueSize > 0 {
		tee.QueueSize = f.QueueSize
	}
	if f.DrainTimeout > 0 {
		tee.DrainTimeout = f.DrainTimeout
	}
	for name, factory := range f.Secondaries {
		m, err := factory.OpenMuxer(ctx, path, tracks)
		if err != nil {
			logger.Warnf(ctx, "unable to open muxer '%s', skipping it: %v", name, err)
			continue
		}
		tee.AddSecondary(ctx, name, m)
	}
	return tee, nil
}
