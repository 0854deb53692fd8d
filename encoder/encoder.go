// Package encoder sequences calls into native encoder transforms.
//
// Every adapter owns a bounded input queue and is served by exactly one
// worker (Serve). Packets are delivered to a PacketSink in submission order.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/internal/queue"
)

// MaxFlushIterations limits how many times Drain calls Flush of a transform
// that keeps returning packets.
const MaxFlushIterations = 1024

// PacketSink receives the encoded packets; an error is fatal for the adapter.
type PacketSink func(ctx context.Context, pkt screenrecorder.EncodedPacket) error

type Stats struct {
	Submitted       atomic.Uint64
	Dropped         atomic.Uint64
	SilenceInserted atomic.Uint64
	Encoded         atomic.Uint64
	Retries         atomic.Uint64
	Packets         atomic.Uint64
	Reordered       atomic.Uint64
	MaxQueueDepth   atomic.Uint64
}

type StatsSnapshot struct {
	Submitted       uint64
	Dropped         uint64
	SilenceInserted uint64
	Encoded         uint64
	Retries         uint64
	Packets         uint64
	Reordered       uint64
	MaxQueueDepth   uint64
}

func (s *Stats) Convert() StatsSnapshot {
	return StatsSnapshot{
		Submitted:       s.Submitted.Load(),
		Dropped:         s.Dropped.Load(),
		SilenceInserted: s.SilenceInserted.Load(),
		Encoded:         s.Encoded.Load(),
		Retries:         s.Retries.Load(),
		Packets:         s.Packets.Load(),
		Reordered:       s.Reordered.Load(),
		MaxQueueDepth:   s.MaxQueueDepth.Load(),
	}
}

func (s *Stats) observeDepth(depth int) {
	for {
		cur := s.MaxQueueDepth.Load()
		if uint64(depth) <= cur || s.MaxQueueDepth.CompareAndSwap(cur, uint64(depth)) {
			return
		}
	}
}

type transform[T any] interface {
	Encode(ctx context.Context, in T) ([]screenrecorder.EncodedPacket, error)
	Flush(ctx context.Context) ([]screenrecorder.EncodedPacket, error)
	Close() error
	TrackDescriptor() screenrecorder.TrackDescriptor
}

type adapter[T any] struct {
	Stats Stats

	kind      screenrecorder.TrackKind
	transform transform[T]
	queue     *queue.Bounded[T]
	sink      PacketSink
	guard     dtsGuard

	serving   atomic.Bool
	served    chan struct{}
	drainOnce sync.Once
	drained   []screenrecorder.EncodedPacket
	drainErr  error
	closeOnce sync.Once
	closeErr  error
}

func newAdapter[T any](
	kind screenrecorder.TrackKind,
	t transform[T],
	queueSize int,
	sink PacketSink,
) *adapter[T] {
	return &adapter[T]{
		kind:      kind,
		transform: t,
		queue:     queue.NewBounded[T](queueSize),
		sink:      sink,
		served:    make(chan struct{}),
	}
}

func (a *adapter[T]) TrackDescriptor() screenrecorder.TrackDescriptor {
	return a.transform.TrackDescriptor()
}

// QueueLen returns the amount of inputs waiting to be encoded.
func (a *adapter[T]) QueueLen() int {
	return a.queue.Len()
}

func (a *adapter[T]) QueueCap() int {
	return a.queue.Cap()
}

func (a *adapter[T]) isServing() bool {
	return a.serving.Load()
}

// Serve is the worker loop: it encodes queued inputs until the queue is
// closed and drained (returns nil) or a fatal error happens.
// It must be called at most once.
func (a *adapter[T]) Serve(ctx context.Context) (_err error) {
	if !a.serving.CompareAndSwap(false, true) {
		return fmt.Errorf("the %s encoder is already served", a.kind)
	}
	logger.Debugf(ctx, "Serve[%s]", a.kind)
	defer func() { logger.Debugf(ctx, "/Serve[%s]: %v", a.kind, _err) }()
	defer close(a.served)

	for {
		in, err := a.queue.Pop(ctx)
		switch {
		case err == nil:
		case errors.Is(err, screenrecorder.ErrClosed):
			return nil
		default:
			return err
		}

		pkts, err := a.encode(ctx, in)
		if err != nil {
			return err
		}
		if err := a.deliver(ctx, pkts); err != nil {
			return err
		}
	}
}

// encode submits one input to the transform retrying once on failure.
func (a *adapter[T]) encode(ctx context.Context, in T) ([]screenrecorder.EncodedPacket, error) {
	pkts, err := a.transform.Encode(ctx, in)
	if err == nil {
		a.Stats.Encoded.Add(1)
		return pkts, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logger.Warnf(ctx, "unable to encode %s, retrying: %v", a.kind, err)
	a.Stats.Retries.Add(1)

	pkts, err = a.transform.Encode(ctx, in)
	if err != nil {
		return nil, screenrecorder.EncodeError{Track: a.kind, Err: err}
	}
	a.Stats.Encoded.Add(1)
	return pkts, nil
}

func (a *adapter[T]) deliver(ctx context.Context, pkts []screenrecorder.EncodedPacket) error {
	for _, pkt := range pkts {
		if a.guard.fix(&pkt) {
			logger.Warnf(ctx, "%s packet DTS went backwards, clamped to %v", a.kind, pkt.DTS)
			a.Stats.Reordered.Add(1)
		}
		a.Stats.Packets.Add(1)
		if err := a.sink(ctx, pkt); err != nil {
			return err
		}
	}
	return nil
}

// Drain stops accepting inputs, waits for the worker to finish the queued
// ones and then flushes the transform until it produces nothing more.
//
// The flushed packets are delivered to the sink and also returned.
// Inputs left in the queue by a failed worker are counted as dropped.
// Only the first call does the work; others return the same result.
func (a *adapter[T]) Drain(ctx context.Context) ([]screenrecorder.EncodedPacket, error) {
	a.drainOnce.Do(func() {
		a.drained, a.drainErr = a.drain(ctx)
	})
	return a.drained, a.drainErr
}

func (a *adapter[T]) drain(ctx context.Context) (_ret []screenrecorder.EncodedPacket, _err error) {
	logger.Debugf(ctx, "Drain[%s]", a.kind)
	defer func() { logger.Debugf(ctx, "/Drain[%s]: %d packets, %v", a.kind, len(_ret), _err) }()

	a.queue.Close()
	if a.isServing() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.served:
		}
	}
	for {
		_, err := a.queue.Pop(ctx)
		if err != nil {
			break
		}
		a.Stats.Dropped.Add(1)
	}

	var result []screenrecorder.EncodedPacket
	for i := 0; ; i++ {
		if i >= MaxFlushIterations {
			return result, screenrecorder.EncodeError{
				Track: a.kind,
				Err:   fmt.Errorf("the transform did not finish flushing after %d iterations", i),
			}
		}
		pkts, err := a.transform.Flush(ctx)
		if err != nil {
			return result, screenrecorder.EncodeError{Track: a.kind, Err: fmt.Errorf("unable to flush: %w", err)}
		}
		if len(pkts) == 0 {
			return result, nil
		}
		if err := a.deliver(ctx, pkts); err != nil {
			return result, err
		}
		result = append(result, pkts...)
	}
}

// Close releases the transform.
func (a *adapter[T]) Close() error {
	a.closeOnce.Do(func() {
		a.queue.Close()
		a.closeErr = a.transform.Close()
	})
	return a.closeErr
}

// dtsGuard keeps DTS of a track non-decreasing.
type dtsGuard struct {
	initialized bool
	last        screenrecorder.Timestamp
}

func (g *dtsGuard) fix(pkt *screenrecorder.EncodedPacket) bool {
	if !g.initialized {
		g.initialized = true
		g.last = pkt.DTS
		return false
	}
	if pkt.DTS >= g.last {
		g.last = pkt.DTS
		return false
	}
	pkt.DTS = g.last
	if pkt.PTS < pkt.DTS {
		pkt.PTS = pkt.DTS
	}
	return true
}
