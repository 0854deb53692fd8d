package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/internal"
)

// Stop ends the recording: capturing stops, everything already captured
// is drained through the processors and encoders, and the container is
// finalized. It is safe to call Stop multiple times (and concurrently);
// every call returns the same result.
//
// The returned error is the fatal error which made the session fail, if any;
// the summary is returned in either case.
func (s *Session) Stop(ctx context.Context) (*screenrecorder.Summary, error) {
	s.stopOnce.Do(func() {
		s.summary, s.summaryErr = s.stop(ctx)
		close(s.done)
	})
	<-s.done
	return s.summary, s.summaryErr
}

func (s *Session) stop(ctx context.Context) (_ret *screenrecorder.Summary, _err error) {
	logger.Debugf(ctx, "stop(%s)", s.id)
	defer func() { logger.Debugf(ctx, "/stop(%s): %v", s.id, _err) }()

	s.setState(ctx, screenrecorder.SessionStateStopping, s.failure())
	s.clock.Stop()
	s.captureCancel()

	joinTimeout := s.config.JoinTimeout
	if err := s.captureWorkers.join(ctx, joinTimeout); err != nil {
		s.fail(ctx, err)
	}

	if s.videoQueue != nil {
		s.videoQueue.Close()
	}
	if s.audioQueue != nil {
		s.audioQueue.Close()
	}
	if err := s.processWorkers.join(ctx, joinTimeout); err != nil {
		s.fail(ctx, err)
	}

	s.drainEncoders(ctx, joinTimeout)
	if err := s.encodeWorkers.join(ctx, joinTimeout); err != nil {
		s.fail(ctx, err)
	}

	close(s.muxStop)
	select {
	case <-s.muxDone:
	case <-time.After(joinTimeout):
		s.fail(ctx, screenrecorder.ResourceError{
			Resource: "mux worker",
			Err:      fmt.Errorf("did not exit within %v", joinTimeout),
		})
	}

	summary := &screenrecorder.Summary{}
	var teardownErr *multierror.Error
	if s.muxError.Load() {
		if err := s.muxer.Abort(ctx); err != nil {
			teardownErr = multierror.Append(teardownErr, fmt.Errorf("unable to abort the muxer: %w", err))
		}
	} else {
		info, err := s.muxer.Finalize(ctx)
		if err != nil {
			var muxErr screenrecorder.MuxError
			if !errors.As(err, &muxErr) {
				err = screenrecorder.MuxError{Err: err}
			}
			s.fail(ctx, err)
			if err := s.muxer.Abort(ctx); err != nil {
				teardownErr = multierror.Append(teardownErr, fmt.Errorf("unable to abort the muxer: %w", err))
			}
		} else {
			summary.Container = info
			summary.OutputValid = true
		}
	}

	if err := s.closer.Close(); err != nil {
		teardownErr = multierror.Append(teardownErr, err)
	}
	if err := teardownErr.ErrorOrNil(); err != nil {
		logger.Warnf(ctx, "errors during the teardown of session %s: %v", s.id, err)
	}

	fatal := s.failure()
	final := screenrecorder.SessionStateStopped
	if fatal != nil {
		final = screenrecorder.SessionStateFailed
		summary.Error = fatal.Error()
	}
	summary.Status = s.Status()
	summary.State = final
	internal.Assert(ctx, summary.OutputValid == (summary.Container != nil))

	s.observer.OnStatus(summary.Status)
	s.setState(ctx, final, fatal)
	return summary, fatal
}

// drainEncoders flushes both encoders; their flushed packets still reach the muxer.
func (s *Session) drainEncoders(ctx context.Context, timeout time.Duration) {
	drainCtx, cancelFn := context.WithTimeout(s.pipelineCtx, timeout)
	defer cancelFn()

	type drainer interface {
		Drain(ctx context.Context) ([]screenrecorder.EncodedPacket, error)
	}
	for _, item := range []struct {
		name string
		enc  drainer
		skip bool
	}{
		{name: "video encoder", enc: s.video, skip: s.video == nil},
		{name: "audio encoder", enc: s.audio, skip: s.audio == nil},
	} {
		if item.skip {
			continue
		}
		pkts, err := item.enc.Drain(drainCtx)
		logger.Debugf(ctx, "%s flushed %d packets", item.name, len(pkts))
		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded):
			s.fail(ctx, screenrecorder.ResourceError{
				Resource: item.name,
				Err:      fmt.Errorf("did not drain within %v: %w", timeout, err),
			})
		default:
			s.fail(ctx, err)
		}
	}
}
