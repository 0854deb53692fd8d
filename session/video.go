package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/cursor"
	"github.com/xaionaro-go/screenrecorder/internal/timeline"
)

// captureVideo pulls frames until ctx is done; the source returning
// ErrClosed is fatal.
func (s *Session) captureVideo(ctx context.Context) error {
	retimer := timeline.NewRetimer(s.clock, 0)
	src := s.deps.FrameSource
	for s.waitUnpaused(ctx) {
		frame, err := src.NextFrame(ctx, s.config.SourceTimeout)
		switch {
		case err == nil:
		case errors.Is(err, screenrecorder.ErrTimeout):
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, screenrecorder.ErrClosed):
			return screenrecorder.ResourceError{Resource: "frame source", Err: err}
		default:
			return screenrecorder.ResourceError{Resource: "frame source", Err: fmt.Errorf("unable to capture a frame: %w", err)}
		}
		if frame == nil {
			continue
		}
		if s.clock.IsPaused() {
			logger.Tracef(ctx, "discarding %s captured while pausing", frame)
			continue
		}

		frame.Timestamp = retimer.Retime(frame.Timestamp)
		s.Stats.VideoFramesCaptured.Add(1)
		evicted, dropped, err := s.videoQueue.PushDropOldest(frame)
		if err != nil {
			s.Stats.VideoFramesDropped.Add(1)
			return nil
		}
		if dropped {
			s.Stats.VideoFramesDropped.Add(1)
			logger.Tracef(ctx, "the processing queue is full, dropped %s", evicted)
		}
	}
	return nil
}

// processVideo converts the captured frames and submits them to the
// encoder until the capture queue is closed and empty.
func (s *Session) processVideo(ctx context.Context) error {
	overlayEnabled := s.config.Video.CursorOverlay && s.tracker != nil
	for {
		frame, err := s.videoQueue.Pop(ctx)
		switch {
		case err == nil:
		case errors.Is(err, screenrecorder.ErrClosed):
			return nil
		default:
			return err
		}

		var overlay *cursor.Snapshot
		if overlayEnabled {
			snapshot := s.tracker.Sample()
			overlay = &snapshot
		}

		out, err := s.videoProcessor.Process(frame, overlay)
		if err != nil {
			var formatErr screenrecorder.FormatError
			if !errors.As(err, &formatErr) {
				return fmt.Errorf("unable to process %s: %w", frame, err)
			}
			logger.Warnf(ctx, "skipping %s: %v", frame, err)
			s.Stats.VideoFramesDropped.Add(1)
			continue
		}

		err = s.video.Submit(ctx, out)
		switch {
		case err == nil:
		case errors.Is(err, screenrecorder.ErrClosed):
			s.Stats.VideoFramesDropped.Add(1)
		default:
			return err
		}
	}
}

func (s *Session) trackCursor(ctx context.Context) error {
	err := s.tracker.Run(ctx, s.deps.CursorSource)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		logger.Warnf(ctx, "cursor tracking stopped, the cursor stays where it was last seen")
		errmon.ObserveErrorCtx(ctx, fmt.Errorf("unable to track the cursor: %w", err))
	}
	return nil
}
