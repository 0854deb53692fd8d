package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/audioproc"
	"github.com/xaionaro-go/screenrecorder/internal/queue"
	"github.com/xaionaro-go/screenrecorder/internal/timeline"
)

// audioItem is an entry of the queue shared by all audio capture workers.
type audioItem struct {
	sourceID   screenrecorder.AudioSourceID
	sourceKind screenrecorder.AudioSourceKind

	// block is the captured audio; nil for markers.
	block *screenrecorder.AudioBlock

	// silence marks a block which did not fit into the queue in time.
	silence     time.Duration
	silenceAt   screenrecorder.Timestamp
	silenceRate uint32

	// closed marks the end of the source.
	closed bool
}

// silenceMarker converts a block which did not fit into the queue into a
// silence marker of the same duration.
func silenceMarker(item audioItem) audioItem {
	if item.block == nil {
		return item
	}
	return audioItem{
		sourceID:    item.sourceID,
		sourceKind:  item.sourceKind,
		silence:     item.block.Duration(),
		silenceAt:   item.block.Timestamp,
		silenceRate: item.block.SampleRate,
	}
}

// mergeSilence folds adjacent silence markers of the same source.
func mergeSilence(last *audioItem, item audioItem) bool {
	if last.silence <= 0 || item.silence <= 0 || last.sourceID != item.sourceID || last.silenceRate != item.silenceRate {
		return false
	}
	if item.silenceAt < last.silenceAt {
		return false
	}
	last.silence = max(last.silence, item.silenceAt+item.silence-last.silenceAt)
	return true
}

// captureAudio pulls blocks of a single source until ctx is done. A closed
// source is silent for the rest of the session.
func (s *Session) captureAudio(
	ctx context.Context,
	cfg screenrecorder.AudioSourceConfig,
	src screenrecorder.AudioSource,
) error {
	retimer := timeline.NewRetimer(s.clock, 0)
	spill := queue.NewSpill(s.audioQueue, silenceMarker, mergeSilence)
	for s.waitUnpaused(ctx) {
		block, err := src.NextBlock(ctx, s.config.SourceTimeout)
		switch {
		case err == nil:
		case errors.Is(err, screenrecorder.ErrTimeout):
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, screenrecorder.ErrClosed):
			logger.Warnf(ctx, "audio source '%s' is closed, it is silent from now on", cfg.ID)
			if err := spill.Flush(ctx, true); err != nil && !errors.Is(err, screenrecorder.ErrClosed) {
				return err
			}
			err := s.audioQueue.PushForce(audioItem{sourceID: cfg.ID, sourceKind: cfg.Kind, closed: true}, nil)
			if err != nil && !errors.Is(err, screenrecorder.ErrClosed) {
				return err
			}
			return nil
		default:
			return screenrecorder.ResourceError{
				Resource: fmt.Sprintf("audio source '%s'", cfg.ID),
				Err:      fmt.Errorf("unable to capture a block: %w", err),
			}
		}
		if block == nil {
			continue
		}
		if s.clock.IsPaused() {
			logger.Tracef(ctx, "discarding %s captured while pausing", block)
			continue
		}

		block.SourceID = cfg.ID
		if block.SourceKind == screenrecorder.AudioSourceKindUndefined {
			block.SourceKind = cfg.Kind
		}
		block.Timestamp = retimer.Retime(block.Timestamp)
		s.Stats.AudioBlocksCaptured.Add(1)

		substituted, err := spill.Push(ctx, audioItem{sourceID: cfg.ID, sourceKind: block.SourceKind, block: block}, s.config.Audio.PushTimeout)
		switch {
		case err == nil:
			if substituted {
				logger.Debugf(ctx, "the audio queue is full for %v, substituting %s with silence", s.config.Audio.PushTimeout, block)
			}
		case errors.Is(err, screenrecorder.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
	return nil
}

// processAudio aligns, mixes and submits the audio of all sources. When
// the audio timeline lags behind the clock by more than the stall
// tolerance, the gap is filled with silence; on stop the timeline is
// padded up to the recording duration.
func (s *Session) processAudio(ctx context.Context) error {
	for {
		item, err := s.audioQueue.PopTimeout(ctx, s.aligner.Window)
		switch {
		case err == nil:
			s.alignAudio(ctx, item)
		case errors.Is(err, screenrecorder.ErrTimeout):
		case errors.Is(err, screenrecorder.ErrClosed):
			return s.finishAudio(ctx)
		default:
			return err
		}

		for {
			ok, err := s.popAudio(ctx, false)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
		}
		if err := s.catchUpAudio(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) alignAudio(ctx context.Context, item audioItem) {
	switch {
	case item.closed:
		s.aligner.CloseSource(item.sourceID)
	case item.block != nil:
		err := s.aligner.Push(item.block)
		if err == nil {
			return
		}
		logger.Warnf(ctx, "unable to align %s, substituting with silence: %v", item.block, err)
		if err := s.aligner.PushSilence(item.sourceID, item.sourceKind, item.block.SampleRate, item.block.Timestamp, item.block.Duration()); err != nil {
			logger.Errorf(ctx, "unable to substitute %s with silence: %v", item.block, err)
		}
	default:
		if err := s.aligner.PushSilence(item.sourceID, item.sourceKind, item.silenceRate, item.silenceAt, item.silence); err != nil {
			logger.Errorf(ctx, "unable to insert %v of silence for '%s': %v", item.silence, item.sourceID, err)
		}
	}
}

func (s *Session) catchUpAudio(ctx context.Context) error {
	window := s.aligner.Window
	elapsed := s.clock.Elapsed()
	lag := elapsed - s.aligner.Position()
	if lag <= s.config.Audio.StallTolerance {
		return nil
	}
	logger.Debugf(ctx, "the audio timeline is %v behind the clock, filling the gap with silence", lag)
	for s.aligner.Position()+window <= elapsed-window {
		if _, err := s.popAudio(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) finishAudio(ctx context.Context) error {
	for s.aligner.Pending() {
		if _, err := s.popAudio(ctx, true); err != nil {
			return err
		}
	}
	elapsed := s.clock.Elapsed()
	if s.aligner.Position() < elapsed {
		logger.Debugf(ctx, "padding the audio from %v to %v", s.aligner.Position(), elapsed)
	}
	for s.aligner.Position() < elapsed {
		if _, err := s.popAudio(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

// popAudio emits the next aligned window (if any) to the encoder.
func (s *Session) popAudio(ctx context.Context, force bool) (bool, error) {
	ts := s.aligner.Position()
	windows, ok := s.aligner.Pop(force)
	if !ok {
		return false, nil
	}

	var block *screenrecorder.AudioBlock
	if len(windows) == 0 {
		block = s.audioProcessor.Silence(ts, s.aligner.Window)
		s.Stats.AudioSilence.Add(int64(block.Duration()))
	} else {
		var err error
		block, err = s.audioProcessor.Process(ctx, windows)
		if err != nil {
			if block == nil {
				return true, fmt.Errorf("unable to process the audio at %v: %w", ts, err)
			}
			logger.Warnf(ctx, "some audio at %v was substituted with silence: %v", ts, err)
		}
	}

	if samples, err := audioproc.ToFloat32(block); err == nil {
		s.Stats.AudioLevelDB.Store(math.Float64bits(audioproc.RMSLevelDB(samples)))
	}

	silenceBefore := s.audio.Stats.SilenceInserted.Load()
	if err := s.audio.Submit(ctx, block); err != nil {
		return true, err
	}
	if s.audio.Stats.SilenceInserted.Load() != silenceBefore {
		s.Stats.AudioSilence.Add(int64(block.Duration()))
	}
	s.Stats.AudioSamplesEncoded.Add(uint64(block.Samples()))
	return true, nil
}
