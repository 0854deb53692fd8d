package encoder

import (
	"context"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/internal/queue"
)

// Audio feeds an AudioTransform. When its queue stays full for longer
// than PushTimeout the block is replaced with silence of the same duration,
// so the audio timeline never loses time.
//
// The substituted silence is a duration-only marker: consecutive
// substitutions are merged into one, which enters the queue as soon as
// there is a free slot, so the queue never grows over its capacity.
type Audio struct {
	*adapter[audioInput]
	PushTimeout time.Duration

	spill *queue.Spill[audioInput]
}

// audioInput is either a captured block or, if silence is non-zero, a
// marker of silence starting at block.Timestamp in the format of block
// (whose Data is then nil); the silence is encoded in pieces of chunk.
type audioInput struct {
	block   *screenrecorder.AudioBlock
	silence time.Duration
	chunk   time.Duration
}

func NewAudio(
	t screenrecorder.AudioTransform,
	queueSize int,
	pushTimeout time.Duration,
	sink PacketSink,
) *Audio {
	a := newAdapter[audioInput](screenrecorder.TrackKindAudio, silenceExpander{t}, queueSize, sink)
	return &Audio{
		adapter:     a,
		PushTimeout: pushTimeout,
		spill:       queue.NewSpill(a.queue, silenceMarker, mergeSilenceMarkers),
	}
}

func (e *Audio) Submit(ctx context.Context, block *screenrecorder.AudioBlock) error {
	substituted, err := e.spill.Push(ctx, audioInput{block: block}, e.PushTimeout)
	if err != nil {
		return err
	}
	if substituted {
		logger.Debugf(ctx, "the audio encoder queue is full for %v, substituting %v with silence", e.PushTimeout, block.Duration())
		e.Stats.SilenceInserted.Add(1)
	}
	e.Stats.Submitted.Add(1)
	e.Stats.observeDepth(e.queue.Len())
	return nil
}

// Drain queues the pending silence (if any) and then drains the adapter.
func (e *Audio) Drain(ctx context.Context) ([]screenrecorder.EncodedPacket, error) {
	if e.spill.HasPending() {
		if err := e.flushSilence(ctx); err != nil {
			return nil, err
		}
	}
	return e.adapter.Drain(ctx)
}

func (e *Audio) flushSilence(ctx context.Context) error {
	if !e.isServing() {
		// nobody will free a slot; whatever is queued is dropped by Drain anyway
		return e.spill.Flush(ctx, true)
	}
	flushCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	observability.Go(ctx, func(ctx context.Context) {
		select {
		case <-e.served:
			cancelFn()
		case <-flushCtx.Done():
		}
	})
	err := e.spill.Flush(flushCtx, false)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.Warnf(ctx, "unable to queue the pending audio silence: %v", err)
	e.Stats.Dropped.Add(1)
	return nil
}

func silenceMarker(in audioInput) audioInput {
	if in.silence > 0 {
		return in
	}
	format := *in.block
	format.Data = nil
	d := in.block.Duration()
	return audioInput{block: &format, silence: d, chunk: d}
}

// mergeSilenceMarkers extends the pending silence up to the end of the
// marker if both have the same format.
func mergeSilenceMarkers(pending *audioInput, marker audioInput) bool {
	p, m := pending.block, marker.block
	if p.SampleRate != m.SampleRate || p.Channels != m.Channels || p.SampleFormat != m.SampleFormat {
		return false
	}
	if m.Timestamp < p.Timestamp {
		return false
	}
	pending.silence = max(pending.silence, m.Timestamp+marker.silence-p.Timestamp)
	pending.chunk = max(pending.chunk, marker.chunk)
	return true
}

// silenceExpander encodes silence markers as silent blocks.
type silenceExpander struct {
	screenrecorder.AudioTransform
}

func (t silenceExpander) Encode(ctx context.Context, in audioInput) ([]screenrecorder.EncodedPacket, error) {
	if in.silence <= 0 {
		return t.AudioTransform.Encode(ctx, in.block)
	}
	chunk := in.chunk
	if chunk <= 0 {
		chunk = in.silence
	}
	var result []screenrecorder.EncodedPacket
	for at := time.Duration(0); at < in.silence; at += chunk {
		end := min(at+chunk, in.silence)
		frames := screenrecorder.DurationSamples(end, in.block.SampleRate) -
			screenrecorder.DurationSamples(at, in.block.SampleRate)
		if frames <= 0 {
			continue
		}
		pkts, err := t.AudioTransform.Encode(ctx, SilenceAt(in.block, in.block.Timestamp+at, frames))
		if err != nil {
			return result, err
		}
		result = append(result, pkts...)
	}
	return result, nil
}

// SilenceAt returns a silent block of the given amount of frames in the
// format of the given block.
func SilenceAt(format *screenrecorder.AudioBlock, ts screenrecorder.Timestamp, frames int) *screenrecorder.AudioBlock {
	silence := *format
	silence.Timestamp = ts
	silence.Data = make([]byte, frames*int(format.Channels)*format.SampleFormat.BytesPerSample())
	return &silence
}
