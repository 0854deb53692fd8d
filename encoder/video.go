package encoder

import (
	"context"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
)

// Video feeds a VideoTransform. Its queue evicts the oldest frame when full.
type Video struct {
	*adapter[*screenrecorder.VideoFrame]
}

func NewVideo(
	t screenrecorder.VideoTransform,
	queueSize int,
	sink PacketSink,
) *Video {
	return &Video{
		adapter: newAdapter[*screenrecorder.VideoFrame](screenrecorder.TrackKindVideo, t, queueSize, sink),
	}
}

// Submit enqueues the frame. If the queue is full the oldest queued frame
// is evicted and counted as dropped.
func (e *Video) Submit(ctx context.Context, frame *screenrecorder.VideoFrame) error {
	evicted, dropped, err := e.queue.PushDropOldest(frame)
	if err != nil {
		return err
	}
	e.Stats.Submitted.Add(1)
	e.Stats.observeDepth(e.queue.Len())
	if dropped {
		e.Stats.Dropped.Add(1)
		logger.Tracef(ctx, "dropped video frame %s", evicted)
	}
	return nil
}
