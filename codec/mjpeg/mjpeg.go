// Package mjpeg implements a pure-Go Motion JPEG video transform:
// every frame is compressed independently into a key frame.
package mjpeg

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/videoproc"
)

const DefaultQuality = 80

type Encoder struct {
	params        screenrecorder.VideoEncoderParams
	quality       int
	frameDuration time.Duration
	closed        atomic.Bool
}

var _ screenrecorder.VideoTransform = (*Encoder)(nil)

func New(
	ctx context.Context,
	params screenrecorder.VideoEncoderParams,
) (_ret *Encoder, _err error) {
	logger.Debugf(ctx, "mjpeg.New(%#+v)", params)
	defer func() { logger.Debugf(ctx, "/mjpeg.New: %v", _err) }()

	if params.Width == 0 || params.Height == 0 {
		return nil, screenrecorder.EncoderInitError{
			Codec: "mjpeg",
			Err:   fmt.Errorf("invalid resolution %dx%d", params.Width, params.Height),
		}
	}
	switch params.PixelFormat {
	case screenrecorder.PixelFormatRGBA, screenrecorder.PixelFormatBGRA, screenrecorder.PixelFormatI420:
	default:
		return nil, screenrecorder.EncoderInitError{
			Codec: "mjpeg",
			Err:   fmt.Errorf("unsupported pixel format %s", params.PixelFormat),
		}
	}

	e := &Encoder{
		params:  params,
		quality: qualityFor(ctx, params.Quality),
	}
	if params.FrameRate > 0 {
		e.frameDuration = time.Second / time.Duration(params.FrameRate)
	}
	return e, nil
}

func qualityFor(ctx context.Context, q screenrecorder.VideoQuality) int {
	switch q := q.(type) {
	case nil:
		return DefaultQuality
	case *screenrecorder.VideoQualityConstantQuality:
		return clampQuality(int(*q))
	default:
		logger.Warnf(ctx, "quality %#+v is not supported by mjpeg, using the default quality %d", q, DefaultQuality)
		return DefaultQuality
	}
}

func clampQuality(q int) int {
	switch {
	case q <= 0:
		return DefaultQuality
	case q > 100:
		return 100
	}
	return q
}

func (e *Encoder) Encode(
	ctx context.Context,
	frame *screenrecorder.VideoFrame,
) ([]screenrecorder.EncodedPacket, error) {
	if e.closed.Load() {
		return nil, screenrecorder.ErrClosed
	}
	if frame.Width != e.params.Width || frame.Height != e.params.Height {
		return nil, fmt.Errorf("frame %dx%d does not match the encoder resolution %dx%d", frame.Width, frame.Height, e.params.Width, e.params.Height)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	img, err := videoproc.Image(frame)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("unable to encode the frame into JPEG: %w", err)
	}
	logger.Tracef(ctx, "encoded frame %d into %d bytes", frame.Index, buf.Len())

	return []screenrecorder.EncodedPacket{{
		TrackID:    e.params.TrackID,
		Data:       buf.Bytes(),
		PTS:        frame.Timestamp,
		DTS:        frame.Timestamp,
		Duration:   e.frameDuration,
		IsKeyFrame: true,
	}}, nil
}

// Flush never returns anything: JPEG compression does not buffer frames.
func (e *Encoder) Flush(context.Context) ([]screenrecorder.EncodedPacket, error) {
	return nil, nil
}

func (e *Encoder) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *Encoder) TrackDescriptor() screenrecorder.TrackDescriptor {
	return screenrecorder.TrackDescriptor{
		ID:         e.params.TrackID,
		Kind:       screenrecorder.TrackKindVideo,
		TimeBase:   time.Millisecond,
		VideoCodec: screenrecorder.VideoCodecMJPEG,
		Width:      e.params.Width,
		Height:     e.params.Height,
		FrameRate:  e.params.FrameRate,
	}
}

// Quality returns the JPEG quality in use.
func (e *Encoder) Quality() int {
	return e.quality
}
