package screenrecorder

import (
	"context"
	"io"
	"time"
)

// FrameSource delivers captured screen frames.
//
// NextFrame returns ErrTimeout if no frame arrived within the timeout
// and ErrClosed if the source will not deliver frames anymore.
type FrameSource interface {
	NextFrame(ctx context.Context, timeout time.Duration) (*VideoFrame, error)
}

// AudioSource delivers captured audio blocks.
//
// NextBlock returns ErrTimeout if no block arrived within the timeout
// and ErrClosed if the source will not deliver blocks anymore.
type AudioSource interface {
	NextBlock(ctx context.Context, timeout time.Duration) (*AudioBlock, error)
}

// VideoTransform is a native video encoder instance.
//
// Encode may return no packets while the transform buffers input.
type VideoTransform interface {
	io.Closer
	Encode(ctx context.Context, frame *VideoFrame) ([]EncodedPacket, error)
	Flush(ctx context.Context) ([]EncodedPacket, error)
	TrackDescriptor() TrackDescriptor
}

// AudioTransform is a native audio encoder instance.
type AudioTransform interface {
	io.Closer
	Encode(ctx context.Context, block *AudioBlock) ([]EncodedPacket, error)
	Flush(ctx context.Context) ([]EncodedPacket, error)
	TrackDescriptor() TrackDescriptor
}

type VideoEncoderParams struct {
	TrackID       TrackID
	Codec         VideoCodec
	Width         uint32
	Height        uint32
	FrameRate     uint32
	PixelFormat   PixelFormat
	Quality       VideoQuality
	CustomOptions CustomOptions
}

type AudioEncoderParams struct {
	TrackID       TrackID
	Codec         AudioCodec
	SampleRate    uint32
	Channels      uint16
	Quality       AudioQuality
	CustomOptions CustomOptions
}

// Muxer writes encoded packets of all tracks into a container.
//
// WritePacket must receive packets with non-decreasing DTS per track.
// Finalize makes the container valid and playable; Abort discards it.
type Muxer interface {
	WritePacket(ctx context.Context, pkt EncodedPacket) error
	Finalize(ctx context.Context) (*ContainerInfo, error)
	Abort(ctx context.Context) error
}

type MuxerFactory interface {
	OpenMuxer(ctx context.Context, path string, tracks []TrackDescriptor) (Muxer, error)
}

type MuxerFactoryFunc func(ctx context.Context, path string, tracks []TrackDescriptor) (Muxer, error)

func (fn MuxerFactoryFunc) OpenMuxer(ctx context.Context, path string, tracks []TrackDescriptor) (Muxer, error) {
	return fn(ctx, path, tracks)
}
