// Package codec selects encoder transforms by the configured codec.
package codec

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/codec/mjpeg"
	"github.com/xaionaro-go/screenrecorder/codec/pcm"
	"github.com/xaionaro-go/screenrecorder/libav"
)

// Factory opens the pure-Go transforms (MJPEG, PCM) itself and delegates
// everything else to Native.
type Factory struct {
	Native screenrecorder.EncoderFactory
}

var _ screenrecorder.EncoderFactory = (*Factory)(nil)

// NewFactory returns a Factory delegating native codecs to libav.
func NewFactory() *Factory {
	return &Factory{
		Native: libav.NewEncoderFactory(),
	}
}

func (f *Factory) OpenVideo(
	ctx context.Context,
	params screenrecorder.VideoEncoderParams,
) (screenrecorder.VideoTransform, error) {
	logger.Debugf(ctx, "OpenVideo: %s", params.Codec)
	_, forcedNative := screenrecorder.GetCustomOption[screenrecorder.EncoderName](params.CustomOptions)
	if params.Codec == screenrecorder.VideoCodecMJPEG && !forcedNative {
		return mjpeg.New(ctx, params)
	}
	if f.Native == nil {
		return nil, screenrecorder.EncoderInitError{
			Codec: params.Codec.String(),
			Err:   fmt.Errorf("no native encoder factory is configured"),
		}
	}
	return f.Native.OpenVideo(ctx, params)
}

func (f *Factory) OpenAudio(
	ctx context.Context,
	params screenrecorder.AudioEncoderParams,
) (screenrecorder.AudioTransform, error) {
	logger.Debugf(ctx, "OpenAudio: %s", params.Codec)
	_, forcedNative := screenrecorder.GetCustomOption[screenrecorder.EncoderName](params.CustomOptions)
	if params.Codec == screenrecorder.AudioCodecPCM && !forcedNative {
		return pcm.New(ctx, params)
	}
	if f.Native == nil {
		return nil, screenrecorder.EncoderInitError{
			Codec: params.Codec.String(),
			Err:   fmt.Errorf("no native encoder factory is configured"),
		}
	}
	return f.Native.OpenAudio(ctx, params)
}
