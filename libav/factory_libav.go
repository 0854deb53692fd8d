//go:build with_libav
// +build with_libav

package libav

import (
	"context"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
)

// EncoderFactory opens libav-backed transforms.
type EncoderFactory struct{}

var _ screenrecorder.EncoderFactory = (*EncoderFactory)(nil)

func NewEncoderFactory() *EncoderFactory {
	return &EncoderFactory{}
}

func init() {
	astiav.SetLogLevel(astiav.LogLevelWarning)
}

func (*EncoderFactory) OpenVideo(
	ctx context.Context,
	params screenrecorder.VideoEncoderParams,
) (_ret screenrecorder.VideoTransform, _err error) {
	logger.Debugf(ctx, "OpenVideo")
	defer func() { logger.Debugf(ctx, "/OpenVideo: %v", _err) }()
	e, err := newVideoEncoder(ctx, params)
	if err != nil {
		return nil, screenrecorder.EncoderInitError{Codec: params.Codec.String(), Err: err}
	}
	return e, nil
}

func (*EncoderFactory) OpenAudio(
	ctx context.Context,
	params screenrecorder.AudioEncoderParams,
) (_ret screenrecorder.AudioTransform, _err error) {
	logger.Debugf(ctx, "OpenAudio")
	defer func() { logger.Debugf(ctx, "/OpenAudio: %v", _err) }()
	e, err := newAudioEncoder(ctx, params)
	if err != nil {
		return nil, screenrecorder.EncoderInitError{Codec: params.Codec.String(), Err: err}
	}
	return e, nil
}
