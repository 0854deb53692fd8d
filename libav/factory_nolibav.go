//go:build !with_libav
// +build !with_libav

package libav

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/screenrecorder"
)

type EncoderFactory struct{}

var _ screenrecorder.EncoderFactory = (*EncoderFactory)(nil)

func NewEncoderFactory() *EncoderFactory {
	return &EncoderFactory{}
}

func (*EncoderFactory) OpenVideo(
	ctx context.Context,
	params screenrecorder.VideoEncoderParams,
) (screenrecorder.VideoTransform, error) {
	return nil, screenrecorder.EncoderInitError{
		Codec: params.Codec.String(),
		Err:   fmt.Errorf("not compiled with libav support"),
	}
}

func (*EncoderFactory) OpenAudio(
	ctx context.Context,
	params screenrecorder.AudioEncoderParams,
) (screenrecorder.AudioTransform, error) {
	return nil, screenrecorder.EncoderInitError{
		Codec: params.Codec.String(),
		Err:   fmt.Errorf("not compiled with libav support"),
	}
}
