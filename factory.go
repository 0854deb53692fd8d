package screenrecorder

import (
	"context"
)

// EncoderFactory opens native encoder instances.
type EncoderFactory interface {
	OpenVideo(ctx context.Context, params VideoEncoderParams) (VideoTransform, error)
	OpenAudio(ctx context.Context, params AudioEncoderParams) (AudioTransform, error)
}
