package libav

import (
	"runtime"

	"github.com/xaionaro-go/screenrecorder"
)

// OptimalVideoEncoderName returns the name of the encoder to try first for the codec.
func OptimalVideoEncoderName(codec screenrecorder.VideoCodec, hardware bool) string {
	return optimalVideoEncoderName(runtime.GOOS, codec, hardware)
}

func optimalVideoEncoderName(goos string, codec screenrecorder.VideoCodec, hardware bool) string {
	switch codec {
	case screenrecorder.VideoCodecH264:
		switch {
		case goos == "android":
			return "h264_mediacodec"
		case hardware:
			return "h264_nvenc"
		default:
			return "libx264"
		}
	case screenrecorder.VideoCodecHEVC:
		switch {
		case goos == "android":
			return "hevc_mediacodec"
		case hardware:
			return "hevc_nvenc"
		default:
			return "libx265"
		}
	default:
		return codec.String()
	}
}

// AudioEncoderName returns the name of the encoder for the codec.
func AudioEncoderName(codec screenrecorder.AudioCodec) string {
	switch codec {
	case screenrecorder.AudioCodecAAC:
		return "aac"
	case screenrecorder.AudioCodecPCM:
		return "pcm_s16le"
	default:
		return codec.String()
	}
}
