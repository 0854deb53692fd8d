//go:build with_libav
// +build with_libav

package libav

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/videoproc"
)

type VideoEncoder struct {
	locker sync.Mutex
	params screenrecorder.VideoEncoderParams
	codec  *codec
	frame  *astiav.Frame
	name   string
}

var _ screenrecorder.VideoTransform = (*VideoEncoder)(nil)

func newVideoEncoder(
	ctx context.Context,
	params screenrecorder.VideoEncoderParams,
) (_ret *VideoEncoder, _err error) {
	hwType, _ := screenrecorder.GetCustomOption[screenrecorder.HardwareDeviceType](params.CustomOptions)
	hwName, _ := screenrecorder.GetCustomOption[screenrecorder.HardwareDeviceName](params.CustomOptions)
	name, ok := screenrecorder.GetCustomOption[screenrecorder.EncoderName](params.CustomOptions)
	if !ok {
		name = screenrecorder.EncoderName(OptimalVideoEncoderName(params.Codec, hwType != ""))
	}

	hardwareDeviceType := astiav.HardwareDeviceTypeNone
	if hwType != "" {
		hardwareDeviceType = astiav.FindHardwareDeviceTypeByName(string(hwType))
		if hardwareDeviceType == astiav.HardwareDeviceTypeNone {
			return nil, fmt.Errorf("unknown hardware device type '%s'", hwType)
		}
	}

	options := []screenrecorder.EncoderOption{{Key: "bf", Value: "0"}}
	options = append(options, screenrecorder.GetCustomOptions[screenrecorder.EncoderOption](params.CustomOptions)...)

	gopSize := int(params.FrameRate) * 2
	if v, ok := screenrecorder.GetCustomOption[screenrecorder.KeyFrameInterval](params.CustomOptions); ok {
		gopSize = int(v)
	}

	c, err := newCodec(ctx, codecOptions{
		encoderName:        string(name),
		mediaType:          astiav.MediaTypeVideo,
		hardwareDeviceType: hardwareDeviceType,
		hardwareDeviceName: string(hwName),
		options:            newDictionary(ctx, options),
		configure: func(cc *astiav.CodecContext) error {
			cc.SetWidth(int(params.Width))
			cc.SetHeight(int(params.Height))
			cc.SetPixelFormat(astiav.PixelFormatYuv420P)
			cc.SetTimeBase(astiav.NewRational(1, 1000))
			if params.FrameRate > 0 {
				cc.SetFramerate(astiav.NewRational(int(params.FrameRate), 1))
			}
			if gopSize > 0 {
				cc.SetGopSize(gopSize)
			}
			switch q := params.Quality.(type) {
			case *screenrecorder.VideoQualityConstantBitrate:
				cc.SetBitRate(int64(*q))
			case *screenrecorder.VideoQualityConstantQuality:
				cc.SetGlobalQuality(int(*q))
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	e := &VideoEncoder{
		params: params,
		codec:  c,
		frame:  allocFrame(ctx),
		name:   string(name),
	}
	e.frame.SetWidth(int(params.Width))
	e.frame.SetHeight(int(params.Height))
	e.frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := e.frame.AllocBuffer(0); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("unable to allocate the frame buffer: %w", err)
	}
	logger.Debugf(ctx, "opened video encoder '%s' %dx%d", name, params.Width, params.Height)
	return e, nil
}

func (e *VideoEncoder) Encode(
	ctx context.Context,
	frame *screenrecorder.VideoFrame,
) ([]screenrecorder.EncodedPacket, error) {
	e.locker.Lock()
	defer e.locker.Unlock()

	if err := frame.Validate(); err != nil {
		return nil, err
	}
	img, err := yuvImage(frame)
	if err != nil {
		return nil, err
	}
	if err := e.frame.MakeWritable(); err != nil {
		return nil, fmt.Errorf("unable to make the frame writable: %w", err)
	}
	if err := e.frame.Data().FromImage(img); err != nil {
		return nil, fmt.Errorf("unable to copy the picture into the frame: %w", err)
	}
	e.frame.SetPts(fromDuration(frame.Timestamp, e.codec.codecContext.TimeBase()))
	return e.codec.send(ctx, e.frame, e.params.TrackID)
}

func yuvImage(frame *screenrecorder.VideoFrame) (*image.YCbCr, error) {
	img, err := videoproc.Image(frame)
	if err != nil {
		return nil, err
	}
	if yuv, ok := img.(*image.YCbCr); ok {
		return yuv, nil
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		return nil, screenrecorder.FormatError{Reason: fmt.Sprintf("unexpected image type %T", img)}
	}
	w, h := int(frame.Width), int(frame.Height)
	cw, ch := (w+1)/2, (h+1)/2
	data := videoproc.RGBAToI420(rgba)
	return &image.YCbCr{
		Y:              data[:w*h],
		Cb:             data[w*h : w*h+cw*ch],
		Cr:             data[w*h+cw*ch:],
		YStride:        w,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           rgba.Rect,
	}, nil
}

func (e *VideoEncoder) Flush(ctx context.Context) ([]screenrecorder.EncodedPacket, error) {
	e.locker.Lock()
	defer e.locker.Unlock()
	return e.codec.send(ctx, nil, e.params.TrackID)
}

func (e *VideoEncoder) Close() error {
	e.locker.Lock()
	defer e.locker.Unlock()
	return e.codec.Close()
}

func (e *VideoEncoder) TrackDescriptor() screenrecorder.TrackDescriptor {
	return screenrecorder.TrackDescriptor{
		ID:         e.params.TrackID,
		Kind:       screenrecorder.TrackKindVideo,
		TimeBase:   toDuration(1, e.codec.codecContext.TimeBase()),
		ExtraData:  e.codec.extraData(),
		VideoCodec: e.params.Codec,
		Width:      e.params.Width,
		Height:     e.params.Height,
		FrameRate:  e.params.FrameRate,
	}
}
