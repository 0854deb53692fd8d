//go:build with_libav
// +build with_libav

package libav

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/internal"
)

type codec struct {
	codec                 *astiav.Codec
	codecContext          *astiav.CodecContext
	hardwareDeviceContext *astiav.HardwareDeviceContext
	hardwarePixelFormat   astiav.PixelFormat
	packet                *astiav.Packet
	flushed               bool
	closer                *astikit.Closer
}

func (c *codec) Close() error {
	return c.closer.Close()
}

type codecOptions struct {
	encoderName        string
	mediaType          astiav.MediaType
	hardwareDeviceType astiav.HardwareDeviceType
	hardwareDeviceName string
	options            *astiav.Dictionary
	configure          func(*astiav.CodecContext) error
}

func newCodec(
	ctx context.Context,
	opts codecOptions,
) (_ret *codec, _err error) {
	logger.Debugf(ctx, "newCodec(%s)", opts.encoderName)
	defer func() { logger.Debugf(ctx, "/newCodec(%s): %v", opts.encoderName, _err) }()

	c := &codec{closer: astikit.NewCloser()}
	defer func() {
		if _err != nil {
			_ = c.Close()
		}
	}()

	c.codec = astiav.FindEncoderByName(opts.encoderName)
	if c.codec == nil {
		return nil, fmt.Errorf("unable to find an encoder using name '%s'", opts.encoderName)
	}

	c.codecContext = astiav.AllocCodecContext(c.codec)
	if c.codecContext == nil {
		return nil, fmt.Errorf("unable to allocate codec context")
	}
	c.closer.Add(c.codecContext.Free)

	c.packet = astiav.AllocPacket()
	c.closer.Add(c.packet.Free)

	if opts.hardwareDeviceType != astiav.HardwareDeviceTypeNone {
		if opts.mediaType != astiav.MediaTypeVideo {
			return nil, fmt.Errorf("currently hardware encoding is supported only for video streams")
		}

		for _, p := range c.codec.HardwareConfigs() {
			if p.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx) && p.HardwareDeviceType() == opts.hardwareDeviceType {
				c.hardwarePixelFormat = p.PixelFormat()
				break
			}
		}

		if c.hardwarePixelFormat == astiav.PixelFormatNone {
			return nil, fmt.Errorf("hardware device type '%v' is not supported", opts.hardwareDeviceType)
		}
	}

	if err := opts.configure(c.codecContext); err != nil {
		return nil, err
	}
	c.codecContext.SetFlags(c.codecContext.Flags().Add(astiav.CodecContextFlagGlobalHeader))

	if opts.hardwareDeviceType != astiav.HardwareDeviceTypeNone {
		var err error
		c.hardwareDeviceContext, err = astiav.CreateHardwareDeviceContext(
			opts.hardwareDeviceType,
			opts.hardwareDeviceName,
			opts.options,
			0,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to create hardware device context: %w", err)
		}
		c.closer.Add(c.hardwareDeviceContext.Free)

		c.codecContext.SetHardwareDeviceContext(c.hardwareDeviceContext)
	}

	if err := c.codecContext.Open(c.codec, opts.options); err != nil {
		return nil, fmt.Errorf("unable to open codec context: %w", err)
	}

	return c, nil
}

// send submits the frame (nil means "flush") and collects every packet
// the encoder is ready to give back.
func (c *codec) send(
	ctx context.Context,
	frame *astiav.Frame,
	trackID screenrecorder.TrackID,
) ([]screenrecorder.EncodedPacket, error) {
	if frame == nil {
		if c.flushed {
			return nil, nil
		}
		c.flushed = true
	}
	if err := c.codecContext.SendFrame(frame); err != nil {
		logger.Debugf(ctx, "SendFrame(): %v", err)
		return nil, fmt.Errorf("unable to send the frame to the encoder: %w", err)
	}

	var result []screenrecorder.EncodedPacket
	timeBase := c.codecContext.TimeBase()
	for {
		err := c.codecContext.ReceivePacket(c.packet)
		if err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return result, nil
			}
			return result, fmt.Errorf("unable to receive a packet from the encoder: %w", err)
		}
		result = append(result, screenrecorder.EncodedPacket{
			TrackID:    trackID,
			Data:       append([]byte(nil), c.packet.Data()...),
			PTS:        toDuration(c.packet.Pts(), timeBase),
			DTS:        toDuration(c.packet.Dts(), timeBase),
			Duration:   toDuration(c.packet.Duration(), timeBase),
			IsKeyFrame: c.packet.Flags().Has(astiav.PacketFlagKey),
		})
		c.packet.Unref()
	}
}

func (c *codec) extraData() []byte {
	return append([]byte(nil), c.codecContext.ExtraData()...)
}

func allocFrame(ctx context.Context) *astiav.Frame {
	f := astiav.AllocFrame()
	internal.FreeOnGC(ctx, f)
	return f
}

func toDuration(ts int64, timeBase astiav.Rational) time.Duration {
	if timeBase.Den() == 0 {
		return 0
	}
	return time.Duration(ts * int64(timeBase.Num()) * int64(time.Second) / int64(timeBase.Den()))
}

func fromDuration(d time.Duration, timeBase astiav.Rational) int64 {
	if timeBase.Num() == 0 {
		return 0
	}
	return int64(d) * int64(timeBase.Den()) / (int64(timeBase.Num()) * int64(time.Second))
}

func newDictionary(ctx context.Context, opts []screenrecorder.EncoderOption) *astiav.Dictionary {
	dict := astiav.NewDictionary()
	internal.FreeOnGC(ctx, dict)
	for _, opt := range opts {
		logger.Debugf(ctx, "encoder option: '%s' = '%s'", opt.Key, opt.Value)
		if err := dict.Set(opt.Key, opt.Value, 0); err != nil {
			logger.Warnf(ctx, "unable to set option '%s': %v", opt.Key, err)
		}
	}
	return dict
}
