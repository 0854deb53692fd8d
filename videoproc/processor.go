// Package videoproc converts captured frames into what the video encoder expects.
package videoproc

import (
	"fmt"
	"image"
	"math"

	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/cursor"
	"golang.org/x/image/draw"
)

type Config struct {
	Width       uint32
	Height      uint32
	PixelFormat screenrecorder.PixelFormat
	Scaler      screenrecorder.ScalerQuality

	// Sprite is drawn when an overlay snapshot is passed to Process.
	Sprite cursor.Sprite
}

// Processor is stateless: the output depends only on the input frame and overlay.
type Processor struct {
	Config Config
	scaler draw.Scaler
}

func New(cfg Config) (*Processor, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, screenrecorder.ConfigError{Field: "video.resolution", Reason: fmt.Sprintf("output resolution %dx%d is empty", cfg.Width, cfg.Height)}
	}
	switch cfg.PixelFormat {
	case screenrecorder.PixelFormatRGBA, screenrecorder.PixelFormatI420:
	default:
		return nil, screenrecorder.ConfigError{Field: "video.pixel_format", Reason: fmt.Sprintf("unsupported output format %s", cfg.PixelFormat)}
	}
	if cfg.Sprite.Image == nil {
		cfg.Sprite = cursor.DefaultSprite()
	}
	return &Processor{
		Config: cfg,
		scaler: scalerFor(cfg.Scaler),
	}, nil
}

func scalerFor(q screenrecorder.ScalerQuality) draw.Scaler {
	switch q {
	case screenrecorder.ScalerQualityNearest:
		return draw.NearestNeighbor
	case screenrecorder.ScalerQualityBiLinear:
		return draw.BiLinear
	case screenrecorder.ScalerQualityCatmullRom:
		return draw.CatmullRom
	default:
		return draw.ApproxBiLinear
	}
}

// Process returns a new frame of the configured size and pixel format.
// If overlay is non-nil and visible, the cursor sprite is blended on top.
func (p *Processor) Process(
	frame *screenrecorder.VideoFrame,
	overlay *cursor.Snapshot,
) (*screenrecorder.VideoFrame, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	src, err := Image(frame)
	if err != nil {
		return nil, err
	}

	dstRect := image.Rect(0, 0, int(p.Config.Width), int(p.Config.Height))
	dst := image.NewRGBA(dstRect)
	if src.Bounds().Size() == dstRect.Size() {
		draw.Draw(dst, dstRect, src, src.Bounds().Min, draw.Src)
	} else {
		p.scaler.Scale(dst, dstRect, src, src.Bounds(), draw.Src, nil)
	}

	if overlay != nil && overlay.Visible {
		p.blendCursor(dst, *overlay)
	}

	out := &screenrecorder.VideoFrame{
		Width:       p.Config.Width,
		Height:      p.Config.Height,
		PixelFormat: p.Config.PixelFormat,
		Timestamp:   frame.Timestamp,
		Index:       frame.Index,
	}
	switch p.Config.PixelFormat {
	case screenrecorder.PixelFormatRGBA:
		out.Data, out.Stride = dst.Pix, dst.Stride
	case screenrecorder.PixelFormatI420:
		out.Data, out.Stride = RGBAToI420(dst), int(p.Config.Width)
	}
	return out, nil
}

func (p *Processor) blendCursor(dst *image.RGBA, s cursor.Snapshot) {
	b := dst.Bounds()
	x := clampInt(int(math.Round(clampFloat(s.X)*float64(b.Dx()-1))), 0, b.Dx()-1)
	y := clampInt(int(math.Round(clampFloat(s.Y)*float64(b.Dy()-1))), 0, b.Dy()-1)
	sprite := p.Config.Sprite
	at := image.Pt(x, y).Sub(sprite.HotSpot)
	r := sprite.Image.Bounds().Sub(sprite.Image.Bounds().Min).Add(at)
	draw.Draw(dst, r, sprite.Image, sprite.Image.Bounds().Min, draw.Over)
}

func clampFloat(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
