// Package synthetic provides deterministic capture sources for tests,
// demos and benchmarks.
package synthetic

import (
	"context"
	"fmt"
	"image/color"
	"sync"
	"time"

	"github.com/xaionaro-go/screenrecorder"
)

type Pattern uint

const (
	PatternSolid = Pattern(iota)
	// PatternGradient is a horizontal gradient with a bar moving one column per frame.
	PatternGradient
)

// FrameSource generates RGBA frames.
//
// Timestamps are derived from the frame index and FrameRate, so they do
// not depend on how fast frames are pulled.
type FrameSource struct {
	Width     uint32
	Height    uint32
	FrameRate uint32
	Pattern   Pattern
	Color     color.RGBA

	// Count limits the amount of frames; 0 means unlimited. After the
	// last frame the source times out, or reports ErrClosed if CloseWhenDone.
	Count         uint64
	CloseWhenDone bool

	// Pace is the minimal real-time interval between frames; 0 means
	// frames are produced as fast as they are pulled.
	Pace time.Duration

	locker  sync.Mutex
	index   uint64
	lastAt  time.Time
	pattern []byte
}

var _ screenrecorder.FrameSource = (*FrameSource)(nil)

func NewFrameSource(width, height, frameRate uint32) *FrameSource {
	return &FrameSource{
		Width:     width,
		Height:    height,
		FrameRate: frameRate,
		Color:     color.RGBA{R: 255, A: 255},
	}
}

// Produced returns the amount of frames returned so far.
func (s *FrameSource) Produced() uint64 {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.index
}

func (s *FrameSource) NextFrame(ctx context.Context, timeout time.Duration) (*screenrecorder.VideoFrame, error) {
	s.locker.Lock()
	defer s.locker.Unlock()

	if s.Width == 0 || s.Height == 0 || s.FrameRate == 0 {
		return nil, fmt.Errorf("the synthetic frame source is not configured: %dx%d@%d", s.Width, s.Height, s.FrameRate)
	}
	if s.Count > 0 && s.index >= s.Count {
		if s.CloseWhenDone {
			return nil, screenrecorder.ErrClosed
		}
		return nil, idle(ctx, timeout)
	}
	if s.Pace > 0 && !s.lastAt.IsZero() {
		wait := time.Until(s.lastAt.Add(s.Pace))
		if wait > timeout {
			return nil, idle(ctx, timeout)
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	s.lastAt = time.Now()

	frame := &screenrecorder.VideoFrame{
		Width:       s.Width,
		Height:      s.Height,
		Stride:      int(s.Width) * 4,
		PixelFormat: screenrecorder.PixelFormatRGBA,
		Data:        s.render(),
		Timestamp:   time.Duration(s.index) * time.Second / time.Duration(s.FrameRate),
		Index:       s.index,
	}
	s.index++
	return frame, nil
}

func (s *FrameSource) render() []byte {
	if s.pattern == nil {
		s.pattern = make([]byte, int(s.Width)*int(s.Height)*4)
		for y := 0; y < int(s.Height); y++ {
			row := s.pattern[y*int(s.Width)*4:]
			for x := 0; x < int(s.Width); x++ {
				c := s.Color
				if s.Pattern == PatternGradient {
					c.G = uint8(x * 255 / max(int(s.Width)-1, 1))
				}
				row[x*4+0], row[x*4+1], row[x*4+2], row[x*4+3] = c.R, c.G, c.B, c.A
			}
		}
	}
	out := make([]byte, len(s.pattern))
	copy(out, s.pattern)
	if s.Pattern == PatternGradient {
		bar := int(s.index % uint64(s.Width))
		for y := 0; y < int(s.Height); y++ {
			px := out[(y*int(s.Width)+bar)*4:]
			px[0], px[1], px[2], px[3] = 255, 255, 255, 255
		}
	}
	return out
}

// idle waits the timeout the way a source with nothing to deliver does.
func idle(ctx context.Context, timeout time.Duration) error {
	if err := sleep(ctx, timeout); err != nil {
		return err
	}
	return screenrecorder.ErrTimeout
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
