package videoproc

import (
	"bytes"
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/cursor"
)

func solidFrame(w, h uint32, pf screenrecorder.PixelFormat, px [4]byte) *screenrecorder.VideoFrame {
	data := make([]byte, int(w*h*4))
	for i := 0; i < len(data); i += 4 {
		copy(data[i:], px[:])
	}
	return &screenrecorder.VideoFrame{Width: w, Height: h, Stride: int(w * 4), PixelFormat: pf, Data: data}
}

func TestProcessDeterministic(t *testing.T) {
	for _, scaler := range []screenrecorder.ScalerQuality{
		screenrecorder.ScalerQualityNearest,
		screenrecorder.ScalerQualityApproxBiLinear,
		screenrecorder.ScalerQualityBiLinear,
		screenrecorder.ScalerQualityCatmullRom,
	} {
		p, err := New(Config{Width: 64, Height: 48, PixelFormat: screenrecorder.PixelFormatI420, Scaler: scaler})
		require.NoError(t, err)

		red := solidFrame(100, 100, screenrecorder.PixelFormatRGBA, [4]byte{0xff, 0, 0, 0xff})
		out0, err := p.Process(red, nil)
		require.NoError(t, err)
		out1, err := p.Process(red, nil)
		require.NoError(t, err)
		require.True(t, bytes.Equal(out0.Data, out1.Data), scaler.String())
		require.Equal(t, screenrecorder.PixelFormatI420.FrameSize(64, 48), len(out0.Data))
	}
}

func TestProcessRedSameSize(t *testing.T) {
	p, err := New(Config{Width: 100, Height: 100, PixelFormat: screenrecorder.PixelFormatRGBA})
	require.NoError(t, err)
	red := solidFrame(100, 100, screenrecorder.PixelFormatRGBA, [4]byte{0xff, 0, 0, 0xff})
	red.Timestamp = 12345
	red.Index = 7

	out, err := p.Process(red, nil)
	require.NoError(t, err)
	require.Equal(t, red.Data, out.Data)
	require.Equal(t, red.Timestamp, out.Timestamp)
	require.Equal(t, red.Index, out.Index)

	// output must not alias the input buffer
	out.Data[0] = 0
	require.Equal(t, byte(0xff), red.Data[0])
}

func TestProcessBGRA(t *testing.T) {
	p, err := New(Config{Width: 8, Height: 8, PixelFormat: screenrecorder.PixelFormatRGBA})
	require.NoError(t, err)
	blueInBGRA := solidFrame(8, 8, screenrecorder.PixelFormatBGRA, [4]byte{0xff, 0, 0, 0xff})
	out, err := p.Process(blueInBGRA, nil)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0xff, 0xff}, out.Data[:4])
}

func TestProcessI420Color(t *testing.T) {
	p, err := New(Config{Width: 4, Height: 4, PixelFormat: screenrecorder.PixelFormatI420})
	require.NoError(t, err)
	out, err := p.Process(solidFrame(4, 4, screenrecorder.PixelFormatRGBA, [4]byte{0xff, 0, 0, 0xff}), nil)
	require.NoError(t, err)

	y, u, v := color.RGBToYCbCr(0xff, 0, 0)
	require.Equal(t, y, out.Data[0])
	require.Equal(t, u, out.Data[16])
	require.Equal(t, v, out.Data[20])

	// and back: I420 input is accepted too
	back, err := New(Config{Width: 4, Height: 4, PixelFormat: screenrecorder.PixelFormatRGBA})
	require.NoError(t, err)
	rgba, err := back.Process(out, nil)
	require.NoError(t, err)
	require.InDelta(t, 0xff, int(rgba.Data[0]), 3)
}

func TestProcessCursorOverlay(t *testing.T) {
	p, err := New(Config{Width: 100, Height: 100, PixelFormat: screenrecorder.PixelFormatRGBA})
	require.NoError(t, err)
	white := solidFrame(100, 100, screenrecorder.PixelFormatRGBA, [4]byte{0xff, 0xff, 0xff, 0xff})

	out, err := p.Process(white, &cursor.Snapshot{X: 0.5, Y: 0.5, Visible: true})
	require.NoError(t, err)
	// the hot spot pixel of the arrow is black
	off := 50*out.Stride + 50*4
	require.Equal(t, []byte{0, 0, 0, 0xff}, out.Data[off:off+4])

	hidden, err := p.Process(white, &cursor.Snapshot{X: 0.5, Y: 0.5, Visible: false})
	require.NoError(t, err)
	require.Equal(t, white.Data, hidden.Data)

	// out of range positions are clamped, not a panic
	for _, s := range []cursor.Snapshot{
		{X: 5, Y: -3, Visible: true},
		{X: 1, Y: 1, Visible: true},
	} {
		out, err := p.Process(white, &s)
		require.NoError(t, err)
		require.Len(t, out.Data, 100*100*4)
	}
}

func TestProcessFormatError(t *testing.T) {
	p, err := New(Config{Width: 10, Height: 10, PixelFormat: screenrecorder.PixelFormatRGBA})
	require.NoError(t, err)

	f := solidFrame(10, 10, screenrecorder.PixelFormatUndefined, [4]byte{})
	_, err = p.Process(f, nil)
	var formatErr screenrecorder.FormatError
	require.True(t, errors.As(err, &formatErr))

	f = solidFrame(10, 10, screenrecorder.PixelFormatRGBA, [4]byte{})
	f.Data = f.Data[:10]
	_, err = p.Process(f, nil)
	require.True(t, errors.As(err, &formatErr))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Width: 0, Height: 10, PixelFormat: screenrecorder.PixelFormatRGBA})
	require.Error(t, err)
	_, err = New(Config{Width: 10, Height: 10, PixelFormat: screenrecorder.PixelFormatBGRA})
	require.Error(t, err)
}
