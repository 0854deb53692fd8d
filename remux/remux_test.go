package remux

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/screenrecorder/codec/mjpeg"
	"github.com/xaionaro-go/screenrecorder/muxer/flv"
	"github.com/xaionaro-go/screenrecorder/source/synthetic"
)

func TestBuildArgs(t *testing.T) {
	require.Equal(t, []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", "in.flv",
		"-map", "0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-f", "mp4", "out.mp4",
	}, BuildArgs("in.flv", "out.mp4", Options{}))

	args := BuildArgs("in.flv", "out.mp4", Options{AudioCodec: "copy", ExtraArgs: []string{"-t", "10"}})
	require.Equal(t, []string{"-c:a", "copy"}, args[11:13])
	require.Equal(t, []string{"-t", "10", "-f", "mp4", "out.mp4"}, args[len(args)-5:])
}

func TestToMP4Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	err := ToMP4(ctx, filepath.Join(dir, "missing.flv"), filepath.Join(dir, "out.mp4"), Options{})
	require.Error(t, err)

	in := filepath.Join(dir, "in.flv")
	require.NoError(t, os.WriteFile(in, []byte("not a video"), 0o644))
	require.Error(t, ToMP4(ctx, in, in, Options{}))

	err = ToMP4(ctx, in, filepath.Join(dir, "out.mp4"), Options{FFmpegPath: filepath.Join(dir, "no-such-ffmpeg")})
	require.Error(t, err)
	require.NoFileExists(t, filepath.Join(dir, "out.mp4"))
}

func TestToMP4(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg is not installed")
	}
	ctx := context.Background()
	dir := t.TempDir()
	in := filepath.Join(dir, "in.flv")
	out := filepath.Join(dir, "out.mp4")

	params := screenrecorder.VideoEncoderParams{
		Codec:       screenrecorder.VideoCodecMJPEG,
		Width:       64,
		Height:      48,
		FrameRate:   25,
		PixelFormat: screenrecorder.PixelFormatRGBA,
	}
	enc, err := mjpeg.New(ctx, params)
	require.NoError(t, err)
	defer enc.Close()

	m, err := flv.Open(ctx, in, []screenrecorder.TrackDescriptor{enc.TrackDescriptor()})
	require.NoError(t, err)
	frames := synthetic.NewFrameSource(64, 48, 25)
	for i := 0; i < 25; i++ {
		frame, err := frames.NextFrame(ctx, time.Second)
		require.NoError(t, err)
		pkts, err := enc.Encode(ctx, frame)
		require.NoError(t, err)
		for _, pkt := range pkts {
			require.NoError(t, m.WritePacket(ctx, pkt))
		}
	}
	_, err = m.Finalize(ctx)
	require.NoError(t, err)

	require.NoError(t, ToMP4(ctx, in, out, Options{}))
	st, err := os.Stat(out)
	require.NoError(t, err)
	require.NotZero(t, st.Size())
	require.NoFileExists(t, out+partSuffix)
}
