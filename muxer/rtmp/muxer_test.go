package rtmp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/screenrecorder"
	"github.com/xaionaro-go/secret"
)

func TestParseTarget(t *testing.T) {
	for _, tc := range []struct {
		url      string
		key      string
		expected Target
	}{
		{
			url: "rtmp://a.rtmp.youtube.com/live2",
			key: "xxxx-yyyy",
			expected: Target{
				Address:        "a.rtmp.youtube.com:1935",
				App:            "live2",
				TCURL:          "rtmp://a.rtmp.youtube.com:1935/live2",
				PublishingName: "xxxx-yyyy",
			},
		},
		{
			url: "rtmp://127.0.0.1:1936/live/test",
			expected: Target{
				Address:        "127.0.0.1:1936",
				App:            "live",
				TCURL:          "rtmp://127.0.0.1:1936/live",
				PublishingName: "test",
			},
		},
		{
			url: "rtmp://localhost/app/inst/",
			key: "k",
			expected: Target{
				Address:        "localhost:1935",
				App:            "app/inst",
				TCURL:          "rtmp://localhost:1935/app/inst",
				PublishingName: "k",
			},
		},
	} {
		t.Run(tc.url, func(t *testing.T) {
			target, err := ParseTarget(tc.url, tc.key)
			require.NoError(t, err)
			require.Equal(t, tc.expected, *target)
		})
	}

	for _, bad := range []string{"", "http://example.com/live/x", "rtmp://example.com/", "rtmp://example.com/onlyapp"} {
		_, err := ParseTarget(bad, "")
		require.Error(t, err, bad)
	}
}

func TestOpenUnreachable(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{
		URL:       "rtmp://127.0.0.1:1/live",
		StreamKey: secret.New("key"),
	}, []screenrecorder.TrackDescriptor{{
		Kind:       screenrecorder.TrackKindVideo,
		VideoCodec: screenrecorder.VideoCodecMJPEG,
	}})
	var resErr screenrecorder.ResourceError
	require.ErrorAs(t, err, &resErr)
}

func TestOpenBadURL(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{URL: "srt://127.0.0.1:1/live", StreamKey: secret.New("")}, nil)
	var cfgErr screenrecorder.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestOpenSilentServerTimesOut(t *testing.T) {
	ctx := context.Background()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	defer func() {
		select {
		case conn := <-accepted:
			_ = conn.Close()
		default:
		}
	}()

	startedAt := time.Now()
	_, err = Open(ctx, Config{
		URL:          "rtmp://" + listener.Addr().String() + "/live",
		StreamKey:    secret.New("key"),
		SetupTimeout: 200 * time.Millisecond,
	}, []screenrecorder.TrackDescriptor{{
		Kind:       screenrecorder.TrackKindVideo,
		VideoCodec: screenrecorder.VideoCodecMJPEG,
	}})
	var resErr screenrecorder.ResourceError
	require.ErrorAs(t, err, &resErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(startedAt), 5*time.Second)
}
